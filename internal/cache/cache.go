package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

// CartCache is a read-through copy of carts. The store stays the source of truth; every
// successful save is written through. Set must never replace an entry holding a newer
// cart version, so a fill that read the store before a save cannot land over it.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Nop is used when no Redis address is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (Nop) Set(context.Context, string, *domain.Cart) error { return nil }

func (Nop) Delete(context.Context, string) error { return nil }
