package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

var (
	ErrCartNotFound    = fmt.Errorf("cart %w", domain.ErrNotFound)
	ErrVersionConflict = errors.New("cart version conflict")
)

// CartRepository owns the per-user cart documents.
// Save always recomputes the total from the items right before the write and only
// succeeds when the stored version still equals cart.Version.
type CartRepository interface {
	Find(ctx context.Context, userID string) (*domain.Cart, error)
	LoadOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) (*domain.Cart, error)
}

// nextRevision is the cart exactly as Save will persist it.
func nextRevision(cart *domain.Cart, now time.Time) *domain.Cart {
	next := cart.Clone()
	next.TotalPrice = domain.RecomputeTotal(next.Items)
	next.UpdatedAt = now
	next.Version = cart.Version + 1
	return next
}
