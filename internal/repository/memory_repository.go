package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository keeps carts in process memory. It follows the same version rules as
// the Mongo store and is meant for local runs and tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart // userID -> cart
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		carts: make(map[string]*domain.Cart),
		now:   time.Now,
	}
}

func (s *MemoryRepository) Find(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (s *MemoryRepository) LoadOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cart, ok := s.carts[userID]; ok {
		return cart.Clone(), nil
	}
	cart := domain.NewCart(userID, s.now())
	cart.ID = uuid.NewString()
	s.carts[userID] = cart
	return cart.Clone(), nil
}

func (s *MemoryRepository) Save(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.carts[cart.UserID]
	if !ok || stored.Version != cart.Version {
		return nil, ErrVersionConflict
	}

	next := nextRevision(cart, s.now())
	next.ID = stored.ID
	next.CreatedAt = stored.CreatedAt
	s.carts[cart.UserID] = next
	return next.Clone(), nil
}

func (s *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}
