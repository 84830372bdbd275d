package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/cart-api/internal/cache"
	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/log"
	"github.com/fjod/go_cart/cart-api/internal/metrics"
	"github.com/fjod/go_cart/cart-api/internal/repository"
	"github.com/fjod/go_cart/cart-api/internal/telemetry"
)

var ErrItemNotFound = fmt.Errorf("item %w in cart", domain.ErrNotFound)

// sharedLoadTimeout bounds a GetCart load that several callers may be waiting on.
const sharedLoadTimeout = 5 * time.Second

// Catalog is the part of the product catalog the engine depends on.
type Catalog interface {
	FetchProduct(ctx context.Context, productID, credential string) (*domain.Product, error)
	CheckStock(ctx context.Context, productID string, requested int, credential string) (*domain.Product, error)
}

type CartService struct {
	repo        repository.CartRepository
	cache       cache.CartCache
	catalog     Catalog
	metrics     *metrics.Metrics
	maxAttempts int
	sfg         singleflight.Group // Prevents cache stampede
}

type Option func(*CartService)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *CartService) { s.metrics = m }
}

// WithMaxAttempts bounds how many times a mutation is replayed after losing a
// version race.
func WithMaxAttempts(n int) Option {
	return func(s *CartService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, catalog Catalog, opts ...Option) *CartService {
	if c == nil {
		c = cache.Nop{}
	}
	s := &CartService{
		repo:        repo,
		cache:       c,
		catalog:     catalog,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetCart returns the user's cart, creating an empty one on first access.
func (s *CartService) GetCart(ctx context.Context, userID string) (cart *domain.Cart, err error) {
	ctx, span, logger := s.begin(ctx, "GetCart", userID)
	defer func() { s.end(span, "get", err) }()
	if err = authenticated(userID); err != nil {
		return nil, err
	}

	// Use singleflight to prevent multiple concurrent cache misses for same key.
	// The shared load is detached from the first caller so its cancellation
	// does not fail the others.
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()

		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Warn().Err(err).Msg("cache get failed, falling back to store")
		}

		loaded, err := s.repo.LoadOrCreate(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cart: %w", err)
		}
		s.fill(logger, userID, loaded)
		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Cart).Clone(), nil
	}
}

// AddToCart puts quantity units of productID in the cart. Adding a product already in the
// cart merges quantities after re-checking the merged amount against current stock; the
// unit price stays the one captured by the first add.
func (s *CartService) AddToCart(ctx context.Context, userID, productID string, quantity int, credential string) (cart *domain.Cart, err error) {
	ctx, span, logger := s.begin(ctx, "AddToCart", userID)
	defer func() { s.end(span, "add", err) }()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("quantity", quantity))

	if err := authenticated(userID); err != nil {
		return nil, err
	}
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}

	return s.mutate(ctx, logger, userID, func(ctx context.Context) (*domain.Cart, error) {
		product, err := s.catalog.CheckStock(ctx, productID, quantity, credential)
		if err != nil {
			return nil, err
		}

		cart, err := s.repo.LoadOrCreate(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cart: %w", err)
		}

		if i := cart.FindItem(productID); i >= 0 {
			existing := cart.Items[i].Quantity
			if quantity > math.MaxInt-existing {
				return nil, fmt.Errorf("%w: quantity too large", domain.ErrInvalidArgument)
			}
			merged := existing + quantity
			if _, err := s.catalog.CheckStock(ctx, productID, merged, credential); err != nil {
				return nil, err
			}
			cart.Items[i].Quantity = merged
		} else {
			snapshot := *product
			snapshot.ID = productID
			item, err := domain.NewCartItem(&snapshot, quantity)
			if err != nil {
				return nil, err
			}
			cart.Items = append(cart.Items, item)
		}

		return s.repo.Save(ctx, cart)
	})
}

// UpdateCartItem replaces the quantity of a product already in the cart. The requested
// quantity is checked against stock as an absolute amount.
func (s *CartService) UpdateCartItem(ctx context.Context, userID, productID string, quantity int, credential string) (cart *domain.Cart, err error) {
	ctx, span, logger := s.begin(ctx, "UpdateCartItem", userID)
	defer func() { s.end(span, "update", err) }()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("quantity", quantity))

	if err := authenticated(userID); err != nil {
		return nil, err
	}
	if err := validQuantity(quantity); err != nil {
		return nil, err
	}

	return s.mutate(ctx, logger, userID, func(ctx context.Context) (*domain.Cart, error) {
		if _, err := s.catalog.CheckStock(ctx, productID, quantity, credential); err != nil {
			return nil, err
		}

		cart, err := s.repo.Find(ctx, userID)
		if err != nil {
			return nil, err
		}

		i := cart.FindItem(productID)
		if i < 0 {
			return nil, ErrItemNotFound
		}
		cart.Items[i].Quantity = quantity

		return s.repo.Save(ctx, cart)
	})
}

// RemoveFromCart drops productID from an existing cart. Removing a product that is not in
// the cart succeeds.
func (s *CartService) RemoveFromCart(ctx context.Context, userID, productID string) (cart *domain.Cart, err error) {
	ctx, span, logger := s.begin(ctx, "RemoveFromCart", userID)
	defer func() { s.end(span, "remove", err) }()
	span.SetAttributes(attribute.String("product.id", productID))

	if err := authenticated(userID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, logger, userID, func(ctx context.Context) (*domain.Cart, error) {
		cart, err := s.repo.Find(ctx, userID)
		if err != nil {
			return nil, err
		}
		cart.RemoveItem(productID)
		return s.repo.Save(ctx, cart)
	})
}

// ClearCart empties the cart. It reports false without writing when the cart does not exist
// or is already empty.
func (s *CartService) ClearCart(ctx context.Context, userID string) (cleared bool, err error) {
	ctx, span, logger := s.begin(ctx, "ClearCart", userID)
	defer func() { s.end(span, "clear", err) }()
	if err = authenticated(userID); err != nil {
		return false, err
	}

	cart, err := s.mutate(ctx, logger, userID, func(ctx context.Context) (*domain.Cart, error) {
		cart, err := s.repo.Find(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if cart.IsEmpty() {
			return nil, nil
		}
		cart.Items = []domain.CartItem{}
		return s.repo.Save(ctx, cart)
	})
	if err != nil {
		return false, err
	}
	return cart != nil, nil
}

// GetCartSummary never creates a cart; a missing cart summarises as zero.
func (s *CartService) GetCartSummary(ctx context.Context, userID string) (summary domain.Summary, err error) {
	ctx, span, logger := s.begin(ctx, "GetCartSummary", userID)
	defer func() { s.end(span, "summary", err) }()
	if err = authenticated(userID); err != nil {
		return domain.Summary{}, err
	}

	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart.Summary(), nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Warn().Err(err).Msg("cache get failed, falling back to store")
	}

	cart, err = s.repo.Find(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.Summary{}, nil
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("failed to load cart: %w", err)
	}
	s.fill(logger, userID, cart)
	return cart.Summary(), nil
}

// mutate runs op, replaying it from scratch while the save loses a version race. A nil
// cart from op means nothing was written.
func (s *CartService) mutate(ctx context.Context, logger zerolog.Logger, userID string, op func(context.Context) (*domain.Cart, error)) (*domain.Cart, error) {
	for attempt := 1; ; attempt++ {
		cart, err := op(ctx)
		if err == nil {
			if cart != nil {
				s.writeThrough(logger, userID, cart)
			}
			return cart, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}

		s.metrics.VersionConflict()
		if attempt >= s.maxAttempts {
			logger.Warn().Int("attempts", attempt).Msg("giving up after repeated version conflicts")
			return nil, domain.ErrConcurrentModification
		}
		logger.Debug().Int("attempt", attempt).Msg("cart changed while mutating, retrying")
	}
}

func (s *CartService) begin(ctx context.Context, op, userID string) (context.Context, trace.Span, zerolog.Logger) {
	ctx, span := telemetry.Tracer().Start(ctx, "CartService."+op,
		trace.WithAttributes(attribute.String("user.id", userID)))
	logger := zerolog.Ctx(ctx).With().
		Str(log.KeyTag, "CartService."+op).
		Str(log.KeyUserID, userID).
		Logger()
	return logger.WithContext(ctx), span, logger
}

func (s *CartService) end(span trace.Span, op string, err error) {
	telemetry.RecordError(err, span)
	s.metrics.Operation(op, err)
	span.End()
}

func (s *CartService) fill(logger zerolog.Logger, userID string, cart *domain.Cart) {
	snapshot := cart.Clone()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.cache.Set(ctx, userID, snapshot); err != nil {
			logger.Warn().Err(err).Msg("cache set failed")
		}
	}()
}

// writeThrough caches a freshly saved cart. When that fails the entry is dropped instead,
// since an older fill may be sitting in it.
func (s *CartService) writeThrough(logger zerolog.Logger, userID string, cart *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.cache.Set(ctx, userID, cart.Clone())
	if err == nil {
		return
	}
	logger.Warn().Err(err).Msg("cache write-through failed, invalidating")
	if err := s.cache.Delete(ctx, userID); err != nil {
		logger.Warn().Err(err).Msg("cache invalidate failed")
	}
}

func authenticated(userID string) error {
	if userID == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}

func validQuantity(quantity int) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity must be greater than 0", domain.ErrInvalidArgument)
	}
	return nil
}
