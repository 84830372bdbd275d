package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/cart-api/internal/cache"
	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/repository"
)

const (
	productA = "507f1f77bcf86cd799439011"
	productB = "507f1f77bcf86cd799439012"
)

type mockCatalog struct {
	m        sync.Mutex
	products map[string]domain.Product
	err      error
	checks   []int
}

func newMockCatalog(products ...domain.Product) *mockCatalog {
	c := &mockCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (m *mockCatalog) FetchProduct(_ context.Context, productID, _ string) (*domain.Product, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %w", domain.ErrNotFound)
	}
	return &p, nil
}

func (m *mockCatalog) CheckStock(ctx context.Context, productID string, requested int, credential string) (*domain.Product, error) {
	m.m.Lock()
	m.checks = append(m.checks, requested)
	m.m.Unlock()

	p, err := m.FetchProduct(ctx, productID, credential)
	if err != nil {
		return nil, err
	}
	if p.Stock < requested {
		return p, &domain.InsufficientStockError{ProductName: p.Name, Available: p.Stock, Requested: requested}
	}
	return p, nil
}

func (m *mockCatalog) setProduct(p domain.Product) {
	m.m.Lock()
	defer m.m.Unlock()
	m.products[p.ID] = p
}

func (m *mockCatalog) stockChecks() []int {
	m.m.Lock()
	defer m.m.Unlock()
	return append([]int(nil), m.checks...)
}

type mockCache struct {
	m       sync.RWMutex
	cart    *domain.Cart
	err     error
	sets    int
	deletes int
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.cart.Clone(), nil
}

func (m *mockCache) Set(_ context.Context, _ string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.sets++
	if m.err != nil {
		return m.err
	}
	if m.cart == nil || m.cart.Version <= cart.Version {
		m.cart = cart
	}
	return nil
}

func (m *mockCache) Delete(context.Context, string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = nil
	m.deletes++
	return m.err
}

func (m *mockCache) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}

func (m *mockCache) deleteCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.deletes
}

func (m *mockCache) setCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.sets
}

// gatedCache holds the first Get until release is closed.
type gatedCache struct {
	cache.CartCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.CartCache.Get(ctx, userID)
}

// slowFillCache holds back the Set of a freshly created cart until release is closed.
type slowFillCache struct {
	cache.CartCache
	once    sync.Once
	release chan struct{}
	filled  chan struct{}
}

func (c *slowFillCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	held := false
	if cart.Version == 0 {
		c.once.Do(func() { held = true })
	}
	if !held {
		return c.CartCache.Set(ctx, userID, cart)
	}
	defer close(c.filled)
	<-c.release
	return c.CartCache.Set(context.Background(), userID, cart)
}

// conflictingRepository rejects the first n saves as if another writer got there first.
type conflictingRepository struct {
	repository.CartRepository
	n     int32
	saves atomic.Int32
}

func (r *conflictingRepository) Save(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	if r.saves.Add(1) <= r.n {
		return nil, repository.ErrVersionConflict
	}
	return r.CartRepository.Save(ctx, cart)
}

type failingRepository struct {
	err error
}

func (f failingRepository) Find(context.Context, string) (*domain.Cart, error) { return nil, f.err }

func (f failingRepository) LoadOrCreate(context.Context, string) (*domain.Cart, error) {
	return nil, f.err
}

func (f failingRepository) Save(context.Context, *domain.Cart) (*domain.Cart, error) {
	return nil, f.err
}

func widgets() *mockCatalog {
	return newMockCatalog(
		domain.Product{ID: productA, Name: "A", Price: 10, Images: []string{"a.png"}, Stock: 100},
		domain.Product{ID: productB, Name: "B", Price: 5, Stock: 100},
	)
}

func assertCartInvariants(t *testing.T, cart *domain.Cart) {
	t.Helper()
	assert.Equal(t, domain.RecomputeTotal(cart.Items), cart.TotalPrice)
	seen := make(map[string]bool)
	for _, item := range cart.Items {
		assert.False(t, seen[item.ProductID], "duplicate item for %s", item.ProductID)
		seen[item.ProductID] = true
	}
}

func TestGetCart_CreatesEmptyCartAndFillsCache(t *testing.T) {
	mockC := &mockCache{}
	sut := NewCartService(repository.NewMemoryRepository(), mockC, widgets())

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", ret.UserID)
	assert.NotEmpty(t, ret.ID)
	assert.Empty(t, ret.Items)
	assert.Equal(t, 0.0, ret.TotalPrice)

	require.Eventually(t, func() bool {
		return mockC.getCart() != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cart was not set in cache")

	again, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, ret.ID, again.ID)
}

func TestGetCart_CacheHit(t *testing.T) {
	cart := &domain.Cart{
		ID:     "cached",
		UserID: "123",
		Items:  []domain.CartItem{{ProductID: productA, UnitPrice: 1, Quantity: 3}},
	}
	mockC := &mockCache{cart: cart}
	// repo must not be called
	sut := NewCartService(failingRepository{err: errors.New("database error")}, mockC, widgets())

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "cached", ret.ID)
	assert.Len(t, ret.Items, 1)
}

func TestGetCart_CacheErrorFallsBackToStore(t *testing.T) {
	mockC := &mockCache{err: errors.New("redis down")}
	sut := NewCartService(repository.NewMemoryRepository(), mockC, widgets())

	ret, err := sut.GetCart(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "123", ret.UserID)
}

func TestGetCart_LateFillDoesNotOverwriteNewerCart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	slow := &slowFillCache{
		CartCache: cache.NewRedisCache(client, time.Minute),
		release:   make(chan struct{}),
		filled:    make(chan struct{}),
	}
	sut := NewCartService(repository.NewMemoryRepository(), slow, widgets())
	ctx := context.Background()

	// miss: the fill of the empty cart is held back
	_, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)

	_, err = sut.AddToCart(ctx, "u1", productA, 2, "tok")
	require.NoError(t, err)

	close(slow.release)
	<-slow.filled

	cart, err := sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 20.0, cart.TotalPrice)

	summary, err := sut.GetCartSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{ItemCount: 2, TotalPrice: 20}, summary)
}

func TestGetCart_SharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	gated := &gatedCache{
		CartCache: cache.Nop{},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	sut := NewCartService(repository.NewMemoryRepository(), gated, widgets())

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := sut.GetCart(firstCtx, "u1")
		firstErr <- err
	}()
	<-gated.entered

	type result struct {
		cart *domain.Cart
		err  error
	}
	second := make(chan result, 1)
	go func() {
		cart, err := sut.GetCart(context.Background(), "u1")
		second <- result{cart, err}
	}()
	time.Sleep(20 * time.Millisecond) // let the second caller join the in-flight load

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(gated.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "u1", res.cart.UserID)
}

func TestGetCart_RepoError(t *testing.T) {
	sut := NewCartService(failingRepository{err: errors.New("database error")}, &mockCache{}, widgets())

	ret, err := sut.GetCart(context.Background(), "123")
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
}

func TestAddToCart_RepeatedAddsMergeAndPinPrice(t *testing.T) {
	catalog := widgets()
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, catalog)
	ctx := context.Background()

	_, err := sut.AddToCart(ctx, "u1", productA, 2, "tok")
	require.NoError(t, err)

	catalog.setProduct(domain.Product{ID: productA, Name: "A", Price: 99, Stock: 100})

	cart, err := sut.AddToCart(ctx, "u1", productA, 3, "tok")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, 10.0, cart.Items[0].UnitPrice)
	assert.Equal(t, 50.0, cart.TotalPrice)
	assertCartInvariants(t, cart)

	// first add checks 2; second add checks 3 then the merged 5
	assert.Equal(t, []int{2, 3, 5}, catalog.stockChecks())
}

func TestAddToCart_SnapshotsProduct(t *testing.T) {
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, widgets())

	cart, err := sut.AddToCart(context.Background(), "u1", productB, 1, "tok")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, domain.CartItem{
		ProductID: productB,
		Name:      "B",
		UnitPrice: 5,
		ImageURL:  domain.PlaceholderImage,
		Quantity:  1,
	}, cart.Items[0])
}

func TestAddToCart_InsufficientStock(t *testing.T) {
	catalog := newMockCatalog(domain.Product{ID: productA, Name: "A", Price: 10, Stock: 4})
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, &mockCache{}, catalog)

	_, err := sut.AddToCart(context.Background(), "u1", productA, 5, "tok")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 4, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Equal(t, "A", stockErr.ProductName)

	_, err = repo.Find(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound, "a failed add must not create the cart")
}

func TestAddToCart_MergedQuantityExceedsStock(t *testing.T) {
	catalog := newMockCatalog(domain.Product{ID: productA, Name: "A", Price: 10, Stock: 4})
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, &mockCache{}, catalog)
	ctx := context.Background()

	before, err := sut.AddToCart(ctx, "u1", productA, 3, "tok")
	require.NoError(t, err)

	_, err = sut.AddToCart(ctx, "u1", productA, 2, "tok")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	stored, err := repo.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Items[0].Quantity)
	assert.Equal(t, before.Version, stored.Version)
}

func TestAddToCart_InvalidQuantity(t *testing.T) {
	catalog := widgets()
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, catalog)

	for _, q := range []int{0, -1} {
		_, err := sut.AddToCart(context.Background(), "u1", productA, q, "tok")
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
	assert.Empty(t, catalog.stockChecks())
}

func TestAddToCart_CatalogErrorsPropagate(t *testing.T) {
	catalog := widgets()
	catalog.err = fmt.Errorf("%w: dial tcp: connection refused", domain.ErrUpstreamUnavailable)
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, catalog)

	_, err := sut.AddToCart(context.Background(), "u1", productA, 1, "tok")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	_, err = NewCartService(repository.NewMemoryRepository(), &mockCache{}, widgets()).
		AddToCart(context.Background(), "u1", "507f1f77bcf86cd7994390ff", 1, "tok")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAddToCart_WritesSavedCartToCache(t *testing.T) {
	mockC := &mockCache{cart: &domain.Cart{UserID: "u1"}}
	sut := NewCartService(repository.NewMemoryRepository(), mockC, widgets())

	saved, err := sut.AddToCart(context.Background(), "u1", productA, 1, "tok")
	require.NoError(t, err)

	cached := mockC.getCart()
	require.NotNil(t, cached)
	assert.Equal(t, saved.Version, cached.Version)
	assert.Len(t, cached.Items, 1)
	assert.Equal(t, 0, mockC.deleteCount())
}

func TestMutation_DropsCacheEntryWhenWriteThroughFails(t *testing.T) {
	mockC := &mockCache{err: errors.New("redis down")}
	sut := NewCartService(repository.NewMemoryRepository(), mockC, widgets())

	_, err := sut.AddToCart(context.Background(), "u1", productA, 1, "tok")
	require.NoError(t, err)
	assert.Equal(t, 1, mockC.deleteCount())
}

func TestAddToCart_MergedQuantityOverflow(t *testing.T) {
	catalog := newMockCatalog(domain.Product{ID: productA, Name: "A", Price: 1, Stock: math.MaxInt})
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, &mockCache{}, catalog)
	ctx := context.Background()

	_, err := sut.AddToCart(ctx, "u1", productA, 5, "tok")
	require.NoError(t, err)

	_, err = sut.AddToCart(ctx, "u1", productA, math.MaxInt-2, "tok")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	stored, err := repo.Find(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 5, stored.Items[0].Quantity)
}

func TestOperations_RequireUser(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, &mockCache{}, widgets())
	ctx := context.Background()

	_, err := sut.GetCart(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = sut.AddToCart(ctx, "", productA, 1, "tok")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = sut.UpdateCartItem(ctx, "", productA, 1, "tok")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = sut.RemoveFromCart(ctx, "", productA)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = sut.ClearCart(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = sut.GetCartSummary(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = repo.Find(ctx, "")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
}

func TestUpdateCartItem_ReplacesQuantity(t *testing.T) {
	catalog := widgets()
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, catalog)
	ctx := context.Background()

	_, err := sut.AddToCart(ctx, "u1", productA, 5, "tok")
	require.NoError(t, err)

	cart, err := sut.UpdateCartItem(ctx, "u1", productA, 2, "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, 20.0, cart.TotalPrice)
	assert.Equal(t, []int{5, 2}, catalog.stockChecks(), "update checks the absolute quantity")
}

func TestUpdateCartItem_ItemNotInCart(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, &mockCache{}, widgets())
	ctx := context.Background()

	before, err := sut.AddToCart(ctx, "u1", productA, 1, "tok")
	require.NoError(t, err)

	_, err = sut.UpdateCartItem(ctx, "u1", productB, 10, "tok")
	require.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := repo.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.Items, stored.Items)
	assert.Equal(t, before.Version, stored.Version)
}

func TestUpdateCartItem_MissingCart(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, &mockCache{}, widgets())

	_, err := sut.UpdateCartItem(context.Background(), "u1", productA, 1, "tok")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)

	_, err = repo.Find(context.Background(), "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound, "update must not create a cart")
}

func TestUpdateCartItem_InvalidQuantityAndStock(t *testing.T) {
	catalog := newMockCatalog(domain.Product{ID: productA, Name: "A", Price: 1, Stock: 3})
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, catalog)
	ctx := context.Background()

	_, err := sut.AddToCart(ctx, "u1", productA, 1, "tok")
	require.NoError(t, err)

	_, err = sut.UpdateCartItem(ctx, "u1", productA, 0, "tok")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = sut.UpdateCartItem(ctx, "u1", productA, 4, "tok")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestRemoveFromCart_Idempotent(t *testing.T) {
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, widgets())
	ctx := context.Background()

	_, err := sut.AddToCart(ctx, "u1", productA, 2, "tok")
	require.NoError(t, err)
	_, err = sut.AddToCart(ctx, "u1", productB, 3, "tok")
	require.NoError(t, err)

	first, err := sut.RemoveFromCart(ctx, "u1", productA)
	require.NoError(t, err)
	second, err := sut.RemoveFromCart(ctx, "u1", productA)
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.TotalPrice, second.TotalPrice)
	require.Len(t, second.Items, 1)
	assert.Equal(t, productB, second.Items[0].ProductID)
	assert.Equal(t, 15.0, second.TotalPrice)
}

func TestRemoveFromCart_MissingCart(t *testing.T) {
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, widgets())

	_, err := sut.RemoveFromCart(context.Background(), "u1", productA)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClearCart(t *testing.T) {
	repo := repository.NewMemoryRepository()
	mockC := &mockCache{}
	sut := NewCartService(repo, mockC, widgets())
	ctx := context.Background()

	cleared, err := sut.ClearCart(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cleared)
	_, err = repo.Find(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound, "clear must not create a cart")

	_, err = sut.AddToCart(ctx, "u1", productA, 2, "tok")
	require.NoError(t, err)

	cleared, err = sut.ClearCart(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, cleared)

	emptied, err := repo.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, emptied.Items)
	assert.Equal(t, 0.0, emptied.TotalPrice)

	sets := mockC.setCount()
	cleared, err = sut.ClearCart(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, cleared)

	again, err := repo.Find(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, emptied.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, emptied.Version, again.Version)
	assert.Equal(t, sets, mockC.setCount(), "nothing written, nothing to cache")
}

func TestClearCart_RepoError(t *testing.T) {
	sut := NewCartService(failingRepository{err: errors.New("database error")}, &mockCache{}, widgets())

	_, err := sut.ClearCart(context.Background(), "123")
	require.ErrorContains(t, err, "database error")
}

func TestGetCartSummary(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sut := NewCartService(repo, cache.Nop{}, widgets())
	ctx := context.Background()

	summary, err := sut.GetCartSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{}, summary)
	_, err = repo.Find(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound, "summary must not create a cart")

	_, err = sut.GetCart(ctx, "u1")
	require.NoError(t, err)
	summary, err = sut.GetCartSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{}, summary)

	_, err = sut.AddToCart(ctx, "u1", productA, 2, "tok")
	require.NoError(t, err)
	_, err = sut.AddToCart(ctx, "u1", productB, 3, "tok")
	require.NoError(t, err)

	summary, err = sut.GetCartSummary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{ItemCount: 5, TotalPrice: 35}, summary)
}

func TestMutation_RetriesWholeOperationOnVersionConflict(t *testing.T) {
	catalog := widgets()
	repo := &conflictingRepository{CartRepository: repository.NewMemoryRepository(), n: 1}
	sut := NewCartService(repo, &mockCache{}, catalog)

	cart, err := sut.AddToCart(context.Background(), "u1", productA, 2, "tok")
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, int32(2), repo.saves.Load())
	assert.Equal(t, []int{2, 2}, catalog.stockChecks(), "stock is re-checked on replay")
}

func TestMutation_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictingRepository{CartRepository: repository.NewMemoryRepository(), n: 100}
	sut := NewCartService(repo, &mockCache{}, widgets(), WithMaxAttempts(4))

	_, err := sut.AddToCart(context.Background(), "u1", productA, 1, "tok")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, int32(4), repo.saves.Load())
}

func TestConcurrentAddsForSameUserAreNotLost(t *testing.T) {
	const n = 10
	sut := NewCartService(repository.NewMemoryRepository(), &mockCache{}, widgets(), WithMaxAttempts(n*5))

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := sut.AddToCart(ctx, "u1", productA, 1, "tok")
			return err
		})
	}
	require.NoError(t, g.Wait())

	summary, err := sut.GetCartSummary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, n, summary.ItemCount)
	assert.Equal(t, float64(n*10), summary.TotalPrice)
}
