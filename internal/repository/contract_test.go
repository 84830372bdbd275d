package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// runContract exercises the behaviour every CartRepository must share.
func runContract(t *testing.T, repo CartRepository) {
	t.Run("find missing cart", func(t *testing.T) {
		cart, err := repo.Find(context.Background(), "missing-user")
		assert.ErrorIs(t, err, ErrCartNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, cart)
	})

	t.Run("load or create is lazy and stable", func(t *testing.T) {
		ctx := context.Background()

		first, err := repo.LoadOrCreate(ctx, "user-create")
		require.NoError(t, err)
		assert.Equal(t, "user-create", first.UserID)
		assert.Empty(t, first.Items)
		assert.Equal(t, 0.0, first.TotalPrice)
		assert.NotEmpty(t, first.ID)

		second, err := repo.LoadOrCreate(ctx, "user-create")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("save recomputes total and bumps version", func(t *testing.T) {
		ctx := context.Background()

		cart, err := repo.LoadOrCreate(ctx, "user-save")
		require.NoError(t, err)

		cart.Items = append(cart.Items,
			domain.CartItem{ProductID: "a", Name: "A", UnitPrice: 10, Quantity: 2},
			domain.CartItem{ProductID: "b", Name: "B", UnitPrice: 5, Quantity: 3},
		)
		cart.TotalPrice = 999

		saved, err := repo.Save(ctx, cart)
		require.NoError(t, err)
		assert.Equal(t, 35.0, saved.TotalPrice)
		assert.Equal(t, cart.Version+1, saved.Version)
		assert.False(t, saved.UpdatedAt.Before(cart.UpdatedAt))

		stored, err := repo.Find(ctx, "user-save")
		require.NoError(t, err)
		assert.Equal(t, 35.0, stored.TotalPrice)
		assert.Len(t, stored.Items, 2)
		assert.Equal(t, saved.Version, stored.Version)
	})

	t.Run("stale save is rejected", func(t *testing.T) {
		ctx := context.Background()

		cart, err := repo.LoadOrCreate(ctx, "user-stale")
		require.NoError(t, err)
		stale := cart.Clone()

		cart.Items = append(cart.Items, domain.CartItem{ProductID: "a", UnitPrice: 1, Quantity: 1})
		_, err = repo.Save(ctx, cart)
		require.NoError(t, err)

		stale.Items = append(stale.Items, domain.CartItem{ProductID: "b", UnitPrice: 2, Quantity: 1})
		_, err = repo.Save(ctx, stale)
		assert.ErrorIs(t, err, ErrVersionConflict)

		stored, err := repo.Find(ctx, "user-stale")
		require.NoError(t, err)
		require.Len(t, stored.Items, 1)
		assert.Equal(t, "a", stored.Items[0].ProductID)
	})

	t.Run("concurrent first access creates one cart", func(t *testing.T) {
		const n = 20
		ids := make(map[string]struct{})
		var mu sync.Mutex

		g, ctx := errgroup.WithContext(context.Background())
		for i := 0; i < n; i++ {
			g.Go(func() error {
				cart, err := repo.LoadOrCreate(ctx, "user-race")
				if err != nil {
					return err
				}
				mu.Lock()
				ids[cart.ID] = struct{}{}
				mu.Unlock()
				return nil
			})
		}

		require.NoError(t, g.Wait())
		assert.Len(t, ids, 1)
	})
}
