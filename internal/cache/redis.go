package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/redis/go-redis/v9"
)

const maxJitterMinutes = 5

// setIfNotOlder replaces KEYS[1] unless it already holds a cart with a higher version.
// Entries that do not decode are overwritten.
var setIfNotOlder = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local ok, entry = pcall(cjson.decode, current)
	if ok and type(entry) == "table" then
		local version = tonumber(entry.version)
		if version and version > tonumber(ARGV[2]) then
			return 0
		end
	end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	key := cacheKey(userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry cachedCart
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}

	return entry.toDomain(), nil
}

// Set stores the cart with a jittered TTL so entries written together do not expire together.
// An entry with a newer version is left in place and Set reports no error.
func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	key := cacheKey(userID)
	data, err := json.Marshal(fromDomain(cart))
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	jitter := time.Duration(rand.Intn(maxJitterMinutes)) * time.Minute
	ttl := r.baseTTL + jitter
	err = setIfNotOlder.Run(ctx, r.client, []string{key}, data, cart.Version, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

// cachedCart keeps the version, which the public JSON shape of domain.Cart hides.
type cachedCart struct {
	domain.Cart
	Version int64 `json:"version"`
}

func fromDomain(c *domain.Cart) cachedCart {
	return cachedCart{Cart: *c, Version: c.Version}
}

func (c cachedCart) toDomain() *domain.Cart {
	cart := c.Cart
	cart.Version = c.Version
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart
}
