// Package cache provides the idempotency-key dedupe layer used by the
// artifact submission and integration-attempt enqueue paths. A Redis-backed
// cache is used when configured; otherwise an in-process LRU takes over,
// matching the storage layer's own "default to memory when unset" posture.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyCache records whether a given idempotency key has already been
// seen within its TTL. Seen returns false the first time a key is recorded
// and true for every repeat of that key within the TTL window; the storage layer remains the source of truth for the actual de-duplicated
// row, this cache only lets callers skip a round trip on the common path.
type IdempotencyCache interface {
	Seen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NewIdempotencyCache builds a Redis-backed cache when redisURL is non-empty,
// falling back to an in-process LRU of localSize entries otherwise.
func NewIdempotencyCache(redisURL string, localSize int) (IdempotencyCache, error) {
	if redisURL == "" {
		return newLocalCache(localSize)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &redisCache{client: redis.NewClient(opts)}, nil
}

type redisCache struct {
	client *redis.Client
}

// Seen uses SETNX semantics: the first caller to set the key within the TTL
// window gets ok=false (not previously seen); subsequent callers within the
// window get true.
func (c *redisCache) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, "idem:"+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type localEntry struct {
	expiresAt time.Time
}

type localCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, localEntry]
}

func newLocalCache(size int) (*localCache, error) {
	if size <= 0 {
		size = 4096
	}
	c, err := lru.New[string, localEntry](size)
	if err != nil {
		return nil, err
	}
	return &localCache{cache: c}, nil
}

func (c *localCache) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if entry, ok := c.cache.Get(key); ok && now.Before(entry.expiresAt) {
		return true, nil
	}
	c.cache.Add(key, localEntry{expiresAt: now.Add(ttl)})
	return false, nil
}
