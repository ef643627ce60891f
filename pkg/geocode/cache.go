package geocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// Cache stores lookup outcomes keyed by normalized query.
type Cache interface {
	// Get returns (found, hit, err). hit is false on a miss.
	Get(ctx context.Context, key string) (found bool, hit bool, err error)
	Set(ctx context.Context, key string, found bool) error
}

// MemoryCache is a process-wide bounded cache with per-entry expiry.
type MemoryCache struct {
	lru *expirable.LRU[string, bool]
}

// NewMemoryCache creates a cache of at most size entries, each living ttl.
// A zero ttl keeps entries until evicted.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: expirable.NewLRU[string, bool](size, nil, ttl)}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, key string) (bool, bool, error) {
	found, ok := c.lru.Get(key)
	return found, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, found bool) error {
	c.lru.Add(key, found)
	return nil
}

const redisKeyPrefix = "catalog-enricher:geocode:"

// RedisCache shares lookup outcomes between processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache over client. Entries expire after ttl.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

var _ Cache = (*RedisCache)(nil)

func (c *RedisCache) Get(ctx context.Context, key string) (bool, bool, error) {
	v, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read geocode cache: %w", err)
	}
	return v == "1", true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, found bool) error {
	v := "0"
	if found {
		v = "1"
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, v, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write geocode cache: %w", err)
	}
	return nil
}
