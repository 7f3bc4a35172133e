package factcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCapacity bounds the in-memory backend when the configuration
// leaves capacity unset.
const DefaultCapacity = 1024

type memoryCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewMemory creates an in-process cache backed by an expirable LRU.
// A capacity of 0 falls back to DefaultCapacity.
func NewMemory(capacity int, ttl time.Duration) Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &memoryCache{lru: expirable.NewLRU[string, []byte](capacity, nil, ttl)}
}

func (c *memoryCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	if data, ok := c.lru.Get(key); ok {
		return data, nil
	}
	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, data)
	return data, nil
}

func (c *memoryCache) Invalidate(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

func (c *memoryCache) Close() error { return nil }
