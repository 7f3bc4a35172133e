// Package factcache caches external reference facts (unit costs, market
// rates) consulted by research steps. It is a read-through TTL cache,
// separate from the run result store: entries expire, results do not.
package factcache

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is how long a fetched fact stays valid when the
// configuration does not say otherwise.
const DefaultTTL = 24 * time.Hour

// Supported backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// FetchFunc produces the value for a key on a cache miss. Concurrent
// misses for the same key may invoke it more than once; fetchers must
// be idempotent.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is a read-through key/value cache with a fixed TTL.
type Cache interface {
	// GetOrFetch returns the cached value for key, calling fetch and
	// storing its result when the key is missing or expired. Fetch
	// errors are returned as-is and nothing is cached.
	GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error)

	// Invalidate removes a key so the next GetOrFetch refetches it.
	Invalidate(ctx context.Context, key string) error

	Close() error
}

// Config selects and parameterizes a cache backend.
type Config struct {
	Backend       string
	TTL           time.Duration
	Capacity      int
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the cache backend named by cfg. An empty backend means
// memory.
func New(cfg Config) (Cache, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(cfg.Capacity, ttl), nil
	case BackendFile:
		return NewFile(cfg.Dir, ttl)
	case BackendRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl), nil
	default:
		return nil, fmt.Errorf("unknown fact cache backend %q", cfg.Backend)
	}
}
