package factcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/policity/policity/internal/logger"
)

// keyPrefix namespaces fact entries so the cache can share a redis
// database with other tenants.
const keyPrefix = "policity:facts:"

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a cache backed by a standalone redis server. TTLs
// are enforced server-side via SET EX.
func NewRedis(addr, password string, db int, ttl time.Duration) Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisCache{client: client, ttl: ttl}
}

func (c *redisCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fact cache get %q: %w", key, err)
	}

	data, err = fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		logger.Warn(ctx, "Fact cache write failed", "key", key, "err", err)
	}
	return data, nil
}

func (c *redisCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("fact cache invalidate %q: %w", key, err)
	}
	return nil
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
