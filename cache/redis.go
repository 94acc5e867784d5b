package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// scanBatch is the COUNT hint for each SCAN iteration.
	scanBatch = 128
	// maxScanIterations caps how many SCAN round-trips one DelPattern call
	// may issue. 256 iterations at a batch of 128 covers ~32k keys, far more
	// filtered-policy entries than a healthy deployment accumulates;
	// anything beyond that is left to expire via TTL.
	maxScanIterations = 256
)

// RedisCache implements Cache on a Redis client.
type RedisCache struct {
	client redis.UniversalClient
}

// RedisConfig describes a Redis connection for NewRedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps a caller-owned Redis client. The caller keeps
// responsibility for closing it.
func NewRedisCacheFromClient(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DelPattern scans for keys matching the pattern and deletes them in batches.
// SCAN is cursor-based and never blocks the server the way KEYS would; the
// iteration cap bounds the client side as well, so a huge keyspace results in
// a partial eviction, not a hang.
func (c *RedisCache) DelPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for i := 0; i < maxScanIterations; i++ {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
	return nil
}

// Close releases the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
