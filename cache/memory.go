package cache

import (
	"context"
	"path"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache implements Cache in process memory. Useful for single-instance
// deployments and for tests; it shares no state across processes.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache builds an in-process cache whose entries default to
// defaultTTL when Set is called with a non-positive ttl.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	return &MemoryCache{store: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := c.store.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	payload, ok := val.([]byte)
	if !ok {
		return nil, ErrCacheMiss
	}
	return payload, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.store.Set(key, value, ttl)
	return nil
}

func (c *MemoryCache) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.store.Delete(key)
	}
	return nil
}

// DelPattern evicts every live entry whose key matches the glob pattern. The
// iteration is over an in-process snapshot, so unlike the Redis path it needs
// no batching to stay bounded.
func (c *MemoryCache) DelPattern(_ context.Context, pattern string) error {
	for key := range c.store.Items() {
		if ok, _ := path.Match(pattern, key); ok {
			c.store.Delete(key)
		}
	}
	return nil
}
