package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), time.Minute))
	val, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), val)
}

func TestMemoryCacheSetDefaultTTL(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	// non-positive ttl falls back to the default instead of never expiring
	require.NoError(t, c.Set(ctx, "key", []byte("payload"), 0))
	_, err := c.Get(ctx, "key")
	assert.NoError(t, err)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key", []byte("payload"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheDel(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	require.NoError(t, c.Del(ctx, "a", "b", "never-existed"))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheDelPattern(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("casbin_policies:filtered_policies:%d", i)
		require.NoError(t, c.Set(ctx, key, []byte("x"), time.Minute))
	}
	require.NoError(t, c.Set(ctx, "casbin_policies:all_policies", []byte("keep"), time.Minute))

	require.NoError(t, c.DelPattern(ctx, "casbin_policies:filtered_policies:*"))

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("casbin_policies:filtered_policies:%d", i)
		_, err := c.Get(ctx, key)
		assert.ErrorIs(t, err, ErrCacheMiss, key)
	}
	val, err := c.Get(ctx, "casbin_policies:all_policies")
	require.NoError(t, err, "entries outside the namespace must survive")
	assert.Equal(t, []byte("keep"), val)
}
