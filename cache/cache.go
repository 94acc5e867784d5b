// Package cache defines the key-value cache contract used by the policy
// adapter and provides Redis and in-process implementations of it.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent. Implementations must
// return it (possibly wrapped) rather than a nil payload so callers can tell a
// miss from an empty value.
var ErrCacheMiss = errors.New("cache miss")

// Cache is a minimal key-value store with TTL-bound entries. Implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns the payload stored under key, or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores the payload under key for at most ttl. A non-positive ttl
	// falls back to the implementation default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del evicts the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// DelPattern evicts keys matching a glob-style pattern. The eviction is
	// best-effort and bounded: implementations iterate the keyspace in
	// batches with a hard cap on iterations, so a very large keyspace yields
	// a partial eviction rather than a blocked caller. Entries that survive
	// expire through their TTL.
	DelPattern(ctx context.Context, pattern string) error
}
