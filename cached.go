package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/casbin/casbin/v2/model"

	"casbin-cache-adapter/cache"
)

const (
	// DefaultCacheTTL bounds how long a cached policy snapshot may serve
	// reads. It is also the staleness window for filtered entries that the
	// best-effort pattern eviction missed.
	DefaultCacheTTL = 3600 * time.Second

	// DefaultKeyPrefix namespaces every cache key written by the adapter.
	DefaultKeyPrefix = "casbin_policies:"

	allPoliciesKey      = "all_policies"
	filteredPoliciesKey = "filtered_policies:"
)

// CacheConfig tunes the caching decorator.
type CacheConfig struct {
	// TTL for cache entries; DefaultCacheTTL when non-positive.
	TTL time.Duration
	// KeyPrefix for cache keys; DefaultKeyPrefix when empty.
	KeyPrefix string
}

// CachedAdapter decorates an Adapter with a read-through cache. Loads check
// the cache first and populate it on a miss; every mutation evicts the
// full-snapshot entry and best-effort evicts the filtered-load entries before
// touching the store. Cache failures of any kind degrade to the plain store
// path, so results are never affected, only latency.
//
// Two concurrent mutations interleaved with a reader can repopulate the cache
// from a half-applied state; the entry then lives at most TTL. The decorator
// trades linearizability for that TTL-bounded eventual consistency and adds
// no locking of its own.
type CachedAdapter struct {
	*Adapter
	cache  cache.Cache
	ttl    time.Duration
	prefix string
}

// NewCachedAdapter wraps inner with the given cache backend. A nil backend
// yields a decorator that behaves exactly like the plain adapter.
func NewCachedAdapter(inner *Adapter, backend cache.Cache, cfg ...CacheConfig) *CachedAdapter {
	c := CacheConfig{}
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.TTL <= 0 {
		c.TTL = DefaultCacheTTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	return &CachedAdapter{
		Adapter: inner,
		cache:   backend,
		ttl:     c.TTL,
		prefix:  c.KeyPrefix,
	}
}

func (c *CachedAdapter) allKey() string {
	return c.prefix + allPoliciesKey
}

func (c *CachedAdapter) filteredKey(fingerprint string) string {
	return c.prefix + filteredPoliciesKey + fingerprint
}

// cachedPayload reads and decodes a cache entry into dst. Any failure — the
// backend unreachable, the key absent, or a payload that does not decode into
// dst's shape — counts as a miss.
func (c *CachedAdapter) cachedPayload(ctx context.Context, key string, dst interface{}) bool {
	if c.cache == nil {
		return false
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.log.Warnf("%v", &CacheError{Op: "get", Key: key, Err: err})
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warnf("%v", &CacheError{Op: "decode", Key: key, Err: err})
		return false
	}
	return true
}

// populate serializes src under key. Failures are logged and forfeited; the
// next load simply misses again.
func (c *CachedAdapter) populate(ctx context.Context, key string, src interface{}) bool {
	if c.cache == nil {
		return false
	}
	raw, err := json.Marshal(src)
	if err != nil {
		c.log.Warnf("%v", &CacheError{Op: "encode", Key: key, Err: err})
		return false
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		c.log.Warnf("%v", &CacheError{Op: "set", Key: key, Err: err})
		return false
	}
	return true
}

// invalidate evicts the full snapshot and best-effort evicts the filtered
// namespace. It runs before every mutation; eviction failures are logged and
// swallowed, leaving staleness bounded by the TTL.
func (c *CachedAdapter) invalidate(ctx context.Context) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, c.allKey()); err != nil {
		c.log.Warnf("%v", &CacheError{Op: "del", Key: c.allKey(), Err: err})
	}
	pattern := c.prefix + filteredPoliciesKey + "*"
	if err := c.cache.DelPattern(ctx, pattern); err != nil {
		c.log.Warnf("%v", &CacheError{Op: "del pattern", Key: pattern, Err: err})
	}
}

// LoadPolicy serves the full policy set from the cache when possible and
// falls back to the store on a miss, repopulating the cache afterwards.
func (c *CachedAdapter) LoadPolicy(m model.Model) error {
	ctx := context.Background()
	var rows []CasbinRule
	if c.cachedPayload(ctx, c.allKey(), &rows) {
		c.log.Debugf("policy cache hit: %s (%d rules)", c.allKey(), len(rows))
		return loadRows(rows, m)
	}
	rows, err := c.store.selectAll()
	if err != nil {
		return err
	}
	c.populate(ctx, c.allKey(), rows)
	return loadRows(rows, m)
}

// LoadFilteredPolicy serves declarative filters through the cache, keyed by
// the filter's fingerprint. Opaque QueryFilter filters cannot be
// fingerprinted and always go straight to the store.
func (c *CachedAdapter) LoadFilteredPolicy(m model.Model, filter interface{}) error {
	if filter == nil {
		c.filtered = false
		return c.LoadPolicy(m)
	}

	f, scope, cacheable, err := normalizeFilter(filter)
	if err != nil {
		return err
	}
	if !cacheable {
		rows, err := c.store.selectScoped(scope)
		if err != nil {
			return err
		}
		c.filtered = true
		return loadLines(ruleLines(rows), m)
	}

	ctx := context.Background()
	key := c.filteredKey(f.fingerprint())
	var lines []string
	if c.cachedPayload(ctx, key, &lines) {
		c.log.Debugf("policy cache hit: %s (%d lines)", key, len(lines))
		c.filtered = true
		return loadLines(lines, m)
	}

	rows, err := c.store.selectWhere(f)
	if err != nil {
		return err
	}
	lines = ruleLines(rows)
	c.populate(ctx, key, lines)
	c.filtered = true
	return loadLines(lines, m)
}

// SavePolicy invalidates the cache, then appends the model's rules to the
// store.
func (c *CachedAdapter) SavePolicy(m model.Model) error {
	c.invalidate(context.Background())
	return c.Adapter.SavePolicy(m)
}

// AddPolicy invalidates the cache, then appends one rule.
func (c *CachedAdapter) AddPolicy(sec string, ptype string, rule []string) error {
	c.invalidate(context.Background())
	return c.Adapter.AddPolicy(sec, ptype, rule)
}

// AddPolicies invalidates the cache, then appends all rules in one insert.
func (c *CachedAdapter) AddPolicies(sec string, ptype string, rules [][]string) error {
	c.invalidate(context.Background())
	return c.Adapter.AddPolicies(sec, ptype, rules)
}

// RemovePolicy invalidates the cache, then deletes the matching rule.
func (c *CachedAdapter) RemovePolicy(sec string, ptype string, rule []string) error {
	c.invalidate(context.Background())
	return c.Adapter.RemovePolicy(sec, ptype, rule)
}

// RemovePolicies invalidates the cache, then deletes the rules in one
// transaction.
func (c *CachedAdapter) RemovePolicies(sec string, ptype string, rules [][]string) error {
	c.invalidate(context.Background())
	return c.Adapter.RemovePolicies(sec, ptype, rules)
}

// RemoveFilteredPolicy invalidates the cache, then deletes the matching rules.
func (c *CachedAdapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	c.invalidate(context.Background())
	return c.Adapter.RemoveFilteredPolicy(sec, ptype, fieldIndex, fieldValues...)
}

// UpdatePolicy invalidates the cache, then rewrites the matching rule.
func (c *CachedAdapter) UpdatePolicy(sec string, ptype string, oldRule, newRule []string) error {
	c.invalidate(context.Background())
	return c.Adapter.UpdatePolicy(sec, ptype, oldRule, newRule)
}

// UpdatePolicies invalidates the cache, then rewrites the rule pairs in one
// transaction.
func (c *CachedAdapter) UpdatePolicies(sec string, ptype string, oldRules, newRules [][]string) error {
	c.invalidate(context.Background())
	return c.Adapter.UpdatePolicies(sec, ptype, oldRules, newRules)
}

// UpdateFilteredPolicies invalidates the cache, then replaces the matching
// rules, returning the replaced ones.
func (c *CachedAdapter) UpdateFilteredPolicies(sec string, ptype string, newRules [][]string, fieldIndex int, fieldValues ...string) ([][]string, error) {
	c.invalidate(context.Background())
	return c.Adapter.UpdateFilteredPolicies(sec, ptype, newRules, fieldIndex, fieldValues...)
}

// Preheat eagerly populates the full-snapshot cache entry from the store. It
// never fails the caller: any store or cache problem is logged and reported
// as false.
func (c *CachedAdapter) Preheat() bool {
	rows, err := c.store.selectAll()
	if err != nil {
		c.log.Warnf("preheat aborted: %v", err)
		return false
	}
	return c.populate(context.Background(), c.allKey(), rows)
}
