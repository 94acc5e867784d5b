// Cached SQL Policy Adapter for Casbin - Test Suite
// Copyright (c) 2024 Cached SQL Policy Adapter for Casbin
// Licensed under the MIT License. See LICENSE file for details.

package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"casbin-cache-adapter/cache"
)

// setupCachedAdapter builds a cached adapter over an in-memory SQLite database
// and an in-process cache backend.
func setupCachedAdapter(t *testing.T) (*CachedAdapter, cache.Cache) {
	t.Helper()
	backend := cache.NewMemoryCache(time.Minute)
	return NewCachedAdapter(setupTestAdapter(t), backend), backend
}

func modelPolicies(t *testing.T, c *CachedAdapter) [][]string {
	t.Helper()
	m := newTestModel(t)
	require.NoError(t, c.LoadPolicy(m))
	return getPolicy(t, m, "p", "p")
}

func TestCachedLoadPolicyRoundTrip(t *testing.T) {
	c, _ := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))
	require.NoError(t, c.AddPolicy("p", "p", []string{"bob", "data2", "write"}))

	expected := [][]string{
		{"alice", "data1", "read"},
		{"bob", "data2", "write"},
	}
	// first load populates the cache, second load is served from it
	assert.ElementsMatch(t, expected, modelPolicies(t, c))
	assert.ElementsMatch(t, expected, modelPolicies(t, c))
}

func TestCachedLoadSurvivesStoreOutage(t *testing.T) {
	c, _ := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))

	first := modelPolicies(t, c)

	// take the store away; the snapshot entry must carry the next load
	require.NoError(t, c.Close())

	second := modelPolicies(t, c)
	assert.Equal(t, first, second)
}

func TestMutationsInvalidateSnapshot(t *testing.T) {
	seed := [][]string{
		{"alice", "data1", "read"},
		{"bob", "data2", "write"},
	}
	mutations := map[string]func(c *CachedAdapter) error{
		"AddPolicy": func(c *CachedAdapter) error {
			return c.AddPolicy("p", "p", []string{"carol", "data3", "read"})
		},
		"AddPolicies": func(c *CachedAdapter) error {
			return c.AddPolicies("p", "p", [][]string{{"carol", "data3", "read"}})
		},
		"RemovePolicy": func(c *CachedAdapter) error {
			return c.RemovePolicy("p", "p", []string{"alice", "data1", "read"})
		},
		"RemovePolicies": func(c *CachedAdapter) error {
			return c.RemovePolicies("p", "p", [][]string{{"alice", "data1", "read"}})
		},
		"RemoveFilteredPolicy": func(c *CachedAdapter) error {
			return c.RemoveFilteredPolicy("p", "p", 0, "alice")
		},
		"UpdatePolicy": func(c *CachedAdapter) error {
			return c.UpdatePolicy("p", "p",
				[]string{"alice", "data1", "read"},
				[]string{"alice", "data1", "write"})
		},
		"UpdatePolicies": func(c *CachedAdapter) error {
			return c.UpdatePolicies("p", "p",
				[][]string{{"alice", "data1", "read"}},
				[][]string{{"alice", "data1", "write"}})
		},
		"UpdateFilteredPolicies": func(c *CachedAdapter) error {
			_, err := c.UpdateFilteredPolicies("p", "p",
				[][]string{{"alice", "data1", "write"}}, 0, "alice")
			return err
		},
		"SavePolicy": func(c *CachedAdapter) error {
			m := newTestModel(t)
			m.AddPolicy("p", "p", []string{"carol", "data3", "read"})
			return c.SavePolicy(m)
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c, _ := setupCachedAdapter(t)
			require.NoError(t, c.AddPolicies("p", "p", seed))

			before := modelPolicies(t, c) // snapshot entry now exists
			require.NoError(t, mutate(c))
			after := modelPolicies(t, c)

			assert.NotEqual(t, before, after, "load after mutation must not serve the stale snapshot")
		})
	}
}

func TestCacheTransparency(t *testing.T) {
	// the same operation sequence against a cached and a plain adapter must
	// leave identical store contents and identical load results
	run := func(add func(sec, ptype string, rule []string) error,
		update func(sec, ptype string, oldRule, updated []string) error,
		removeFiltered func(sec, ptype string, idx int, vals ...string) error) {
		require.NoError(t, add("p", "p", []string{"alice", "data1", "read"}))
		require.NoError(t, add("p", "p", []string{"bob", "data2", "write"}))
		require.NoError(t, update("p", "p", []string{"alice", "data1", "read"}, []string{"alice", "data1", "write"}))
		require.NoError(t, removeFiltered("p", "p", 0, "bob"))
	}

	plain := setupTestAdapter(t)
	run(plain.AddPolicy, plain.UpdatePolicy, plain.RemoveFilteredPolicy)

	cached, _ := setupCachedAdapter(t)
	// interleave loads so the cache gets populated mid-sequence
	require.NoError(t, cached.AddPolicy("p", "p", []string{"alice", "data1", "read"}))
	modelPolicies(t, cached)
	require.NoError(t, cached.AddPolicy("p", "p", []string{"bob", "data2", "write"}))
	modelPolicies(t, cached)
	require.NoError(t, cached.UpdatePolicy("p", "p", []string{"alice", "data1", "read"}, []string{"alice", "data1", "write"}))
	require.NoError(t, cached.RemoveFilteredPolicy("p", "p", 0, "bob"))

	assert.ElementsMatch(t, tableValues(t, plain), tableValues(t, cached.Adapter))

	m := newTestModel(t)
	require.NoError(t, plain.LoadPolicy(m))
	assert.ElementsMatch(t, getPolicy(t, m, "p", "p"), modelPolicies(t, cached))
}

func TestMalformedCachePayloadIsAMiss(t *testing.T) {
	c, backend := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))

	ctx := context.Background()
	for _, payload := range [][]byte{
		[]byte("not json at all"),
		[]byte(`{"unexpected": "object"}`),
	} {
		require.NoError(t, backend.Set(ctx, c.allKey(), payload, time.Minute))
		assert.Equal(t, [][]string{{"alice", "data1", "read"}}, modelPolicies(t, c))
	}
}

func TestFilteredLoadIsCachedByFingerprint(t *testing.T) {
	c, _ := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))
	require.NoError(t, c.AddPolicy("p", "p", []string{"bob", "data2", "write"}))

	filter := Filter{Predicate: "v0 = @sub", Params: map[string]interface{}{"sub": "alice"}}

	m := newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, filter))
	assert.Equal(t, [][]string{{"alice", "data1", "read"}}, getPolicy(t, m, "p", "p"))

	// mutate through the inner adapter, bypassing invalidation: the same
	// fingerprint must now serve the stale cached lines, proving the hit
	require.NoError(t, c.Adapter.RemovePolicy("p", "p", []string{"alice", "data1", "read"}))

	m = newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, filter))
	assert.Equal(t, [][]string{{"alice", "data1", "read"}}, getPolicy(t, m, "p", "p"))

	// a structurally different filter misses and sees the real store
	m = newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, Filter{Predicate: "v0 = @sub", Params: map[string]interface{}{"sub": "bob"}}))
	assert.Equal(t, [][]string{{"bob", "data2", "write"}}, getPolicy(t, m, "p", "p"))
}

func TestOpaqueFilterBypassesCache(t *testing.T) {
	c, _ := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))

	scope := QueryFilter(func(db *gorm.DB) *gorm.DB { return db.Where("v0 = ?", "alice") })

	m := newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, scope))
	assert.Len(t, getPolicy(t, m, "p", "p"), 1)

	// bypassed loads always see the live store, even without invalidation
	require.NoError(t, c.Adapter.RemovePolicy("p", "p", []string{"alice", "data1", "read"}))

	m = newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, scope))
	assert.Empty(t, getPolicy(t, m, "p", "p"))
}

func TestMutationEvictsFilteredEntries(t *testing.T) {
	c, _ := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))

	filter := "v0 = 'alice'"
	m := newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, filter))
	require.Len(t, getPolicy(t, m, "p", "p"), 1)

	// mutation through the decorator evicts the filtered namespace
	require.NoError(t, c.RemovePolicy("p", "p", []string{"alice", "data1", "read"}))

	m = newTestModel(t)
	require.NoError(t, c.LoadFilteredPolicy(m, filter))
	assert.Empty(t, getPolicy(t, m, "p", "p"))
}

func TestPreheat(t *testing.T) {
	c, backend := setupCachedAdapter(t)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))

	assert.True(t, c.Preheat())

	_, err := backend.Get(context.Background(), c.allKey())
	require.NoError(t, err, "preheat must leave a snapshot entry behind")

	// the warmed entry alone carries a load once the store is gone
	require.NoError(t, c.Close())
	assert.Equal(t, [][]string{{"alice", "data1", "read"}}, modelPolicies(t, c))
}

func TestPreheatReportsFailure(t *testing.T) {
	c, _ := setupCachedAdapter(t)
	require.NoError(t, c.Close())

	assert.False(t, c.Preheat())
}

func TestNilCacheBehavesLikePlainAdapter(t *testing.T) {
	c := NewCachedAdapter(setupTestAdapter(t), nil)
	require.NoError(t, c.AddPolicy("p", "p", []string{"alice", "data1", "read"}))

	assert.Equal(t, [][]string{{"alice", "data1", "read"}}, modelPolicies(t, c))
	assert.False(t, c.Preheat(), "no cache to warm")
}

func TestCacheConfigDefaults(t *testing.T) {
	c := NewCachedAdapter(setupTestAdapter(t), cache.NewMemoryCache(time.Minute))

	assert.Equal(t, DefaultCacheTTL, c.ttl)
	assert.Equal(t, DefaultKeyPrefix+"all_policies", c.allKey())
	assert.Equal(t, DefaultKeyPrefix+"filtered_policies:abc", c.filteredKey("abc"))
}
