// Cached SQL Policy Adapter for Casbin - Test Suite
// Copyright (c) 2024 Cached SQL Policy Adapter for Casbin
// Licensed under the MIT License. See LICENSE file for details.

package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestFingerprintStableAcrossParamOrder(t *testing.T) {
	a := Filter{
		Predicate: "v0 = @sub AND v1 = @obj",
		Params:    map[string]interface{}{"sub": "alice", "obj": "data1"},
	}
	b := Filter{
		Predicate: "v0 = @sub AND v1 = @obj",
		Params:    map[string]interface{}{"obj": "data1", "sub": "alice"},
	}

	assert.Equal(t, a.fingerprint(), b.fingerprint())
}

func TestFingerprintDivergesOnPredicate(t *testing.T) {
	a := Filter{Predicate: "v0 = 'alice'"}
	b := Filter{Predicate: "v0 = 'bob'"}

	assert.NotEqual(t, a.fingerprint(), b.fingerprint())
}

func TestFingerprintDivergesOnParamValue(t *testing.T) {
	a := Filter{Predicate: "v0 = @sub", Params: map[string]interface{}{"sub": "alice"}}
	b := Filter{Predicate: "v0 = @sub", Params: map[string]interface{}{"sub": "bob"}}

	assert.NotEqual(t, a.fingerprint(), b.fingerprint())
}

func TestNormalizeFilterShapes(t *testing.T) {
	f, scope, cacheable, err := normalizeFilter("v0 = 'alice'")
	require.NoError(t, err)
	assert.Nil(t, scope)
	assert.True(t, cacheable)
	assert.Equal(t, "v0 = 'alice'", f.Predicate)

	structured := Filter{Predicate: "v0 = @sub", Params: map[string]interface{}{"sub": "alice"}}
	f, scope, cacheable, err = normalizeFilter(structured)
	require.NoError(t, err)
	assert.Nil(t, scope)
	assert.True(t, cacheable)
	assert.Equal(t, structured, f)

	_, scope, cacheable, err = normalizeFilter(QueryFilter(func(db *gorm.DB) *gorm.DB { return db }))
	require.NoError(t, err)
	assert.NotNil(t, scope)
	assert.False(t, cacheable)

	// a bare func literal is accepted as an opaque filter too
	_, scope, cacheable, err = normalizeFilter(func(db *gorm.DB) *gorm.DB { return db })
	require.NoError(t, err)
	assert.NotNil(t, scope)
	assert.False(t, cacheable)
}

func TestNormalizeFilterRejectsUnknownShapes(t *testing.T) {
	_, _, _, err := normalizeFilter(42)
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, _, _, err = normalizeFilter((*Filter)(nil))
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
