package adapter

import (
	"errors"
	"fmt"
)

// Common errors returned by the adapter.
var (
	// ErrInvalidFilter is returned by LoadFilteredPolicy when the supplied
	// filter is neither a raw predicate string, a structured Filter, nor a
	// QueryFilter function.
	ErrInvalidFilter = errors.New("invalid filter type")

	// ErrRuleCountMismatch is returned by UpdatePolicies when the old and new
	// rule slices have different lengths.
	ErrRuleCountMismatch = errors.New("old and new rule counts do not match")
)

// StorageError wraps a failure from the relational store. Storage failures are
// always surfaced to the caller; nothing is partially applied when the
// operation ran inside a transaction.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("policy storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a *StorageError, passing nil through.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// CacheError wraps a failure from the cache backend. Cache failures are
// recovered locally: a failed read is treated as a miss, a failed write or
// eviction is logged and the operation proceeds against the store, so the
// result is never affected, only its latency.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("policy cache: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
