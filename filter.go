package adapter

import (
	"crypto/md5"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Filter restricts which rows a filtered policy load reads from the store.
// Predicate is a WHERE-clause expression; Params supplies its named or
// positional placeholder values.
type Filter struct {
	Predicate string                 `json:"predicate"`
	Params    map[string]interface{} `json:"params"`
}

// QueryFilter is an opaque filter: an arbitrary query scope applied to the
// policy table. Because its effects cannot be fingerprinted, loads through a
// QueryFilter always bypass the cache and go straight to the store.
type QueryFilter func(*gorm.DB) *gorm.DB

// normalizeFilter coerces the polymorphic filter argument into one of the
// supported shapes. The bool reports whether the filter is cacheable.
func normalizeFilter(filter interface{}) (Filter, QueryFilter, bool, error) {
	switch f := filter.(type) {
	case string:
		return Filter{Predicate: f}, nil, true, nil
	case Filter:
		return f, nil, true, nil
	case *Filter:
		if f == nil {
			return Filter{}, nil, false, fmt.Errorf("%w: nil *Filter", ErrInvalidFilter)
		}
		return *f, nil, true, nil
	case QueryFilter:
		return Filter{}, f, false, nil
	case func(*gorm.DB) *gorm.DB:
		return Filter{}, f, false, nil
	default:
		return Filter{}, nil, false, fmt.Errorf("%w: %T", ErrInvalidFilter, filter)
	}
}

// fingerprint derives a stable cache-key suffix from the filter. The filter is
// serialized to canonical JSON (encoding/json emits map keys in sorted order,
// so parameter insertion order does not matter) and hashed with md5. Two
// structurally equal filters always fingerprint identically.
func (f Filter) fingerprint() string {
	raw, err := json.Marshal(f)
	if err != nil {
		// Params held something unserializable; fall back to the fmt
		// rendering so the load still works, it just keys less stably.
		raw = []byte(fmt.Sprintf("%v|%v", f.Predicate, f.Params))
	}
	return fmt.Sprintf("%x", md5.Sum(raw))
}
