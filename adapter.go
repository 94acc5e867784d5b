// Cached SQL Policy Adapter for Casbin
// Copyright (c) 2024 Cached SQL Policy Adapter for Casbin
// Licensed under the MIT License. See LICENSE file for details.

// Package adapter persists Casbin policy rules in a relational database
// through gorm, with an optional read-through cache decorator in front of it.
// Adapter implements casbin's persist.Adapter, persist.BatchAdapter,
// persist.UpdatableAdapter and persist.FilteredAdapter contracts; wrap it in a
// CachedAdapter to serve repeated loads from Redis or an in-process cache.
package adapter

import (
	"fmt"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Adapter stores policy rules in a relational table. It is safe for use from
// multiple goroutines to the extent the underlying *gorm.DB is; the adapter
// itself adds no locking beyond store-level transactions.
type Adapter struct {
	store    *policyStore
	log      *zap.SugaredLogger
	filtered bool
}

// NewAdapter opens a database connection for the given driver ("mysql",
// "postgres", "sqlite" or "sqlite3") and DSN, ensures the policy table exists
// and returns a ready adapter. An optional table name overrides the default
// "casbin_rule".
func NewAdapter(driverName, dsn string, tableName ...string) (*Adapter, error) {
	var dialector gorm.Dialector
	switch driverName {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "pgx":
		dialector = postgres.Open(dsn)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, storageErr("open", err)
	}
	return NewAdapterByDB(db, tableName...)
}

// NewAdapterByDB builds an adapter on top of a caller-owned gorm handle. The
// caller keeps responsibility for closing the handle unless it calls Close.
func NewAdapterByDB(db *gorm.DB, tableName ...string) (*Adapter, error) {
	table := ""
	if len(tableName) > 0 {
		table = tableName[0]
	}
	a := &Adapter{
		store: newPolicyStore(db, table),
		log:   zap.NewNop().Sugar(),
	}
	if err := a.store.ensureSchema(); err != nil {
		return nil, err
	}
	return a, nil
}

// SetLogger installs a logger for the adapter. The default is a nop logger.
func (a *Adapter) SetLogger(log *zap.SugaredLogger) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a.log = log
}

// Close releases the underlying database connection.
func (a *Adapter) Close() error {
	return a.store.close()
}

// loadRows feeds rows into the model in canonical rule form.
func loadRows(rows []CasbinRule, m model.Model) error {
	for _, r := range rows {
		if err := persist.LoadPolicyArray(r.policy(), m); err != nil {
			return err
		}
	}
	return nil
}

// loadLines feeds pre-formatted policy lines into the model.
func loadLines(lines []string, m model.Model) error {
	for _, line := range lines {
		if err := persist.LoadPolicyLine(line, m); err != nil {
			return err
		}
	}
	return nil
}

// LoadPolicy loads every rule from the store into the model.
func (a *Adapter) LoadPolicy(m model.Model) error {
	rows, err := a.store.selectAll()
	if err != nil {
		return err
	}
	return loadRows(rows, m)
}

// LoadFilteredPolicy loads only the rules matching the filter into the model.
// The filter may be a raw predicate string, a Filter, or a QueryFilter; any
// other shape fails with ErrInvalidFilter. A nil filter behaves like
// LoadPolicy and clears the filtered flag; any non-nil filter marks the
// adapter filtered for the rest of its lifetime, signalling that the loaded
// model is not the full policy set.
func (a *Adapter) LoadFilteredPolicy(m model.Model, filter interface{}) error {
	if filter == nil {
		a.filtered = false
		return a.LoadPolicy(m)
	}

	rows, err := a.selectFiltered(filter)
	if err != nil {
		return err
	}
	a.filtered = true
	return loadLines(ruleLines(rows), m)
}

// selectFiltered resolves the polymorphic filter argument and queries the
// store accordingly.
func (a *Adapter) selectFiltered(filter interface{}) ([]CasbinRule, error) {
	f, scope, _, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		return a.store.selectScoped(scope)
	}
	return a.store.selectWhere(f)
}

func ruleLines(rows []CasbinRule) []string {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, r.line())
	}
	return lines
}

// IsFiltered reports whether a filtered load has occurred on this adapter.
func (a *Adapter) IsFiltered() bool {
	return a.filtered
}

// SavePolicy writes every rule currently in the model to the store, one row at
// a time. It is purely additive: existing rows are not cleared first, so
// saving a model loaded from the same table duplicates its rules. Callers
// wanting replace semantics should clear the table themselves.
func (a *Adapter) SavePolicy(m model.Model) error {
	for _, section := range []string{"p", "g"} {
		for ptype, ast := range m[section] {
			for _, rule := range ast.Policy {
				if err := a.store.insert(a.store.db, newRule(ptype, rule)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// AddPolicy appends one rule to the store.
func (a *Adapter) AddPolicy(sec string, ptype string, rule []string) error {
	return a.store.insert(a.store.db, newRule(ptype, rule))
}

// AddPolicies appends all rules with a single multi-row insert.
func (a *Adapter) AddPolicies(sec string, ptype string, rules [][]string) error {
	rows := make([]CasbinRule, 0, len(rules))
	for _, rule := range rules {
		rows = append(rows, newRule(ptype, rule))
	}
	return a.store.insertBatch(a.store.db, rows)
}

// RemovePolicy deletes the exactly matching rule from the store.
func (a *Adapter) RemovePolicy(sec string, ptype string, rule []string) error {
	return a.store.deleteRule(a.store.db, ptype, rule)
}

// RemovePolicies deletes every given rule inside one transaction.
func (a *Adapter) RemovePolicies(sec string, ptype string, rules [][]string) error {
	return a.store.transaction(func(tx *gorm.DB) error {
		for _, rule := range rules {
			if err := a.store.deleteRule(tx, ptype, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveFilteredPolicy deletes the rules matching ptype and the given field
// values starting at fieldIndex; empty values act as wildcards for their
// column.
func (a *Adapter) RemoveFilteredPolicy(sec string, ptype string, fieldIndex int, fieldValues ...string) error {
	return a.store.transaction(func(tx *gorm.DB) error {
		removed, err := a.store.deleteFiltered(tx, ptype, fieldIndex, fieldValues...)
		if err != nil {
			return err
		}
		a.log.Debugf("removed %d filtered rules for ptype %s", len(removed), ptype)
		return nil
	})
}

// UpdatePolicy rewrites the rule matching oldRule to newRule.
func (a *Adapter) UpdatePolicy(sec string, ptype string, oldRule, newRule []string) error {
	return a.store.updateRule(a.store.db, ptype, oldRule, newRule)
}

// UpdatePolicies rewrites each oldRules[i] to newRules[i] inside one
// transaction. Mismatched slice lengths are a precondition violation; nothing
// is applied.
func (a *Adapter) UpdatePolicies(sec string, ptype string, oldRules, newRules [][]string) error {
	if len(oldRules) != len(newRules) {
		return fmt.Errorf("%w: %d old, %d new", ErrRuleCountMismatch, len(oldRules), len(newRules))
	}
	return a.store.transaction(func(tx *gorm.DB) error {
		for i := range oldRules {
			if err := a.store.updateRule(tx, ptype, oldRules[i], newRules[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateFilteredPolicies replaces the rules matching the field filter with
// newRules inside one transaction and returns the replaced rules (without the
// type tag) so callers can tell what changed.
func (a *Adapter) UpdateFilteredPolicies(sec string, ptype string, newRules [][]string, fieldIndex int, fieldValues ...string) ([][]string, error) {
	var oldPolicies [][]string
	err := a.store.transaction(func(tx *gorm.DB) error {
		removed, err := a.store.deleteFiltered(tx, ptype, fieldIndex, fieldValues...)
		if err != nil {
			return err
		}
		rows := make([]CasbinRule, 0, len(newRules))
		for _, rule := range newRules {
			rows = append(rows, newRule(ptype, rule))
		}
		if err := a.store.insertBatch(tx, rows); err != nil {
			return err
		}
		for _, r := range removed {
			oldPolicies = append(oldPolicies, r.policy()[1:])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return oldPolicies, nil
}
