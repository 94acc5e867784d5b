package adapter

import (
	"fmt"

	"gorm.io/gorm"
)

// defaultTableName is used when no table name override is supplied.
const defaultTableName = "casbin_rule"

// policyStore is the relational gateway: it owns the policy table and executes
// all CRUD against it. Multi-statement operations run through transaction so
// they commit or roll back as a unit.
type policyStore struct {
	db    *gorm.DB
	table string
}

func newPolicyStore(db *gorm.DB, table string) *policyStore {
	if table == "" {
		table = defaultTableName
	}
	return &policyStore{db: db, table: table}
}

// scope binds the configured table name to a query root. Pass a transaction
// handle to keep statements inside that transaction.
func (s *policyStore) scope(db *gorm.DB) *gorm.DB {
	return db.Table(s.table)
}

// ensureSchema creates the policy table if it does not exist. Idempotent; the
// adapter calls it on every construction.
func (s *policyStore) ensureSchema() error {
	return storageErr("migrate", s.scope(s.db).AutoMigrate(&CasbinRule{}))
}

func (s *policyStore) insert(db *gorm.DB, rule CasbinRule) error {
	return storageErr("insert", s.scope(db).Create(&rule).Error)
}

// insertBatch appends all rules with a single multi-row INSERT, relying on
// statement atomicity for all-or-nothing behavior.
func (s *policyStore) insertBatch(db *gorm.DB, rules []CasbinRule) error {
	if len(rules) == 0 {
		return nil
	}
	return storageErr("insert batch", s.scope(db).Create(&rules).Error)
}

func (s *policyStore) selectAll() ([]CasbinRule, error) {
	var rules []CasbinRule
	if err := s.scope(s.db).Order("id").Find(&rules).Error; err != nil {
		return nil, storageErr("select all", err)
	}
	return rules, nil
}

// selectWhere applies the filter's predicate and parameters as a WHERE clause.
// Named placeholders resolve against the params map; positional placeholders
// are not supported together with named ones.
func (s *policyStore) selectWhere(f Filter) ([]CasbinRule, error) {
	q := s.scope(s.db)
	switch {
	case f.Predicate == "":
		// empty predicate matches everything
	case len(f.Params) > 0:
		q = q.Where(f.Predicate, f.Params)
	default:
		q = q.Where(f.Predicate)
	}
	var rules []CasbinRule
	if err := q.Order("id").Find(&rules).Error; err != nil {
		return nil, storageErr("select filtered", err)
	}
	return rules, nil
}

// selectScoped runs a caller-supplied query scope against the policy table.
// Used for opaque filters only.
func (s *policyStore) selectScoped(fn QueryFilter) ([]CasbinRule, error) {
	var rules []CasbinRule
	if err := fn(s.scope(s.db)).Order("id").Find(&rules).Error; err != nil {
		return nil, storageErr("select scoped", err)
	}
	return rules, nil
}

// deleteRule deletes rows matching ptype exactly and each supplied value at
// its corresponding column. Unsupplied trailing positions are unconstrained.
func (s *policyStore) deleteRule(db *gorm.DB, ptype string, values []string) error {
	q := s.scope(db).Where("p_type = ?", ptype)
	for i := 0; i < len(values) && i < maxRuleValues; i++ {
		q = q.Where(fmt.Sprintf("v%d = ?", i), values[i])
	}
	return storageErr("delete", q.Delete(&CasbinRule{}).Error)
}

// deleteFiltered deletes rows matching ptype and, starting at column
// v<fieldIndex>, each non-empty value at its offset column; empty values are
// wildcards for their column. It returns the rows that matched before
// deletion, which update/replace semantics depend on.
func (s *policyStore) deleteFiltered(db *gorm.DB, ptype string, fieldIndex int, fieldValues ...string) ([]CasbinRule, error) {
	build := func() *gorm.DB {
		q := s.scope(db).Where("p_type = ?", ptype)
		for i, v := range fieldValues {
			col := fieldIndex + i
			if v == "" || col >= maxRuleValues {
				continue
			}
			q = q.Where(fmt.Sprintf("v%d = ?", col), v)
		}
		return q
	}

	var matched []CasbinRule
	if err := build().Order("id").Find(&matched).Error; err != nil {
		return nil, storageErr("select for delete", err)
	}
	if err := build().Delete(&CasbinRule{}).Error; err != nil {
		return nil, storageErr("delete filtered", err)
	}
	return matched, nil
}

// updateRule matches a row by ptype plus the exact old values at each column
// and rewrites every value column to the new values.
func (s *policyStore) updateRule(db *gorm.DB, ptype string, oldValues, newValues []string) error {
	oldRule := newRule(ptype, oldValues)
	updated := newRule(ptype, newValues)
	q := s.scope(db).Where("p_type = ?", ptype)
	for i, v := range oldRule.values() {
		q = q.Where(fmt.Sprintf("v%d = ?", i), v)
	}
	cols := map[string]interface{}{
		"v0": updated.V0, "v1": updated.V1, "v2": updated.V2,
		"v3": updated.V3, "v4": updated.V4, "v5": updated.V5,
	}
	return storageErr("update", q.Updates(cols).Error)
}

// transaction executes work such that either every contained statement commits
// or none do.
func (s *policyStore) transaction(work func(tx *gorm.DB) error) error {
	return s.db.Transaction(work)
}

// close releases the underlying database handle.
func (s *policyStore) close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storageErr("close", err)
	}
	return storageErr("close", sqlDB.Close())
}
