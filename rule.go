package adapter

import "strings"

// maxRuleValues is the number of positional value columns in the policy table.
const maxRuleValues = 6

// CasbinRule represents a row in the policy table. Each row holds one policy
// rule: a type tag ("p" for policies, "g" for role assignments) and up to six
// positional values.
type CasbinRule struct {
	ID    uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	PType string `gorm:"size:100;column:p_type" json:"p_type"`
	V0    string `gorm:"size:100" json:"v0"`
	V1    string `gorm:"size:100" json:"v1"`
	V2    string `gorm:"size:100" json:"v2"`
	V3    string `gorm:"size:100" json:"v3"`
	V4    string `gorm:"size:100" json:"v4"`
	V5    string `gorm:"size:100" json:"v5"`
}

// newRule positions values into the v0..v5 columns. Values beyond the sixth
// are ignored; unsupplied trailing columns stay empty.
func newRule(ptype string, values []string) CasbinRule {
	rule := CasbinRule{PType: ptype}
	cols := [maxRuleValues]*string{&rule.V0, &rule.V1, &rule.V2, &rule.V3, &rule.V4, &rule.V5}
	for i := 0; i < len(values) && i < maxRuleValues; i++ {
		*cols[i] = values[i]
	}
	return rule
}

// values returns the v0..v5 columns in order, untrimmed.
func (r CasbinRule) values() []string {
	return []string{r.V0, r.V1, r.V2, r.V3, r.V4, r.V5}
}

// policy returns the rule in canonical form: the type tag followed by the
// positional values with the trailing run of empty values removed. Internal
// empty values are preserved, so ["a", "", "c"] keeps all three elements.
func (r CasbinRule) policy() []string {
	vals := r.values()
	end := len(vals)
	for end > 0 && vals[end-1] == "" {
		end--
	}
	policy := make([]string, 0, end+1)
	policy = append(policy, r.PType)
	policy = append(policy, vals[:end]...)
	return policy
}

// line returns the rule in the legacy joined-string form consumed by
// persist.LoadPolicyLine. Unlike policy, empty values are skipped anywhere in
// the rule, not just the trailing run; the two representations are not
// interchangeable.
func (r CasbinRule) line() string {
	parts := make([]string, 0, maxRuleValues+1)
	parts = append(parts, r.PType)
	for _, v := range r.values() {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}
