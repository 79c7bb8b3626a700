// Package catalog holds the read-only interaction catalog: known medicines and
// the pair/triple interaction rules between them.
//
// A Catalog is immutable once built and safe for concurrent use without locking.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/meditrek-engine/internal/domain"
)

// Normalize trims, collapses inner whitespace and case-folds a drug name.
func Normalize(name string) string {
	return domain.NormalizeName(name)
}

// Rule is a catalog rule with its normalized drug keys.
type Rule struct {
	domain.InteractionRule
	keys []string
}

// Keys returns the normalized, sorted drug names of the rule.
func (r Rule) Keys() []string {
	return r.keys
}

// CoveredBy reports whether every drug of the rule is in set.
func (r Rule) CoveredBy(set map[string]struct{}) bool {
	for _, k := range r.keys {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

// Involves reports whether the rule names drug (normalized).
func (r Rule) Involves(drug string) bool {
	for _, k := range r.keys {
		if k == drug {
			return true
		}
	}
	return false
}

// Catalog is an immutable index of medicines and interaction rules.
type Catalog struct {
	medicines map[string]domain.MedicineRecord
	rules     []Rule
	byDrug    map[string][]int
}

// New validates and indexes medicines and rules. Rules must name two or three
// distinct drugs and carry a severity other than None. Rule drugs given by
// generic name are keyed on the medicine's name.
func New(medicines []domain.MedicineRecord, rules []domain.InteractionRule) (*Catalog, error) {
	c := &Catalog{
		medicines: make(map[string]domain.MedicineRecord, len(medicines)*2),
		byDrug:    make(map[string][]int),
	}

	for _, m := range medicines {
		name := Normalize(m.Name)
		if name == "" {
			return nil, domain.NewValidationError("medicine.name", "medicine name is required", m.Name)
		}
		c.medicines[name] = m
		if generic := Normalize(m.GenericName); generic != "" {
			if _, exists := c.medicines[generic]; !exists {
				c.medicines[generic] = m
			}
		}
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		keys := c.canonicalSet(r.Drugs)
		if len(keys) < 2 || len(keys) > 3 {
			return nil, domain.NewValidationError("rule.drugs", "a rule names two or three distinct drugs", r.Drugs)
		}
		if !r.Severity.IsValid() || r.Severity == domain.SeverityNone {
			return nil, domain.NewValidationError("rule.severity", "severity must be High, Medium or Low", r.Severity)
		}
		if r.ID == "" {
			r.ID = strings.Join(keys, "+")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true

		idx := len(c.rules)
		c.rules = append(c.rules, Rule{InteractionRule: r, keys: keys})
		for _, k := range keys {
			c.byDrug[k] = append(c.byDrug[k], idx)
		}
	}

	return c, nil
}

// canonicalSet maps rule drug names through the medicine index, so a rule
// written against a generic name keys on the same name Canonical returns.
func (c *Catalog) canonicalSet(names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if k := c.Canonical(n); k != "" {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Medicine looks a medicine up by name or generic name.
func (c *Catalog) Medicine(name string) (domain.MedicineRecord, bool) {
	m, ok := c.medicines[Normalize(name)]
	return m, ok
}

// Canonical maps a name or generic name to the normalized catalog name. Unknown
// names come back normalized but otherwise unchanged.
func (c *Catalog) Canonical(name string) string {
	n := Normalize(name)
	if m, ok := c.medicines[n]; ok {
		return Normalize(m.Name)
	}
	return n
}

// IsKnown reports whether name is a catalog medicine.
func (c *Catalog) IsKnown(name string) bool {
	_, ok := c.medicines[Normalize(name)]
	return ok
}

// RulesFor returns the rules naming drug, in catalog order. Generic names
// resolve to their catalog medicine.
func (c *Catalog) RulesFor(drug string) []Rule {
	idx := c.byDrug[c.Canonical(drug)]
	out := make([]Rule, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.rules[i])
	}
	return out
}

// Rules returns every rule in catalog order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// MedicineCount returns the number of distinct medicine records.
func (c *Catalog) MedicineCount() int {
	names := make(map[string]struct{}, len(c.medicines))
	for _, m := range c.medicines {
		names[Normalize(m.Name)] = struct{}{}
	}
	return len(names)
}

// RuleCount returns the number of rules.
func (c *Catalog) RuleCount() int {
	return len(c.rules)
}

// Medicines returns the distinct medicine records sorted by name.
func (c *Catalog) Medicines() []domain.MedicineRecord {
	byName := make(map[string]domain.MedicineRecord, len(c.medicines))
	for _, m := range c.medicines {
		byName[Normalize(m.Name)] = m
	}
	out := make([]domain.MedicineRecord, 0, len(byName))
	for _, m := range byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return Normalize(out[i].Name) < Normalize(out[j].Name)
	})
	return out
}
