// Package rules loads the moderation rule table from YAML.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scribe-ai/internal/domain"
)

//go:embed default_rules.yaml
var defaultRules []byte

type tierSpec struct {
	Message string   `yaml:"message"`
	Terms   []string `yaml:"terms"`
}

type categorySpec struct {
	Category string    `yaml:"category"`
	Extreme  *tierSpec `yaml:"extreme"`
	Mild     *tierSpec `yaml:"mild"`
	Context  *tierSpec `yaml:"context"`
}

// Default returns the built-in rule table.
func Default() (domain.RuleTable, error) {
	return Parse(defaultRules)
}

// Load reads a rule table from path, or the built-in table when path is empty.
func Load(path string) (domain.RuleTable, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RuleTable{}, fmt.Errorf("%w: read %s: %v", domain.ErrRuleTable, path, err)
	}
	table, err := Parse(data)
	return table, domain.WrapOp(path, err)
}

// Parse decodes and validates a YAML rule table. Category order in the
// document is preserved. Terms are returned as written; normalization is
// the classifier's job.
func Parse(data []byte) (domain.RuleTable, error) {
	var specs []categorySpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return domain.RuleTable{}, fmt.Errorf("%w: parse: %v", domain.ErrRuleTable, err)
	}
	if len(specs) == 0 {
		return domain.RuleTable{}, fmt.Errorf("%w: no categories", domain.ErrRuleTable)
	}

	var table domain.RuleTable
	seen := make(map[domain.ModerationCategory]bool)
	for i, spec := range specs {
		cat := domain.ModerationCategory(strings.TrimSpace(spec.Category))
		if !cat.IsKnown() {
			return domain.RuleTable{}, fmt.Errorf("%w: entry %d: unknown category %q", domain.ErrRuleTable, i, spec.Category)
		}
		if seen[cat] {
			return domain.RuleTable{}, fmt.Errorf("%w: duplicate category %q", domain.ErrRuleTable, cat)
		}
		seen[cat] = true

		tiers := []struct {
			tier domain.ModerationTier
			spec *tierSpec
		}{
			{domain.TierExtreme, spec.Extreme},
			{domain.TierMild, spec.Mild},
			{domain.TierContext, spec.Context},
		}
		for _, t := range tiers {
			if t.spec == nil {
				continue
			}
			terms, err := cleanTerms(t.spec.Terms)
			if err != nil {
				return domain.RuleTable{}, fmt.Errorf("%w: %s/%s: %v", domain.ErrRuleTable, cat, t.tier, err)
			}
			if len(terms) == 0 {
				continue
			}
			table.Rules = append(table.Rules, domain.ModerationRule{
				Category: cat,
				Tier:     t.tier,
				Message:  strings.TrimSpace(t.spec.Message),
				Terms:    terms,
			})
		}
	}
	return table, nil
}

func cleanTerms(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for i, term := range raw {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("term %d is empty", i)
		}
		out = append(out, term)
	}
	return out, nil
}
