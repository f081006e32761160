package domain

import "context"

// ModerationCategory names a family of sensitive content.
type ModerationCategory string

const (
	CategoryPolitics       ModerationCategory = "politics"
	CategoryViolence       ModerationCategory = "violence"
	CategorySexual         ModerationCategory = "sexual"
	CategoryGambling       ModerationCategory = "gambling"
	CategoryDrugs          ModerationCategory = "drugs"
	CategoryDiscrimination ModerationCategory = "discrimination"
	CategorySelfHarm       ModerationCategory = "self_harm"

	// CategoryOther is only produced by provider verdicts whose category
	// has no local equivalent. Rule tables may not use it.
	CategoryOther ModerationCategory = "other"
)

// KnownCategories lists every category a rule table may use.
var KnownCategories = []ModerationCategory{
	CategoryPolitics,
	CategoryViolence,
	CategorySexual,
	CategoryGambling,
	CategoryDrugs,
	CategoryDiscrimination,
	CategorySelfHarm,
}

// IsKnown reports whether c is part of the closed category set.
func (c ModerationCategory) IsKnown() bool {
	for _, k := range KnownCategories {
		if k == c {
			return true
		}
	}
	return false
}

// ModerationTier is the severity of a moderation term.
type ModerationTier string

const (
	TierExtreme ModerationTier = "extreme"
	TierMild    ModerationTier = "mild"
	TierContext ModerationTier = "context"
)

// Tiers in priority order.
var Tiers = []ModerationTier{TierExtreme, TierMild, TierContext}

// ModerationRule is one category/tier bucket of terms.
type ModerationRule struct {
	Category ModerationCategory
	Tier     ModerationTier
	Message  string   // user-facing explanation for a hit in this bucket
	Terms    []string // normalized (lowercased, whitespace-free)
}

// RuleTable is the read-only, ordered moderation table. Category order is
// the order of first appearance in Rules; it decides which category is
// reported when several match at the same tier.
type RuleTable struct {
	Rules []ModerationRule
}

// Categories returns the distinct categories in table order.
func (t RuleTable) Categories() []ModerationCategory {
	seen := make(map[ModerationCategory]bool)
	var out []ModerationCategory
	for _, r := range t.Rules {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

// Moderation verdict sources.
const (
	SourceLocal    = "local"
	SourceProvider = "provider"
)

// ModerationVerdict explains why a text was rejected.
type ModerationVerdict struct {
	Category ModerationCategory `json:"category"`
	Tier     ModerationTier     `json:"tier"`
	Terms    []string           `json:"terms"`
	Message  string             `json:"message"`
	Source   string             `json:"source"`
}

// Moderator is a remote moderation service.
type Moderator interface {
	// Moderate returns a verdict when the provider flags text, nil otherwise.
	Moderate(ctx context.Context, text string) (*ModerationVerdict, error)
}
