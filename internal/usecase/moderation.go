package usecase

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"scribe-ai/internal/domain"
)

// minContextTerms is how many distinct context-tier terms it takes to
// report a context verdict. A single context term never does.
const minContextTerms = 2

// NormalizeModerationText prepares text for term matching: width-folded
// (NFKC), lowercased, with every whitespace rune removed.
func NormalizeModerationText(text string) string {
	folded := norm.NFKC.String(text)
	// A Caser holds state, so each call gets its own.
	lowered := cases.Lower(language.Und).String(folded)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, lowered)
}

// ruleBucket is one category's terms at one tier.
type ruleBucket struct {
	category domain.ModerationCategory
	message  string
	terms    []string
}

// ModerationClassifier matches text against a read-only rule table. It is
// safe for concurrent use.
type ModerationClassifier struct {
	tiers map[domain.ModerationTier][]ruleBucket
}

// NewModerationClassifier compiles table. Terms are normalized the same way
// as input text; buckets sharing a category and tier are merged in table
// order.
func NewModerationClassifier(table domain.RuleTable) *ModerationClassifier {
	c := &ModerationClassifier{tiers: make(map[domain.ModerationTier][]ruleBucket)}
	order := table.Categories()

	for _, tier := range domain.Tiers {
		for _, cat := range order {
			b := ruleBucket{category: cat}
			seen := make(map[string]bool)
			for _, r := range table.Rules {
				if r.Category != cat || r.Tier != tier {
					continue
				}
				if b.message == "" {
					b.message = r.Message
				}
				for _, t := range r.Terms {
					n := NormalizeModerationText(t)
					if n == "" || seen[n] {
						continue
					}
					seen[n] = true
					b.terms = append(b.terms, n)
				}
			}
			if len(b.terms) > 0 {
				c.tiers[tier] = append(c.tiers[tier], b)
			}
		}
	}
	return c
}

// Classify returns a verdict for text, or nil when nothing qualifies.
// Extreme beats mild beats context; within a tier the first category in
// table order is reported.
func (c *ModerationClassifier) Classify(text string) *domain.ModerationVerdict {
	normalized := NormalizeModerationText(text)
	if normalized == "" {
		return nil
	}

	for _, tier := range []domain.ModerationTier{domain.TierExtreme, domain.TierMild} {
		for _, b := range c.tiers[tier] {
			if terms := b.matches(normalized); len(terms) > 0 {
				return newLocalVerdict(b, tier, terms)
			}
		}
	}

	var (
		first *ruleBucket
		terms []string
		seen  = make(map[string]bool)
	)
	for i, b := range c.tiers[domain.TierContext] {
		matched := b.matches(normalized)
		if len(matched) == 0 {
			continue
		}
		if first == nil {
			first = &c.tiers[domain.TierContext][i]
		}
		for _, t := range matched {
			if !seen[t] {
				seen[t] = true
				terms = append(terms, t)
			}
		}
	}
	if first == nil || len(terms) < minContextTerms {
		return nil
	}
	return newLocalVerdict(*first, domain.TierContext, terms)
}

func (b ruleBucket) matches(normalized string) []string {
	var out []string
	for _, t := range b.terms {
		if strings.Contains(normalized, t) {
			out = append(out, t)
		}
	}
	return out
}

func newLocalVerdict(b ruleBucket, tier domain.ModerationTier, terms []string) *domain.ModerationVerdict {
	msg := b.message
	if msg == "" {
		msg = fmt.Sprintf("content matched %s terms (%s)", b.category, tier)
	}
	return &domain.ModerationVerdict{
		Category: b.category,
		Tier:     tier,
		Terms:    terms,
		Message:  msg,
		Source:   domain.SourceLocal,
	}
}
