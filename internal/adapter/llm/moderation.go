package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/infra/tracer"
)

// extremeScore is the provider score at or above which a flag is reported
// as extreme rather than mild.
const extremeScore = 0.8

// providerCategories maps provider moderation categories onto the local taxonomy.
var providerCategories = map[string]domain.ModerationCategory{
	"hate":                   domain.CategoryDiscrimination,
	"hate/threatening":       domain.CategoryDiscrimination,
	"harassment":             domain.CategoryDiscrimination,
	"harassment/threatening": domain.CategoryViolence,
	"self-harm":              domain.CategorySelfHarm,
	"self-harm/intent":       domain.CategorySelfHarm,
	"self-harm/instructions": domain.CategorySelfHarm,
	"sexual":                 domain.CategorySexual,
	"sexual/minors":          domain.CategorySexual,
	"violence":               domain.CategoryViolence,
	"violence/graphic":       domain.CategoryViolence,
	"illicit":                domain.CategoryDrugs,
	"illicit/violent":        domain.CategoryViolence,
}

// fuzzyCategories is consulted in order when no exact mapping exists. Plain
// substring matching can pick an unrelated category that shares a fragment
// ("graphic" lands on violence); that is accepted.
var fuzzyCategories = []struct {
	fragment string
	category domain.ModerationCategory
}{
	{"sex", domain.CategorySexual},
	{"harm", domain.CategorySelfHarm},
	{"violen", domain.CategoryViolence},
	{"graphic", domain.CategoryViolence},
	{"hate", domain.CategoryDiscrimination},
	{"harass", domain.CategoryDiscrimination},
	{"drug", domain.CategoryDrugs},
	{"illicit", domain.CategoryDrugs},
	{"gambl", domain.CategoryGambling},
	{"politic", domain.CategoryPolitics},
	{"election", domain.CategoryPolitics},
}

// MapProviderCategory maps a provider category name onto the local taxonomy:
// exact lookup first, then the fuzzy fragment table, else CategoryOther.
func MapProviderCategory(name string) domain.ModerationCategory {
	key := strings.ToLower(strings.TrimSpace(name))
	if c, ok := providerCategories[key]; ok {
		return c
	}
	for _, f := range fuzzyCategories {
		if strings.Contains(key, f.fragment) {
			return f.category
		}
	}
	return domain.CategoryOther
}

// ModerationClient calls an OpenAI-compatible /moderations endpoint.
type ModerationClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewModerationClient builds a moderation client sharing the provider's
// endpoint and credentials.
func NewModerationClient(cfg config.ModerationConfig, provider config.ProviderConfig, logger *slog.Logger) *ModerationClient {
	baseURL := strings.TrimRight(provider.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &ModerationClient{
		baseURL: baseURL,
		apiKey:  provider.APIKey,
		model:   cfg.Model,
		client:  NewHTTPClient(provider),
		logger:  logger,
	}
}

// Moderate implements domain.Moderator.
func (c *ModerationClient) Moderate(ctx context.Context, text string) (*domain.ModerationVerdict, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.moderate",
		trace.WithAttributes(tracer.StringAttr("moderation.model", c.model)),
	)
	defer span.End()

	if c.apiKey == "" {
		err := domain.NewDomainError("ModerationClient.Moderate", domain.ErrNotConfigured, "api key is empty")
		tracer.RecordError(span, err)
		return nil, err
	}

	body, err := json.Marshal(moderationRequest{Input: text, Model: c.model})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/moderations", body, bearer(c.apiKey))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var resp moderationResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError("ModerationClient.Moderate", domain.ErrMalformedStream, err.Error())
	}

	verdict := verdictFromResults(resp.Results)
	span.SetAttributes(tracer.BoolAttr("moderation.flagged", verdict != nil))
	tracer.SetOK(span)
	if verdict != nil {
		c.logger.Debug("provider moderation flagged input",
			"category", verdict.Category,
			"tier", verdict.Tier,
			"provider_categories", verdict.Terms,
		)
	}
	return verdict, nil
}

// verdictFromResults reduces provider results to one verdict. The category
// comes from the highest-scoring flagged provider category; ties break by name.
func verdictFromResults(results []moderationResult) *domain.ModerationVerdict {
	var flagged []string
	scores := map[string]float64{}
	for _, r := range results {
		if !r.Flagged {
			continue
		}
		for name, on := range r.Categories {
			if !on {
				continue
			}
			if _, seen := scores[name]; !seen {
				flagged = append(flagged, name)
			}
			scores[name] = max(scores[name], r.CategoryScores[name])
		}
	}
	if len(flagged) == 0 {
		for _, r := range results {
			if r.Flagged {
				// Flagged without any category set.
				return &domain.ModerationVerdict{
					Category: domain.CategoryOther,
					Tier:     domain.TierMild,
					Message:  "content was flagged by the provider",
					Source:   domain.SourceProvider,
				}
			}
		}
		return nil
	}

	sort.Strings(flagged)
	top := flagged[0]
	for _, name := range flagged[1:] {
		if scores[name] > scores[top] {
			top = name
		}
	}

	tier := domain.TierMild
	if scores[top] >= extremeScore {
		tier = domain.TierExtreme
	}
	category := MapProviderCategory(top)
	return &domain.ModerationVerdict{
		Category: category,
		Tier:     tier,
		Terms:    flagged,
		Message:  fmt.Sprintf("content was flagged by the provider as %s", category),
		Source:   domain.SourceProvider,
	}
}

type moderationRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

var _ domain.Moderator = (*ModerationClient)(nil)
