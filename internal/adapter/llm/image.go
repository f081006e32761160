package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/infra/tracer"
)

// ImageClient calls an OpenAI-compatible /images/generations endpoint.
//
// Quota errors from image endpoints are sometimes transient, so the client
// retries them a bounded number of times after a fixed delay. All other
// retrying is left to the caller's RetryPolicy.
type ImageClient struct {
	baseURL      string
	apiKey       string
	model        string
	size         string
	style        string
	quality      string
	quotaRetries int
	quotaDelay   time.Duration
	client       *http.Client
	limiter      *rate.Limiter
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *slog.Logger
}

// NewImageClient builds an image client. Empty base URL and key fall back
// to the provider's.
func NewImageClient(cfg config.ImageConfig, provider config.ProviderConfig, logger *slog.Logger) *ImageClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = strings.TrimRight(provider.BaseURL, "/")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = provider.APIKey
	}

	return &ImageClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        cfg.Model,
		size:         cfg.Size,
		style:        cfg.Style,
		quality:      cfg.Quality,
		quotaRetries: cfg.QuotaRetries,
		quotaDelay:   cfg.QuotaRetryDelay,
		client:       NewHTTPClient(provider),
		limiter:      newLimiter(cfg.RequestsPerMinute),
		sleep:        sleepCtx,
		logger:       logger,
	}
}

// GenerateImage implements domain.ImageGenerator.
func (c *ImageClient) GenerateImage(ctx context.Context, req domain.ImageRequest) (*domain.ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, domain.NewDomainError("ImageClient.GenerateImage", domain.ErrInvalidInput, "empty prompt")
	}
	if c.apiKey == "" {
		return nil, domain.NewDomainError("ImageClient.GenerateImage", domain.ErrNotConfigured, "api key is empty")
	}

	wire := c.toRequest(req)
	ctx, span := tracer.StartSpan(ctx, "llm.image",
		trace.WithAttributes(
			tracer.StringAttr("image.model", wire.Model),
			tracer.StringAttr("image.size", wire.Size),
		),
	)
	defer span.End()

	body, err := json.Marshal(wire)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		result, err := c.generateOnce(ctx, body)
		if err == nil {
			result.Prompt = req.Prompt
			span.SetAttributes(tracer.IntAttr("image.quota_retries", attempt))
			tracer.SetOK(span)
			return result, nil
		}

		if !errors.Is(err, domain.ErrQuotaExhausted) || attempt >= c.quotaRetries {
			tracer.RecordError(span, err)
			return nil, err
		}

		c.logger.Info("image quota exhausted, retrying after delay",
			"attempt", attempt+1,
			"max_retries", c.quotaRetries,
			"delay", c.quotaDelay,
		)
		if err := c.sleep(ctx, c.quotaDelay); err != nil {
			tracer.RecordError(span, err)
			return nil, transportError(ctx, err)
		}
	}
}

func (c *ImageClient) generateOnce(ctx context.Context, body []byte) (*domain.ImageResult, error) {
	if err := waitLimiter(ctx, c.limiter); err != nil {
		return nil, err
	}

	respBody, err := doJSONRequest(ctx, c.client, c.baseURL+"/images/generations", body, bearer(c.apiKey))
	if err != nil {
		return nil, err
	}

	var resp imageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, domain.NewDomainError("ImageClient.GenerateImage", domain.ErrMalformedStream, err.Error())
	}
	// Some gateways answer 200 with an error object; no status is recorded
	// so it is not reported as an HTTP failure.
	if resp.Error != nil {
		return nil, resp.Error.toAPIError(0, truncate(string(respBody), maxErrorBody))
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, domain.NewDomainError("ImageClient.GenerateImage", domain.ErrMalformedStream, "response carries no image url")
	}

	return &domain.ImageResult{
		URL:           resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

func (c *ImageClient) toRequest(req domain.ImageRequest) imageRequest {
	wire := imageRequest{
		Model:   firstNonEmpty(req.Model, c.model),
		Prompt:  req.Prompt,
		N:       1,
		Size:    firstNonEmpty(req.Size, c.size),
		Style:   firstNonEmpty(req.Style, c.style),
		Quality: firstNonEmpty(req.Quality, c.quality),
	}
	return wire
}

type imageRequest struct {
	Model   string `json:"model,omitempty"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size,omitempty"`
	Style   string `json:"style,omitempty"`
	Quality string `json:"quality,omitempty"`
}

type imageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
	Error *openaiError `json:"error,omitempty"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ domain.ImageGenerator = (*ImageClient)(nil)
