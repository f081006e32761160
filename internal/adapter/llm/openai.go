package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements domain.StreamingProvider for any OpenAI-compatible API.
type OpenAIProvider struct {
	name         string
	model        string
	apiKey       string
	baseURL      string
	temperature  float64
	maxTokens    int
	client       *http.Client // bounded by conn+resp timeouts
	streamClient *http.Client // no overall timeout; the caller's context governs
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewOpenAIProvider creates a provider with configured timeouts.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIProvider{
		name:         name,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		client:       NewHTTPClient(cfg),
		streamClient: NewStreamHTTPClient(cfg),
		limiter:      newLimiter(cfg.RequestsPerMinute),
		logger:       logger,
	}
}

// Complete implements domain.CompletionProvider.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (*domain.CompletionResponse, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanProviderCall,
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", p.modelFor(req.Model)),
		),
	)
	defer span.End()

	if err := p.checkKey(p.apiKey); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if err := waitLimiter(ctx, p.limiter); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	body, err := json.Marshal(p.toRequest(req.Model, req.Messages, req.Temperature, req.MaxTokens, false))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/chat/completions", body, bearer(p.apiKey))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var oaiResp openaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.NewDomainError("OpenAIProvider.Complete", domain.ErrMalformedStream, err.Error())
	}

	result := fromOpenAIResponse(oaiResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logCompletion(p.logger, p.name, result)

	return result, nil
}

// OpenStream implements domain.StreamOpener. The endpoint and key of req
// override the configured ones when set.
func (p *OpenAIProvider) OpenStream(ctx context.Context, req domain.StreamRequest) (io.ReadCloser, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanProviderStream,
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", p.modelFor(req.Model)),
		),
	)
	defer span.End()

	apiKey := p.apiKey
	if req.APIKey != "" {
		apiKey = req.APIKey
	}
	if err := p.checkKey(apiKey); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if err := waitLimiter(ctx, p.limiter); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	body, err := json.Marshal(p.toRequest(req.Model, req.Messages, req.Temperature, req.MaxTokens, true))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	if req.Endpoint != "" {
		url = req.Endpoint
	}

	httpResp, err := doStreamRequest(ctx, p.streamClient, url, body, bearer(apiKey))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	p.logger.Debug("llm stream opened", "provider", p.name, "status", httpResp.StatusCode)
	return httpResp.Body, nil
}

// Name implements domain.CompletionProvider.
func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) checkKey(key string) error {
	if key == "" {
		return domain.NewDomainError("OpenAIProvider", domain.ErrNotConfigured, "api key is empty")
	}
	return nil
}

func (p *OpenAIProvider) modelFor(model string) string {
	if model == "" {
		return p.model
	}
	return model
}

// toRequest fills unset sampling parameters from the provider config.
func (p *OpenAIProvider) toRequest(model string, messages []domain.Message, temperature float64, maxTokens int, stream bool) openaiRequest {
	msgs := make([]openaiMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openaiMessage{Role: m.Role, Content: m.Content})
	}

	if temperature == 0 {
		temperature = p.temperature
	}
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	oaiReq := openaiRequest{
		Model:    p.modelFor(model),
		Messages: msgs,
		Stream:   stream,
	}
	if maxTokens > 0 {
		oaiReq.MaxTokens = maxTokens
	}
	if temperature > 0 {
		oaiReq.Temperature = &temperature
	}
	return oaiReq
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Created int64          `json:"created"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// openaiError is the provider's error object, found both in non-2xx bodies
// and, for some gateways, inside the event stream.
type openaiError struct {
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code"` // string or number depending on gateway
}

func (e *openaiError) toAPIError(status int, body string) *domain.APIError {
	return &domain.APIError{
		StatusCode: status,
		Code:       rawCode(e.Code),
		Type:       e.Type,
		Message:    e.Message,
		Body:       body,
	}
}

func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// --- OpenAI streaming wire types ---

type openaiStreamChunk struct {
	ID      string               `json:"id"`
	Choices []openaiStreamChoice `json:"choices"`
	Error   *openaiError         `json:"error,omitempty"`
}

type openaiStreamChoice struct {
	Delta        openaiStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type openaiStreamDelta struct {
	Content string `json:"content,omitempty"`
}

func fromOpenAIResponse(resp openaiResponse) *domain.CompletionResponse {
	result := &domain.CompletionResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
	}
	return result
}

// Compile-time interface check.
var _ domain.StreamingProvider = (*OpenAIProvider)(nil)
