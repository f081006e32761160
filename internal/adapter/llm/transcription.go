package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/infra/tracer"
)

// TranscriptionClient calls an OpenAI-compatible /audio/transcriptions endpoint.
type TranscriptionClient struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *slog.Logger
}

// NewTranscriptionClient builds a transcription client sharing the
// provider's endpoint and credentials.
func NewTranscriptionClient(cfg config.TranscriptionConfig, provider config.ProviderConfig, logger *slog.Logger) *TranscriptionClient {
	baseURL := strings.TrimRight(provider.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &TranscriptionClient{
		baseURL:  baseURL,
		apiKey:   provider.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   NewHTTPClient(provider),
		logger:   logger,
	}
}

// Transcribe implements domain.Transcriber.
func (c *TranscriptionClient) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (string, error) {
	model := firstNonEmpty(req.Model, c.model)
	ctx, span := tracer.StartSpan(ctx, "llm.transcribe",
		trace.WithAttributes(
			tracer.StringAttr("transcription.model", model),
			tracer.IntAttr("transcription.bytes", len(req.Audio)),
		),
	)
	defer span.End()

	if len(req.Audio) == 0 {
		err := domain.NewDomainError("TranscriptionClient.Transcribe", domain.ErrInvalidInput, "empty audio")
		tracer.RecordError(span, err)
		return "", err
	}
	if c.apiKey == "" {
		err := domain.NewDomainError("TranscriptionClient.Transcribe", domain.ErrNotConfigured, "api key is empty")
		tracer.RecordError(span, err)
		return "", err
	}

	body, contentType, err := c.multipartBody(req, model)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", bytes.NewReader(body))
	if err != nil {
		tracer.RecordError(span, err)
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	respBody, err := doRequest(ctx, c.client, httpReq)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}

	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		tracer.RecordError(span, err)
		return "", domain.NewDomainError("TranscriptionClient.Transcribe", domain.ErrMalformedStream, err.Error())
	}

	tracer.SetOK(span)
	c.logger.Debug("transcription finished", "model", model, "chars", len(resp.Text))
	return resp.Text, nil
}

func (c *TranscriptionClient) multipartBody(req domain.TranscriptionRequest, model string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := filepath.Base(req.Filename)
	if filename == "." || filename == "/" || filename == "" {
		filename = "audio.webm"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}

	fields := map[string]string{
		"model":           model,
		"language":        firstNonEmpty(req.Language, c.language),
		"response_format": "json",
	}
	for _, k := range []string{"model", "language", "response_format"} {
		if fields[k] == "" {
			continue
		}
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var _ domain.Transcriber = (*TranscriptionClient)(nil)
