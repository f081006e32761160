package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from provider APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// maxErrorBody bounds how much of a failed response is captured.
const maxErrorBody = 4096

// doJSONRequest performs a JSON POST request and returns the response body.
// It handles: create request, set headers, execute, read body (with limit),
// and check HTTP status code. Returns a *domain.APIError for non-2xx responses.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	return doRequest(ctx, client, httpReq)
}

// doRequest executes a prepared request and returns the body of a 2xx response.
func doRequest(ctx context.Context, client *http.Client, httpReq *http.Request) ([]byte, error) {
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, transportError(ctx, fmt.Errorf("read response: %w", err))
	}

	if !isSuccess(httpResp.StatusCode) {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return respBody, nil
}

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body) once the
// status is 2xx and the response is an event stream.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if !isSuccess(httpResp.StatusCode) {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	if !isEventStream(httpResp.Header.Get("Content-Type")) {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, domain.NewDomainError("llm.OpenStream", domain.ErrUnexpectedContentType,
			fmt.Sprintf("content-type %q: %s", httpResp.Header.Get("Content-Type"), respBody))
	}

	return httpResp, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}

// transportError tags a failed round trip. Context cancellation keeps its
// cause so callers can tell a deadline or user abort from a network fault.
func transportError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("http request: %w", cause)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("http request: %w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetwork, err)
}

// mapHTTPError maps an HTTP status code + response body to a *domain.APIError.
// Provider error payloads of the form {"error":{...}} are decoded so quota
// exhaustion can be told apart from ordinary rate limiting.
func mapHTTPError(statusCode int, body []byte) *domain.APIError {
	var payload struct {
		Error *openaiError `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		return payload.Error.toAPIError(statusCode, truncate(string(body), maxErrorBody))
	}
	return &domain.APIError{
		StatusCode: statusCode,
		Message:    http.StatusText(statusCode),
		Body:       truncate(string(body), maxErrorBody),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// bearer returns the auth header map for key, empty when key is unset.
func bearer(key string) map[string]string {
	headers := map[string]string{}
	if key != "" {
		headers["Authorization"] = "Bearer " + key
	}
	return headers
}

// newLimiter returns a limiter allowing rpm requests per minute, or nil
// when rpm is zero (unlimited).
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// waitLimiter blocks until the limiter admits one request or ctx ends.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		// Wait refuses up front when the next slot lies past the deadline.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			return fmt.Errorf("%w: rate limiter: %w", domain.ErrTimeout, err)
		}
		return transportError(ctx, err)
	}
	return nil
}

// logCompletion logs the standard debug message after a successful completion.
func logCompletion(logger *slog.Logger, providerName string, result *domain.CompletionResponse) {
	logger.Debug("llm completion finished",
		"provider", providerName,
		"model", result.Model,
		"tokens", result.Usage.TotalTokens,
	)
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}
