package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"scribe-ai/internal/domain"
)

func newTestClassifier() *ErrorClassifier {
	return NewErrorClassifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClassifyNilError(t *testing.T) {
	if got := newTestClassifier().Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassifyAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      domain.ErrorKind
		status    int
		retryable bool
	}{
		{"rate limit", &domain.APIError{StatusCode: 429, Message: "slow down"}, domain.KindHTTPError, 429, true},
		{"quota", &domain.APIError{StatusCode: 429, Code: "insufficient_quota"}, domain.KindQuotaExhausted, 429, false},
		{"quota by message", &domain.APIError{StatusCode: 429, Message: "You exceeded your current quota"}, domain.KindQuotaExhausted, 429, false},
		{"unauthorized", &domain.APIError{StatusCode: 401}, domain.KindHTTPError, 401, false},
		{"forbidden", &domain.APIError{StatusCode: 403}, domain.KindHTTPError, 403, false},
		{"bad request", &domain.APIError{StatusCode: 400}, domain.KindHTTPError, 400, false},
		{"not found", &domain.APIError{StatusCode: 404}, domain.KindHTTPError, 404, false},
		{"server error", &domain.APIError{StatusCode: 500}, domain.KindHTTPError, 500, true},
		{"unavailable", &domain.APIError{StatusCode: 503}, domain.KindHTTPError, 503, true},
		{"wrapped", fmt.Errorf("complete: %w", &domain.APIError{StatusCode: 502}), domain.KindHTTPError, 502, true},
	}

	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", got.StatusCode, tt.status)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
			if got.Message == "" {
				t.Error("Message is empty")
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyStatusFromString(t *testing.T) {
	c := newTestClassifier()

	got := c.Classify(fmt.Errorf("API error 503: upstream overloaded"))
	if got.Kind != domain.KindHTTPError || got.StatusCode != 503 || !got.Retryable {
		t.Errorf("got %+v, want retryable 503", got)
	}

	got = c.Classify(fmt.Errorf(`API error 429: {"error":{"code":"insufficient_quota"}}`))
	if got.Kind != domain.KindQuotaExhausted {
		t.Errorf("Kind = %v, want quota_exhausted", got.Kind)
	}
}

func TestClassifyStreamError(t *testing.T) {
	c := newTestClassifier()

	got := c.Classify(&domain.APIError{Type: "server_error", Message: "model overloaded"})
	if got.Kind != domain.KindHTTPError {
		t.Errorf("Kind = %v, want http_error", got.Kind)
	}
	if got.Retryable {
		t.Error("in-stream errors must not be retryable")
	}
	if !strings.Contains(got.Message, "model overloaded") {
		t.Errorf("Message = %q, want provider message", got.Message)
	}

	got = c.Classify(&domain.APIError{Code: "insufficient_quota"})
	if got.Kind != domain.KindQuotaExhausted {
		t.Errorf("Kind = %v, want quota_exhausted", got.Kind)
	}
}

func TestClassifyErrorPayloadInSuccessfulResponse(t *testing.T) {
	c := newTestClassifier()
	err := fmt.Errorf("image: %w", &domain.APIError{
		Code:    "content_policy_violation",
		Message: "content policy",
		Body:    `{"error":{"message":"content policy"}}`,
	})

	got := c.Classify(err)
	if got.Kind != domain.KindHTTPError || got.StatusCode != 0 {
		t.Errorf("got %v status %d, want http_error without status", got.Kind, got.StatusCode)
	}
	if strings.Contains(got.Message, "HTTP") {
		t.Errorf("Message = %q, must not cite an HTTP status", got.Message)
	}
	if !strings.Contains(got.Message, "content policy") {
		t.Errorf("Message = %q, want provider message", got.Message)
	}
}

func TestClassifySentinels(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      domain.ErrorKind
		retryable bool
	}{
		{"network", fmt.Errorf("%w: dial tcp: connection refused", domain.ErrNetwork), domain.KindNetworkFailure, true},
		{"timeout", fmt.Errorf("http request: %w", domain.ErrTimeout), domain.KindTimeout, false},
		{"deadline", context.DeadlineExceeded, domain.KindTimeout, false},
		{"cancelled", fmt.Errorf("http request: %w", domain.ErrCancelled), domain.KindUserCancelled, false},
		{"context canceled", context.Canceled, domain.KindUserCancelled, false},
		{"circuit open", fmt.Errorf("circuit open: %w", domain.ErrServerError), domain.KindHTTPError, true},
		{"malformed", domain.NewDomainError("op", domain.ErrMalformedStream, "bad json"), domain.KindMalformedStream, false},
		{"content type", domain.NewDomainError("op", domain.ErrUnexpectedContentType, "text/html"), domain.KindMalformedStream, false},
		{"not configured", domain.NewDomainError("op", domain.ErrNotConfigured, "api key is empty"), domain.KindUnknown, false},
		{"quota sentinel", domain.ErrQuotaExhausted, domain.KindQuotaExhausted, false},
	}

	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.err)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", got.Retryable, tt.retryable)
			}
		})
	}
}

func TestClassifyCancellationWinsOverNetwork(t *testing.T) {
	err := fmt.Errorf("%w: read: %w", domain.ErrNetwork, domain.ErrCancelled)
	if got := newTestClassifier().Classify(err); got.Kind != domain.KindUserCancelled {
		t.Errorf("Kind = %v, want user_cancelled", got.Kind)
	}
}

func TestClassifyModeration(t *testing.T) {
	err := &domain.ModerationError{Verdict: domain.ModerationVerdict{
		Category: domain.CategoryPolitics,
		Tier:     domain.TierExtreme,
		Terms:    []string{"颠覆"},
		Source:   domain.SourceLocal,
	}}

	got := newTestClassifier().Classify(err)
	if got.Kind != domain.KindModerationViolation {
		t.Fatalf("Kind = %v, want moderation_violation", got.Kind)
	}
	if got.Retryable {
		t.Error("moderation must not be retryable")
	}
	if got.Verdict == nil || got.Verdict.Category != domain.CategoryPolitics {
		t.Errorf("Verdict = %+v, want politics", got.Verdict)
	}
	if !strings.Contains(got.Message, "politics") {
		t.Errorf("Message = %q, want category name", got.Message)
	}
}

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

var _ net.Error = timeoutNetErr{}

func TestClassifyByString(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"net timeout", timeoutNetErr{}, domain.KindTimeout},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, domain.KindNetworkFailure},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connection refused"), domain.KindNetworkFailure},
		{"reset", errors.New("read: connection reset by peer"), domain.KindNetworkFailure},
		{"rate limit text", errors.New("Too Many Requests"), domain.KindHTTPError},
		{"deadline text", errors.New("context deadline exceeded (Client.Timeout)"), domain.KindTimeout},
		{"unknown", errors.New("something odd"), domain.KindUnknown},
	}

	c := newTestClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.err); got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
		})
	}
}

func TestClassifyAlreadyClassified(t *testing.T) {
	ce := &domain.ClassifiedError{Kind: domain.KindTimeout, Message: "x"}
	if got := newTestClassifier().Classify(fmt.Errorf("wrap: %w", ce)); got != ce {
		t.Errorf("Classify returned %p, want the original %p", got, ce)
	}
}

func TestWithPartial(t *testing.T) {
	ce := &domain.ClassifiedError{Kind: domain.KindNetworkFailure, Message: "net down", Retryable: true}

	got := WithPartial(ce)
	if !got.Partial || got.Retryable {
		t.Errorf("got Partial=%v Retryable=%v, want true/false", got.Partial, got.Retryable)
	}
	if ce.Partial || !ce.Retryable {
		t.Error("WithPartial mutated its input")
	}
	if WithPartial(got) != got {
		t.Error("WithPartial on a partial error should be a no-op")
	}
	if WithPartial(nil) != nil {
		t.Error("WithPartial(nil) should be nil")
	}
}
