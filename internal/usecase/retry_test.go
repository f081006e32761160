package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
)

func newTestRetry(t *testing.T, attempts int) (*RetryPolicy, *[]time.Duration) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewRetryPolicy(config.RetryConfig{MaxAttempts: attempts}, NewErrorClassifier(logger), logger)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	return p, &slept
}

func TestRetryDefaults(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{}, nil, slog.Default())
	if p.MaxAttempts() != 7 {
		t.Errorf("MaxAttempts = %d, want 7", p.MaxAttempts())
	}
	if p.baseDelay != 500*time.Millisecond || p.maxDelay != 10*time.Second {
		t.Errorf("delays = %v/%v, want 500ms/10s", p.baseDelay, p.maxDelay)
	}
}

func TestRetryServerErrorThenSuccess(t *testing.T) {
	p, slept := newTestRetry(t, 0)

	calls := 0
	got, err := Do(context.Background(), p, "test", func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &domain.APIError{StatusCode: 503}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q, want ok", got)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 {
		t.Errorf("sleeps = %d, want 2", len(*slept))
	}
}

func TestRetryQuotaNotRetried(t *testing.T) {
	p, slept := newTestRetry(t, 0)

	calls := 0
	_, err := Do(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &domain.APIError{StatusCode: 429, Code: "insufficient_quota"}
		}
		return 1, nil
	})
	if !errors.Is(err, domain.ErrQuotaExhausted) {
		t.Fatalf("err = %v, want quota exhausted", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %d times, want 0", len(*slept))
	}
}

func TestRetryRateLimitRetried(t *testing.T) {
	p, _ := newTestRetry(t, 0)

	calls := 0
	_, err := Do(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &domain.APIError{StatusCode: 429, Code: "rate_limit_exceeded"}
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryClientErrorNotRetried(t *testing.T) {
	p, _ := newTestRetry(t, 0)

	for _, status := range []int{400, 401, 403, 404, 422} {
		calls := 0
		_, err := Do(context.Background(), p, "test", func(context.Context) (int, error) {
			calls++
			return 0, &domain.APIError{StatusCode: status}
		})
		if err == nil {
			t.Fatalf("status %d: expected error", status)
		}
		if calls != 1 {
			t.Errorf("status %d: calls = %d, want 1", status, calls)
		}
	}
}

func TestRetryNetworkExhausted(t *testing.T) {
	p, slept := newTestRetry(t, 4)

	calls := 0
	netErr := errors.Join(domain.ErrNetwork, errors.New("connection refused"))
	_, err := Do(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		return 0, netErr
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want network", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if len(*slept) != 3 {
		t.Errorf("sleeps = %d, want 3", len(*slept))
	}
}

func TestRetryModerationNotRetried(t *testing.T) {
	p, _ := newTestRetry(t, 0)

	calls := 0
	_, err := Do(context.Background(), p, "test", func(context.Context) (int, error) {
		calls++
		return 0, &domain.ModerationError{Verdict: domain.ModerationVerdict{Category: domain.CategoryViolence}}
	})
	if !errors.Is(err, domain.ErrModerationViolation) {
		t.Fatalf("err = %v, want moderation", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	p, _ := newTestRetry(t, 0)
	ctx, cancel := context.WithCancelCause(context.Background())

	calls := 0
	_, err := Do(ctx, p, "test", func(context.Context) (int, error) {
		calls++
		cancel(domain.ErrCancelled)
		return 0, &domain.APIError{StatusCode: 500}
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("err = %v, want cancelled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryBackoffBounds(t *testing.T) {
	p := NewRetryPolicy(config.RetryConfig{}, nil, slog.Default())

	for attempt := range 10 {
		want := 500 * time.Millisecond << attempt
		if want > 10*time.Second {
			want = 10 * time.Second
		}
		got := p.backoff(attempt)
		if got < want || got > want+want/4 {
			t.Errorf("attempt %d: backoff %v outside [%v, %v]", attempt, got, want, want+want/4)
		}
	}
}

func TestRetryNilPolicy(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), nil, "test", func(context.Context) (int, error) {
		calls++
		return 0, &domain.APIError{StatusCode: 503}
	})
	if err == nil || calls != 1 {
		t.Errorf("nil policy: err=%v calls=%d, want one failing call", err, calls)
	}
}
