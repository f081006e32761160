package usecase

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"scribe-ai/internal/infra/config"
)

// Retry defaults.
const (
	defaultMaxAttempts = 7
	baseRetryDelay     = 500 * time.Millisecond
	maxRetryDelay      = 10 * time.Second
)

// RetryPolicy re-runs idempotent operations with exponential backoff. Only
// failures the classifier marks retryable are retried; quota exhaustion,
// moderation and client errors return immediately.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	classifier  *ErrorClassifier
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds a policy. Zero-valued settings fall back to defaults.
func NewRetryPolicy(cfg config.RetryConfig, classifier *ErrorClassifier, logger *slog.Logger) *RetryPolicy {
	p := &RetryPolicy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		classifier:  classifier,
		logger:      logger,
		sleep:       sleepCtx,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = defaultMaxAttempts
	}
	if p.baseDelay <= 0 {
		p.baseDelay = baseRetryDelay
	}
	if p.maxDelay <= 0 {
		p.maxDelay = maxRetryDelay
	}
	if p.classifier == nil {
		p.classifier = NewErrorClassifier(logger)
	}
	return p
}

// MaxAttempts returns the attempt bound, first call included.
func (p *RetryPolicy) MaxAttempts() int { return p.maxAttempts }

// Do runs fn until it succeeds, fails permanently, or the policy gives up.
// The last error is returned as is; callers classify it.
func Do[T any](ctx context.Context, p *RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if p == nil {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, context.Cause(ctx)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.classifier.Retryable(err) {
			return zero, err
		}
		if attempt == p.maxAttempts-1 {
			break
		}

		delay := p.backoff(attempt)
		p.logger.Info("retrying after error",
			"op", op,
			"attempt", attempt+1,
			"max_attempts", p.maxAttempts,
			"delay", delay,
			"error", err,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	p.logger.Warn("retries exhausted", "op", op, "attempts", p.maxAttempts, "error", lastErr)
	return zero, lastErr
}

// backoff computes exponential backoff with jitter.
func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay * time.Duration(1<<uint(min(attempt, 30)))
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int64N(int64(delay/4) + 1))
	return delay + jitter
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
		return context.Cause(ctx)
	}
}
