package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// A missing API key is not a validation error: the moderation-only paths
// work without one and the provider reports ErrNotConfigured on use.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateProvider(cfg, ve)
	validateStream(cfg, ve)
	validateRetry(cfg, ve)
	validateImage(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateProvider(cfg *Config, ve *ValidationError) {
	p := cfg.Provider
	if p.BaseURL == "" {
		ve.Add("provider.base_url must not be empty")
	} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("provider.base_url %q is not an absolute URL", p.BaseURL)
	}
	if p.Model == "" {
		ve.Add("provider.model must not be empty")
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		ve.Add("provider.temperature must be between 0 and 2")
	}
	if p.MaxTokens < 0 {
		ve.Add("provider.max_tokens must be >= 0")
	}
	if p.RequestsPerMinute < 0 {
		ve.Add("provider.requests_per_minute must be >= 0")
	}
	if cfg.CircuitBreaker.Enabled && cfg.CircuitBreaker.MaxFailures == 0 {
		ve.Add("circuit_breaker.max_failures must be > 0 when enabled")
	}
}

func validateStream(cfg *Config, ve *ValidationError) {
	if cfg.Stream.Timeout <= 0 {
		ve.Add("stream.timeout must be > 0")
	}
	if cfg.Stream.ReadBuffer < 0 {
		ve.Add("stream.read_buffer must be >= 0")
	}
}

func validateRetry(cfg *Config, ve *ValidationError) {
	r := cfg.Retry
	if r.MaxAttempts <= 0 {
		ve.Add("retry.max_attempts must be > 0")
	}
	if r.BaseDelay < 0 {
		ve.Add("retry.base_delay must be >= 0")
	}
	if r.MaxDelay < r.BaseDelay {
		ve.Add("retry.max_delay must be >= retry.base_delay")
	}
}

var validImageSizes = map[string]bool{
	"256x256":   true,
	"512x512":   true,
	"1024x1024": true,
	"1792x1024": true,
	"1024x1792": true,
}

func validateImage(cfg *Config, ve *ValidationError) {
	img := cfg.Image
	if !img.Enabled {
		return
	}
	if img.Model == "" {
		ve.Add("image.model must not be empty when image generation is enabled")
	}
	if !validImageSizes[img.Size] {
		ve.Add("image.size %q is invalid (want one of 256x256, 512x512, 1024x1024, 1792x1024, 1024x1792)", img.Size)
	}
	if len(img.TriggerKeywords) == 0 {
		ve.Add("image.trigger_keywords must not be empty when image generation is enabled")
	}
	for i, kw := range img.TriggerKeywords {
		if kw == "" {
			ve.Add("image.trigger_keywords[%d] must not be empty", i)
		}
	}
	if img.QuotaRetries < 0 {
		ve.Add("image.quota_retries must be >= 0")
	}
	if img.QuotaRetryDelay < 0 {
		ve.Add("image.quota_retry_delay must be >= 0")
	}
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
