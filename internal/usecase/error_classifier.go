package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"

	"scribe-ai/internal/domain"
)

// User-facing messages, one per failure shape.
const (
	msgNetwork     = "Network error: the provider could not be reached. Check your connection and endpoint."
	msgTimeout     = "The request timed out. Try again, or shorten the prompt."
	msgAuth        = "Authentication failed. Check your API key."
	msgRateLimit   = "The provider is rate limiting requests. Wait a moment and try again."
	msgServer      = "The provider is temporarily unavailable (HTTP %d)."
	msgRejected    = "The provider rejected the request (HTTP %d)."
	msgStreamError = "The provider reported an error while generating."
	msgQuota       = "Your API quota is exhausted. Check your plan and billing details."
	msgMalformed   = "The provider returned a response that could not be read."
	msgModeration  = "The content was blocked by moderation (%s)."
	msgCancelled   = "Generation cancelled."
	msgNotConfig   = "The provider is not configured. Set an API key first."
	msgInvalid     = "The request is invalid: %s"
	msgUnknown     = "An unexpected error occurred."
	msgPartial     = " Content generated before the failure was kept."
)

// ErrorClassifier is the single classification boundary: every failure that
// reaches a caller passes through Classify exactly once.
type ErrorClassifier struct {
	logger *slog.Logger
}

// NewErrorClassifier creates a new classifier.
func NewErrorClassifier(logger *slog.Logger) *ErrorClassifier {
	return &ErrorClassifier{logger: logger}
}

// apiErrorPattern matches "API error <status_code>:" produced by APIError and
// by providers that only return formatted strings.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// Classify maps err onto the closed taxonomy. An error that is already
// classified is returned unchanged.
func (c *ErrorClassifier) Classify(err error) *domain.ClassifiedError {
	if err == nil {
		return nil
	}
	if ce, ok := domain.AsClassified(err); ok {
		return ce
	}

	if ce := c.classifyBySentinel(err); ce != nil {
		return ce
	}

	errStr := err.Error()
	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		return classifyByStatus(err, code, strings.Contains(strings.ToLower(errStr), "insufficient_quota"))
	}

	return c.classifyByString(err, errStr)
}

// Retryable reports whether err may be retried from scratch.
func (c *ErrorClassifier) Retryable(err error) bool {
	ce := c.Classify(err)
	return ce != nil && ce.Retryable
}

// classifyBySentinel inspects typed errors and wrapped domain sentinels.
// The order matters: moderation and cancellation win over whatever transport
// error they happen to surface through.
func (c *ErrorClassifier) classifyBySentinel(err error) *domain.ClassifiedError {
	var modErr *domain.ModerationError
	if errors.As(err, &modErr) {
		verdict := modErr.Verdict
		msg := verdict.Message
		if msg == "" {
			msg = fmt.Sprintf(msgModeration, verdict.Category)
		}
		return &domain.ClassifiedError{
			Kind: domain.KindModerationViolation, Message: msg,
			Verdict: &verdict, Raw: err,
		}
	}

	switch {
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		return &domain.ClassifiedError{Kind: domain.KindUserCancelled, Message: msgCancelled, Raw: err}
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &domain.ClassifiedError{Kind: domain.KindTimeout, Message: msgTimeout, Raw: err}
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 0 {
			return classifyStreamError(err, apiErr)
		}
		return classifyByStatus(err, apiErr.StatusCode, apiErr.IsQuota())
	}

	switch {
	case errors.Is(err, domain.ErrQuotaExhausted):
		return &domain.ClassifiedError{Kind: domain.KindQuotaExhausted, Message: msgQuota, Raw: err}
	case errors.Is(err, domain.ErrRateLimit):
		return &domain.ClassifiedError{
			Kind: domain.KindHTTPError, Message: msgRateLimit, Retryable: true,
			StatusCode: 429, Raw: err,
		}
	case errors.Is(err, domain.ErrServerError):
		// Circuit breaker rejections carry no status.
		return &domain.ClassifiedError{
			Kind: domain.KindHTTPError, Message: fmt.Sprintf(msgServer, 503), Retryable: true,
			StatusCode: 503, Raw: err,
		}
	case errors.Is(err, domain.ErrAuthInvalid):
		return &domain.ClassifiedError{Kind: domain.KindHTTPError, Message: msgAuth, StatusCode: 401, Raw: err}
	case errors.Is(err, domain.ErrNetwork):
		return &domain.ClassifiedError{Kind: domain.KindNetworkFailure, Message: msgNetwork, Retryable: true, Raw: err}
	case errors.Is(err, domain.ErrMalformedStream), errors.Is(err, domain.ErrUnexpectedContentType):
		return &domain.ClassifiedError{Kind: domain.KindMalformedStream, Message: msgMalformed, Raw: err}
	case errors.Is(err, domain.ErrNotConfigured):
		return &domain.ClassifiedError{Kind: domain.KindUnknown, Message: msgNotConfig, Raw: err}
	case errors.Is(err, domain.ErrInvalidInput):
		return &domain.ClassifiedError{Kind: domain.KindUnknown, Message: fmt.Sprintf(msgInvalid, detailOf(err)), Raw: err}
	}
	return nil
}

// classifyByStatus applies the HTTP retry rules: 5xx and non-quota 429
// retry, everything else is permanent.
func classifyByStatus(err error, code int, quota bool) *domain.ClassifiedError {
	switch {
	case quota:
		return &domain.ClassifiedError{Kind: domain.KindQuotaExhausted, Message: msgQuota, StatusCode: code, Raw: err}
	case code == 429:
		return &domain.ClassifiedError{
			Kind: domain.KindHTTPError, Message: msgRateLimit, Retryable: true,
			StatusCode: code, Raw: err,
		}
	case code == 401 || code == 403:
		return &domain.ClassifiedError{Kind: domain.KindHTTPError, Message: msgAuth, StatusCode: code, Raw: err}
	case code >= 500 && code < 600:
		return &domain.ClassifiedError{
			Kind: domain.KindHTTPError, Message: fmt.Sprintf(msgServer, code), Retryable: true,
			StatusCode: code, Raw: err,
		}
	default:
		return &domain.ClassifiedError{
			Kind: domain.KindHTTPError, Message: fmt.Sprintf(msgRejected, code),
			StatusCode: code, Raw: err,
		}
	}
}

// classifyStreamError handles an error object delivered inside a successful
// response or event stream. It is never retried: content may already have
// been delivered.
func classifyStreamError(err error, apiErr *domain.APIError) *domain.ClassifiedError {
	if apiErr.IsQuota() {
		return &domain.ClassifiedError{Kind: domain.KindQuotaExhausted, Message: msgQuota, Raw: err}
	}
	msg := msgStreamError
	if apiErr.Message != "" {
		msg = msgStreamError + " " + apiErr.Message
	}
	return &domain.ClassifiedError{Kind: domain.KindHTTPError, Message: msg, Raw: err}
}

func (c *ErrorClassifier) classifyByString(err error, errStr string) *domain.ClassifiedError {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &domain.ClassifiedError{Kind: domain.KindTimeout, Message: msgTimeout, Raw: err}
		}
		return &domain.ClassifiedError{Kind: domain.KindNetworkFailure, Message: msgNetwork, Retryable: true, Raw: err}
	}

	lower := strings.ToLower(errStr)

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return &domain.ClassifiedError{
				Kind: domain.KindHTTPError, Message: msgRateLimit, Retryable: true,
				StatusCode: 429, Raw: err,
			}
		}
	}

	for _, p := range []string{"timeout", "deadline exceeded"} {
		if strings.Contains(lower, p) {
			return &domain.ClassifiedError{Kind: domain.KindTimeout, Message: msgTimeout, Raw: err}
		}
	}

	for _, p := range []string{
		"connection refused", "no such host", "connection reset",
		"broken pipe", "unexpected eof", "network is unreachable",
	} {
		if strings.Contains(lower, p) {
			return &domain.ClassifiedError{Kind: domain.KindNetworkFailure, Message: msgNetwork, Retryable: true, Raw: err}
		}
	}

	if c.logger != nil {
		c.logger.Error("unclassified error",
			"error", err,
			"error_type", fmt.Sprintf("%T", err),
			"error_code", string(domain.ErrorCodeOf(err)),
		)
	}
	return &domain.ClassifiedError{Kind: domain.KindUnknown, Message: msgUnknown, Raw: err}
}

// WithPartial derives the error reported when a failure follows delivered
// content. The result is never retryable.
func WithPartial(ce *domain.ClassifiedError) *domain.ClassifiedError {
	if ce == nil || ce.Partial {
		return ce
	}
	out := *ce
	out.Partial = true
	out.Retryable = false
	out.Message = ce.Message + msgPartial
	return &out
}

func detailOf(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}
