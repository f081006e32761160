package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the domain layer.
var (
	ErrNetwork               = fmt.Errorf("network failure")
	ErrTimeout               = fmt.Errorf("operation timed out")
	ErrRateLimit             = fmt.Errorf("rate limit exceeded")
	ErrQuotaExhausted        = fmt.Errorf("quota exhausted")
	ErrServerError           = fmt.Errorf("provider server error")
	ErrAuthInvalid           = fmt.Errorf("authentication failed")
	ErrMalformedStream       = fmt.Errorf("malformed stream")
	ErrModerationViolation   = fmt.Errorf("content moderation violation")
	ErrCancelled             = fmt.Errorf("cancelled by user")
	ErrUnexpectedContentType = fmt.Errorf("unexpected content type")
	ErrInvalidInput          = fmt.Errorf("invalid input")
	ErrNotConfigured         = fmt.Errorf("not configured")
	ErrStreamReused          = fmt.Errorf("stream orchestrator already used")
	ErrAuditWrite            = fmt.Errorf("audit log write failed")
	ErrConfigLoad            = fmt.Errorf("failed to load configuration")
	ErrRuleTable             = fmt.Errorf("invalid moderation rule table")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "ImageClient.Generate")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// Code returns the machine-parseable error code for the wrapped sentinel.
func (e *DomainError) Code() ErrorCode { return ErrorCodeOf(e.Err) }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// APIError is a non-2xx provider response, or an error object delivered
// inside an otherwise successful response or event stream (StatusCode 0).
type APIError struct {
	StatusCode int
	Code       string // provider error code, e.g. "insufficient_quota"
	Type       string // provider error type
	Message    string // provider error message
	Body       string // raw (truncated) response body
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("API error payload: %s", e.detail())
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.detail())
}

func (e *APIError) detail() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap maps the status and provider code onto a sentinel so callers can
// use errors.Is without inspecting the payload.
func (e *APIError) Unwrap() error {
	switch {
	case e.IsQuota():
		return ErrQuotaExhausted
	case e.StatusCode == 429:
		return ErrRateLimit
	case e.StatusCode == 401 || e.StatusCode == 403:
		return ErrAuthInvalid
	case e.StatusCode >= 500:
		return ErrServerError
	default:
		return nil
	}
}

// quotaCodes are provider codes that mean the account is out of credit.
var quotaCodes = map[string]bool{
	"insufficient_quota":      true,
	"billing_hard_limit":      true,
	"billing_not_active":      true,
	"quota_exceeded":          true,
	"insufficient_user_quota": true,
}

// IsQuota reports whether the provider signalled a permanent quota or
// billing limit, as opposed to a transient rate limit.
func (e *APIError) IsQuota() bool {
	if quotaCodes[e.Code] || quotaCodes[e.Type] {
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "exceeded your current quota")
}

// ModerationError carries the verdict that stopped a request.
type ModerationError struct {
	Verdict ModerationVerdict
}

func (e *ModerationError) Error() string {
	return fmt.Sprintf("%s: %s/%s %v", ErrModerationViolation, e.Verdict.Category, e.Verdict.Tier, e.Verdict.Terms)
}

func (e *ModerationError) Unwrap() error { return ErrModerationViolation }

// ErrorKind is the closed failure taxonomy surfaced to callers.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetworkFailure
	KindTimeout
	KindHTTPError
	KindQuotaExhausted
	KindMalformedStream
	KindModerationViolation
	KindUserCancelled
)

var kindNames = [...]string{
	KindUnknown:             "unknown_error",
	KindNetworkFailure:      "network_failure",
	KindTimeout:             "timeout",
	KindHTTPError:           "http_error",
	KindQuotaExhausted:      "quota_exhausted",
	KindMalformedStream:     "malformed_stream",
	KindModerationViolation: "moderation_violation",
	KindUserCancelled:       "user_cancelled",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// ClassifiedError is the single error shape callers receive. It is built
// once where a failure first surfaces and never mutated afterwards.
type ClassifiedError struct {
	Kind       ErrorKind
	Message    string // user-facing message
	Retryable  bool
	StatusCode int                // HTTP status for KindHTTPError and KindQuotaExhausted
	Partial    bool               // content was already delivered before the failure
	Verdict    *ModerationVerdict // set for KindModerationViolation
	Raw        error
}

func (e *ClassifiedError) Error() string {
	if e.Raw != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Raw)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.Raw }

// AsClassified extracts a *ClassifiedError from err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ErrorCode is a machine-parseable error category for monitoring and events.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNetwork           ErrorCode = "NETWORK"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeQuotaExhausted    ErrorCode = "QUOTA_EXHAUSTED"
	CodeServerError       ErrorCode = "SERVER_ERROR"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeMalformedStream   ErrorCode = "MALFORMED_STREAM"
	CodeModeration        ErrorCode = "MODERATION"
	CodeCancelled         ErrorCode = "CANCELLED"
	CodeUnexpectedContent ErrorCode = "UNEXPECTED_CONTENT_TYPE"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeNotConfigured     ErrorCode = "NOT_CONFIGURED"
	CodeAuditWrite        ErrorCode = "AUDIT_WRITE"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeRuleTable         ErrorCode = "RULE_TABLE"
	CodeStreamReused      ErrorCode = "STREAM_REUSED"
)

// errorCodes is ordered so that the most specific sentinel wins when an
// error chain matches several (quota before rate limit, for example).
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrModerationViolation, CodeModeration},
	{ErrCancelled, CodeCancelled},
	{ErrQuotaExhausted, CodeQuotaExhausted},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrServerError, CodeServerError},
	{ErrTimeout, CodeTimeout},
	{ErrNetwork, CodeNetwork},
	{ErrMalformedStream, CodeMalformedStream},
	{ErrUnexpectedContentType, CodeUnexpectedContent},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrNotConfigured, CodeNotConfigured},
	{ErrAuditWrite, CodeAuditWrite},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrRuleTable, CodeRuleTable},
	{ErrStreamReused, CodeStreamReused},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}
