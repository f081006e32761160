package terminal

import (
	"errors"
	"fmt"
	"strings"

	"scribe-ai/internal/domain"
)

// FriendlyError is a failure with suggestions for recovery.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Raw     string // original error text, for debug output
}

// Render formats the FriendlyError for the terminal.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(TextError.Render(fe.Title))
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		bullet := Symbols().Bullet
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", bullet, h))
		}
	}
	return sb.String()
}

type kindHint struct {
	title string
	hints []string
}

var kindHints = map[domain.ErrorKind]kindHint{
	domain.KindNetworkFailure: {"Connection Failed", []string{
		"Check your internet connection", "Verify provider.base_url in config",
	}},
	domain.KindTimeout: {"Request Timed Out", []string{
		"Try a shorter prompt", "Increase stream.timeout in config",
	}},
	domain.KindQuotaExhausted: {"Quota Exceeded", []string{
		"Check your provider billing dashboard", "Add credits or switch API key",
	}},
	domain.KindMalformedStream: {"Unreadable Response", []string{
		"Check that provider.base_url points at an OpenAI-compatible API",
	}},
	domain.KindModerationViolation: {"Content Blocked", []string{
		"Rephrase the request", "Remove sensitive terms from the background text",
	}},
	domain.KindUserCancelled: {"Cancelled", nil},
}

// Humanize converts an error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	ce, ok := domain.AsClassified(err)
	if !ok {
		return FriendlyError{
			Title:   "Unexpected Error",
			Message: err.Error(),
			Hints:   []string{"Try again", "Run with SCRIBEAI_LOGGER_LEVEL=debug for more details"},
			Raw:     err.Error(),
		}
	}

	fe := FriendlyError{Message: ce.Message, Raw: err.Error()}
	if h, ok := kindHints[ce.Kind]; ok {
		fe.Title, fe.Hints = h.title, h.hints
	}

	switch {
	case ce.Kind != domain.KindHTTPError:
	case ce.StatusCode == 401 || ce.StatusCode == 403 || errors.Is(err, domain.ErrAuthInvalid):
		fe.Title = "Authentication Failed"
		fe.Hints = []string{"Check SCRIBEAI_PROVIDER_API_KEY", "Verify the key hasn't expired"}
	case ce.StatusCode == 429:
		fe.Title = "Rate Limited"
		fe.Hints = []string{"Wait a moment before retrying", "Lower provider.requests_per_minute"}
	case ce.StatusCode >= 500:
		fe.Title = "Provider Unavailable"
		fe.Hints = []string{"Try again later"}
	default:
		fe.Title = "Request Rejected"
	}

	if errors.Is(err, domain.ErrNotConfigured) {
		fe.Title = "Not Configured"
		fe.Hints = []string{"Enable the feature in config.yaml"}
	}
	if fe.Title == "" {
		fe.Title = "Unexpected Error"
	}
	if ce.Partial {
		fe.Hints = append(fe.Hints, "Text generated before the failure was kept")
	}
	return fe
}
