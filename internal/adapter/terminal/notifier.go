package terminal

import (
	"context"
	"fmt"
	"io"
	"sync"

	"scribe-ai/internal/domain"
)

// Notifier prints one styled line per notice.
type Notifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewNotifier creates a notifier writing to out, usually stderr.
func NewNotifier(out io.Writer) *Notifier {
	return &Notifier{out: out}
}

// Notify implements domain.Notifier.
func (n *Notifier) Notify(_ context.Context, level domain.NoticeLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.out, FormatNotice(level, message))
}

// FormatNotice renders a notice line.
func FormatNotice(level domain.NoticeLevel, message string) string {
	sym := Symbols()
	switch level {
	case domain.NoticeSuccess:
		return TextSuccess.Render(sym.Success) + " " + message
	case domain.NoticeWarning:
		return TextWarning.Render(sym.Warning) + " " + message
	case domain.NoticeError:
		return TextError.Render(sym.Error) + " " + message
	default:
		return TextInfo.Render(string(level)) + " " + message
	}
}

var _ domain.Notifier = (*Notifier)(nil)
