package usecase

import "strings"

// Paragraph boundaries. A blank line is consumed; a newline followed by a
// heading marker only loses the newline, so the heading opens the next
// paragraph.
const (
	blankLineBoundary = "\n\n"
	headingBoundary   = "\n#"
)

// ParagraphAssembler splits streamed content into paragraphs. It is owned by
// one stream and is not safe for concurrent use.
type ParagraphAssembler struct {
	pending strings.Builder
	flushed bool
}

// NewParagraphAssembler creates an empty assembler.
func NewParagraphAssembler() *ParagraphAssembler {
	return &ParagraphAssembler{}
}

// Append adds delta to the pending tail and returns the paragraphs it
// completed, in order. Empty fragments between adjacent boundaries are
// dropped.
func (a *ParagraphAssembler) Append(delta string) []string {
	if delta == "" || a.flushed {
		return nil
	}
	a.pending.WriteString(delta)

	rest := a.pending.String()
	var out []string
	for {
		i, n := nextBoundary(rest)
		if i < 0 {
			break
		}
		if p := strings.TrimSpace(rest[:i]); p != "" {
			out = append(out, p)
		}
		rest = rest[i+n:]
	}
	if out == nil && len(rest) == a.pending.Len() {
		return nil
	}

	a.pending.Reset()
	a.pending.WriteString(rest)
	return out
}

// Flush ends the stream and returns the trimmed pending tail, if any. Later
// calls return nothing.
func (a *ParagraphAssembler) Flush() (string, bool) {
	if a.flushed {
		return "", false
	}
	a.flushed = true
	p := strings.TrimSpace(a.pending.String())
	a.pending.Reset()
	if p == "" {
		return "", false
	}
	return p, true
}

// Pending returns the content not yet assigned to a paragraph.
func (a *ParagraphAssembler) Pending() string { return a.pending.String() }

// nextBoundary returns the index and consumed length of the earliest
// boundary in s, or -1.
func nextBoundary(s string) (int, int) {
	blank := strings.Index(s, blankLineBoundary)
	heading := strings.Index(s, headingBoundary)
	switch {
	case blank < 0 && heading < 0:
		return -1, 0
	case heading < 0 || (blank >= 0 && blank <= heading):
		return blank, len(blankLineBoundary)
	default:
		return heading, 1
	}
}
