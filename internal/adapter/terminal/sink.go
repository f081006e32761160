package terminal

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"scribe-ai/internal/domain"
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// Markdown renders each committed paragraph with glamour instead of
	// echoing raw deltas as they arrive.
	Markdown bool
	// Width is the word-wrap width for rendered paragraphs.
	Width int
	// Style is a glamour style name; empty selects one from the terminal.
	Style string
}

type block struct {
	text  string
	image bool
}

// Sink is a domain.ContentSink that writes to a terminal and keeps the
// assembled document, images included, for export.
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	opts     SinkOptions
	renderer *glamour.TermRenderer
	doc      []block
	midLine  bool
}

// NewSink creates a sink writing to out.
func NewSink(out io.Writer, opts SinkOptions) (*Sink, error) {
	if opts.Width <= 0 {
		opts.Width = MaxContentWidth
	}
	s := &Sink{out: out, opts: opts}
	if opts.Markdown {
		styleOpt := glamour.WithAutoStyle()
		if opts.Style != "" {
			styleOpt = glamour.WithStandardStyle(opts.Style)
		}
		r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(opts.Width))
		if err != nil {
			return nil, fmt.Errorf("markdown renderer: %w", err)
		}
		s.renderer = r
	}
	return s, nil
}

// WriteDelta echoes raw content in live mode.
func (s *Sink) WriteDelta(_ context.Context, delta string) error {
	if s.opts.Markdown {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.out, delta); err != nil {
		return err
	}
	s.midLine = !strings.HasSuffix(delta, "\n")
	return nil
}

// CommitParagraph records the paragraph and, in markdown mode, renders it.
func (s *Sink) CommitParagraph(_ context.Context, paragraph string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = append(s.doc, block{text: paragraph})
	if !s.opts.Markdown {
		return nil
	}

	rendered, err := s.renderer.Render(paragraph)
	if err != nil {
		rendered = paragraph + "\n"
	}
	_, err = io.WriteString(s.out, rendered)
	return err
}

// AttachImage inserts the image after its source paragraph. Images for the
// same paragraph keep arrival order.
func (s *Sink) AttachImage(_ context.Context, img domain.ImageResult, sourceParagraph string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := block{text: imageMarkdown(img), image: true}
	at := len(s.doc)
	for i, existing := range s.doc {
		if !existing.image && existing.text == sourceParagraph {
			at = i + 1
			for at < len(s.doc) && s.doc[at].image {
				at++
			}
			break
		}
	}
	s.doc = append(s.doc, block{})
	copy(s.doc[at+1:], s.doc[at:])
	s.doc[at] = b

	prefix := ""
	if s.midLine {
		prefix = "\n"
		s.midLine = false
	}
	_, err := fmt.Fprintf(s.out, "%s%s %s\n", prefix, ImageLabel.Render(Symbols().Image), TextMuted.Render(img.URL))
	return err
}

// Document returns the generated document as markdown.
func (s *Sink) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, len(s.doc))
	for i, b := range s.doc {
		parts[i] = b.text
	}
	return strings.Join(parts, "\n\n")
}

// Paragraphs returns the number of committed text paragraphs.
func (s *Sink) Paragraphs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.doc {
		if !b.image {
			n++
		}
	}
	return n
}

func imageMarkdown(img domain.ImageResult) string {
	alt := strings.NewReplacer("[", "", "]", "", "\n", " ").Replace(img.Prompt)
	return fmt.Sprintf("![%s](%s)", alt, img.URL)
}

var _ domain.ContentSink = (*Sink)(nil)
