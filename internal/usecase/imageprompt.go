package usecase

import (
	"strings"
	"sync"
	"unicode"
)

// promptPrefix opens every derived image prompt.
const promptPrefix = "background: "

// PromptSet remembers the image prompts already issued in one generation
// session.
type PromptSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPromptSet creates an empty set.
func NewPromptSet() *PromptSet {
	return &PromptSet{seen: make(map[string]struct{})}
}

// Add records prompt and reports whether it was new.
func (s *PromptSet) Add(prompt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[prompt]; ok {
		return false
	}
	s.seen[prompt] = struct{}{}
	return true
}

// Len returns the number of distinct prompts.
func (s *PromptSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// ImagePromptCheck is the detector's answer for one paragraph.
type ImagePromptCheck struct {
	HasRequest bool
	Prompt     string
	Trigger    string
}

// ImagePromptDetector decides whether a paragraph asks for an illustration.
// It makes no network calls.
type ImagePromptDetector struct {
	triggers []string
	markers  []string
}

// NewImagePromptDetector creates a detector. Triggers are tried in order;
// markers delimit trailing metadata in the background context.
func NewImagePromptDetector(triggers, contextMarkers []string) *ImagePromptDetector {
	d := &ImagePromptDetector{}
	for _, t := range triggers {
		if t != "" {
			d.triggers = append(d.triggers, t)
		}
	}
	for _, m := range contextMarkers {
		if m != "" {
			d.markers = append(d.markers, m)
		}
	}
	return d
}

// Check tests paragraph against the trigger keywords. A prompt already in
// seen is suppressed unless isFinal is set.
func (d *ImagePromptDetector) Check(seen *PromptSet, paragraph, background string, isFinal bool) ImagePromptCheck {
	trigger := d.match(paragraph)
	if trigger == "" {
		return ImagePromptCheck{}
	}

	prompt := promptPrefix + d.CleanContext(background) + " " + stripWhitespace(paragraph)
	if seen != nil && !seen.Add(prompt) && !isFinal {
		return ImagePromptCheck{}
	}
	return ImagePromptCheck{HasRequest: true, Prompt: prompt, Trigger: trigger}
}

func (d *ImagePromptDetector) match(paragraph string) string {
	for _, t := range d.triggers {
		if strings.Contains(paragraph, t) {
			return t
		}
	}
	return ""
}

// CleanContext keeps the leading user-authored part of background, cutting
// at the earliest metadata marker.
func (d *ImagePromptDetector) CleanContext(background string) string {
	cut := len(background)
	for _, m := range d.markers {
		if i := strings.Index(background, m); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(background[:cut])
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
