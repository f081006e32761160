package usecase

import (
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
)

func TestParagraphAssemblerBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []string
		final  string
	}{
		{
			name:   "blank line",
			deltas: []string{"Hello world\n\nSecond"},
			want:   []string{"Hello world"},
			final:  "Second",
		},
		{
			name:   "boundary split across deltas",
			deltas: []string{"Hello", " world\n", "\nNext"},
			want:   []string{"Hello world"},
			final:  "Next",
		},
		{
			name:   "heading keeps its marker",
			deltas: []string{"Intro\n# Title\nbody"},
			want:   []string{"Intro"},
			final:  "# Title\nbody",
		},
		{
			name:   "heading after blank line",
			deltas: []string{"Intro\n\n## Part\n\ntext"},
			want:   []string{"Intro", "## Part"},
			final:  "text",
		},
		{
			name:   "runs of blank lines produce no empty paragraphs",
			deltas: []string{"a\n\n\n\n\nb\n\n"},
			want:   []string{"a", "b"},
		},
		{
			name:   "no boundary",
			deltas: []string{"just ", "one ", "line"},
			final:  "just one line",
		},
		{
			name:   "trailing newline waits for next delta",
			deltas: []string{"a\n"},
			final:  "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewParagraphAssembler()
			var got []string
			for _, d := range tt.deltas {
				got = append(got, a.Append(d)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("paragraphs = %q, want %q", got, tt.want)
			}
			final, ok := a.Flush()
			if final != tt.final || ok != (tt.final != "") {
				t.Errorf("Flush = %q,%v, want %q", final, ok, tt.final)
			}
		})
	}
}

func TestParagraphAssemblerFlushOnce(t *testing.T) {
	a := NewParagraphAssembler()
	a.Append("tail")

	if p, ok := a.Flush(); !ok || p != "tail" {
		t.Fatalf("first Flush = %q,%v", p, ok)
	}
	if p, ok := a.Flush(); ok || p != "" {
		t.Errorf("second Flush = %q,%v, want nothing", p, ok)
	}
	if got := a.Append("more\n\n"); got != nil {
		t.Errorf("Append after Flush = %q, want nil", got)
	}
}

func TestParagraphAssemblerPending(t *testing.T) {
	a := NewParagraphAssembler()
	a.Append("one\n\ntw")
	if a.Pending() != "tw" {
		t.Errorf("Pending = %q, want %q", a.Pending(), "tw")
	}
}

// Whatever the delta split, the paragraphs match those of the whole text.
func TestParagraphAssemblerSplitInsensitive(t *testing.T) {
	text := "First paragraph.\n\nSecond one\nwith a line break.\n# Heading\nBody text 插图 here.\n\n\n## Sub\n\nLast"
	want := assembleAll([]string{text})

	rng := rand.New(rand.NewPCG(1, 2))
	for range 200 {
		var deltas []string
		rest := text
		for rest != "" {
			n := 1 + rng.IntN(8)
			if n > len(rest) {
				n = len(rest)
			}
			// Keep deltas on rune boundaries.
			for n < len(rest) && !utf8Start(rest[n]) {
				n++
			}
			deltas = append(deltas, rest[:n])
			rest = rest[n:]
		}
		if got := assembleAll(deltas); !reflect.DeepEqual(got, want) {
			t.Fatalf("deltas %q: got %q, want %q", deltas, got, want)
		}
	}

	joined := strings.Join(want, "")
	collapsed := strings.NewReplacer("\n\n", "", "\n#", "#").Replace(text)
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(collapsed, "\n", "") {
		t.Errorf("content changed: %q vs %q", joined, collapsed)
	}
}

func assembleAll(deltas []string) []string {
	a := NewParagraphAssembler()
	var out []string
	for _, d := range deltas {
		out = append(out, a.Append(d)...)
	}
	if p, ok := a.Flush(); ok {
		out = append(out, p)
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
