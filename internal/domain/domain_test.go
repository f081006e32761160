package domain

import (
	"encoding/json"
	"testing"
)

func TestStreamStateTerminal(t *testing.T) {
	tests := []struct {
		state    StreamState
		name     string
		terminal bool
	}{
		{StreamIdle, "idle", false},
		{StreamRequesting, "requesting", false},
		{StreamStreaming, "streaming", false},
		{StreamCompleted, "completed", true},
		{StreamFailed, "failed", true},
		{StreamCancelled, "cancelled", true},
		{StreamState(42), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.state.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.name, got, tt.terminal)
		}
	}
}

func TestNewEventPayload(t *testing.T) {
	ev := NewEvent(EventStreamParagraph, "sess", ParagraphPayload{Index: 2, Text: "hi", Final: true})
	if ev.Type != EventStreamParagraph || ev.SessionID != "sess" || ev.Timestamp.IsZero() {
		t.Fatalf("envelope = %+v", ev)
	}
	var p ParagraphPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Index != 2 || p.Text != "hi" || !p.Final {
		t.Errorf("payload = %+v", p)
	}

	if ev := NewEvent(EventStreamStarted, "s", nil); ev.Payload != nil {
		t.Errorf("nil payload marshalled to %s", ev.Payload)
	}
	if ev := NewEvent(EventStreamStarted, "s", make(chan int)); ev.Payload != nil {
		t.Errorf("unmarshalable payload kept: %s", ev.Payload)
	}
}

func TestRuleTableCategories(t *testing.T) {
	table := RuleTable{Rules: []ModerationRule{
		{Category: CategoryViolence, Tier: TierExtreme},
		{Category: CategoryPolitics, Tier: TierExtreme},
		{Category: CategoryViolence, Tier: TierMild},
	}}
	got := table.Categories()
	if len(got) != 2 || got[0] != CategoryViolence || got[1] != CategoryPolitics {
		t.Errorf("Categories() = %v", got)
	}
}

func TestCategoryIsKnown(t *testing.T) {
	if !CategorySelfHarm.IsKnown() {
		t.Error("self_harm should be known")
	}
	if CategoryOther.IsKnown() || ModerationCategory("weather").IsKnown() {
		t.Error("other/unlisted categories are not known")
	}
}

func TestSessionIDContext(t *testing.T) {
	if got := SessionIDFromContext(t.Context()); got != "" {
		t.Errorf("empty context = %q", got)
	}
	ctx := ContextWithSessionID(t.Context(), "01J")
	if got := SessionIDFromContext(ctx); got != "01J" {
		t.Errorf("SessionIDFromContext = %q", got)
	}
}
