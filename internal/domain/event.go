package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventStreamStarted     EventType = "stream.started"
	EventStreamParagraph   EventType = "stream.paragraph"
	EventStreamImagePrompt EventType = "stream.image_prompt"
	EventStreamCompleted   EventType = "stream.completed"
	EventStreamFailed      EventType = "stream.failed"
	EventStreamCancelled   EventType = "stream.cancelled"
	EventImageGenerated    EventType = "image.generated"
	EventImageFailed       EventType = "image.failed"
	EventModerationBlocked EventType = "moderation.blocked"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ParagraphPayload is the payload for EventStreamParagraph.
type ParagraphPayload struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// StreamEndPayload is the payload for the terminal stream events.
type StreamEndPayload struct {
	State      string    `json:"state"`
	Paragraphs int       `json:"paragraphs"`
	Images     int       `json:"images"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Partial    bool      `json:"partial,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// ImagePayload is the payload for the image events.
type ImagePayload struct {
	Prompt string `json:"prompt"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventPublisher is the publishing half of the bus, all the pipeline needs.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	EventPublisher
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}

// NewEvent marshals payload into an Event envelope. Marshal failures yield
// an event without payload rather than an error.
func NewEvent(eventType EventType, sessionID string, payload any) Event {
	ev := Event{Type: eventType, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}
