package domain

import "time"

// DefaultStreamTimeout bounds the whole request and stream lifetime.
const DefaultStreamTimeout = 120 * time.Second

// StreamRequest describes one streaming completion. It is treated as
// immutable once handed to an orchestrator.
type StreamRequest struct {
	Endpoint    string // overrides the provider base URL when set
	APIKey      string // overrides the provider key when set
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// StreamEventKind tags a decoded server event.
type StreamEventKind int

const (
	EventContentDelta StreamEventKind = iota
	EventTerminated
	EventMalformed
	EventProviderError
)

func (k StreamEventKind) String() string {
	switch k {
	case EventContentDelta:
		return "delta"
	case EventTerminated:
		return "terminated"
	case EventMalformed:
		return "malformed"
	case EventProviderError:
		return "provider_error"
	default:
		return "unknown"
	}
}

// StreamEvent is one decoded payload unit from the event stream.
type StreamEvent struct {
	Kind    StreamEventKind
	Content string    // EventContentDelta
	Raw     string    // EventMalformed: the dropped payload
	Err     *APIError // EventProviderError
}

// ChunkDecoder turns raw transport chunks into stream events. A decoder is
// owned by a single stream and is not safe for concurrent use.
type ChunkDecoder interface {
	// Decode consumes the next chunk read from the response body.
	Decode(chunk []byte) []StreamEvent
	// Flush decodes whatever is still buffered once the body is exhausted.
	Flush() []StreamEvent
}

// StreamState is a position in the orchestrator state machine.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamRequesting
	StreamStreaming
	StreamCompleted
	StreamFailed
	StreamCancelled
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamRequesting:
		return "requesting"
	case StreamStreaming:
		return "streaming"
	case StreamCompleted:
		return "completed"
	case StreamFailed:
		return "failed"
	case StreamCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the stream.
func (s StreamState) Terminal() bool {
	return s == StreamCompleted || s == StreamFailed || s == StreamCancelled
}

// StreamResult is what a finished stream leaves behind, whatever its outcome.
type StreamResult struct {
	State        StreamState
	Text         string   // committed paragraphs joined by a blank line
	Paragraphs   []string // committed paragraphs, in emission order
	Pending      string   // delivered tail never committed, set when the stream ends early
	ImagePrompts []ImagePromptRecord
	Malformed    int // payloads dropped by the decoder
	Err          *ClassifiedError
	Duration     time.Duration
}
