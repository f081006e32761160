package llm

import (
	"bytes"
	"encoding/json"

	"scribe-ai/internal/domain"
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// DecodeChunk decodes one transport chunk line by line. It never fails:
// framing lines are skipped and undecodable payloads come back as
// EventMalformed. A line split across chunks decodes as malformed here;
// SSEDecoder reassembles such lines before decoding.
func DecodeChunk(chunk []byte) []domain.StreamEvent {
	var events []domain.StreamEvent
	for _, line := range bytes.Split(chunk, []byte("\n")) {
		if ev, ok := decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// decodeLine turns one SSE line into at most one event.
func decodeLine(line []byte) (domain.StreamEvent, bool) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 {
		return domain.StreamEvent{}, false
	}

	// Comments, event names, ids and retry hints are framing, not payload.
	if !bytes.HasPrefix(line, dataPrefix) {
		return domain.StreamEvent{}, false
	}
	payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))

	if bytes.Equal(payload, doneSentinel) {
		return domain.StreamEvent{Kind: domain.EventTerminated}, true
	}

	if len(payload) < 2 || payload[0] != '{' || payload[len(payload)-1] != '}' {
		return domain.StreamEvent{Kind: domain.EventMalformed, Raw: string(payload)}, true
	}

	var chunk openaiStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return domain.StreamEvent{Kind: domain.EventMalformed, Raw: string(payload)}, true
	}

	if chunk.Error != nil {
		return domain.StreamEvent{Kind: domain.EventProviderError, Err: chunk.Error.toAPIError(0, "")}, true
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		// Role announcements, finish markers and usage frames carry no text.
		return domain.StreamEvent{}, false
	}
	return domain.StreamEvent{Kind: domain.EventContentDelta, Content: chunk.Choices[0].Delta.Content}, true
}

// SSEDecoder is the stateful ChunkDecoder used by a single stream. It holds
// back an unterminated trailing line until the next chunk completes it, so
// the decoded sequence does not depend on where the transport split bytes.
type SSEDecoder struct {
	carry []byte
}

// NewSSEDecoder returns a decoder with an empty line buffer.
func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{}
}

// Decode implements domain.ChunkDecoder.
func (d *SSEDecoder) Decode(chunk []byte) []domain.StreamEvent {
	d.carry = append(d.carry, chunk...)

	idx := bytes.LastIndexByte(d.carry, '\n')
	if idx < 0 {
		return nil
	}

	complete := d.carry[:idx]
	events := DecodeChunk(complete)

	rest := d.carry[idx+1:]
	d.carry = append(make([]byte, 0, len(rest)), rest...)
	return events
}

// Flush implements domain.ChunkDecoder. The held-back line, if any, is
// decoded as-is.
func (d *SSEDecoder) Flush() []domain.StreamEvent {
	if len(d.carry) == 0 {
		return nil
	}
	events := DecodeChunk(d.carry)
	d.carry = nil
	return events
}

var _ domain.ChunkDecoder = (*SSEDecoder)(nil)
