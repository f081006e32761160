package domain

import (
	"context"
	"io"
)

// CompletionProvider is the text-generation backend.
type CompletionProvider interface {
	// Complete sends a request and returns the whole response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the provider's identifier.
	Name() string
}

// StreamOpener establishes a streaming completion. The returned body yields
// raw event-stream bytes and must be closed by the caller. Implementations
// return an error for non-2xx statuses and unexpected content types, before
// any byte of the body has been handed out.
type StreamOpener interface {
	OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
}

// StreamingProvider is a provider that supports both modes.
type StreamingProvider interface {
	CompletionProvider
	StreamOpener
}

// TranscriptionRequest is an audio file to transcribe.
type TranscriptionRequest struct {
	Filename string
	Audio    []byte
	Model    string
	Language string
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}
