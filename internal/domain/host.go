package domain

import "context"

// ContentSink is the host editor surface that generated text is streamed
// into. Calls arrive in stream order from a single goroutine, except
// AttachImage, which is called from image jobs.
type ContentSink interface {
	// WriteDelta receives raw content as it arrives.
	WriteDelta(ctx context.Context, delta string) error
	// CommitParagraph receives each completed paragraph.
	CommitParagraph(ctx context.Context, paragraph string) error
	// AttachImage receives a generated image for the given source paragraph.
	AttachImage(ctx context.Context, img ImageResult, sourceParagraph string) error
}

// NoticeLevel categorizes a host notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notifier shows a transient categorized message in the host UI.
type Notifier interface {
	Notify(ctx context.Context, level NoticeLevel, message string)
}
