package eventbus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"scribe-ai/internal/domain"
)

func benchBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// BenchmarkEventBusPublish benchmarks the hot path: one paragraph event, one subscriber.
func BenchmarkEventBusPublish(b *testing.B) {
	bus := benchBus()
	ctx := context.Background()
	event := domain.NewEvent(domain.EventStreamParagraph, "bench-session",
		domain.ParagraphPayload{Index: 1, Text: "paragraph"})

	bus.Subscribe(domain.EventStreamParagraph, func(_ context.Context, _ domain.Event) {})

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

// BenchmarkEventBusPublishMultipleSubscribers benchmarks fan-out to typed and all-event subscribers.
func BenchmarkEventBusPublishMultipleSubscribers(b *testing.B) {
	bus := benchBus()
	ctx := context.Background()
	event := domain.Event{Type: domain.EventStreamParagraph, Timestamp: time.Now()}

	for range 5 {
		bus.Subscribe(domain.EventStreamParagraph, func(_ context.Context, _ domain.Event) {})
		bus.SubscribeAll(func(_ context.Context, _ domain.Event) {})
	}

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}

// BenchmarkEventBusPublishNoSubscribers measures the overhead of Publish itself.
func BenchmarkEventBusPublishNoSubscribers(b *testing.B) {
	bus := benchBus()
	ctx := context.Background()
	event := domain.Event{Type: domain.EventStreamCompleted, Timestamp: time.Now()}

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, event)
	}
	bus.Close()
}
