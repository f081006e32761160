package integration

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"scribe-ai/internal/adapter/llm"
	"scribe-ai/internal/adapter/rules"
	"scribe-ai/internal/adapter/terminal"
	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/infra/logger"
	"scribe-ai/internal/usecase"
	"scribe-ai/internal/usecase/eventbus"
)

// Config holds integration test configuration from environment
type Config struct {
	OpenAIKey   string
	BaseURL     string
	Model       string
	TestTimeout time.Duration
	SkipSlow    bool
}

// LoadConfig loads integration test configuration from environment
func LoadConfig() *Config {
	cfg := &Config{
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		Model:       os.Getenv("OPENAI_MODEL"),
		TestTimeout: 60 * time.Second,
		SkipSlow:    os.Getenv("SKIP_SLOW_TESTS") == "1",
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return cfg
}

// SkipIfNoAPIKey skips the test if the required API key is not set
func SkipIfNoAPIKey(t *testing.T, key, name string) {
	t.Helper()
	if key == "" {
		t.Skipf("Skipping %s integration test: %s_API_KEY not set", name, name)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Pipeline is a generator wired with the real adapters.
type Pipeline struct {
	Generator *usecase.Generator
	Sink      *terminal.Sink
	Bus       *eventbus.Bus
	Events    *EventLog
}

// EventLog records every bus event.
type EventLog struct {
	ch chan domain.Event
}

// Types drains the log after the bus is closed.
func (l *EventLog) Types() []domain.EventType {
	var out []domain.EventType
	for {
		select {
		case e := <-l.ch:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

// NewPipeline wires a generator against cfg. Options adjust the deps before
// the generator is built. The bus is closed on test cleanup.
func NewPipeline(t *testing.T, cfg *config.Config, opts ...func(*usecase.GeneratorDeps)) *Pipeline {
	t.Helper()
	log := logger.Discard()

	table, err := rules.Default()
	if err != nil {
		t.Fatalf("rules.Default: %v", err)
	}
	sink, err := terminal.NewSink(io.Discard, terminal.SinkOptions{})
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	bus := eventbus.New(log)
	events := &EventLog{ch: make(chan domain.Event, 256)}
	bus.SubscribeAll(func(_ context.Context, e domain.Event) { events.ch <- e })
	t.Cleanup(bus.Close)

	classifier := usecase.NewErrorClassifier(log)
	deps := usecase.GeneratorDeps{
		Provider:   llm.NewOpenAIProvider(cfg.Provider, log),
		NewDecoder: func() domain.ChunkDecoder { return llm.NewSSEDecoder() },
		Moderation: usecase.NewModerationClassifier(table),
		Detector:   usecase.NewImagePromptDetector(cfg.Image.TriggerKeywords, cfg.Image.ContextMarkers),
		Retry:      usecase.NewRetryPolicy(cfg.Retry, classifier, log),
		Classifier: classifier,
		Sink:       sink,
		Notifier:   terminal.NewNotifier(io.Discard),
		Bus:        bus,
		Logger:     log,
		Stream:     cfg.Stream,
	}
	if cfg.Image.Enabled {
		deps.Images = llm.NewImageClient(cfg.Image, cfg.Provider, log)
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &Pipeline{
		Generator: usecase.NewGenerator(deps),
		Sink:      sink,
		Bus:       bus,
		Events:    events,
	}
}
