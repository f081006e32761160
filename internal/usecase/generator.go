package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/infra/tracer"
)

// GeneratorDeps holds injected dependencies for the Generator. Optional
// collaborators are disabled when nil.
type GeneratorDeps struct {
	Provider    domain.StreamingProvider
	NewDecoder  func() domain.ChunkDecoder
	Images      domain.ImageGenerator // optional
	Moderator   domain.Moderator      // optional, provider-side moderation
	Transcriber domain.Transcriber    // optional
	Moderation  *ModerationClassifier // optional, local moderation
	Detector    *ImagePromptDetector  // optional
	Retry       *RetryPolicy
	Classifier  *ErrorClassifier
	Sink        domain.ContentSink
	Notifier    domain.Notifier
	Bus         domain.EventPublisher // optional
	Audit       domain.AuditLogger    // optional
	Logger      *slog.Logger
	Stream      config.StreamConfig
}

// GenerateRequest is one user request.
type GenerateRequest struct {
	Prompt      string
	Background  string // surrounding document text
	Model       string
	Temperature float64
	MaxTokens   int
}

// Generator runs the generation pipeline: moderation, streaming into the
// sink, image jobs and the closing notice.
type Generator struct {
	deps GeneratorDeps
}

// NewGenerator creates a generator.
func NewGenerator(deps GeneratorDeps) *Generator {
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier(deps.Logger)
	}
	return &Generator{deps: deps}
}

// Stream generates text for req into the sink and blocks until the stream
// and its image jobs are done. Cancelling ctx cancels both. The returned
// error, when set, is the result's *domain.ClassifiedError.
func (g *Generator) Stream(ctx context.Context, req GenerateRequest) (domain.StreamResult, error) {
	session := NewSession(ctx, req.Background)
	ctx = domain.ContextWithSessionID(ctx, session.ID)
	logger := g.deps.Logger.With("session_id", session.ID)

	if err := g.moderate(ctx, session.ID, g.userContent(req.Prompt, req.Background)); err != nil {
		ce := g.fail(ctx, session.ID, err)
		return domain.StreamResult{State: domain.StreamFailed, Err: ce}, ce
	}
	g.publish(ctx, domain.EventStreamStarted, session.ID, nil)

	orch := NewStreamOrchestrator(OrchestratorDeps{
		Opener:     g.deps.Provider,
		Decoder:    g.deps.NewDecoder(),
		Detector:   g.deps.Detector,
		Prompts:    session.Prompts,
		Background: req.Background,
		Retry:      g.deps.Retry,
		Classifier: g.deps.Classifier,
		Logger:     logger,
		ReadBuffer: g.deps.Stream.ReadBuffer,
	}, StreamCallbacks{
		OnDelta: func(delta string) {
			if err := g.deps.Sink.WriteDelta(ctx, delta); err != nil {
				logger.Warn("sink rejected delta", "error", err)
			}
		},
		OnParagraph: func(paragraph string, index int, final bool) {
			out := paragraph
			if index == 0 && g.deps.Stream.OutputPrefix != "" {
				out = g.deps.Stream.OutputPrefix + paragraph
			}
			if err := g.deps.Sink.CommitParagraph(ctx, out); err != nil {
				logger.Warn("sink rejected paragraph", "index", index, "error", err)
			}
			g.publish(ctx, domain.EventStreamParagraph, session.ID, domain.ParagraphPayload{
				Index: index, Text: out, Final: final,
			})
		},
		OnImagePrompt: func(rec domain.ImagePromptRecord) {
			g.publish(ctx, domain.EventStreamImagePrompt, session.ID, domain.ImagePayload{Prompt: rec.Prompt})
			g.startImageJob(session, rec, logger)
		},
		OnStop: func(res domain.StreamResult) {
			g.report(ctx, session.ID, res)
		},
	})

	res := orch.Run(ctx, g.streamRequest(req))

	if err := session.Wait(); err != nil {
		logger.Warn("image jobs finished with errors",
			"failed", session.Failures(),
			"generated", len(session.Images()),
			"error", err,
		)
	}
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (g *Generator) streamRequest(req GenerateRequest) domain.StreamRequest {
	return domain.StreamRequest{
		Model:       req.Model,
		Messages:    g.messages(req.Prompt, req.Background),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Timeout:     g.deps.Stream.Timeout,
	}
}

func (g *Generator) messages(prompt, background string) []domain.Message {
	var msgs []domain.Message
	if g.deps.Stream.SystemPrompt != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: g.deps.Stream.SystemPrompt})
	}
	return append(msgs, domain.Message{Role: domain.RoleUser, Content: g.userContent(prompt, background)})
}

// userContent is what the user sends: cleaned background, then the prompt.
func (g *Generator) userContent(prompt, background string) string {
	if g.deps.Detector != nil {
		background = g.deps.Detector.CleanContext(background)
	}
	return joinNonEmpty(background, prompt)
}

// startImageJob generates an image for rec without blocking the stream.
func (g *Generator) startImageJob(session *Session, rec domain.ImagePromptRecord, logger *slog.Logger) {
	if g.deps.Images == nil {
		return
	}
	session.Go(func(ctx context.Context) error {
		ctx, span := tracer.StartSpan(ctx, tracer.SpanImageGenerate,
			trace.WithAttributes(tracer.StringAttr("session.id", session.ID)),
		)
		defer span.End()

		img, err := g.generateImage(ctx, rec.Prompt)
		if err != nil {
			tracer.RecordError(span, err)
			logger.Warn("image generation failed", "error", err)
			g.publish(ctx, domain.EventImageFailed, session.ID, domain.ImagePayload{Prompt: rec.Prompt, Error: err.Error()})
			return err
		}

		session.AddImage(*img)
		if err := g.deps.Sink.AttachImage(ctx, *img, rec.SourceParagraph); err != nil {
			logger.Warn("sink rejected image", "error", err)
		}
		tracer.SetOK(span)
		g.publish(ctx, domain.EventImageGenerated, session.ID, domain.ImagePayload{Prompt: rec.Prompt, URL: img.URL})
		return nil
	})
}

// generateImage moderates the prompt locally and calls the image API with
// retries. Errors come back classified.
func (g *Generator) generateImage(ctx context.Context, prompt string) (*domain.ImageResult, error) {
	if v := g.classifyLocal(prompt); v != nil {
		return nil, g.deps.Classifier.Classify(&domain.ModerationError{Verdict: *v})
	}
	img, err := Do(ctx, g.deps.Retry, "image.generate", func(ctx context.Context) (*domain.ImageResult, error) {
		return g.deps.Images.GenerateImage(ctx, domain.ImageRequest{Prompt: prompt})
	})
	if err != nil {
		return nil, g.deps.Classifier.Classify(err)
	}
	return img, nil
}

// report publishes the terminal event and shows the closing notice.
func (g *Generator) report(ctx context.Context, sessionID string, res domain.StreamResult) {
	payload := domain.StreamEndPayload{
		State:      res.State.String(),
		Paragraphs: len(res.Paragraphs),
		Images:     len(res.ImagePrompts),
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		payload.ErrorKind = res.Err.Kind.String()
		payload.ErrorCode = domain.ErrorCodeOf(res.Err.Raw)
		payload.Message = res.Err.Message
		payload.Partial = res.Err.Partial
	}

	switch res.State {
	case domain.StreamCompleted:
		g.publish(ctx, domain.EventStreamCompleted, sessionID, payload)
		g.notify(ctx, domain.NoticeSuccess, fmt.Sprintf("Generation finished (%d paragraphs).", len(res.Paragraphs)))
	case domain.StreamCancelled:
		g.publish(ctx, domain.EventStreamCancelled, sessionID, payload)
		g.notify(ctx, domain.NoticeWarning, res.Err.Message)
	default:
		g.publish(ctx, domain.EventStreamFailed, sessionID, payload)
		g.auditFailure(ctx, sessionID, res.Err)
		level := domain.NoticeError
		if res.Err.Partial {
			level = domain.NoticeWarning
		}
		g.notify(ctx, level, res.Err.Message)
	}
}

// Complete runs a non-streaming completion with retries.
func (g *Generator) Complete(ctx context.Context, req GenerateRequest) (*domain.CompletionResponse, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanComplete)
	defer span.End()

	sessionID := generateULID(time.Now())
	ctx = domain.ContextWithSessionID(ctx, sessionID)
	if err := g.moderate(ctx, sessionID, g.userContent(req.Prompt, req.Background)); err != nil {
		tracer.RecordError(span, err)
		return nil, g.fail(ctx, sessionID, err)
	}

	creq := domain.CompletionRequest{
		Model:       req.Model,
		Messages:    g.messages(req.Prompt, req.Background),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	resp, err := Do(ctx, g.deps.Retry, "complete", func(ctx context.Context) (*domain.CompletionResponse, error) {
		return g.deps.Provider.Complete(ctx, creq)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, g.fail(ctx, sessionID, err)
	}
	tracer.SetOK(span)
	return resp, nil
}

// GenerateImage generates one image directly from a prompt.
func (g *Generator) GenerateImage(ctx context.Context, prompt string) (*domain.ImageResult, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanImageGenerate)
	defer span.End()

	sessionID := generateULID(time.Now())
	ctx = domain.ContextWithSessionID(ctx, sessionID)
	if g.deps.Images == nil {
		err := domain.NewDomainError("Generator.GenerateImage", domain.ErrNotConfigured, "image generation is disabled")
		tracer.RecordError(span, err)
		return nil, g.fail(ctx, sessionID, err)
	}
	if strings.TrimSpace(prompt) == "" {
		err := domain.NewDomainError("Generator.GenerateImage", domain.ErrInvalidInput, "empty prompt")
		tracer.RecordError(span, err)
		return nil, g.fail(ctx, sessionID, err)
	}
	img, err := g.generateImage(ctx, prompt)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, g.fail(ctx, sessionID, err)
	}
	tracer.SetOK(span)
	return img, nil
}

// Transcribe converts audio to text with retries.
func (g *Generator) Transcribe(ctx context.Context, req domain.TranscriptionRequest) (string, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanTranscribe,
		trace.WithAttributes(tracer.IntAttr("transcription.bytes", len(req.Audio))),
	)
	defer span.End()

	sessionID := generateULID(time.Now())
	ctx = domain.ContextWithSessionID(ctx, sessionID)
	if g.deps.Transcriber == nil {
		err := domain.NewDomainError("Generator.Transcribe", domain.ErrNotConfigured, "transcription is disabled")
		tracer.RecordError(span, err)
		return "", g.fail(ctx, sessionID, err)
	}
	text, err := Do(ctx, g.deps.Retry, "transcribe", func(ctx context.Context) (string, error) {
		return g.deps.Transcriber.Transcribe(ctx, req)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return "", g.fail(ctx, sessionID, err)
	}
	tracer.SetOK(span)
	return text, nil
}

// Moderate classifies text locally, then with the provider when
// configured. It returns nil when text is acceptable.
func (g *Generator) Moderate(ctx context.Context, text string) (*domain.ModerationVerdict, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanModerate)
	defer span.End()

	if v := g.classifyLocal(text); v != nil {
		span.SetAttributes(tracer.StringAttr("moderation.source", v.Source))
		return v, nil
	}
	if g.deps.Moderator == nil {
		return nil, nil
	}
	v, err := g.deps.Moderator.Moderate(ctx, text)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if v != nil {
		span.SetAttributes(tracer.StringAttr("moderation.source", v.Source))
	}
	return v, nil
}

// moderate runs before any generation request. Provider moderation failures
// other than cancellation are logged and let the request through.
func (g *Generator) moderate(ctx context.Context, sessionID, text string) error {
	v, err := g.Moderate(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) {
			return err
		}
		g.deps.Logger.Warn("provider moderation unavailable", "session_id", sessionID, "error", err)
		return nil
	}
	if v != nil {
		return &domain.ModerationError{Verdict: *v}
	}
	return nil
}

func (g *Generator) classifyLocal(text string) *domain.ModerationVerdict {
	if g.deps.Moderation == nil {
		return nil
	}
	return g.deps.Moderation.Classify(text)
}

// fail classifies err, records it and shows the one notice it gets.
func (g *Generator) fail(ctx context.Context, sessionID string, err error) *domain.ClassifiedError {
	ce := g.deps.Classifier.Classify(err)
	if ce.Kind == domain.KindModerationViolation && ce.Verdict != nil {
		g.publish(ctx, domain.EventModerationBlocked, sessionID, ce.Verdict)
	}
	g.auditFailure(ctx, sessionID, ce)

	level := domain.NoticeError
	if ce.Kind == domain.KindUserCancelled {
		level = domain.NoticeWarning
	}
	g.notify(ctx, level, ce.Message)
	return ce
}

// auditFailure records moderation blocks and quota exhaustion.
func (g *Generator) auditFailure(ctx context.Context, sessionID string, ce *domain.ClassifiedError) {
	if g.deps.Audit == nil || ce == nil {
		return
	}

	event := domain.AuditEvent{
		Timestamp: time.Now(),
		Actor:     sessionID,
		Action:    "generate",
	}
	switch ce.Kind {
	case domain.KindModerationViolation:
		event.Type = domain.AuditModerationBlocked
		event.Outcome = "blocked"
		if v := ce.Verdict; v != nil {
			event.Resource = v.Source
			event.Detail = map[string]string{
				"category": string(v.Category),
				"tier":     string(v.Tier),
				"terms":    strings.Join(v.Terms, ","),
				"source":   v.Source,
			}
		}
	case domain.KindQuotaExhausted:
		event.Type = domain.AuditQuotaExhausted
		event.Outcome = "failed"
		event.Detail = map[string]string{"status": fmt.Sprint(ce.StatusCode)}
	default:
		return
	}

	if err := g.deps.Audit.Log(ctx, event); err != nil {
		g.deps.Logger.Warn("audit log write failed", "type", string(event.Type), "error", err)
	}
}

func (g *Generator) notify(ctx context.Context, level domain.NoticeLevel, message string) {
	if g.deps.Notifier != nil {
		g.deps.Notifier.Notify(ctx, level, message)
	}
}

func (g *Generator) publish(ctx context.Context, eventType domain.EventType, sessionID string, payload any) {
	if g.deps.Bus != nil {
		g.deps.Bus.Publish(ctx, domain.NewEvent(eventType, sessionID, payload))
	}
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
