package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/tracer"
)

const (
	defaultReadBuffer = 4096
	maxLoggedPayload  = 200
)

// StreamCallbacks receive the output of one stream. They run on the
// goroutine that called Run, in stream order; nil callbacks are skipped.
type StreamCallbacks struct {
	// OnDelta receives raw content as it is decoded.
	OnDelta func(delta string)
	// OnParagraph receives each committed paragraph. final is set for the
	// tail flushed at end of stream.
	OnParagraph func(paragraph string, index int, final bool)
	// OnImagePrompt fires after the OnParagraph call of the paragraph that
	// asked for an image. It must not block.
	OnImagePrompt func(rec domain.ImagePromptRecord)
	// OnStop fires exactly once, whatever terminal state is reached.
	OnStop func(res domain.StreamResult)
}

// OrchestratorDeps holds injected dependencies for a StreamOrchestrator.
type OrchestratorDeps struct {
	Opener     domain.StreamOpener
	Decoder    domain.ChunkDecoder   // owned by this stream
	Detector   *ImagePromptDetector  // nil disables image prompts
	Prompts    *PromptSet            // session-scoped dedupe set
	Background string                // context handed to the detector
	Retry      *RetryPolicy          // connection establishment only
	Classifier *ErrorClassifier
	Logger     *slog.Logger
	ReadBuffer int
}

// StreamOrchestrator drives one streaming request through
// Idle → Requesting → Streaming → {Completed, Failed, Cancelled}.
// An instance handles exactly one Run.
type StreamOrchestrator struct {
	deps OrchestratorDeps
	cb   StreamCallbacks

	mu              sync.Mutex
	state           domain.StreamState
	cancel          context.CancelCauseFunc
	cancelRequested bool
	used            bool

	stopOnce sync.Once
}

// NewStreamOrchestrator creates an idle orchestrator.
func NewStreamOrchestrator(deps OrchestratorDeps, cb StreamCallbacks) *StreamOrchestrator {
	if deps.Prompts == nil {
		deps.Prompts = NewPromptSet()
	}
	if deps.Classifier == nil {
		deps.Classifier = NewErrorClassifier(deps.Logger)
	}
	if deps.ReadBuffer <= 0 {
		deps.ReadBuffer = defaultReadBuffer
	}
	deps.Logger = deps.Logger.With("component", "orchestrator")
	return &StreamOrchestrator{deps: deps, cb: cb}
}

// State returns the current state.
func (o *StreamOrchestrator) State() domain.StreamState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *StreamOrchestrator) setState(s domain.StreamState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Cancel aborts the stream. It is idempotent, safe from any goroutine, and a
// no-op once a terminal state is reached. Cancelling before Run makes Run
// end in Cancelled without connecting.
func (o *StreamOrchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Terminal() {
		return
	}
	o.cancelRequested = true
	if o.cancel != nil {
		o.cancel(domain.ErrCancelled)
	}
}

// streamRun is the mutable state of one Run.
type streamRun struct {
	assembler  *ParagraphAssembler
	paragraphs []string
	prompts    []domain.ImagePromptRecord
	malformed  int
	delivered  bool
	// recheck is the last committed paragraph when its non-final image
	// check came back empty.
	recheck string
}

// Run performs the request and blocks until a terminal state. The returned
// result is the one handed to OnStop.
func (o *StreamOrchestrator) Run(ctx context.Context, req domain.StreamRequest) domain.StreamResult {
	o.mu.Lock()
	if o.used {
		o.mu.Unlock()
		err := domain.NewDomainError("StreamOrchestrator.Run", domain.ErrStreamReused, "")
		return domain.StreamResult{State: domain.StreamFailed, Err: o.deps.Classifier.Classify(err)}
	}
	o.used = true
	o.mu.Unlock()

	start := time.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultStreamTimeout
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, timeout, domain.ErrTimeout)
	defer cancelTimeout()

	o.mu.Lock()
	o.cancel = cancel
	if o.cancelRequested {
		cancel(domain.ErrCancelled)
	}
	o.mu.Unlock()

	ctx, span := tracer.StartSpan(ctx, tracer.SpanStream,
		trace.WithAttributes(
			tracer.StringAttr("stream.model", req.Model),
			tracer.DurationAttr("stream.timeout_ms", timeout),
		),
	)
	defer span.End()

	run := &streamRun{assembler: NewParagraphAssembler()}
	err := o.stream(ctx, req, run)
	return o.finish(span, run, err, time.Since(start))
}

func (o *StreamOrchestrator) stream(ctx context.Context, req domain.StreamRequest, run *streamRun) error {
	o.setState(domain.StreamRequesting)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	body, err := o.connect(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()
	// Unblocks a pending Read on cancel or timeout.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	o.setState(domain.StreamStreaming)
	buf := make([]byte, o.deps.ReadBuffer)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			done, err := o.handle(run, o.deps.Decoder.Decode(buf[:n]))
			if err != nil || done {
				return err
			}
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if readErr == io.EOF {
			_, err := o.handle(run, o.deps.Decoder.Flush())
			return err
		}
		if readErr != nil {
			return fmt.Errorf("%w: read stream: %w", domain.ErrNetwork, readErr)
		}
	}
}

// connect opens the stream, retrying failures that happen before any byte
// has been received.
func (o *StreamOrchestrator) connect(ctx context.Context, req domain.StreamRequest) (io.ReadCloser, error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanStreamConnect)
	defer span.End()

	attempts := 0
	body, err := Do(ctx, o.deps.Retry, "stream.connect", func(ctx context.Context) (io.ReadCloser, error) {
		attempts++
		return o.deps.Opener.OpenStream(ctx, req)
	})
	span.SetAttributes(tracer.IntAttr("stream.connect_attempts", attempts))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return body, nil
}

// handle applies decoded events. It reports done once the termination
// sentinel is seen.
func (o *StreamOrchestrator) handle(run *streamRun, events []domain.StreamEvent) (bool, error) {
	for _, ev := range events {
		switch ev.Kind {
		case domain.EventContentDelta:
			run.delivered = true
			if o.cb.OnDelta != nil {
				o.cb.OnDelta(ev.Content)
			}
			for _, p := range run.assembler.Append(ev.Content) {
				o.commit(run, p, false)
			}
		case domain.EventTerminated:
			return true, nil
		case domain.EventMalformed:
			run.malformed++
			o.deps.Logger.Debug("dropped malformed stream payload", "raw", truncateText(ev.Raw, maxLoggedPayload))
		case domain.EventProviderError:
			if ev.Err == nil {
				return true, domain.NewDomainError("StreamOrchestrator", domain.ErrMalformedStream, "error event without payload")
			}
			return true, ev.Err
		}
	}
	return false, nil
}

func (o *StreamOrchestrator) commit(run *streamRun, paragraph string, final bool) {
	index := len(run.paragraphs)
	run.paragraphs = append(run.paragraphs, paragraph)
	if o.cb.OnParagraph != nil {
		o.cb.OnParagraph(paragraph, index, final)
	}
	o.detect(run, paragraph, index, final)
}

func (o *StreamOrchestrator) detect(run *streamRun, paragraph string, index int, final bool) {
	run.recheck = ""
	if o.deps.Detector == nil {
		return
	}
	check := o.deps.Detector.Check(o.deps.Prompts, paragraph, o.deps.Background, final)
	if !check.HasRequest {
		if !final {
			run.recheck = paragraph
		}
		return
	}
	rec := domain.ImagePromptRecord{Prompt: check.Prompt, SourceParagraph: paragraph}
	run.prompts = append(run.prompts, rec)
	o.deps.Logger.Debug("image prompt detected", "trigger", check.Trigger, "paragraph", index)
	if o.cb.OnImagePrompt != nil {
		o.cb.OnImagePrompt(rec)
	}
}

// finish settles the terminal state and fires OnStop.
func (o *StreamOrchestrator) finish(span trace.Span, run *streamRun, err error, elapsed time.Duration) domain.StreamResult {
	if err == nil {
		if p, ok := run.assembler.Flush(); ok {
			o.commit(run, p, true)
		} else if run.recheck != "" {
			// The stream ended on a boundary, so the last committed
			// paragraph is the final one.
			o.detect(run, run.recheck, len(run.paragraphs)-1, true)
		}
		if len(run.paragraphs) == 0 && run.malformed > 0 {
			err = domain.NewDomainError("StreamOrchestrator", domain.ErrMalformedStream,
				fmt.Sprintf("all %d payloads were malformed", run.malformed))
		}
	}

	res := domain.StreamResult{
		Paragraphs:   run.paragraphs,
		Text:         strings.Join(run.paragraphs, "\n\n"),
		Pending:      strings.TrimSpace(run.assembler.Pending()),
		ImagePrompts: run.prompts,
		Malformed:    run.malformed,
		Duration:     elapsed,
	}

	switch ce := o.deps.Classifier.Classify(err); {
	case ce == nil:
		res.State = domain.StreamCompleted
	case ce.Kind == domain.KindUserCancelled:
		res.State = domain.StreamCancelled
		res.Err = ce
	default:
		res.State = domain.StreamFailed
		if run.delivered {
			ce = WithPartial(ce)
		}
		res.Err = ce
	}
	o.setState(res.State)

	span.SetAttributes(
		tracer.StringAttr("stream.state", res.State.String()),
		tracer.IntAttr("stream.paragraphs", len(res.Paragraphs)),
		tracer.IntAttr("stream.image_prompts", len(res.ImagePrompts)),
		tracer.IntAttr("stream.malformed", res.Malformed),
	)
	switch res.State {
	case domain.StreamFailed:
		tracer.RecordError(span, res.Err)
		o.deps.Logger.Warn("stream failed",
			"kind", res.Err.Kind.String(),
			"partial", res.Err.Partial,
			"paragraphs", len(res.Paragraphs),
			"error", res.Err.Raw,
		)
	case domain.StreamCancelled:
		o.deps.Logger.Info("stream cancelled", "paragraphs", len(res.Paragraphs))
	default:
		tracer.SetOK(span)
		o.deps.Logger.Debug("stream completed",
			"paragraphs", len(res.Paragraphs),
			"malformed", res.Malformed,
			"duration", elapsed,
		)
	}

	o.stopOnce.Do(func() {
		if o.cb.OnStop != nil {
			o.cb.OnStop(res)
		}
	})
	return res
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
