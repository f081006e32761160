package usecase

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"scribe-ai/internal/domain"
)

// Session is one generation: a stream plus the image jobs it spawns. The
// prompt dedupe set lives and dies with it.
type Session struct {
	ID         string
	Background string
	Prompts    *PromptSet
	CreatedAt  time.Time

	ctx  context.Context
	jobs errgroup.Group

	mu       sync.Mutex
	images   []domain.ImageResult
	failures int
}

// NewSession creates a session with a generated ULID. Image jobs run under
// ctx.
func NewSession(ctx context.Context, background string) *Session {
	now := time.Now()
	return &Session{
		ID:         generateULID(now),
		Background: background,
		Prompts:    NewPromptSet(),
		CreatedAt:  now,
		ctx:        ctx,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Go starts a background job. It never blocks the caller.
func (s *Session) Go(job func(ctx context.Context) error) {
	s.jobs.Go(func() error {
		err := job(s.ctx)
		if err != nil {
			s.mu.Lock()
			s.failures++
			s.mu.Unlock()
		}
		return err
	})
}

// Wait blocks until every job has returned and reports the first failure.
func (s *Session) Wait() error {
	return s.jobs.Wait()
}

// AddImage records a generated image.
func (s *Session) AddImage(img domain.ImageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, img)
}

// Images returns a copy of the images generated so far.
func (s *Session) Images() []domain.ImageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ImageResult(nil), s.images...)
}

// Failures returns how many jobs have failed.
func (s *Session) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}
