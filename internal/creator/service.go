// Package creator runs content generation jobs (images today) for personas.
package creator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

const (
	defaultJobTimeout = 2 * time.Minute
	// defaultRetention is how long a finished job stays readable.
	defaultRetention = time.Hour
)

// ImageGenerator produces an image URL for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error)
}

// Service tracks generation jobs in memory. Jobs outlive the request that created them;
// finished jobs are dropped once they are older than the retention window.
type Service struct {
	images    ImageGenerator
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]jobEntry
	wg   sync.WaitGroup
}

type jobEntry struct {
	job        types.GenerationJob
	finishedAt time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithRetention sets how long finished jobs can be read back.
func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service. A nil images generator rejects every image job.
func NewService(images ImageGenerator, opts ...Option) *Service {
	s := &Service{
		images:    images,
		timeout:   defaultJobTimeout,
		retention: defaultRetention,
		now:       time.Now,
		jobs:      make(map[string]jobEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the request and starts a job in the background.
func (s *Service) Submit(ctx context.Context, content types.ContentType, prompt string) (types.GenerationJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return types.GenerationJob{}, apperr.NewConfigError("prompt", "cannot be empty")
	}
	if content == nil {
		return types.GenerationJob{}, apperr.NewConfigError("kind", "required")
	}

	var run func(context.Context) (string, error)
	switch c := content.(type) {
	case types.Image:
		if s.images == nil {
			return types.GenerationJob{}, apperr.NewProviderError("creator", apperr.Unavailable, fmt.Errorf("image generation is not configured"))
		}
		run = func(ctx context.Context) (string, error) {
			return s.images.GenerateImage(ctx, prompt, c.AspectRatio)
		}
	default:
		return types.GenerationJob{}, apperr.NewProviderError("creator", apperr.InvalidRequest, fmt.Errorf("no generator for %s content", content.Kind()))
	}

	job := types.GenerationJob{
		ID:     uuid.NewString(),
		Kind:   content.Kind(),
		Prompt: prompt,
		Status: types.JobPending,
	}
	s.put(job)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		s.execute(jobCtx, job, run)
	}()
	return job, nil
}

func (s *Service) execute(ctx context.Context, job types.GenerationJob, run func(context.Context) (string, error)) {
	job.Status = types.JobProcessing
	s.put(job)

	url, err := run(ctx)
	if err != nil {
		slog.Error("content generation failed", "job_id", job.ID, "kind", job.Kind, "error", err.Error())
		job.Status = types.JobFailed
		job.Error = err.Error()
		s.put(job)
		return
	}
	job.Status = types.JobCompleted
	job.ResultURL = url
	s.put(job)
	slog.Info("content generated", "job_id", job.ID, "kind", job.Kind)
}

func (s *Service) put(job types.GenerationJob) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := jobEntry{job: job}
	if job.Status == types.JobCompleted || job.Status == types.JobFailed {
		entry.finishedAt = now
		s.pruneLocked(now)
	}
	s.jobs[job.ID] = entry
}

// pruneLocked drops finished jobs past retention. Pending and processing jobs are kept.
func (s *Service) pruneLocked(now time.Time) {
	for id, entry := range s.jobs {
		if !entry.finishedAt.IsZero() && now.Sub(entry.finishedAt) > s.retention {
			delete(s.jobs, id)
		}
	}
}

// Get returns the current view of a job.
func (s *Service) Get(id string) (types.GenerationJob, error) {
	now := s.now()
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok || (!entry.finishedAt.IsZero() && now.Sub(entry.finishedAt) > s.retention) {
		return types.GenerationJob{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	return entry.job, nil
}

// Len reports how many jobs are tracked.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Wait blocks until every submitted job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
