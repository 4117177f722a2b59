package creator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

type fakeImages struct {
	url         string
	err         error
	aspectRatio string
	prompt      string
	release     chan struct{}
}

var _ ImageGenerator = (*fakeImages)(nil)

func (f *fakeImages) GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error) {
	if f.release != nil {
		<-f.release
	}
	f.prompt = prompt
	f.aspectRatio = aspectRatio
	return f.url, f.err
}

func TestSubmitImageCompletes(t *testing.T) {
	images := &fakeImages{url: "data:image/png;base64,AAAA", release: make(chan struct{})}
	svc := NewService(images)

	job, err := svc.Submit(context.Background(), types.Image{AspectRatio: "1:1"}, "  a cat on a roof ")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID == "" || job.Status != types.JobPending || job.Kind != "image" {
		t.Fatalf("unexpected job: %+v", job)
	}

	close(images.release)
	svc.Wait()

	got, err := svc.Get(job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.JobCompleted || got.ResultURL != images.url {
		t.Fatalf("unexpected job: %+v", got)
	}
	if images.prompt != "a cat on a roof" || images.aspectRatio != "1:1" {
		t.Fatalf("unexpected generator input: %q %q", images.prompt, images.aspectRatio)
	}
}

func TestSubmitImageFails(t *testing.T) {
	svc := NewService(&fakeImages{err: errors.New("quota")})
	job, err := svc.Submit(context.Background(), types.Image{}, "sunset")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Wait()

	got, _ := svc.Get(job.ID)
	if got.Status != types.JobFailed || got.Error == "" || got.ResultURL != "" {
		t.Fatalf("unexpected job: %+v", got)
	}
}

func TestSubmitRejectsUnsupportedKinds(t *testing.T) {
	svc := NewService(&fakeImages{})
	for _, content := range []types.ContentType{types.Music{}, types.Video{}, types.Meme{}} {
		_, err := svc.Submit(context.Background(), content, "something")
		if !apperr.IsKind(err, apperr.InvalidRequest) {
			t.Errorf("%s: expected InvalidRequest, got %v", content.Kind(), err)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(nil)
	var configErr *apperr.ConfigError
	if _, err := svc.Submit(context.Background(), types.Image{}, "  "); !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := svc.Submit(context.Background(), types.Image{}, "cat"); !apperr.IsKind(err, apperr.Unavailable) {
		t.Fatalf("expected Unavailable without a generator, got %v", err)
	}
}

func TestGetUnknownJob(t *testing.T) {
	_, err := NewService(nil).Get("missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNormalizeAspectRatio(t *testing.T) {
	if got := normalizeAspectRatio("16:9", "9:16"); got != "16:9" {
		t.Fatalf("unexpected ratio %s", got)
	}
	if got := normalizeAspectRatio("21:9", "9:16"); got != "9:16" {
		t.Fatalf("unexpected fallback %s", got)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestFinishedJobsExpire(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	images := &fakeImages{url: "data:image/png;base64,AAAA"}
	svc := NewService(images, WithRetention(time.Hour), WithClock(clock.Now))

	done, err := svc.Submit(context.Background(), types.Image{}, "first")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Wait()

	images.release = make(chan struct{})
	running, err := svc.Submit(context.Background(), types.Image{}, "second")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if _, err := svc.Get(done.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected expired job to be gone, got %v", err)
	}
	if _, err := svc.Get(running.ID); err != nil {
		t.Fatalf("unfinished job should stay readable: %v", err)
	}

	close(images.release)
	svc.Wait()
	if n := svc.Len(); n != 1 {
		t.Fatalf("expected only the fresh job to be tracked, got %d", n)
	}
	got, err := svc.Get(running.ID)
	if err != nil || got.Status != types.JobCompleted {
		t.Fatalf("unexpected job %+v: %v", got, err)
	}
}
