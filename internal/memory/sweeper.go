package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Sweeper periodically consolidates every scope that has been active recently.
type Sweeper struct {
	factory     *Factory
	interval    time.Duration
	retention   time.Duration
	concurrency int
	now         func() time.Time

	mu       sync.Mutex
	lastSeen map[Scope]time.Time
}

// NewSweeper creates a sweeper. A scope is forgotten once it has been idle longer than the
// consolidation minimum age plus one interval, since nothing new can become eligible after that.
func NewSweeper(factory *Factory, interval time.Duration, concurrency int) *Sweeper {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		factory:     factory,
		interval:    interval,
		retention:   factory.Settings.ConsolidationMinAge + interval,
		concurrency: concurrency,
		now:         time.Now,
		lastSeen:    make(map[Scope]time.Time),
	}
}

// Touch marks scope as active.
func (s *Sweeper) Touch(scope Scope) {
	s.mu.Lock()
	s.lastSeen[scope] = s.now()
	s.mu.Unlock()
}

// Scopes returns the scopes currently tracked.
func (s *Sweeper) Scopes() []Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes := make([]Scope, 0, len(s.lastSeen))
	for scope := range s.lastSeen {
		scopes = append(scopes, scope)
	}
	return scopes
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("consolidation sweep finished with errors", "error", err.Error())
			}
		}
	}
}

// SweepOnce consolidates every tracked scope and prunes idle ones.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	scopes := s.prune()

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, scope := range scopes {
		g.Go(func() error {
			manager, err := s.factory.For(scope.UserID, scope.PersonaID)
			if err == nil {
				_, err = manager.ConsolidateMemories(gctx)
			}
			if err != nil {
				slog.Warn("scope consolidation failed", "user_id", scope.UserID, "persona_id", scope.PersonaID, "error", err.Error())
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *Sweeper) prune() []Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.retention)
	scopes := make([]Scope, 0, len(s.lastSeen))
	for scope, seen := range s.lastSeen {
		if seen.Before(cutoff) {
			delete(s.lastSeen, scope)
			continue
		}
		scopes = append(scopes, scope)
	}
	return scopes
}
