package vectormem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

func record(content string, embedding []float32, importance float64, at time.Time) types.MemoryRecord {
	return types.MemoryRecord{
		UserID:     "user-1",
		PersonaID:  "luna",
		Content:    content,
		Type:       types.MemoryOther,
		Importance: importance,
		Embedding:  embedding,
		CreatedAt:  at,
	}
}

func TestInsertAssignsSortableIDs(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := s.Insert(ctx, record("a", nil, 0.2, base))
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	second, err := s.Insert(ctx, record("b", nil, 0.2, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if first == "" || second <= first {
		t.Fatalf("expected increasing ids, got %q then %q", first, second)
	}

	if _, err := s.Insert(ctx, types.MemoryRecord{ID: first, UserID: "user-1", PersonaID: "luna"}); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestSimilaritySearchRanksAndSkipsUnembedded(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	near, _ := s.Insert(ctx, record("near", []float32{1, 0.1, 0}, 0.5, now))
	far, _ := s.Insert(ctx, record("far", []float32{0, 0, 1}, 0.5, now))
	if _, err := s.Insert(ctx, record("degraded", nil, 0.5, now)); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	hits, err := s.SimilaritySearch(ctx, "user-1", "luna", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("SimilaritySearch returned error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected only embedded records, got %+v", hits)
	}
	if hits[0].Record.ID != near || hits[1].Record.ID != far {
		t.Fatalf("unexpected order: %s, %s", hits[0].Record.ID, hits[1].Record.ID)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("scores must descend: %v, %v", hits[0].Score, hits[1].Score)
	}

	other, err := s.SimilaritySearch(ctx, "user-2", "luna", []float32{1, 0, 0}, 10)
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no hits for another user, got %+v, %v", other, err)
	}
}

func TestConsolidateIsAtomicAndExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	a, _ := s.Insert(ctx, record("a", []float32{1, 0}, 0.1, old))
	b, _ := s.Insert(ctx, record("b", []float32{0.9, 0.1}, 0.2, old.Add(time.Hour)))

	summary := record("a and b", []float32{1, 0.05}, 0.2, old.Add(48*time.Hour))
	summary.Type = types.MemorySummary
	summaryID, err := s.Consolidate(ctx, summary, []string{a, b})
	if err != nil {
		t.Fatalf("Consolidate returned error: %v", err)
	}

	recent, _ := s.Recent(ctx, "user-1", "luna", 10)
	if len(recent) != 1 || recent[0].ID != summaryID || len(recent[0].SourceIDs) != 2 {
		t.Fatalf("expected only the summary, got %+v", recent)
	}
	hits, _ := s.SimilaritySearch(ctx, "user-1", "luna", []float32{1, 0}, 10)
	if len(hits) != 1 || hits[0].Record.ID != summaryID {
		t.Fatalf("expected search to return the summary only, got %+v", hits)
	}
	candidates, _ := s.Candidates(ctx, "user-1", "luna", time.Now(), 1)
	if len(candidates) != 0 {
		t.Fatalf("summaries and sources are never candidates, got %+v", candidates)
	}

	_, err = s.Consolidate(ctx, summary, []string{a})
	if !errors.Is(err, apperr.ErrAlreadyConsolidated) {
		t.Fatalf("expected ErrAlreadyConsolidated, got %v", err)
	}
	if count, _ := s.Count(ctx, "user-1", "luna"); count != 1 {
		t.Fatalf("failed batch must not insert, count=%d", count)
	}
}

func TestMarkConsolidatedAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	a, _ := s.Insert(ctx, record("a", nil, 0.1, time.Now()))

	err := s.MarkConsolidated(ctx, []string{a, "missing"}, "summary")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	got, _ := s.Get(ctx, a)
	if got.ConsolidatedInto != "" {
		t.Fatalf("record must stay unmarked after a failed batch: %+v", got)
	}
}

func TestCandidatesAndMostImportant(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	low, _ := s.Insert(ctx, record("low", nil, 0.1, base))
	mid, _ := s.Insert(ctx, record("mid", nil, 0.5, base.Add(time.Hour)))
	high, _ := s.Insert(ctx, record("high", nil, 0.9, base.Add(2*time.Hour)))
	s.Insert(ctx, record("recent low", nil, 0.1, base.Add(30*24*time.Hour)))

	candidates, _ := s.Candidates(ctx, "user-1", "luna", base.Add(24*time.Hour), 0.4)
	if len(candidates) != 1 || candidates[0].ID != low {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	top, _ := s.MostImportant(ctx, "user-1", "luna", 2)
	if len(top) != 2 || top[0].ID != high || top[1].ID != mid {
		t.Fatalf("unexpected ranking: %+v", top)
	}
}

func TestConcurrentInserts(t *testing.T) {
	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec := []float32{float32(i + 1), 1}
			if _, err := s.Insert(ctx, record("x", vec, 0.3, time.Now())); err != nil {
				t.Errorf("Insert returned error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if count, _ := s.Count(ctx, "user-1", "luna"); count != 50 {
		t.Fatalf("expected 50 records, got %d", count)
	}
}
