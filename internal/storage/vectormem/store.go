// Package vectormem is an in-process memory store: records live in a map and similarity runs
// through one chromem-go collection per (user, persona).
package vectormem

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

type scopeKey struct {
	userID    string
	personaID string
}

// Store keeps every record in process memory. It is safe for concurrent use.
type Store struct {
	db *chromem.DB

	mu          sync.RWMutex
	records     map[string]types.MemoryRecord
	collections map[scopeKey]*chromem.Collection
	entropy     *ulid.MonotonicEntropy
}

// New creates an empty store.
func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		records:     make(map[string]types.MemoryRecord),
		collections: make(map[scopeKey]*chromem.Collection),
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *Store) newID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), s.entropy).String()
}

// collection must be called with the write lock held.
func (s *Store) collection(key scopeKey) (*chromem.Collection, error) {
	if col, ok := s.collections[key]; ok {
		return col, nil
	}
	name := fmt.Sprintf("memories_%d_%s_%s", len(s.collections), key.userID, key.personaID)
	col, err := s.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	s.collections[key] = col
	return col, nil
}

// insertLocked stores record and indexes its embedding. Callers hold the write lock.
func (s *Store) insertLocked(ctx context.Context, record types.MemoryRecord) (types.MemoryRecord, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.ID == "" {
		record.ID = s.newID(record.CreatedAt)
	}
	if _, exists := s.records[record.ID]; exists {
		return types.MemoryRecord{}, fmt.Errorf("memory %s already exists", record.ID)
	}
	if indexable(record.Embedding) && record.ConsolidatedInto == "" {
		col, err := s.collection(scopeKey{record.UserID, record.PersonaID})
		if err != nil {
			return types.MemoryRecord{}, err
		}
		doc := chromem.Document{
			ID:        record.ID,
			Content:   record.Content,
			Embedding: append([]float32(nil), record.Embedding...),
			Metadata:  map[string]string{"type": string(record.Type)},
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return types.MemoryRecord{}, fmt.Errorf("failed to index memory: %w", err)
		}
	}
	record.Embedding = append([]float32(nil), record.Embedding...)
	record.SourceIDs = append([]string(nil), record.SourceIDs...)
	s.records[record.ID] = record
	return record, nil
}

// Insert stores record and returns its id. An empty id is replaced by a ULID.
func (s *Store) Insert(ctx context.Context, record types.MemoryRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.insertLocked(ctx, record)
	if err != nil {
		return "", apperr.NewStorageError("insert", err)
	}
	return stored.ID, nil
}

// Recent returns active records, newest first.
func (s *Store) Recent(_ context.Context, userID, personaID string, limit int) ([]types.MemoryRecord, error) {
	records := s.active(userID, personaID, func(types.MemoryRecord) bool { return true })
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	return truncate(records, limit), nil
}

// SimilaritySearch ranks active records by cosine similarity to embedding.
func (s *Store) SimilaritySearch(ctx context.Context, userID, personaID string, embedding []float32, limit int) ([]types.ScoredMemory, error) {
	if !indexable(embedding) || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[scopeKey{userID, personaID}]
	if !ok {
		return nil, nil
	}
	n := min(limit, col.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, apperr.NewStorageError("similarity search", err)
	}

	hits := make([]types.ScoredMemory, 0, len(results))
	for _, result := range results {
		record, ok := s.records[result.ID]
		if !ok || record.ConsolidatedInto != "" {
			continue
		}
		hits = append(hits, types.ScoredMemory{Record: clone(record), Score: float64(result.Similarity)})
	}
	return hits, nil
}

// MarkConsolidated points every id at summaryID. Nothing changes if any id is unknown or
// already consolidated.
func (s *Store) MarkConsolidated(ctx context.Context, ids []string, summaryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSourcesLocked(ids); err != nil {
		return err
	}
	return s.markLocked(ctx, ids, summaryID)
}

func (s *Store) checkSourcesLocked(ids []string) error {
	for _, id := range ids {
		record, ok := s.records[id]
		if !ok {
			return fmt.Errorf("memory %s: %w", id, apperr.ErrNotFound)
		}
		if record.ConsolidatedInto != "" {
			return fmt.Errorf("memory %s: %w", id, apperr.ErrAlreadyConsolidated)
		}
	}
	return nil
}

func (s *Store) markLocked(ctx context.Context, ids []string, summaryID string) error {
	byScope := make(map[scopeKey][]string)
	for _, id := range ids {
		record := s.records[id]
		record.ConsolidatedInto = summaryID
		s.records[id] = record
		key := scopeKey{record.UserID, record.PersonaID}
		byScope[key] = append(byScope[key], id)
	}
	for key, scoped := range byScope {
		col, ok := s.collections[key]
		if !ok {
			continue
		}
		if err := col.Delete(ctx, nil, nil, scoped...); err != nil {
			return apperr.NewStorageError("unindex consolidated", err)
		}
	}
	return nil
}

// Candidates lists consolidation candidates, oldest first.
func (s *Store) Candidates(_ context.Context, userID, personaID string, olderThan time.Time, maxImportance float64) ([]types.MemoryRecord, error) {
	records := s.active(userID, personaID, func(r types.MemoryRecord) bool {
		return !r.IsSummary() && r.CreatedAt.Before(olderThan) && r.Importance < maxImportance
	})
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// MostImportant returns active records by importance, highest first.
func (s *Store) MostImportant(_ context.Context, userID, personaID string, limit int) ([]types.MemoryRecord, error) {
	records := s.active(userID, personaID, func(types.MemoryRecord) bool { return true })
	sort.Slice(records, func(i, j int) bool {
		if records[i].Importance != records[j].Importance {
			return records[i].Importance > records[j].Importance
		}
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return truncate(records, limit), nil
}

// Consolidate inserts summary and marks sourceIDs under a single lock.
func (s *Store) Consolidate(ctx context.Context, summary types.MemoryRecord, sourceIDs []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSourcesLocked(sourceIDs); err != nil {
		return "", err
	}
	summary.SourceIDs = append([]string(nil), sourceIDs...)
	stored, err := s.insertLocked(ctx, summary)
	if err != nil {
		return "", apperr.NewStorageError("insert summary", err)
	}
	if err := s.markLocked(ctx, sourceIDs, stored.ID); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// Count returns the number of active records in the scope.
func (s *Store) Count(_ context.Context, userID, personaID string) (int64, error) {
	return int64(len(s.active(userID, personaID, func(types.MemoryRecord) bool { return true }))), nil
}

// Get returns one record, consolidated or not.
func (s *Store) Get(_ context.Context, id string) (types.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return types.MemoryRecord{}, fmt.Errorf("memory %s: %w", id, apperr.ErrNotFound)
	}
	return clone(record), nil
}

func (s *Store) active(userID, personaID string, keep func(types.MemoryRecord) bool) []types.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.MemoryRecord
	for _, record := range s.records {
		if record.UserID != userID || record.PersonaID != personaID || record.ConsolidatedInto != "" {
			continue
		}
		if keep(record) {
			out = append(out, clone(record))
		}
	}
	return out
}

func clone(record types.MemoryRecord) types.MemoryRecord {
	record.Embedding = append([]float32(nil), record.Embedding...)
	record.SourceIDs = append([]string(nil), record.SourceIDs...)
	return record
}

func truncate(records []types.MemoryRecord, limit int) []types.MemoryRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

// indexable rejects empty and zero vectors, which have no direction to compare.
func indexable(vec []float32) bool {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return len(vec) > 0 && sum > 0 && !math.IsNaN(sum)
}
