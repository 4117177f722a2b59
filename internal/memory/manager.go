package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

const defaultSearchLimit = 10

// Scope is the (user, persona) pair a manager is bound to.
type Scope struct {
	UserID    string
	PersonaID string
}

// Settings tunes retrieval, degradation and consolidation.
type Settings struct {
	SimilarityThreshold float64
	// DegradedMode stores memories without embeddings when the embedder is down.
	DegradedMode bool

	ConsolidationMinAge        time.Duration
	ConsolidationMaxImportance float64
	ConsolidationGroupWindow   time.Duration

	SummaryLimit            int
	ExtractionMinImportance float64
	DuplicateThreshold      float64
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		ConsolidationMinAge:        7 * 24 * time.Hour,
		ConsolidationMaxImportance: 0.4,
		ConsolidationGroupWindow:   72 * time.Hour,
		SummaryLimit:               10,
		ExtractionMinImportance:    0.3,
		DuplicateThreshold:         0.95,
	}
}

// Manager classifies, stores, retrieves and consolidates memories for one scope.
type Manager struct {
	store      Store
	embedder   Embedder
	summarizer Summarizer
	scope      Scope
	settings   Settings
	now        func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithSummarizer enables model-written consolidation summaries and exchange extraction.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(m *Manager) { m.settings = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager binds a manager to scope.
func NewManager(store Store, embedder Embedder, scope Scope, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, apperr.NewConfigError("memory.store", "required")
	}
	if strings.TrimSpace(scope.UserID) == "" {
		return nil, apperr.NewConfigError("user_id", "required")
	}
	if strings.TrimSpace(scope.PersonaID) == "" {
		return nil, apperr.NewConfigError("persona_id", "required")
	}
	m := &Manager{
		store:    store,
		embedder: embedder,
		scope:    scope,
		settings: DefaultSettings(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Scope returns the bound (user, persona) pair.
func (m *Manager) Scope() Scope {
	return m.scope
}

type addOptions struct {
	memoryType types.MemoryType
	importance *float64
}

// AddOption overrides classification or scoring for AddMemory.
type AddOption func(*addOptions)

// WithType skips classification.
func WithType(t types.MemoryType) AddOption {
	return func(o *addOptions) { o.memoryType = t }
}

// WithImportance skips scoring. The value is clamped to [0,1].
func WithImportance(importance float64) AddOption {
	return func(o *addOptions) { o.importance = &importance }
}

// AddMemory classifies, scores, embeds and stores content.
func (m *Manager) AddMemory(ctx context.Context, content string, opts ...AddOption) (types.MemoryRecord, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.MemoryRecord{}, apperr.NewConfigError("content", "memory content cannot be empty")
	}

	var o addOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.memoryType == "" {
		o.memoryType = CategorizeMemory(content).Type
	}
	importance := CalculateImportance(content)
	if o.importance != nil {
		importance = clamp01(*o.importance)
	}

	embedding, err := m.embedDocument(ctx, content)
	if err != nil {
		return types.MemoryRecord{}, err
	}

	record := types.MemoryRecord{
		UserID:     m.scope.UserID,
		PersonaID:  m.scope.PersonaID,
		Content:    content,
		Type:       o.memoryType,
		Importance: importance,
		Embedding:  embedding,
		CreatedAt:  m.now().UTC(),
	}
	id, err := m.store.Insert(ctx, record)
	if err != nil {
		return types.MemoryRecord{}, apperr.NewStorageError("insert", err)
	}
	record.ID = id
	return record, nil
}

// embedDocument returns nil without error when degraded mode absorbs an embedder failure.
func (m *Manager) embedDocument(ctx context.Context, text string) ([]float32, error) {
	if m.embedder == nil {
		if m.settings.DegradedMode {
			return nil, nil
		}
		return nil, &apperr.ClassificationError{Err: fmt.Errorf("no embedder configured")}
	}
	vec, err := m.embedWithRetry(ctx, m.embedder.EmbedDocument, text)
	if err == nil {
		return vec, nil
	}
	if m.settings.DegradedMode {
		slog.Warn("storing memory without embedding", "user_id", m.scope.UserID, "persona_id", m.scope.PersonaID, "error", err.Error())
		return nil, nil
	}
	return nil, &apperr.ClassificationError{Err: err}
}

// embedWithRetry retries once on a transient Unavailable failure.
func (m *Manager) embedWithRetry(ctx context.Context, embed func(context.Context, string) ([]float32, error), text string) ([]float32, error) {
	vec, err := embed(ctx, text)
	if err != nil && apperr.IsKind(err, apperr.Unavailable) && ctx.Err() == nil {
		slog.Warn("embedding unavailable, retrying once", "error", err.Error())
		vec, err = embed(ctx, text)
	}
	return vec, err
}

// GetRecentMemories returns up to limit unsummarized records, newest first.
func (m *Manager) GetRecentMemories(ctx context.Context, limit int) ([]types.MemoryRecord, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	records, err := m.store.Recent(ctx, m.scope.UserID, m.scope.PersonaID, limit)
	if err != nil {
		return nil, apperr.NewStorageError("recent", err)
	}
	return records, nil
}

// SearchMemories returns the records most similar to query, best first.
func (m *Manager) SearchMemories(ctx context.Context, query string, limit int) ([]types.MemoryRecord, error) {
	scored, err := m.SearchScored(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	records := make([]types.MemoryRecord, 0, len(scored))
	for _, hit := range scored {
		records = append(records, hit.Record)
	}
	return records, nil
}

// SearchScored is SearchMemories with similarity scores attached.
func (m *Manager) SearchScored(ctx context.Context, query string, limit int) ([]types.ScoredMemory, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if m.embedder == nil {
		return nil, apperr.NewProviderError("embedder", apperr.Unavailable, fmt.Errorf("no embedder configured"))
	}
	vec, err := m.embedWithRetry(ctx, m.embedder.EmbedQuery, query)
	if err != nil {
		return nil, err
	}
	hits, err := m.store.SimilaritySearch(ctx, m.scope.UserID, m.scope.PersonaID, vec, limit)
	if err != nil {
		return nil, apperr.NewStorageError("similarity search", err)
	}
	if m.settings.SimilarityThreshold <= 0 {
		return hits, nil
	}
	filtered := hits[:0]
	for _, hit := range hits {
		if hit.Score >= m.settings.SimilarityThreshold {
			filtered = append(filtered, hit)
		}
	}
	return filtered, nil
}

// Factory builds managers that share one store, embedder and summarizer.
type Factory struct {
	Store      Store
	Embedder   Embedder
	Summarizer Summarizer
	Settings   Settings
}

// For returns a manager bound to (userID, personaID).
func (f *Factory) For(userID, personaID string) (*Manager, error) {
	opts := []Option{WithSettings(f.Settings)}
	if f.Summarizer != nil {
		opts = append(opts, WithSummarizer(f.Summarizer))
	}
	return NewManager(f.Store, f.Embedder, Scope{UserID: userID, PersonaID: personaID}, opts...)
}
