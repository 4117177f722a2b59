package memory

import (
	"context"
	"time"

	"github.com/easeaico/persona-core/internal/types"
)

// Store is the durable record of memories. Implementations are safe for concurrent use and
// never return records that were folded into a summary.
type Store interface {
	Insert(ctx context.Context, record types.MemoryRecord) (string, error)
	Recent(ctx context.Context, userID, personaID string, limit int) ([]types.MemoryRecord, error)
	// SimilaritySearch ranks by descending cosine similarity. Records without an embedding never match.
	SimilaritySearch(ctx context.Context, userID, personaID string, embedding []float32, limit int) ([]types.ScoredMemory, error)
	// MarkConsolidated points every listed record at summaryID, all or nothing.
	MarkConsolidated(ctx context.Context, ids []string, summaryID string) error

	// Candidates lists unsummarized, non-summary records created before olderThan with
	// importance below maxImportance, oldest first.
	Candidates(ctx context.Context, userID, personaID string, olderThan time.Time, maxImportance float64) ([]types.MemoryRecord, error)
	MostImportant(ctx context.Context, userID, personaID string, limit int) ([]types.MemoryRecord, error)
	// Consolidate inserts summary and marks sourceIDs in one atomic batch.
	Consolidate(ctx context.Context, summary types.MemoryRecord, sourceIDs []string) (string, error)
	Count(ctx context.Context, userID, personaID string) (int64, error)
}
