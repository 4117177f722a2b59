package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

// memoryModel maps to the memory_records table.
type memoryModel struct {
	ID         string `gorm:"primaryKey"`
	UserID     string
	PersonaID  string
	Content    string
	Type       string
	Importance float64
	// Embedding is NULL for records stored in degraded mode.
	Embedding        *pgvector.Vector `gorm:"type:vector"`
	ConsolidatedInto *string
	SourceIDs        datatypes.JSON `gorm:"column:source_ids;type:jsonb"`
	CreatedAt        time.Time
}

func (memoryModel) TableName() string {
	return "memory_records"
}

type scoredMemoryModel struct {
	memoryModel `gorm:"embedded"`
	Score       float64
}

// MemoryStore is the pgvector-backed memory store.
type MemoryStore struct {
	db *gorm.DB
}

// NewMemoryStore returns a MemoryStore.
func NewMemoryStore(db *gorm.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

func (r *MemoryStore) Insert(ctx context.Context, record types.MemoryRecord) (string, error) {
	model, err := memoryToModel(record)
	if err != nil {
		return "", apperr.NewStorageError("insert", err)
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", apperr.NewStorageError("insert", fmt.Errorf("failed to insert memory: %w", err))
	}
	return model.ID, nil
}

func (r *MemoryStore) Recent(ctx context.Context, userID, personaID string, limit int) ([]types.MemoryRecord, error) {
	var models []memoryModel
	if err := r.active(ctx, userID, personaID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, apperr.NewStorageError("recent", fmt.Errorf("failed to query memories: %w", err))
	}
	return memoriesFromModels(models), nil
}

func (r *MemoryStore) SimilaritySearch(ctx context.Context, userID, personaID string, embedding []float32, limit int) ([]types.ScoredMemory, error) {
	if len(embedding) == 0 || limit <= 0 {
		return nil, nil
	}
	vector := pgvector.NewVector(embedding)

	var rows []scoredMemoryModel
	if err := r.db.WithContext(ctx).Raw(`
		SELECT *, 1 - (embedding <=> ?) AS score
		FROM memory_records
		WHERE user_id = ? AND persona_id = ?
		  AND consolidated_into IS NULL
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> ?
		LIMIT ?`, vector, userID, personaID, vector, limit).
		Scan(&rows).Error; err != nil {
		return nil, apperr.NewStorageError("similarity search", fmt.Errorf("failed to search similar memories: %w", err))
	}

	results := make([]types.ScoredMemory, 0, len(rows))
	for _, row := range rows {
		results = append(results, types.ScoredMemory{Record: memoryFromModel(row.memoryModel), Score: row.Score})
	}
	return results, nil
}

func (r *MemoryStore) MarkConsolidated(ctx context.Context, ids []string, summaryID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return markConsolidated(tx, ids, summaryID)
	})
}

// markConsolidated fails when any id is missing or already folded, rolling back the batch.
func markConsolidated(tx *gorm.DB, ids []string, summaryID string) error {
	if len(ids) == 0 {
		return nil
	}
	result := tx.Model(&memoryModel{}).
		Where("id IN ?", ids).
		Where("consolidated_into IS NULL").
		Update("consolidated_into", summaryID)
	if result.Error != nil {
		return apperr.NewStorageError("mark consolidated", result.Error)
	}
	if result.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("marked %d of %d memories: %w", result.RowsAffected, len(ids), apperr.ErrAlreadyConsolidated)
	}
	return nil
}

func (r *MemoryStore) Candidates(ctx context.Context, userID, personaID string, olderThan time.Time, maxImportance float64) ([]types.MemoryRecord, error) {
	var models []memoryModel
	if err := r.active(ctx, userID, personaID).
		Where("type <> ?", string(types.MemorySummary)).
		Where("created_at < ?", olderThan).
		Where("importance < ?", maxImportance).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, apperr.NewStorageError("candidates", fmt.Errorf("failed to query candidates: %w", err))
	}
	return memoriesFromModels(models), nil
}

func (r *MemoryStore) MostImportant(ctx context.Context, userID, personaID string, limit int) ([]types.MemoryRecord, error) {
	var models []memoryModel
	if err := r.active(ctx, userID, personaID).
		Order("importance DESC, created_at DESC, id ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, apperr.NewStorageError("most important", fmt.Errorf("failed to query memories: %w", err))
	}
	return memoriesFromModels(models), nil
}

func (r *MemoryStore) Consolidate(ctx context.Context, summary types.MemoryRecord, sourceIDs []string) (string, error) {
	summary.SourceIDs = sourceIDs
	model, err := memoryToModel(summary)
	if err != nil {
		return "", apperr.NewStorageError("consolidate", err)
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&model).Error; err != nil {
			return fmt.Errorf("failed to insert summary: %w", err)
		}
		return markConsolidated(tx, sourceIDs, model.ID)
	})
	if err != nil {
		return "", err
	}
	return model.ID, nil
}

func (r *MemoryStore) Count(ctx context.Context, userID, personaID string) (int64, error) {
	var count int64
	if err := r.active(ctx, userID, personaID).Count(&count).Error; err != nil {
		return 0, apperr.NewStorageError("count", err)
	}
	return count, nil
}

func (r *MemoryStore) active(ctx context.Context, userID, personaID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&memoryModel{}).
		Where("user_id = ? AND persona_id = ?", userID, personaID).
		Where("consolidated_into IS NULL")
}

func memoryToModel(record types.MemoryRecord) (memoryModel, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	id := record.ID
	if id == "" {
		id = ulid.MustNew(ulid.Timestamp(record.CreatedAt), ulid.DefaultEntropy()).String()
	}
	var vector *pgvector.Vector
	if len(record.Embedding) > 0 {
		v := pgvector.NewVector(record.Embedding)
		vector = &v
	}
	var consolidatedInto *string
	if record.ConsolidatedInto != "" {
		consolidatedInto = &record.ConsolidatedInto
	}
	var sourceIDs datatypes.JSON
	if len(record.SourceIDs) > 0 {
		raw, err := json.Marshal(record.SourceIDs)
		if err != nil {
			return memoryModel{}, fmt.Errorf("failed to encode source ids: %w", err)
		}
		sourceIDs = datatypes.JSON(raw)
	}
	return memoryModel{
		ID:               id,
		UserID:           record.UserID,
		PersonaID:        record.PersonaID,
		Content:          record.Content,
		Type:             string(record.Type),
		Importance:       record.Importance,
		Embedding:        vector,
		ConsolidatedInto: consolidatedInto,
		SourceIDs:        sourceIDs,
		CreatedAt:        record.CreatedAt,
	}, nil
}

// memoryFromModel converts database model to domain struct.
func memoryFromModel(model memoryModel) types.MemoryRecord {
	record := types.MemoryRecord{
		ID:         model.ID,
		UserID:     model.UserID,
		PersonaID:  model.PersonaID,
		Content:    model.Content,
		Type:       types.MemoryType(model.Type),
		Importance: model.Importance,
		CreatedAt:  model.CreatedAt,
	}
	if model.Embedding != nil {
		record.Embedding = model.Embedding.Slice()
	}
	if model.ConsolidatedInto != nil {
		record.ConsolidatedInto = *model.ConsolidatedInto
	}
	if len(model.SourceIDs) > 0 {
		_ = json.Unmarshal(model.SourceIDs, &record.SourceIDs)
	}
	return record
}

func memoriesFromModels(models []memoryModel) []types.MemoryRecord {
	records := make([]types.MemoryRecord, 0, len(models))
	for _, model := range models {
		records = append(records, memoryFromModel(model))
	}
	return records
}
