package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

const (
	minGroupSize = 2
	maxGroupSize = 20
)

var consolidationOrder = []types.MemoryType{
	types.MemoryFact,
	types.MemoryEmotion,
	types.MemoryPreference,
	types.MemoryEvent,
	types.MemoryOther,
}

// ConsolidateMemories folds old, low-importance records into summaries and returns the
// summaries it created. A run with nothing new to fold returns an empty slice.
func (m *Manager) ConsolidateMemories(ctx context.Context) ([]types.MemoryRecord, error) {
	cutoff := m.now().Add(-m.settings.ConsolidationMinAge)
	candidates, err := m.store.Candidates(ctx, m.scope.UserID, m.scope.PersonaID, cutoff, m.settings.ConsolidationMaxImportance)
	if err != nil {
		return nil, apperr.NewStorageError("candidates", err)
	}

	var summaries []types.MemoryRecord
	for _, group := range groupCandidates(candidates, m.settings) {
		summary, err := m.consolidateGroup(ctx, group)
		if errors.Is(err, apperr.ErrAlreadyConsolidated) {
			slog.Info("consolidation group already folded, skipping", "user_id", m.scope.UserID, "persona_id", m.scope.PersonaID)
			continue
		}
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, summary)
	}
	if len(summaries) > 0 {
		slog.Info("memories consolidated", "user_id", m.scope.UserID, "persona_id", m.scope.PersonaID, "summaries", len(summaries))
	}
	return summaries, nil
}

func (m *Manager) consolidateGroup(ctx context.Context, group []types.MemoryRecord) (types.MemoryRecord, error) {
	ids := make([]string, 0, len(group))
	importance := 0.0
	for _, record := range group {
		ids = append(ids, record.ID)
		importance = max(importance, record.Importance)
	}

	content := m.summarizeGroup(ctx, group)
	embedding, err := m.embedDocument(ctx, content)
	if err != nil {
		return types.MemoryRecord{}, err
	}

	summary := types.MemoryRecord{
		UserID:     m.scope.UserID,
		PersonaID:  m.scope.PersonaID,
		Content:    content,
		Type:       types.MemorySummary,
		Importance: importance,
		Embedding:  embedding,
		CreatedAt:  m.now().UTC(),
		SourceIDs:  ids,
	}
	id, err := m.store.Consolidate(ctx, summary, ids)
	if err != nil {
		return types.MemoryRecord{}, apperr.NewStorageError("consolidate", err)
	}
	summary.ID = id
	return summary, nil
}

// summarizeGroup asks the summarizer first and falls back to a deterministic rollup.
func (m *Manager) summarizeGroup(ctx context.Context, group []types.MemoryRecord) string {
	if m.summarizer != nil {
		contents := make([]string, 0, len(group))
		for _, record := range group {
			contents = append(contents, record.Content)
		}
		text, err := m.summarizer.SummarizeMemories(ctx, group[0].Type, contents)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil {
			slog.Warn("summarizer unavailable, using fallback rollup", "error", err.Error())
		}
	}
	return fallbackSummary(group)
}

func fallbackSummary(group []types.MemoryRecord) string {
	first := group[0].CreatedAt
	last := group[len(group)-1].CreatedAt
	var sb strings.Builder
	fmt.Fprintf(&sb, "Consolidated %d %s memories from %s to %s: ",
		len(group), group[0].Type, first.Format("2006-01-02"), last.Format("2006-01-02"))
	for i, record := range group {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(strings.TrimRight(strings.TrimSpace(record.Content), "."))
	}
	sb.WriteString(".")
	return sb.String()
}

// groupCandidates buckets by type, then splits each bucket where the gap between neighbours
// exceeds the group window. Groups too small to be worth a summary are dropped.
func groupCandidates(candidates []types.MemoryRecord, settings Settings) [][]types.MemoryRecord {
	byType := make(map[types.MemoryType][]types.MemoryRecord)
	for _, record := range candidates {
		if record.IsSummary() || record.ConsolidatedInto != "" {
			continue
		}
		byType[record.Type] = append(byType[record.Type], record)
	}

	var groups [][]types.MemoryRecord
	for _, memoryType := range consolidationOrder {
		bucket := byType[memoryType]
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].CreatedAt.Equal(bucket[j].CreatedAt) {
				return bucket[i].ID < bucket[j].ID
			}
			return bucket[i].CreatedAt.Before(bucket[j].CreatedAt)
		})

		var current []types.MemoryRecord
		flush := func() {
			if len(current) >= minGroupSize {
				groups = append(groups, current)
			}
			current = nil
		}
		for _, record := range bucket {
			if len(current) > 0 {
				gap := record.CreatedAt.Sub(current[len(current)-1].CreatedAt)
				if (settings.ConsolidationGroupWindow > 0 && gap > settings.ConsolidationGroupWindow) || len(current) >= maxGroupSize {
					flush()
				}
			}
			current = append(current, record)
		}
		flush()
	}
	return groups
}
