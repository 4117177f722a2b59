package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/easeaico/persona-core/internal/types"
)

const emotionHintIntensity = 0.7

type extractedItem struct {
	content    string
	memoryType types.MemoryType
	importance *float64
}

// RecordExchange turns a finished exchange into memories. The emotional context of the reply
// is used as a classification hint.
func (m *Manager) RecordExchange(ctx context.Context, userText, reply string, emotional *types.EmotionalContext) ([]types.MemoryRecord, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, nil
	}

	var added []types.MemoryRecord
	var errs []error
	for _, item := range m.extractItems(ctx, userText, reply, emotional) {
		if m.isDuplicate(ctx, item.content) {
			continue
		}
		opts := []AddOption{WithType(item.memoryType)}
		if item.importance != nil {
			opts = append(opts, WithImportance(*item.importance))
		}
		record, err := m.AddMemory(ctx, item.content, opts...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		added = append(added, record)
	}
	return added, errors.Join(errs...)
}

func (m *Manager) extractItems(ctx context.Context, userText, reply string, emotional *types.EmotionalContext) []extractedItem {
	if m.summarizer != nil {
		extracted, err := m.summarizer.ExtractExchange(ctx, userText, reply)
		if err == nil {
			return itemsFromExtraction(extracted, emotional)
		}
		slog.Warn("memory extraction failed, using heuristics", "user_id", m.scope.UserID, "persona_id", m.scope.PersonaID, "error", err.Error())
	}

	var items []extractedItem
	if CalculateImportance(userText) >= m.settings.ExtractionMinImportance {
		items = append(items, extractedItem{content: userText, memoryType: CategorizeMemory(userText).Type})
	}
	if emotional != nil && emotional.Intensity >= emotionHintIntensity && emotional.Label != "" && emotional.Label != "neutral" {
		items = append(items, extractedItem{
			content:    fmt.Sprintf("User felt %s while saying: %s", emotional.Label, userText),
			memoryType: types.MemoryEmotion,
		})
	}
	return items
}

func itemsFromExtraction(extracted types.ExtractedMemory, emotional *types.EmotionalContext) []extractedItem {
	salience := ComputeSalience(extracted, emotional)
	scored := func(text string) *float64 {
		score := max(CalculateImportance(text), salience)
		return &score
	}

	var items []extractedItem
	for _, fact := range extracted.Facts {
		if fact = strings.TrimSpace(fact); fact == "" {
			continue
		}
		memoryType := CategorizeMemory(fact).Type
		if memoryType != types.MemoryPreference {
			memoryType = types.MemoryFact
		}
		items = append(items, extractedItem{content: fact, memoryType: memoryType, importance: scored(fact)})
	}
	for _, commitment := range extracted.Commitments {
		if commitment = strings.TrimSpace(commitment); commitment != "" {
			items = append(items, extractedItem{content: commitment, memoryType: types.MemoryEvent, importance: scored(commitment)})
		}
	}
	for _, emotion := range extracted.Emotions {
		if emotion = strings.TrimSpace(emotion); emotion != "" {
			items = append(items, extractedItem{content: emotion, memoryType: types.MemoryEmotion, importance: scored(emotion)})
		}
	}
	return items
}

// isDuplicate reports whether an almost identical memory is already stored. Lookup failures
// are treated as "not a duplicate".
func (m *Manager) isDuplicate(ctx context.Context, content string) bool {
	if m.embedder == nil || m.settings.DuplicateThreshold <= 0 {
		return false
	}
	vec, err := m.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return false
	}
	hits, err := m.store.SimilaritySearch(ctx, m.scope.UserID, m.scope.PersonaID, vec, 1)
	if err != nil || len(hits) == 0 {
		return false
	}
	return hits[0].Score >= m.settings.DuplicateThreshold
}
