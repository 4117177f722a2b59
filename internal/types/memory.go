package types

import "time"

// MemoryType classifies a memory record.
type MemoryType string

const (
	MemoryFact       MemoryType = "fact"
	MemoryEmotion    MemoryType = "emotion"
	MemoryPreference MemoryType = "preference"
	MemoryEvent      MemoryType = "event"
	MemoryOther      MemoryType = "other"
	// MemorySummary marks a consolidated rollup of older records.
	MemorySummary MemoryType = "summary"
)

// ParseMemoryType resolves raw into a MemoryType, reporting whether it is known.
func ParseMemoryType(raw string) (MemoryType, bool) {
	switch t := MemoryType(raw); t {
	case MemoryFact, MemoryEmotion, MemoryPreference, MemoryEvent, MemoryOther, MemorySummary:
		return t, true
	default:
		return "", false
	}
}

// MemoryRecord is one durable observation about a user, owned by a (user, persona) pair.
type MemoryRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	PersonaID  string     `json:"persona_id"`
	Content    string     `json:"content"`
	Type       MemoryType `json:"type"`
	Importance float64    `json:"importance"`
	// Embedding is empty for records stored without one; those never match similarity search.
	Embedding        []float32 `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	ConsolidatedInto string    `json:"consolidated_into,omitempty"`
	// SourceIDs is only set on summaries.
	SourceIDs []string `json:"source_ids,omitempty"`
}

// IsSummary reports whether the record is a consolidation summary.
func (r MemoryRecord) IsSummary() bool {
	return r.Type == MemorySummary
}

// ScoredMemory is a similarity search hit.
type ScoredMemory struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

// ExtractedMemory is the structured output of the exchange summarizer.
type ExtractedMemory struct {
	Summary     string   `json:"summary"`
	Facts       []string `json:"facts"`
	Commitments []string `json:"commitments"`
	Emotions    []string `json:"emotions"`
	// SalienceScore is normalized to [0,1] by the caller.
	SalienceScore float64 `json:"salience_score"`
}
