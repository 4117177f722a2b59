package types

// EmotionalContext is the per-reply mood annotation. It is not stored with the transcript.
type EmotionalContext struct {
	Mood      string  `json:"mood"`
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"`
	Valence   float64 `json:"valence"`
	Affection int     `json:"affection"`
}
