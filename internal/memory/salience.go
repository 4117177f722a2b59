package memory

import (
	"unicode/utf8"

	"github.com/easeaico/persona-core/internal/types"
)

// ComputeSalience scores an extracted exchange in [0,1] from its memory signals and the
// emotional context of the reply that produced it.
func ComputeSalience(extracted types.ExtractedMemory, emotional *types.EmotionalContext) float64 {
	score := 0.0

	if extracted.Summary != "" {
		score += 0.10
	}

	score += float64(min(len(extracted.Facts), 3)) * 0.15
	score += float64(min(len(extracted.Commitments), 2)) * 0.20
	score += float64(min(len(extracted.Emotions), 2)) * 0.10

	summaryLen := utf8.RuneCountInString(extracted.Summary)
	if summaryLen >= 200 {
		score += 0.10
	} else if summaryLen >= 100 {
		score += 0.05
	}

	if emotional != nil {
		switch {
		case emotional.Intensity >= 0.7:
			score += 0.10
		case emotional.Intensity >= 0.4:
			score += 0.05
		}
		if emotional.Valence < -0.5 {
			score += 0.05
		}
	}

	return clamp01(score)
}
