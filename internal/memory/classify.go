package memory

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/easeaico/persona-core/internal/types"
)

// Category is the classifier verdict for one piece of text.
type Category struct {
	Type       types.MemoryType `json:"type"`
	Confidence float64          `json:"confidence"`
}

func markers(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

const monthDayPattern = `\b(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sept?(ember)?|oct(ober)?|nov(ember)?|dec(ember)?)\.?\s+\d{1,2}(st|nd|rd|th)?\b`

var (
	factMarkers = markers(
		`\bbirthdays?\b`,
		`\bmy name is\b`,
		`\bname is\b`,
		`\bborn\b`,
		`\banniversary\b`,
		`\b\d+\s+years?\s+old\b`,
		`\blives? in\b`,
		`\bworks? (at|as)\b`,
		monthDayPattern,
		`\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`,
		`\b\d{4}-\d{2}-\d{2}\b`,
	)
	emotionMarkers = markers(
		`\bfelt\b`,
		`\bfeel(s|ing)?\b`,
		`\bhappy\b`,
		`\bsad\b`,
		`\bexcited\b`,
		`\bangry\b`,
		`\banxious\b`,
		`\bupset\b`,
		`\blonely\b`,
		`\bscared\b`,
		`\bproud\b`,
		`\bcried\b`,
		`\bstressed\b`,
		`\bdepressed\b`,
	)
	preferenceMarkers = markers(
		`\bprefers?\b`,
		`\blikes?\b`,
		`\bloves?\b`,
		`\bhates?\b`,
		`\bdislikes?\b`,
		`\bfavou?rites?\b`,
		`\benjoys?\b`,
		`\bcan'?t stand\b`,
	)
	salientMarkers = markers(
		`\b(died|dies|passed away|death|funeral)\b`,
		`\b(pregnant|pregnancy|gave birth|was born|newborn)\b`,
		`\b(married|wedding|engaged|divorced?)\b`,
		`\b(breakup|break up|broke up)\b`,
		`\b(graduated|graduation|promoted|promotion|new job|got hired|fired|laid off)\b`,
		`\b(diagnosed|diagnosis|surgery|hospital|accident|cancer)\b`,
		`\bmoved to\b`,
	)
	incidentalMarkers = markers(
		`\bweather\b`,
		`\b(sunny|rainy|raining|cloudy|snowing)\b`,
		`\b(small talk|just chatting)\b`,
		`\b(lunch|breakfast|traffic)\b`,
	)
)

var emotionEmoji = []string{"😀", "😃", "😄", "😁", "😊", "🥰", "😍", "😂", "🤣", "❤️", "💔", "😢", "😭", "😡", "😠", "😞", "😔", "😟", "😰", "😱", "🥳"}

func countMatches(text string, patterns []*regexp.Regexp) int {
	hits := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			hits++
		}
	}
	return hits
}

func countEmoji(text string) int {
	hits := 0
	for _, e := range emotionEmoji {
		if strings.Contains(text, e) {
			hits++
		}
	}
	return hits
}

// CategorizeMemory classifies text by surface markers. Ties resolve fact > emotion > preference.
func CategorizeMemory(text string) Category {
	lower := strings.ToLower(text)

	if hits := countMatches(lower, factMarkers); hits > 0 {
		return Category{Type: types.MemoryFact, Confidence: confidence(hits)}
	}
	if hits := countMatches(lower, emotionMarkers) + countEmoji(text); hits > 0 {
		return Category{Type: types.MemoryEmotion, Confidence: confidence(hits)}
	}
	if hits := countMatches(lower, preferenceMarkers); hits > 0 {
		return Category{Type: types.MemoryPreference, Confidence: confidence(hits)}
	}
	return Category{Type: types.MemoryOther, Confidence: 0.3}
}

func confidence(hits int) float64 {
	return min(0.5+0.15*float64(hits), 0.95)
}

const (
	salientBase    = 0.8
	factBase       = 0.6
	emotionBase    = 0.55
	preferenceBase = 0.45
	neutralBase    = 0.3
	incidentalBase = 0.15
	adjustmentStep = 0.05
)

// CalculateImportance scores text in [0,1]. Life events dominate; small talk scores lowest.
func CalculateImportance(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	lower := strings.ToLower(trimmed)

	var score float64
	switch {
	case countMatches(lower, salientMarkers) > 0:
		score = salientBase
	default:
		switch CategorizeMemory(trimmed).Type {
		case types.MemoryFact:
			score = factBase
		case types.MemoryEmotion:
			score = emotionBase
		case types.MemoryPreference:
			score = preferenceBase
		default:
			if countMatches(lower, incidentalMarkers) > 0 {
				score = incidentalBase
			} else {
				score = neutralBase
			}
		}
	}

	if strings.IndexFunc(trimmed, unicode.IsDigit) >= 0 {
		score += adjustmentStep
	}
	if hasNamedEntity(trimmed) {
		score += adjustmentStep
	}
	words := len(strings.Fields(trimmed))
	if words >= 12 {
		score += adjustmentStep
	}
	if words >= 25 {
		score += adjustmentStep
	}
	return clamp01(score)
}

// hasNamedEntity looks for a capitalized word that does not start a sentence.
func hasNamedEntity(text string) bool {
	fields := strings.Fields(text)
	for i := 1; i < len(fields); i++ {
		prev := fields[i-1]
		if strings.HasSuffix(prev, ".") || strings.HasSuffix(prev, "!") || strings.HasSuffix(prev, "?") {
			continue
		}
		word := strings.TrimFunc(fields[i], func(r rune) bool { return !unicode.IsLetter(r) })
		if word == "" || word == "I" || strings.HasPrefix(word, "I'") {
			continue
		}
		if unicode.IsUpper([]rune(word)[0]) {
			return true
		}
	}
	return false
}

// clamp01 keeps a float in [0,1].
func clamp01(value float64) float64 {
	if value != value || value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
