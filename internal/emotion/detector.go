package emotion

import (
	"regexp"
	"strings"
	"unicode"
)

// Signal is the emotion read from one piece of text.
type Signal struct {
	Label     string
	Intensity float64
	Valence   float64
}

// Polarity folds the signal into a sentiment label.
func (s Signal) Polarity() EmotionLabel {
	switch {
	case s.Valence >= 0.2:
		return EmotionPositive
	case s.Valence <= -0.2:
		return EmotionNegative
	default:
		return EmotionNeutral
	}
}

type lexicon struct {
	label   string
	valence float64
	pattern *regexp.Regexp
}

func newLexicon(label string, valence float64, terms ...string) lexicon {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted := regexp.QuoteMeta(term)
		if isASCIIWord(term) {
			quoted = `\b` + quoted + `\b`
		}
		parts = append(parts, quoted)
	}
	return lexicon{label: label, valence: valence, pattern: regexp.MustCompile(strings.Join(parts, "|"))}
}

func isASCIIWord(term string) bool {
	for _, r := range term {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || r == ' ' || r == '\'') {
			return false
		}
	}
	return true
}

// Lexicons are checked in order; earlier labels win ties.
var lexicons = []lexicon{
	newLexicon("angry", -0.8, "angry", "furious", "mad at", "hate", "annoyed", "annoying", "pissed", "shut up", "fuck", "生气", "讨厌", "滚", "闭嘴", "恨你", "😡", "😠", "🤬"),
	newLexicon("sad", -0.6, "sad", "lonely", "cried", "crying", "depressed", "heartbroken", "upset", "miserable", "disappointed", "难过", "失望", "😢", "😭", "💔", "😞", "😔"),
	newLexicon("anxious", -0.5, "anxious", "worried", "nervous", "scared", "afraid", "stressed", "panic", "overwhelmed", "担心", "紧张", "😰", "😟", "😱"),
	newLexicon("affectionate", 0.8, "love you", "adore you", "miss you", "hug", "hugs", "sweet", "thank you", "thanks", "爱你", "想你", "拥抱", "谢谢", "❤️", "🥰", "😍", "😘"),
	newLexicon("excited", 0.6, "excited", "can't wait", "cant wait", "amazing", "incredible", "omg", "woohoo", "🥳", "🎉", "🔥"),
	newLexicon("happy", 0.7, "happy", "glad", "great", "awesome", "wonderful", "good news", "yay", "fun", "enjoyed", "开心", "喜欢", "😀", "😃", "😄", "😊", "😂"),
}

var intensifiers = newLexicon("", 0, "so", "very", "really", "extremely", "totally", "super")

// Detect reads the dominant emotion of text with a keyword lexicon.
func Detect(text string) Signal {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return Signal{Label: "neutral"}
	}

	best := -1
	bestHits := 0
	for i, lex := range lexicons {
		hits := len(lex.pattern.FindAllStringIndex(lower, -1))
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return Signal{Label: "neutral"}
	}

	intensity := 0.4 + 0.2*float64(bestHits-1)
	if intensifiers.pattern.MatchString(lower) {
		intensity += 0.15
	}
	intensity += 0.1 * float64(min(strings.Count(text, "!"), 2))
	if hasShouting(text) {
		intensity += 0.15
	}
	intensity = min(intensity, 1)

	lex := lexicons[best]
	return Signal{
		Label:     lex.label,
		Intensity: intensity,
		Valence:   clampUnit(lex.valence * (0.5 + intensity/2)),
	}
}

// hasShouting reports an all-caps word of three or more letters.
func hasShouting(text string) bool {
	for _, field := range strings.Fields(text) {
		letters, upper := 0, 0
		for _, r := range field {
			if unicode.IsLetter(r) {
				letters++
				if unicode.IsUpper(r) {
					upper++
				}
			}
		}
		if letters >= 3 && letters == upper {
			return true
		}
	}
	return false
}

func clampUnit(v float64) float64 {
	return max(-1, min(1, v))
}
