package emotion

// EmotionLabel is a sentiment polarity.
type EmotionLabel string

const (
	EmotionPositive EmotionLabel = "Positive"
	EmotionNegative EmotionLabel = "Negative"
	EmotionNeutral  EmotionLabel = "Neutral"
)

const (
	MoodNeutral = "Neutral"
	MoodHappy   = "Happy"
	MoodSad     = "Sad"
	MoodAngry   = "Angry"
)

const (
	minAffection = -100
	maxAffection = 100
)

// State is a persona's running feelings toward one user in one conversation.
type State struct {
	Affection int    `json:"affection"`
	Mood      string `json:"mood"`
	MoodTurns int    `json:"mood_turns"`
	LastLabel string `json:"last_label"`
}

// NewState returns the state of a fresh conversation.
func NewState() State {
	return State{Mood: MoodNeutral}
}

// ClampAffection bounds affection to [-100, 100].
func ClampAffection(score int) int {
	return max(minAffection, min(maxAffection, score))
}

// RelationshipLevel names the band affection falls into.
func RelationshipLevel(affection int) string {
	switch {
	case affection <= -30:
		return "Distant"
	case affection < 10:
		return "Neutral"
	case affection < 40:
		return "Friendly"
	case affection < 70:
		return "Close"
	default:
		return "Intimate"
	}
}
