package emotion

// StateMachine updates affection and mood.
type StateMachine struct{}

const (
	minMoodTurns      = 2
	negativeThreshold = 2
	positiveThreshold = 2
	angryAffection    = -40
)

// NewStateMachine returns a StateMachine.
func NewStateMachine() *StateMachine {
	return &StateMachine{}
}

// Update returns the updated emotion state. Mood only flips after the same polarity was
// seen on consecutive turns.
func (s *StateMachine) Update(state State, label EmotionLabel) State {
	switch label {
	case EmotionPositive:
		state.Affection += 5
	case EmotionNegative:
		state.Affection -= 10
	case EmotionNeutral:
		state.Affection += 1
	}

	state.Affection = ClampAffection(state.Affection)
	if state.Mood == "" {
		state.Mood = MoodNeutral
	}

	labelStr := string(label)
	streak := 1
	if state.LastLabel == labelStr {
		streak = state.MoodTurns + 1
	}

	desired := deriveMood(state.Affection, label, state.Mood)
	switch label {
	case EmotionPositive:
		if desired != state.Mood && streak >= positiveThreshold && streak >= minMoodTurns {
			state.Mood = desired
		}
	case EmotionNegative:
		if desired != state.Mood && streak >= negativeThreshold && streak >= minMoodTurns {
			state.Mood = desired
		}
	case EmotionNeutral:
		// neutral turns keep the current mood
	}

	state.LastLabel = labelStr
	state.MoodTurns = streak
	return state
}

func deriveMood(affection int, label EmotionLabel, current string) string {
	switch label {
	case EmotionNegative:
		if affection <= angryAffection {
			return MoodAngry
		}
		return MoodSad
	case EmotionPositive:
		return MoodHappy
	case EmotionNeutral:
		if current != "" {
			return current
		}
		return MoodNeutral
	default:
		return MoodNeutral
	}
}
