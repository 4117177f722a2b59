package emotion

import "fmt"

// MoodInstruction returns a short behavior guideline for the given mood.
func MoodInstruction(mood string) string {
	switch mood {
	case MoodAngry:
		return "Keep replies cool and brief; avoid affectionate language."
	case MoodSad:
		return "Sound subdued and a little hurt, but stay kind."
	case MoodHappy:
		return "Sound warm and upbeat; light affection is welcome."
	default:
		return ""
	}
}

// Describe renders state for the /mood command.
func Describe(state State) string {
	mood := state.Mood
	if mood == "" {
		mood = MoodNeutral
	}
	return fmt.Sprintf("Mood: %s | Affection: %d | Relationship: %s", mood, state.Affection, RelationshipLevel(state.Affection))
}
