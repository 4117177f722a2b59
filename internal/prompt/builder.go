package prompt

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/types"
	"github.com/easeaico/persona-core/internal/utils"
)

// SystemPrompt renders the persona and optional world into a system prompt. The output depends
// only on its inputs.
func SystemPrompt(persona types.PersonaDefinition, world *types.WorldDefinition) (string, error) {
	override := strings.TrimSpace(persona.SystemPrompt)
	if override != "" {
		override = utils.NormalizePromptText(override, persona.Name, "the user")
	}

	data := struct {
		Persona  types.PersonaDefinition
		Profile  types.PersonaProfile
		World    *types.WorldDefinition
		Override string
	}{
		Persona:  persona,
		Profile:  persona.Type.Profile(),
		World:    world,
		Override: override,
	}

	var buf bytes.Buffer
	if err := personaTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build prompt: %w", err)
	}
	return buf.String(), nil
}

// TurnContext is the per-turn material appended to the system prompt.
type TurnContext struct {
	Memories []types.MemoryRecord
	Emotion  emotion.State
}

// TurnInstruction appends remembered facts and the emotional state to base.
func TurnInstruction(base string, turn TurnContext) (string, error) {
	lines := make([]string, 0, len(turn.Memories))
	for _, record := range turn.Memories {
		if line := formatMemoryLine(record); line != "" {
			lines = append(lines, line)
		}
	}
	mood := turn.Emotion.Mood
	if mood == "" {
		mood = emotion.MoodNeutral
	}

	data := struct {
		Base            string
		Memories        []string
		Mood            string
		MoodInstruction string
		Affection       int
		Relationship    string
	}{
		Base:            base,
		Memories:        lines,
		Mood:            mood,
		MoodInstruction: emotion.MoodInstruction(mood),
		Affection:       turn.Emotion.Affection,
		Relationship:    emotion.RelationshipLevel(turn.Emotion.Affection),
	}

	var buf bytes.Buffer
	if err := turnTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to build turn prompt: %w", err)
	}
	return buf.String(), nil
}

func formatMemoryLine(record types.MemoryRecord) string {
	text := strings.TrimSpace(record.Content)
	if text == "" {
		return ""
	}
	parts := []string{"-"}
	if !record.CreatedAt.IsZero() {
		parts = append(parts, "["+record.CreatedAt.Format("2006-01-02")+"]")
	}
	if record.Type != "" {
		parts = append(parts, "("+string(record.Type)+")")
	}
	parts = append(parts, text)
	return strings.Join(parts, " ")
}
