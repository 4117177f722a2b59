package types

import (
	"fmt"
	"strings"

	"github.com/easeaico/persona-core/internal/apperr"
)

// PersonaType is the closed set of persona archetypes.
type PersonaType string

const (
	PersonaCompanion PersonaType = "companion"
	PersonaMentor    PersonaType = "mentor"
	PersonaFriend    PersonaType = "friend"
	PersonaHype      PersonaType = "hype"
	PersonaCustom    PersonaType = "custom"
)

// PersonaTypes lists every supported persona type in display order.
var PersonaTypes = []PersonaType{PersonaCompanion, PersonaMentor, PersonaFriend, PersonaHype, PersonaCustom}

// ParsePersonaType resolves a raw string into a PersonaType.
func ParsePersonaType(raw string) (PersonaType, error) {
	candidate := PersonaType(strings.ToLower(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown persona type %q", raw)
}

// Valid reports whether t is one of the known persona types.
func (t PersonaType) Valid() bool {
	for _, known := range PersonaTypes {
		if t == known {
			return true
		}
	}
	return false
}

// PersonaProfile carries the fixed framing attached to a persona type.
type PersonaProfile struct {
	Role         string
	Tone         string
	Relationship string
}

var personaProfiles = map[PersonaType]PersonaProfile{
	PersonaCompanion: {
		Role:         "a close companion",
		Tone:         "warm, attentive and emotionally present",
		Relationship: "You care about the user personally and remember what matters to them.",
	},
	PersonaMentor: {
		Role:         "a mentor",
		Tone:         "patient, clear and encouraging",
		Relationship: "You help the user grow, ask guiding questions and share practical advice.",
	},
	PersonaFriend: {
		Role:         "a friend",
		Tone:         "casual, honest and playful",
		Relationship: "You talk with the user as an equal and enjoy their company.",
	},
	PersonaHype: {
		Role:         "a hype partner",
		Tone:         "energetic, upbeat and celebratory",
		Relationship: "You cheer the user on and amplify their wins.",
	},
	PersonaCustom: {
		Role:         "a character defined by the creator",
		Tone:         "true to the described personality",
		Relationship: "Follow the persona description closely.",
	},
}

// Profile returns the framing for t. Unknown types get the custom profile.
func (t PersonaType) Profile() PersonaProfile {
	if profile, ok := personaProfiles[t]; ok {
		return profile
	}
	return personaProfiles[PersonaCustom]
}

// Personality describes how a persona behaves. Scales are 0-10.
type Personality struct {
	Traits         []string `json:"traits" yaml:"traits"`
	SpeakingStyle  string   `json:"speaking_style" yaml:"speaking_style"`
	Interests      []string `json:"interests" yaml:"interests"`
	EmotionalRange string   `json:"emotional_range" yaml:"emotional_range"`
	HumorLevel     int      `json:"humor_level" yaml:"humor_level"`
	Formality      int      `json:"formality" yaml:"formality"`
	EmpathyLevel   int      `json:"empathy_level" yaml:"empathy_level"`
	Assertiveness  int      `json:"assertiveness" yaml:"assertiveness"`
}

// PersonaDefinition is the identity and behavior template of an AI character.
type PersonaDefinition struct {
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name" yaml:"name"`
	Type         PersonaType `json:"type" yaml:"type"`
	Personality  Personality `json:"personality" yaml:"personality"`
	SystemPrompt string      `json:"system_prompt,omitempty" yaml:"system_prompt"`
	VoiceID      string      `json:"voice_id,omitempty" yaml:"voice_id"`
	WorldID      string      `json:"world_id,omitempty" yaml:"world_id"`
	Greeting     string      `json:"greeting,omitempty" yaml:"greeting"`
}

// Validate checks the fields every persona needs.
func (p PersonaDefinition) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return apperr.NewConfigError("persona.id", "required")
	case strings.TrimSpace(p.Name) == "":
		return apperr.NewConfigError("persona.name", "required")
	case p.Type == "":
		return apperr.NewConfigError("persona.type", "required")
	case !p.Type.Valid():
		return apperr.NewConfigError("persona.type", fmt.Sprintf("unknown persona type %q", p.Type))
	}
	return nil
}

// WorldDefinition is an optional setting a persona is anchored to.
type WorldDefinition struct {
	ID         string   `json:"id" yaml:"id"`
	Name       string   `json:"name" yaml:"name"`
	Theme      string   `json:"theme" yaml:"theme"`
	Setting    string   `json:"setting" yaml:"setting"`
	Atmosphere string   `json:"atmosphere" yaml:"atmosphere"`
	TimePeriod string   `json:"time_period,omitempty" yaml:"time_period"`
	Location   string   `json:"location,omitempty" yaml:"location"`
	Scenarios  []string `json:"scenarios,omitempty" yaml:"scenarios"`
	Locations  []string `json:"locations,omitempty" yaml:"locations"`
}

// ChatContext identifies the conversation a request belongs to.
type ChatContext struct {
	UserID         string `json:"user_id"`
	PersonaID      string `json:"persona_id"`
	ConversationID string `json:"conversation_id"`
	WorldID        string `json:"world_id,omitempty"`
}
