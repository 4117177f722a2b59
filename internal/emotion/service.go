package emotion

import (
	"context"
	"log/slog"

	"github.com/easeaico/persona-core/internal/types"
)

const userWeight = 0.7

// Service turns an exchange into an EmotionalContext and the next persona state.
type Service struct {
	stateMachine *StateMachine
	classifier   Classifier
}

// NewService returns a new emotion service. A nil classifier falls back to the lexicon.
func NewService(stateMachine *StateMachine, classifier Classifier) *Service {
	if stateMachine == nil {
		stateMachine = NewStateMachine()
	}
	if classifier == nil {
		classifier = LexiconClassifier{}
	}
	return &Service{stateMachine: stateMachine, classifier: classifier}
}

// Evaluate reads the user text and the reply, advances state and returns the annotation.
func (s *Service) Evaluate(ctx context.Context, state State, userText, reply string) (State, types.EmotionalContext) {
	user := Detect(userText)
	replied := Detect(reply)
	valence := clampUnit(userWeight*user.Valence + (1-userWeight)*replied.Valence)

	label, err := s.classifier.Classify(ctx, userText)
	if err != nil {
		slog.Warn("sentiment classification failed, using lexicon", "error", err.Error())
		label = user.Polarity()
	}

	next := s.stateMachine.Update(state, label)
	return next, types.EmotionalContext{
		Mood:      next.Mood,
		Label:     user.Label,
		Intensity: user.Intensity,
		Valence:   valence,
		Affection: next.Affection,
	}
}
