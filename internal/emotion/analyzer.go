package emotion

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// Classifier labels the sentiment of a user message.
type Classifier interface {
	Classify(ctx context.Context, text string) (EmotionLabel, error)
}

// LexiconClassifier classifies with Detect and never fails.
type LexiconClassifier struct{}

func (LexiconClassifier) Classify(_ context.Context, text string) (EmotionLabel, error) {
	return Detect(text).Polarity(), nil
}

const analyzerInstruction = `You are a sentiment classifier. Reply with exactly one label: Positive, Negative or Neutral. Output nothing else.`

// Analyzer classifies sentiment with a language model.
type Analyzer struct {
	model model.LLM
}

var (
	_ Classifier = LexiconClassifier{}
	_ Classifier = (*Analyzer)(nil)
)

// NewAnalyzer returns an Analyzer.
func NewAnalyzer(m model.LLM) *Analyzer {
	return &Analyzer{model: m}
}

// Classify returns the sentiment label for text.
func (a *Analyzer) Classify(ctx context.Context, text string) (EmotionLabel, error) {
	if a == nil || a.model == nil {
		return EmotionNeutral, fmt.Errorf("emotion analyzer not configured")
	}
	if strings.TrimSpace(text) == "" {
		return EmotionNeutral, nil
	}

	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(analyzerInstruction, genai.RoleUser),
		},
	}

	var (
		resp *model.LLMResponse
		err  error
	)
	for r, e := range a.model.GenerateContent(ctx, req, false) {
		resp, err = r, e
		break
	}
	if err != nil {
		return EmotionNeutral, err
	}

	switch extractLabel(resp) {
	case "positive":
		return EmotionPositive, nil
	case "negative":
		return EmotionNegative, nil
	default:
		return EmotionNeutral, nil
	}
}

func extractLabel(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.Trim(strings.ToLower(strings.TrimSpace(sb.String())), ".")
}
