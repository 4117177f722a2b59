package creator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/apperr"
)

// GeminiImageGenerator renders images with a Gemini image model and returns them as data URLs.
type GeminiImageGenerator struct {
	client             *genai.Client
	model              string
	defaultAspectRatio string
}

// NewGeminiImageGenerator creates a generator for model.
func NewGeminiImageGenerator(ctx context.Context, apiKey, model, aspectRatio string) (*GeminiImageGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperr.NewConfigError("GOOGLE_API_KEY", "required for image generation")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiImageGenerator{
		client:             client,
		model:              strings.TrimSpace(model),
		defaultAspectRatio: normalizeAspectRatio(aspectRatio, "9:16"),
	}, nil
}

func (g *GeminiImageGenerator) GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
		ImageConfig: &genai.ImageConfig{
			AspectRatio: normalizeAspectRatio(aspectRatio, g.defaultAspectRatio),
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return "", apperr.NewProviderError("gemini-image", apperr.Unavailable, fmt.Errorf("failed to generate image: %w", err))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return "", apperr.NewProviderError("gemini-image", apperr.Unavailable, fmt.Errorf("empty image response"))
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		return dataURL(part.InlineData.MIMEType, part.InlineData.Data), nil
	}
	return "", apperr.NewProviderError("gemini-image", apperr.Unavailable, fmt.Errorf("image data missing in response"))
}

func dataURL(mimeType string, data []byte) string {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func normalizeAspectRatio(value, fallback string) string {
	value = strings.TrimSpace(value)
	switch value {
	case "1:1", "3:4", "4:3", "9:16", "16:9":
		return value
	default:
		return fallback
	}
}
