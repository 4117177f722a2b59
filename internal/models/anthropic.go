package models

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const defaultAnthropicMaxTokens = 1024

// anthropicModel adapts the Claude Messages API to model.LLM. Tools are not forwarded.
type anthropicModel struct {
	client *anthropic.Client
	name   string
}

// NewAnthropicModel creates a Claude-backed model (e.g. "claude-sonnet-4-5").
func NewAnthropicModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}
	client := anthropic.NewClient(anthropicoption.WithAPIKey(cfg.APIKey))
	return &anthropicModel{client: &client, name: modelName}, nil
}

func (m *anthropicModel) Name() string {
	return m.name
}

func (m *anthropicModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	params := buildAnthropicParams(req, m.name)
	if stream {
		return m.generateStream(ctx, params)
	}
	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			slog.Error("failed to call llm API", "provider", "anthropic", "error", err.Error())
			yield(nil, classifyError("anthropic", err))
			return
		}
		var sb strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		yield(textResponse(sb.String(), false), nil)
	}
}

func (m *anthropicModel) generateStream(ctx context.Context, params anthropic.MessageNewParams) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		stream := m.client.Messages.NewStreaming(ctx, params)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Error("failed to close stream", "error", err.Error())
			}
		}()

		var fullText strings.Builder
		for stream.Next() {
			event := stream.Current()
			evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := evt.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			fullText.WriteString(delta.Text)
			if !yield(textResponse(delta.Text, true), nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("failed to stream call llm API", "provider", "anthropic", "error", err.Error())
			yield(nil, classifyError("anthropic", err))
			return
		}
		yield(textResponse(fullText.String(), false), nil)
	}
}

func buildAnthropicParams(req *model.LLMRequest, modelName string) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if req.Model != "" {
		params.Model = anthropic.Model(req.Model)
	}
	if req.Config != nil {
		if req.Config.SystemInstruction != nil {
			if instruction := contentText(req.Config.SystemInstruction); instruction != "" {
				params.System = []anthropic.TextBlockParam{{Text: instruction}}
			}
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = int64(req.Config.MaxOutputTokens)
		}
		if req.Config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*req.Config.Temperature))
		}
	}
	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		text := contentText(content)
		if text == "" {
			continue
		}
		if content.Role == "model" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
			continue
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	}
	if len(params.Messages) == 0 {
		params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock("Handle the requests as specified in the System Instruction.")))
	}
	return params
}

func textResponse(text string, partial bool) *model.LLMResponse {
	return &model.LLMResponse{
		Content: &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: text}},
		},
		Partial:      partial,
		TurnComplete: !partial,
	}
}
