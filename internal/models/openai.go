// Package models provides language-model provider adapters.
package models

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const (
	grokBaseURL       = "https://api.x.ai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// openaiModel adapts an OpenAI-compatible chat endpoint to model.LLM.
type openaiModel struct {
	client             *openai.Client
	provider           string
	name               string
	versionHeaderValue string
}

type toolCallBuilder struct {
	Index int64
	ID    string
	Name  string
	Args  strings.Builder
}

// NewOpenAIModel targets api.openai.com.
func NewOpenAIModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	return newOpenAICompatible("openai", "", modelName, cfg)
}

// NewGrokModel targets the x.ai OpenAI-compatible endpoint (e.g. "grok-4-fast").
func NewGrokModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	return newOpenAICompatible("grok", grokBaseURL, modelName, cfg)
}

// NewOpenRouterModel targets OpenRouter. Model names carry the vendor prefix, e.g. "openai/gpt-4o-mini".
func NewOpenRouterModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	return newOpenAICompatible("openrouter", openRouterBaseURL, modelName, cfg)
}

func newOpenAICompatible(provider, baseURL, modelName string, cfg *genai.ClientConfig) (*openaiModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	headerValue := fmt.Sprintf("persona-core/%s go/%s",
		provider, strings.TrimPrefix(runtime.Version(), "go"))

	return &openaiModel{
		client:             &client,
		provider:           provider,
		name:               modelName,
		versionHeaderValue: headerValue,
	}, nil
}

func (m *openaiModel) Name() string {
	return m.name
}

func (m *openaiModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	m.maybeAppendUserContent(req)

	if req.Config == nil {
		req.Config = &genai.GenerateContentConfig{}
	}
	if req.Config.HTTPOptions == nil {
		req.Config.HTTPOptions = &genai.HTTPOptions{}
	}
	if req.Config.HTTPOptions.Headers == nil {
		req.Config.HTTPOptions.Headers = make(http.Header)
	}
	req.Config.HTTPOptions.Headers.Set("user-agent", m.versionHeaderValue)

	if stream {
		return m.generateStream(ctx, req)
	}

	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *openaiModel) requestOptions(req *model.LLMRequest) []option.RequestOption {
	if req.Config == nil || req.Config.HTTPOptions == nil {
		return nil
	}
	var opts []option.RequestOption
	for key, values := range req.Config.HTTPOptions.Headers {
		for _, value := range values {
			opts = append(opts, option.WithHeader(key, value))
		}
	}
	return opts
}

func (m *openaiModel) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	params := buildOpenAIParams(req, m.name)

	resp, err := m.client.Chat.Completions.New(ctx, *params, m.requestOptions(req)...)
	if err != nil {
		slog.Error("failed to call llm API", "provider", m.provider, "error", err.Error())
		return nil, classifyError(m.provider, err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return &model.LLMResponse{}, nil
	}

	message := resp.Choices[0].Message
	content := &genai.Content{
		Role:  "model",
		Parts: []*genai.Part{},
	}

	if message.Content != "" {
		content.Parts = append(content.Parts, &genai.Part{
			Text: message.Content,
		})
	}

	for _, call := range message.ToolCalls {
		// only function tools are emitted by the API today
		if call.Type != "function" || call.ID == "" || call.Function.Name == "" {
			continue
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   call.ID,
				Name: call.Function.Name,
				Args: parseFunctionArgs(call.Function.Arguments),
			},
		})
	}

	return &model.LLMResponse{
		Content:      content,
		TurnComplete: true,
	}, nil
}

func (m *openaiModel) generateStream(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		params := buildOpenAIParams(req, m.name)
		if params == nil {
			yield(nil, fmt.Errorf("invalid request parameters"))
			return
		}

		stream := m.client.Chat.Completions.NewStreaming(ctx, *params, m.requestOptions(req)...)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Error("failed to close stream", "error", err.Error())
			}
		}()

		pendingTools := make(map[int64]*toolCallBuilder)
		sentFinal := false
		var fullText strings.Builder
		for stream.Next() {
			chunk := stream.Current()

			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			isFinished := choice.FinishReason != ""

			if choice.Delta.Content != "" {
				fullText.WriteString(choice.Delta.Content)
				llmResp := &model.LLMResponse{
					Content: &genai.Content{
						Role: "model",
						Parts: []*genai.Part{
							{Text: choice.Delta.Content},
						},
					},
					Partial:      true,
					TurnComplete: isFinished && len(pendingTools) == 0,
				}
				if llmResp.TurnComplete {
					sentFinal = true
				}
				if !yield(llmResp, nil) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				builder, exists := pendingTools[tc.Index]
				if !exists {
					builder = &toolCallBuilder{Index: tc.Index}
					pendingTools[tc.Index] = builder
				}
				if tc.ID != "" {
					builder.ID = tc.ID
				}
				if tc.Function.Name != "" {
					builder.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					builder.Args.WriteString(tc.Function.Arguments)
				}
			}

			if isFinished && len(pendingTools) > 0 {
				sentFinal = true
				if !yield(&model.LLMResponse{
					Content: &genai.Content{
						Role:  "model",
						Parts: pendingToolParts(pendingTools),
					},
					TurnComplete: true,
				}, nil) {
					return
				}
			}

			if isFinished && !sentFinal {
				var parts []*genai.Part
				if text := strings.TrimSpace(fullText.String()); text != "" {
					parts = append(parts, &genai.Part{Text: text})
				}
				sentFinal = true
				if !yield(&model.LLMResponse{
					Content: &genai.Content{
						Role:  "model",
						Parts: parts,
					},
					TurnComplete: true,
				}, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			slog.Error("failed to stream call llm API", "provider", m.provider, "error", err.Error())
			yield(nil, classifyError(m.provider, err))
		}
	}
}

func pendingToolParts(pending map[int64]*toolCallBuilder) []*genai.Part {
	indices := make([]int64, 0, len(pending))
	for k := range pending {
		indices = append(indices, k)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	parts := make([]*genai.Part, 0, len(indices))
	for _, idx := range indices {
		builder := pending[idx]
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   builder.ID,
				Name: builder.Name,
				Args: parseFunctionArgs(builder.Args.String()),
			},
		})
	}
	return parts
}

func (m *openaiModel) maybeAppendUserContent(req *model.LLMRequest) {
	if len(req.Contents) == 0 {
		req.Contents = append(req.Contents, genai.NewContentFromText("Handle the requests as specified in the System Instruction.", "user"))
	}

	if last := req.Contents[len(req.Contents)-1]; last != nil && last.Role != "user" {
		req.Contents = append(req.Contents, genai.NewContentFromText("Continue processing previous requests as instructed.", "user"))
	}
}

func parseFunctionArgs(jsonStr string) map[string]any {
	if jsonStr == "" {
		return make(map[string]any)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &args); err != nil {
		slog.Error("failed to parse function arguments", "error", err.Error(), "json", jsonStr)
		return make(map[string]any)
	}
	return args
}
