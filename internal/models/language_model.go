package models

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

// LanguageModel is the completion contract the persona agent depends on.
type LanguageModel interface {
	Complete(ctx context.Context, systemPrompt string, history []types.ConversationTurn) (string, error)
	// Stream yields incremental text. It is finite and single use.
	Stream(ctx context.Context, systemPrompt string, history []types.ConversationTurn) iter.Seq2[string, error]
}

// ProviderConfig selects and authenticates a model backend.
type ProviderConfig struct {
	Provider string
	Model    string
	APIKey   string
}

// NewLLM builds the ADK model for the configured provider.
func NewLLM(ctx context.Context, cfg ProviderConfig) (model.LLM, error) {
	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey}
	switch strings.ToLower(cfg.Provider) {
	case "grok":
		return NewGrokModel(ctx, cfg.Model, clientCfg)
	case "openai":
		return NewOpenAIModel(ctx, cfg.Model, clientCfg)
	case "openrouter":
		return NewOpenRouterModel(ctx, cfg.Model, clientCfg)
	case "anthropic":
		return NewAnthropicModel(ctx, cfg.Model, clientCfg)
	case "gemini":
		llm, err := gemini.NewModel(ctx, cfg.Model, clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini model: %w", err)
		}
		return llm, nil
	default:
		return nil, apperr.NewConfigError("LLM_PROVIDER", fmt.Sprintf("unsupported provider %q", cfg.Provider))
	}
}

// ChatModel adapts an ADK model.LLM to LanguageModel.
type ChatModel struct {
	llm         model.LLM
	provider    string
	temperature *float32
	maxTokens   int32
}

// ChatOption customizes a ChatModel.
type ChatOption func(*ChatModel)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) ChatOption {
	return func(m *ChatModel) { m.temperature = &t }
}

// WithMaxOutputTokens caps the reply length.
func WithMaxOutputTokens(n int32) ChatOption {
	return func(m *ChatModel) { m.maxTokens = n }
}

// NewChatModel wraps llm. provider labels errors and logs.
func NewChatModel(llm model.LLM, provider string, opts ...ChatOption) *ChatModel {
	m := &ChatModel{llm: llm, provider: provider}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ LanguageModel = (*ChatModel)(nil)

// Complete runs one non-streaming generation and returns the reply text.
func (m *ChatModel) Complete(ctx context.Context, systemPrompt string, history []types.ConversationTurn) (string, error) {
	return m.CompleteWithTools(ctx, systemPrompt, history, nil)
}

// Stream yields partial chunks as they arrive. When the backend only returns an aggregated
// response, that response is yielded as a single chunk.
func (m *ChatModel) Stream(ctx context.Context, systemPrompt string, history []types.ConversationTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		req := m.buildRequest(systemPrompt, history)
		sawPartial := false
		for resp, err := range m.llm.GenerateContent(ctx, req, true) {
			if err != nil {
				yield("", classifyError(m.provider, err))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if resp.Partial {
				sawPartial = true
				if !yield(text, nil) {
					return
				}
				continue
			}
			if !sawPartial {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

func (m *ChatModel) buildRequest(systemPrompt string, history []types.ConversationTurn) *model.LLMRequest {
	cfg := &genai.GenerateContentConfig{}
	if m.temperature != nil {
		t := *m.temperature
		cfg.Temperature = &t
	}
	if m.maxTokens > 0 {
		cfg.MaxOutputTokens = m.maxTokens
	}

	var system strings.Builder
	system.WriteString(systemPrompt)
	contents := make([]*genai.Content, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case types.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(turn.Content)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
		}
	}
	if system.Len() > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(system.String(), genai.RoleUser)
	}

	return &model.LLMRequest{
		Model:    m.llm.Name(),
		Contents: contents,
		Config:   cfg,
	}
}

func responseText(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}
