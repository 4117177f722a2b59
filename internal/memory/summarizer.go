package memory

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/types"
	"github.com/easeaico/persona-core/internal/utils"
)

// Summarizer writes consolidation summaries and extracts memories from finished exchanges.
type Summarizer interface {
	SummarizeMemories(ctx context.Context, memoryType types.MemoryType, contents []string) (string, error)
	ExtractExchange(ctx context.Context, userText, reply string) (types.ExtractedMemory, error)
}

const (
	summarizerAppName = "persona_core_memory"
	summarizerUserID  = "memory_summarizer"
)

const consolidationInstruction = `You compress several related memories about a user into one durable statement.

Rules:
- Use third-person narration about "the user"
- Keep every concrete detail that is still useful (names, dates, places, preferences)
- Merge duplicates and drop filler
- At most three sentences
- Reply with the statement only`

const extractionInstruction = `You extract long-term memories from one exchange between a user and an AI persona.

Extract and retain:
1. Durable facts the user revealed (names, dates, places, work, relationships)
2. Preferences and dislikes
3. Promises, plans or agreements made by either side
4. Notable emotional states of the user

Output requirements:
- Use third-person narration about "the user"
- Leave a list empty when nothing qualifies; small talk yields empty lists
- Return a valid JSON object that matches the output schema
- Do not include any extra keys or text outside the JSON object`

// summarizerRunner is the subset of runner.Runner the summarizer depends on.
type summarizerRunner interface {
	Run(ctx context.Context, userID, sessionID string, msg *genai.Content, cfg agent.RunConfig) iter.Seq2[*session.Event, error]
}

// AgentSummarizer runs two ADK llm agents in isolated in-memory sessions.
type AgentSummarizer struct {
	consolidator   summarizerRunner
	extractor      summarizerRunner
	sessionService session.Service
	counter        uint64
}

var _ Summarizer = (*AgentSummarizer)(nil)

// NewAgentSummarizer builds the consolidation and extraction agents on llm.
func NewAgentSummarizer(ctx context.Context, llm model.LLM) (*AgentSummarizer, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm model is required")
	}
	sessionService := session.InMemoryService()

	consolidator, err := newSummarizerRunner(llmagent.Config{
		Name:            "memory_consolidator",
		Description:     "Folds related memories into one summary",
		Model:           llm,
		Instruction:     consolidationInstruction,
		IncludeContents: llmagent.IncludeContentsNone,
	}, sessionService)
	if err != nil {
		return nil, err
	}

	extractor, err := newSummarizerRunner(llmagent.Config{
		Name:            "memory_extractor",
		Description:     "Extracts durable memories from an exchange",
		Model:           llm,
		Instruction:     extractionInstruction,
		OutputSchema:    extractionOutputSchema(),
		IncludeContents: llmagent.IncludeContentsNone,
	}, sessionService)
	if err != nil {
		return nil, err
	}

	return &AgentSummarizer{
		consolidator:   consolidator,
		extractor:      extractor,
		sessionService: sessionService,
	}, nil
}

func newSummarizerRunner(cfg llmagent.Config, sessionService session.Service) (*runner.Runner, error) {
	llmAgent, err := llmagent.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s agent: %w", cfg.Name, err)
	}
	r, err := runner.New(runner.Config{
		AppName:        summarizerAppName,
		Agent:          llmAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s runner: %w", cfg.Name, err)
	}
	return r, nil
}

// SummarizeMemories returns a single statement covering contents.
func (s *AgentSummarizer) SummarizeMemories(ctx context.Context, memoryType types.MemoryType, contents []string) (string, error) {
	if len(contents) == 0 {
		return "", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Memory type: %s\nMemories:\n", memoryType)
	for _, content := range contents {
		sb.WriteString("- ")
		sb.WriteString(strings.TrimSpace(content))
		sb.WriteString("\n")
	}
	return s.run(ctx, s.consolidator, sb.String())
}

// ExtractExchange returns the memories worth keeping from one exchange.
func (s *AgentSummarizer) ExtractExchange(ctx context.Context, userText, reply string) (types.ExtractedMemory, error) {
	if strings.TrimSpace(userText) == "" {
		return types.ExtractedMemory{}, nil
	}
	prompt := fmt.Sprintf("user: %s\nassistant: %s", strings.TrimSpace(userText), strings.TrimSpace(reply))
	raw, err := s.run(ctx, s.extractor, prompt)
	if err != nil {
		return types.ExtractedMemory{}, err
	}
	extracted, err := parseExtractionJSON(raw)
	if err != nil {
		return types.ExtractedMemory{}, err
	}
	extracted.SalienceScore = clamp01(extracted.SalienceScore)
	return extracted, nil
}

func (s *AgentSummarizer) run(ctx context.Context, r summarizerRunner, input string) (string, error) {
	sessionID := fmt.Sprintf("summary-%d", atomic.AddUint64(&s.counter, 1))
	if _, err := s.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   summarizerAppName,
		UserID:    summarizerUserID,
		SessionID: sessionID,
	}); err != nil {
		return "", fmt.Errorf("failed to create summarizer session: %w", err)
	}
	defer func() {
		_ = s.sessionService.Delete(context.WithoutCancel(ctx), &session.DeleteRequest{
			AppName:   summarizerAppName,
			UserID:    summarizerUserID,
			SessionID: sessionID,
		})
	}()

	msg := genai.NewContentFromText(input, genai.RoleUser)
	events := r.Run(ctx, summarizerUserID, sessionID, msg, agent.RunConfig{
		StreamingMode: agent.StreamingModeNone,
	})

	var last string
	for event, err := range events {
		if err != nil {
			return "", err
		}
		if event == nil || event.Content == nil || event.Author == "user" {
			continue
		}
		text := strings.TrimSpace(utils.ExtractContentText(event.Content))
		if text == "" {
			continue
		}
		last = text
		if event.IsFinalResponse() {
			break
		}
	}
	if last == "" {
		return "", fmt.Errorf("empty summary response")
	}
	return last, nil
}

func extractionOutputSchema() *genai.Schema {
	list := func() *genai.Schema {
		return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":        {Type: genai.TypeString},
			"facts":          list(),
			"commitments":    list(),
			"emotions":       list(),
			"salience_score": {Type: genai.TypeNumber},
		},
		Required: []string{"summary", "facts", "commitments", "emotions"},
	}
}

func parseExtractionJSON(raw string) (types.ExtractedMemory, error) {
	var extracted types.ExtractedMemory
	if err := utils.ParseJSONObject(raw, &extracted); err != nil {
		return types.ExtractedMemory{}, fmt.Errorf("failed to parse extraction: %w", err)
	}
	return extracted, nil
}
