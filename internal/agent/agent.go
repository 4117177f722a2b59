// Package agent turns a persona, its memories and the conversation so far into a reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/prompt"
	"github.com/easeaico/persona-core/internal/types"
)

// State is the phase of the current turn.
type State string

const (
	StateIdle            State = "idle"
	StateBuildingContext State = "building_context"
	StateAwaitingModel   State = "awaiting_model"
	StateStreaming       State = "streaming"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

const (
	defaultHistoryLimit = 20
	defaultMemoryLimit  = 5
	defaultTimeout      = 60 * time.Second
)

// MemoryRetriever supplies long-term memories for one (user, persona) pair.
type MemoryRetriever interface {
	GetRecentMemories(ctx context.Context, limit int) ([]types.MemoryRecord, error)
	SearchMemories(ctx context.Context, query string, limit int) ([]types.MemoryRecord, error)
}

// Config wires an Agent.
type Config struct {
	Persona types.PersonaDefinition
	World   *types.WorldDefinition
	Context types.ChatContext
	Model   models.LanguageModel
	// Memory is optional; without it replies are grounded in history only.
	Memory       MemoryRetriever
	MemoryLimit  int
	HistoryLimit int
	// Timeout bounds ProcessMessage. Streaming is bounded by the caller's context.
	Timeout time.Duration
	Emotion *emotion.Service
	// Tools are offered on the non-streaming path when Model implements models.ToolCaller.
	Tools []models.Tool
	// EmotionState is the persona's state carried over from earlier turns.
	EmotionState emotion.State
}

// Reply is the outcome of one turn.
type Reply struct {
	Content   string                  `json:"content"`
	Emotional *types.EmotionalContext `json:"emotional_context"`
}

// Agent is scoped to a single conversation and is not shared across requests.
type Agent struct {
	cfg          Config
	systemPrompt string
	now          func() time.Time

	mu           sync.Mutex
	state        State
	history      []types.ConversationTurn
	emotionState emotion.State
}

// New validates cfg and renders the persona prompt.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Persona.Validate(); err != nil {
		return nil, err
	}
	if cfg.Model == nil {
		return nil, apperr.NewConfigError("model", "required")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = defaultMemoryLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Emotion == nil {
		cfg.Emotion = emotion.NewService(nil, nil)
	}
	if cfg.EmotionState.Mood == "" {
		cfg.EmotionState.Mood = emotion.MoodNeutral
	}

	systemPrompt, err := prompt.SystemPrompt(cfg.Persona, cfg.World)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:          cfg,
		systemPrompt: systemPrompt,
		now:          time.Now,
		state:        StateIdle,
		emotionState: cfg.EmotionState,
	}, nil
}

// BuildSystemPrompt returns the persona prompt without per-turn context.
func (a *Agent) BuildSystemPrompt() string {
	return a.systemPrompt
}

// LoadHistory replaces the working history with a copy of turns.
func (a *Agent) LoadHistory(turns []types.ConversationTurn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append([]types.ConversationTurn(nil), turns...)
	a.state = StateIdle
}

// History returns a copy of the working history, oldest first.
func (a *Agent) History() []types.ConversationTurn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.ConversationTurn(nil), a.history...)
}

// State returns the phase of the current or last turn.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// EmotionState returns the persona state after the last completed turn.
func (a *Agent) EmotionState() emotion.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emotionState
}

func (a *Agent) setState(state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// ProcessMessage runs one non-streaming turn under the configured timeout.
func (a *Agent) ProcessMessage(ctx context.Context, text string) (Reply, error) {
	system, window, err := a.beginTurn(ctx, text)
	if err != nil {
		return Reply{}, err
	}

	a.setState(StateAwaitingModel)
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	content, err := a.complete(callCtx, system, window)
	if err == nil && strings.TrimSpace(content) == "" {
		err = apperr.NewProviderError("model", apperr.Unavailable, errors.New("empty reply"))
	}
	if err != nil {
		a.setState(StateFailed)
		return Reply{}, asProviderError(callCtx, err)
	}
	return a.completeTurn(ctx, text, content), nil
}

func (a *Agent) complete(ctx context.Context, system string, window []types.ConversationTurn) (string, error) {
	if caller, ok := a.cfg.Model.(models.ToolCaller); ok && len(a.cfg.Tools) > 0 {
		return caller.CompleteWithTools(ctx, system, window, a.cfg.Tools)
	}
	return a.cfg.Model.Complete(ctx, system, window)
}

// beginTurn appends the user turn and builds the grounded prompt plus the history window.
func (a *Agent) beginTurn(ctx context.Context, text string) (string, []types.ConversationTurn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, apperr.NewConfigError("text", "message cannot be empty")
	}

	a.mu.Lock()
	a.state = StateBuildingContext
	a.history = append(a.history, a.newTurn(types.RoleUser, text))
	window := a.window()
	emotionState := a.emotionState
	a.mu.Unlock()

	memories := a.retrieveMemories(ctx, text)
	system, err := prompt.TurnInstruction(a.systemPrompt, prompt.TurnContext{
		Memories: memories,
		Emotion:  emotionState,
	})
	if err != nil {
		a.setState(StateFailed)
		return "", nil, err
	}
	return system, window, nil
}

// completeTurn records the assistant turn and derives the emotional context.
func (a *Agent) completeTurn(ctx context.Context, userText, content string) Reply {
	a.mu.Lock()
	current := a.emotionState
	a.mu.Unlock()

	next, emotional := a.cfg.Emotion.Evaluate(ctx, current, userText, content)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, a.newTurn(types.RoleAssistant, content))
	a.emotionState = next
	a.state = StateCompleted
	return Reply{Content: content, Emotional: &emotional}
}

// window returns the trailing HistoryLimit turns. Callers hold a.mu.
func (a *Agent) window() []types.ConversationTurn {
	history := a.history
	if len(history) > a.cfg.HistoryLimit {
		history = history[len(history)-a.cfg.HistoryLimit:]
	}
	return append([]types.ConversationTurn(nil), history...)
}

func (a *Agent) newTurn(role types.Role, content string) types.ConversationTurn {
	return types.ConversationTurn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: a.now().UTC(),
	}
}

// retrieveMemories merges relevant and recent memories. Failures only cost grounding.
func (a *Agent) retrieveMemories(ctx context.Context, query string) []types.MemoryRecord {
	if a.cfg.Memory == nil {
		return nil
	}
	logAttrs := []any{"user_id", a.cfg.Context.UserID, "persona_id", a.cfg.Persona.ID}

	relevant, err := a.cfg.Memory.SearchMemories(ctx, query, a.cfg.MemoryLimit)
	if err != nil {
		slog.Warn("memory search failed", append(logAttrs, "error", err.Error())...)
	}
	recent, err := a.cfg.Memory.GetRecentMemories(ctx, a.cfg.MemoryLimit)
	if err != nil {
		slog.Warn("recent memories unavailable", append(logAttrs, "error", err.Error())...)
	}

	seen := make(map[string]bool, len(relevant)+len(recent))
	merged := make([]types.MemoryRecord, 0, len(relevant)+len(recent))
	for _, record := range append(relevant, recent...) {
		if record.ID != "" && seen[record.ID] {
			continue
		}
		seen[record.ID] = true
		merged = append(merged, record)
	}
	return merged
}

// asProviderError makes sure deadline and upstream failures surface as ProviderError.
func asProviderError(ctx context.Context, err error) error {
	var providerErr *apperr.ProviderError
	if errors.As(err, &providerErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.NewProviderError("model", apperr.Timeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.NewProviderError("model", apperr.Unavailable, fmt.Errorf("model call failed: %w", err))
}
