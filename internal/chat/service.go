// Package chat runs conversation turns: it loads the persona and history, answers through the
// persona agent, persists the exchange and queues memory extraction.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/persona-core/internal/agent"
	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/conversation"
	"github.com/easeaico/persona-core/internal/creator"
	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/storage"
	"github.com/easeaico/persona-core/internal/tool"
	"github.com/easeaico/persona-core/internal/types"
	"github.com/easeaico/persona-core/internal/utils"
)

// FallbackReply replaces the reply when the model or storage fails mid-turn.
const FallbackReply = "I couldn't process that, please try again"

// TurnRequest is one user message.
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	PersonaID      string `json:"persona_id"`
	WorldID        string `json:"world_id,omitempty"`
	Text           string `json:"text"`
}

// TurnResult is what the caller shows the user.
type TurnResult struct {
	Reply     string                  `json:"reply"`
	Emotional *types.EmotionalContext `json:"emotional_context,omitempty"`
	Streamed  bool                    `json:"streamed"`
	Fallback  bool                    `json:"fallback,omitempty"`
	Job       *types.GenerationJob    `json:"job,omitempty"`
}

// Deps are the collaborators of a Service. Memories, Creator and Sweeper are optional.
type Deps struct {
	Personas      storage.PersonaRepository
	Conversations *conversation.Store
	Model         models.LanguageModel
	Emotion       *emotion.Service
	Memories      *memory.Factory
	Creator       *creator.Service
	Sweeper       *memory.Sweeper
}

// Options tune a Service.
type Options struct {
	HistoryLimit  int
	MemoryLimit   int
	Timeout       time.Duration
	MemoryWorkers int
}

// Service is safe for concurrent use. Turns of one conversation are serialized.
type Service struct {
	personas      storage.PersonaRepository
	conversations *conversation.Store
	model         models.LanguageModel
	emotion       *emotion.Service
	memories      *memory.Factory
	creator       *creator.Service
	sweeper       *memory.Sweeper
	opts          Options

	locks *keyedMutex
	queue *memoryQueue
	now   func() time.Time
}

// NewService validates deps and starts the memory workers. Call Close to drain them.
func NewService(deps Deps, opts Options) (*Service, error) {
	switch {
	case deps.Personas == nil:
		return nil, apperr.NewConfigError("chat.personas", "required")
	case deps.Conversations == nil:
		return nil, apperr.NewConfigError("chat.conversations", "required")
	case deps.Model == nil:
		return nil, apperr.NewConfigError("chat.model", "required")
	}
	if deps.Emotion == nil {
		deps.Emotion = emotion.NewService(nil, nil)
	}
	return &Service{
		personas:      deps.Personas,
		conversations: deps.Conversations,
		model:         deps.Model,
		emotion:       deps.Emotion,
		memories:      deps.Memories,
		creator:       deps.Creator,
		sweeper:       deps.Sweeper,
		opts:          opts,
		locks:         newKeyedMutex(),
		queue:         newMemoryQueue(opts.MemoryWorkers),
		now:           time.Now,
	}, nil
}

// Close waits for queued memory writes.
func (s *Service) Close() {
	s.queue.close()
}

// turn carries everything resolved before the model is called.
type turn struct {
	req      TurnRequest
	chat     types.ChatContext
	persona  types.PersonaDefinition
	snapshot conversation.Snapshot
	manager  *memory.Manager
	agent    *agent.Agent
}

// HandleTurn answers one message.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	unlock := s.locks.Lock(strings.TrimSpace(req.ConversationID))
	defer unlock()

	t, early, err := s.prepare(ctx, req)
	if err != nil || early != nil {
		return deref(early), err
	}

	reply, err := t.agent.ProcessMessage(ctx, req.Text)
	if err != nil {
		return s.fail(t, err)
	}
	return s.finish(ctx, t, reply, false), nil
}

// StreamTurn answers one message and hands each chunk to onChunk as it arrives. An error from
// onChunk stops the provider call and nothing is recorded for the turn.
func (s *Service) StreamTurn(ctx context.Context, req TurnRequest, onChunk func(string) error) (TurnResult, error) {
	unlock := s.locks.Lock(strings.TrimSpace(req.ConversationID))
	defer unlock()

	t, early, err := s.prepare(ctx, req)
	if err != nil {
		return TurnResult{}, err
	}
	if early != nil {
		early.Streamed = true
		if err := onChunk(early.Reply); err != nil {
			return TurnResult{}, err
		}
		return *early, nil
	}

	stream := t.agent.StreamMessage(ctx, req.Text)
	defer stream.Close()

	sent := false
	for chunk, err := range stream.Chunks() {
		if err != nil {
			result, failErr := s.fail(t, err)
			if failErr == nil && result.Fallback && !sent {
				if cbErr := onChunk(result.Reply); cbErr != nil {
					return TurnResult{}, cbErr
				}
			}
			result.Streamed = true
			return result, failErr
		}
		if err := onChunk(chunk); err != nil {
			return TurnResult{}, fmt.Errorf("stream consumer stopped: %w", err)
		}
		sent = true
	}

	reply, err := stream.Result()
	if err != nil {
		return s.fail(t, err)
	}
	return s.finish(ctx, t, reply, true), nil
}

func (s *Service) prepare(ctx context.Context, req TurnRequest) (*turn, *TurnResult, error) {
	req.Text = strings.TrimSpace(req.Text)
	chat := types.ChatContext{
		UserID:         strings.TrimSpace(req.UserID),
		PersonaID:      strings.TrimSpace(req.PersonaID),
		ConversationID: strings.TrimSpace(req.ConversationID),
		WorldID:        strings.TrimSpace(req.WorldID),
	}
	switch {
	case chat.ConversationID == "":
		return nil, nil, apperr.NewConfigError("conversation_id", "required")
	case chat.UserID == "":
		return nil, nil, apperr.NewConfigError("user_id", "required")
	case chat.PersonaID == "":
		return nil, nil, apperr.NewConfigError("persona_id", "required")
	}

	found, err := s.personas.GetPersona(ctx, chat.PersonaID)
	if err != nil {
		return nil, nil, err
	}
	persona := *found
	world, err := s.resolveWorld(ctx, chat.WorldID, persona)
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := s.conversations.Load(ctx, chat, 0)
	if err != nil {
		var configErr *apperr.ConfigError
		if errors.As(err, &configErr) {
			return nil, nil, err
		}
		slog.Error("failed to load conversation", "conversation_id", chat.ConversationID, "error", err.Error())
		return nil, &TurnResult{Reply: FallbackReply, Fallback: true}, nil
	}

	if req.Text == "" {
		if len(snapshot.Turns) == 0 && persona.Greeting != "" {
			return nil, s.greet(ctx, chat, persona, snapshot.Emotion), nil
		}
		return nil, nil, apperr.NewConfigError("text", "message cannot be empty")
	}
	if name, args, ok := parseCommand(req.Text); ok {
		result := s.runCommand(ctx, name, args, persona, snapshot.Emotion)
		return nil, &result, nil
	}

	t := &turn{req: req, chat: chat, persona: persona, snapshot: snapshot}
	cfg := agent.Config{
		Persona:      persona,
		World:        world,
		Context:      chat,
		Model:        s.model,
		MemoryLimit:  s.opts.MemoryLimit,
		HistoryLimit: s.opts.HistoryLimit,
		Timeout:      s.opts.Timeout,
		Emotion:      s.emotion,
		EmotionState: snapshot.Emotion,
	}
	if s.memories != nil {
		manager, err := s.memories.For(chat.UserID, chat.PersonaID)
		if err != nil {
			return nil, nil, err
		}
		t.manager = manager
		cfg.Memory = manager
		cfg.Tools = []models.Tool{tool.SearchMemories(manager, s.opts.MemoryLimit)}
	}

	t.agent, err = agent.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	t.agent.LoadHistory(snapshot.Turns)
	return t, nil, nil
}

func (s *Service) resolveWorld(ctx context.Context, requested string, persona types.PersonaDefinition) (*types.WorldDefinition, error) {
	worldID := requested
	if worldID == "" {
		worldID = persona.WorldID
	}
	if worldID == "" {
		return nil, nil
	}
	world, err := s.personas.GetWorld(ctx, worldID)
	if err == nil {
		return world, nil
	}
	if requested == "" && errors.Is(err, apperr.ErrNotFound) {
		slog.Warn("persona world not found", "persona_id", persona.ID, "world_id", worldID)
		return nil, nil
	}
	return nil, err
}

func (s *Service) greet(ctx context.Context, chat types.ChatContext, persona types.PersonaDefinition, state emotion.State) *TurnResult {
	greeting := utils.NormalizePromptText(persona.Greeting, persona.Name, chat.UserID)
	turn := types.ConversationTurn{
		ID:        uuid.NewString(),
		Role:      types.RoleAssistant,
		Content:   greeting,
		CreatedAt: s.now().UTC(),
	}
	if err := s.conversations.Append(ctx, chat, []types.ConversationTurn{turn}, state); err != nil {
		slog.Error("failed to save greeting", "conversation_id", chat.ConversationID, "error", err.Error())
	}
	return &TurnResult{Reply: greeting}
}

// fail maps a turn error: bad input goes back to the caller, upstream failures become the
// fallback reply.
func (s *Service) fail(t *turn, err error) (TurnResult, error) {
	var (
		configErr   *apperr.ConfigError
		providerErr *apperr.ProviderError
		storageErr  *apperr.StorageError
	)
	switch {
	case errors.As(err, &configErr):
		return TurnResult{}, err
	case errors.As(err, &providerErr), errors.As(err, &storageErr):
		slog.Error("turn failed, sending fallback reply",
			"conversation_id", t.chat.ConversationID,
			"persona_id", t.chat.PersonaID,
			"error", err.Error())
		return TurnResult{Reply: FallbackReply, Fallback: true}, nil
	default:
		return TurnResult{}, err
	}
}

// finish persists the new turns and queues memory extraction.
func (s *Service) finish(ctx context.Context, t *turn, reply agent.Reply, streamed bool) TurnResult {
	history := t.agent.History()
	if len(history) > len(t.snapshot.Turns) {
		added := history[len(t.snapshot.Turns):]
		if err := s.conversations.Append(ctx, t.chat, added, t.agent.EmotionState()); err != nil {
			slog.Error("failed to save turns", "conversation_id", t.chat.ConversationID, "error", err.Error())
		}
	}

	if t.manager != nil {
		queued := s.queue.enqueue(memoryJob{
			conversationID: t.chat.ConversationID,
			manager:        t.manager,
			userText:       t.req.Text,
			reply:          reply.Content,
			emotional:      reply.Emotional,
		})
		if !queued {
			slog.Warn("memory queue closed, exchange not recorded", "conversation_id", t.chat.ConversationID)
		}
		if s.sweeper != nil {
			s.sweeper.Touch(t.manager.Scope())
		}
	}

	return TurnResult{Reply: reply.Content, Emotional: reply.Emotional, Streamed: streamed}
}

// Mood returns the stored emotion state of a conversation.
func (s *Service) Mood(ctx context.Context, chat types.ChatContext) (emotion.State, error) {
	snapshot, err := s.conversations.Load(ctx, chat, 1)
	if err != nil {
		return emotion.State{}, err
	}
	return snapshot.Emotion, nil
}

// History returns up to limit stored turns of a conversation, oldest first.
func (s *Service) History(ctx context.Context, chat types.ChatContext, limit int) ([]types.ConversationTurn, error) {
	snapshot, err := s.conversations.Load(ctx, chat, limit)
	if err != nil {
		return nil, err
	}
	return snapshot.Turns, nil
}

func deref(result *TurnResult) TurnResult {
	if result == nil {
		return TurnResult{}
	}
	return *result
}
