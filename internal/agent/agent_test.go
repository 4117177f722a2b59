package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/types"
)

type fakeModel struct {
	chunks     []string
	err        error
	block      bool
	lastSystem string
	lastWindow []types.ConversationTurn
	pulled     int
}

var _ models.LanguageModel = (*fakeModel)(nil)

func (f *fakeModel) Complete(ctx context.Context, systemPrompt string, history []types.ConversationTurn) (string, error) {
	f.lastSystem = systemPrompt
	f.lastWindow = history
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeModel) Stream(ctx context.Context, systemPrompt string, history []types.ConversationTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.lastSystem = systemPrompt
		f.lastWindow = history
		if f.err != nil {
			yield("", f.err)
			return
		}
		for _, chunk := range f.chunks {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			f.pulled++
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

type fakeMemory struct {
	recent   []types.MemoryRecord
	relevant []types.MemoryRecord
	err      error
}

func (f *fakeMemory) GetRecentMemories(ctx context.Context, limit int) ([]types.MemoryRecord, error) {
	return f.recent, f.err
}

func (f *fakeMemory) SearchMemories(ctx context.Context, query string, limit int) ([]types.MemoryRecord, error) {
	return f.relevant, f.err
}

func luna() types.PersonaDefinition {
	return types.PersonaDefinition{
		ID:   "luna",
		Name: "Luna",
		Type: types.PersonaCompanion,
		Personality: types.Personality{
			Traits: []string{"friendly", "supportive", "curious"},
		},
	}
}

func threeChunks() *fakeModel {
	return &fakeModel{chunks: []string{"Hello! ", "How can I help ", "you today?"}}
}

func newTestAgent(t *testing.T, model models.LanguageModel, memory MemoryRetriever) *Agent {
	t.Helper()
	a, err := New(Config{
		Persona: luna(),
		Context: types.ChatContext{UserID: "user-1", PersonaID: "luna", ConversationID: "conv-1"},
		Model:   model,
		Memory:  memory,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestProcessMessageEndToEnd(t *testing.T) {
	model := threeChunks()
	a := newTestAgent(t, model, &fakeMemory{})

	reply, err := a.ProcessMessage(context.Background(), "Hello Luna!")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if strings.TrimSpace(reply.Content) == "" {
		t.Fatalf("expected content")
	}
	if reply.Emotional == nil {
		t.Fatalf("expected emotional context")
	}
	if a.State() != StateCompleted {
		t.Fatalf("unexpected state: %s", a.State())
	}

	history := a.History()
	if len(history) != 2 || history[0].Role != types.RoleUser || history[1].Role != types.RoleAssistant {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[0].ID == "" || history[0].ID == history[1].ID {
		t.Fatalf("turns need distinct ids: %+v", history)
	}
	if !strings.Contains(model.lastSystem, "Luna") {
		t.Fatalf("system prompt should name the persona: %q", model.lastSystem)
	}
}

func TestStreamMatchesProcessMessage(t *testing.T) {
	processed, err := newTestAgent(t, threeChunks(), nil).ProcessMessage(context.Background(), "Hello Luna!")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	a := newTestAgent(t, threeChunks(), nil)
	stream := a.StreamMessage(context.Background(), "Hello Luna!")
	defer stream.Close()

	var sb strings.Builder
	count := 0
	for chunk, err := range stream.Chunks() {
		if err != nil {
			t.Fatalf("chunk error: %v", err)
		}
		count++
		sb.WriteString(chunk)
	}
	if count != 3 {
		t.Fatalf("expected 3 chunks, got %d", count)
	}
	if sb.String() != processed.Content {
		t.Fatalf("stream %q != process %q", sb.String(), processed.Content)
	}

	result, err := stream.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Content != processed.Content || result.Emotional == nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(a.History()) != 2 {
		t.Fatalf("expected both turns recorded, got %d", len(a.History()))
	}
}

func TestStreamConsumerStopsEarly(t *testing.T) {
	model := threeChunks()
	a := newTestAgent(t, model, nil)
	stream := a.StreamMessage(context.Background(), "Hello Luna!")

	for chunk, err := range stream.Chunks() {
		if err != nil {
			t.Fatalf("chunk error: %v", err)
		}
		if chunk != "Hello! " {
			t.Fatalf("unexpected first chunk %q", chunk)
		}
		break
	}
	stream.Close()

	if model.pulled != 1 {
		t.Fatalf("provider should stop after one chunk, pulled %d", model.pulled)
	}
	for _, turn := range a.History() {
		if turn.Role == types.RoleAssistant {
			t.Fatalf("no assistant turn should be recorded: %+v", a.History())
		}
	}
	if a.State() != StateFailed {
		t.Fatalf("unexpected state: %s", a.State())
	}
	if _, err := stream.Result(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled result, got %v", err)
	}
}

func TestStreamIsSingleUse(t *testing.T) {
	stream := newTestAgent(t, threeChunks(), nil).StreamMessage(context.Background(), "hi")
	for range stream.Chunks() {
	}
	for _, err := range stream.Chunks() {
		if !errors.Is(err, ErrStreamConsumed) {
			t.Fatalf("expected ErrStreamConsumed, got %v", err)
		}
	}
}

func TestStreamProviderError(t *testing.T) {
	a := newTestAgent(t, &fakeModel{err: apperr.NewProviderError("fake", apperr.RateLimited, errors.New("slow down"))}, nil)
	stream := a.StreamMessage(context.Background(), "hi")

	var got error
	for _, err := range stream.Chunks() {
		got = err
	}
	if !apperr.IsKind(got, apperr.RateLimited) {
		t.Fatalf("expected rate limited error, got %v", got)
	}
	if a.State() != StateFailed {
		t.Fatalf("unexpected state: %s", a.State())
	}
}

func TestNewRejectsInvalidPersona(t *testing.T) {
	persona := luna()
	persona.Name = ""
	_, err := New(Config{Persona: persona, Model: threeChunks()})
	var configErr *apperr.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	persona = luna()
	persona.Type = "pirate"
	if _, err := New(Config{Persona: persona, Model: threeChunks()}); !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError for unknown type, got %v", err)
	}

	if _, err := New(Config{Persona: luna()}); !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError for missing model, got %v", err)
	}
}

func TestProcessMessageRejectsEmptyText(t *testing.T) {
	a := newTestAgent(t, threeChunks(), nil)
	_, err := a.ProcessMessage(context.Background(), "   ")
	var configErr *apperr.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if len(a.History()) != 0 {
		t.Fatalf("empty text should not be recorded")
	}
}

func TestProcessMessageInjectsMemories(t *testing.T) {
	shared := types.MemoryRecord{ID: "m1", Content: "User loves hiking", Type: types.MemoryFact, CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	memory := &fakeMemory{
		relevant: []types.MemoryRecord{shared},
		recent:   []types.MemoryRecord{shared, {ID: "m2", Content: "User has a dog named Max", Type: types.MemoryFact}},
	}
	model := threeChunks()
	a := newTestAgent(t, model, memory)

	if _, err := a.ProcessMessage(context.Background(), "Any weekend ideas?"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if strings.Count(model.lastSystem, "User loves hiking") != 1 {
		t.Fatalf("memory should appear exactly once: %q", model.lastSystem)
	}
	if !strings.Contains(model.lastSystem, "dog named Max") {
		t.Fatalf("recent memory missing: %q", model.lastSystem)
	}
}

func TestMemoryFailureDoesNotFailTurn(t *testing.T) {
	memory := &fakeMemory{err: apperr.NewStorageError("search", errors.New("down"))}
	a := newTestAgent(t, threeChunks(), memory)
	if _, err := a.ProcessMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("memory failure should be tolerated: %v", err)
	}
}

func TestProcessMessageTimeout(t *testing.T) {
	a, err := New(Config{Persona: luna(), Model: &fakeModel{block: true}, Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.ProcessMessage(context.Background(), "hi")
	if !apperr.IsKind(err, apperr.Timeout) {
		t.Fatalf("expected timeout provider error, got %v", err)
	}
	if a.State() != StateFailed {
		t.Fatalf("unexpected state: %s", a.State())
	}
}

func TestHistoryWindow(t *testing.T) {
	model := threeChunks()
	a, err := New(Config{Persona: luna(), Model: model, HistoryLimit: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.LoadHistory([]types.ConversationTurn{
		{ID: "1", Role: types.RoleUser, Content: "one"},
		{ID: "2", Role: types.RoleAssistant, Content: "two"},
		{ID: "3", Role: types.RoleUser, Content: "three"},
		{ID: "4", Role: types.RoleAssistant, Content: "four"},
	})
	if _, err := a.ProcessMessage(context.Background(), "five"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(model.lastWindow) != 3 || model.lastWindow[2].Content != "five" || model.lastWindow[0].Content != "three" {
		t.Fatalf("unexpected window: %+v", model.lastWindow)
	}
}

func TestEmotionStateAdvances(t *testing.T) {
	a := newTestAgent(t, &fakeModel{chunks: []string{"That's wonderful!"}}, nil)
	before := a.EmotionState().Affection
	reply, err := a.ProcessMessage(context.Background(), "I love talking to you, thank you so much!")
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if a.EmotionState().Affection <= before {
		t.Fatalf("affection should grow: %d -> %d", before, a.EmotionState().Affection)
	}
	if reply.Emotional.Affection != a.EmotionState().Affection {
		t.Fatalf("reply should carry the new affection")
	}
}

type toolModel struct {
	*fakeModel
	tools []models.Tool
}

var _ models.ToolCaller = (*toolModel)(nil)

func (m *toolModel) CompleteWithTools(ctx context.Context, systemPrompt string, history []types.ConversationTurn, tools []models.Tool) (string, error) {
	m.tools = tools
	return m.Complete(ctx, systemPrompt, history)
}

func TestProcessMessageOffersTools(t *testing.T) {
	search := models.Tool{
		Declaration: &genai.FunctionDeclaration{Name: "search_memories"},
		Run: func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	model := &toolModel{fakeModel: threeChunks()}
	a, err := New(Config{Persona: luna(), Model: model, Tools: []models.Tool{search}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.ProcessMessage(context.Background(), "What is my sister called?"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(model.tools) != 1 || model.tools[0].Declaration.Name != "search_memories" {
		t.Fatalf("tools not offered: %+v", model.tools)
	}

	plain := &toolModel{fakeModel: threeChunks()}
	b, err := New(Config{Persona: luna(), Model: plain})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.ProcessMessage(context.Background(), "Hi"); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if plain.tools != nil {
		t.Fatalf("no tools configured, CompleteWithTools should not run")
	}
}
