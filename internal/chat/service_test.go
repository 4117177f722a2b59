package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/adk/session"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/conversation"
	"github.com/easeaico/persona-core/internal/creator"
	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/storage"
	"github.com/easeaico/persona-core/internal/storage/vectormem"
	"github.com/easeaico/persona-core/internal/types"
)

type fakeModel struct {
	mu     sync.Mutex
	chunks []string
	err    error
	calls  int
}

var _ models.LanguageModel = (*fakeModel)(nil)

func (f *fakeModel) Complete(ctx context.Context, systemPrompt string, history []types.ConversationTurn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeModel) Stream(ctx context.Context, systemPrompt string, history []types.ConversationTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f.mu.Lock()
		f.calls++
		chunks, err := f.chunks, f.err
		f.mu.Unlock()
		if err != nil {
			yield("", err)
			return
		}
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

type fakeImages struct{}

func (fakeImages) GenerateImage(ctx context.Context, prompt, aspectRatio string) (string, error) {
	return "data:image/png;base64,AAAA", nil
}

type fixture struct {
	svc      *Service
	model    *fakeModel
	factory  *memory.Factory
	sweeper  *memory.Sweeper
	creator  *creator.Service
	sessions session.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	catalog := storage.NewCatalog(&storage.CatalogFile{
		Worlds: []types.WorldDefinition{{ID: "neo-kyoto", Name: "Neo Kyoto", Theme: "cyberpunk"}},
		Personas: []types.PersonaDefinition{
			{ID: "luna", Name: "Luna", Type: types.PersonaCompanion, Greeting: "Hi {{user}}, I'm {{char}}!"},
			{ID: "kai", Name: "Kai", Type: types.PersonaMentor, WorldID: "neo-kyoto"},
		},
	})
	factory := &memory.Factory{
		Store:    vectormem.New(),
		Embedder: memory.NewHashEmbedder(64),
		Settings: memory.DefaultSettings(),
	}
	f := &fixture{
		model:    &fakeModel{chunks: []string{"Hello! ", "How can I help ", "you today?"}},
		factory:  factory,
		sweeper:  memory.NewSweeper(factory, 0, 1),
		creator:  creator.NewService(fakeImages{}),
		sessions: session.InMemoryService(),
	}
	svc, err := NewService(Deps{
		Personas:      catalog,
		Conversations: conversation.NewStore(f.sessions, "test"),
		Model:         f.model,
		Memories:      factory,
		Creator:       f.creator,
		Sweeper:       f.sweeper,
	}, Options{MemoryWorkers: 2})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	t.Cleanup(svc.Close)
	return f
}

func request(text string) TurnRequest {
	return TurnRequest{ConversationID: "conv-1", UserID: "user-1", PersonaID: "luna", Text: text}
}

func TestHandleTurnPersistsAndRemembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.HandleTurn(ctx, request("My sister Emma lives in Paris"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Reply != "Hello! How can I help you today?" || result.Emotional == nil || result.Fallback {
		t.Fatalf("unexpected result: %+v", result)
	}

	history, err := f.svc.History(ctx, types.ChatContext{UserID: "user-1", PersonaID: "luna", ConversationID: "conv-1"}, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Content != "My sister Emma lives in Paris" || history[1].Role != types.RoleAssistant {
		t.Fatalf("unexpected history: %+v", history)
	}

	f.svc.Close()
	manager, err := f.factory.For("user-1", "luna")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	recent, err := manager.GetRecentMemories(ctx, 10)
	if err != nil {
		t.Fatalf("GetRecentMemories: %v", err)
	}
	if len(recent) == 0 || recent[0].Content != "My sister Emma lives in Paris" {
		t.Fatalf("expected the exchange to be remembered, got %+v", recent)
	}
	if len(f.sweeper.Scopes()) != 1 {
		t.Fatalf("expected the scope to be tracked, got %v", f.sweeper.Scopes())
	}
}

func TestHandleTurnCarriesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, text := range []string{"hi", "how are you"} {
		if _, err := f.svc.HandleTurn(ctx, request(text)); err != nil {
			t.Fatalf("HandleTurn: %v", err)
		}
	}
	history, err := f.svc.History(ctx, types.ChatContext{UserID: "user-1", PersonaID: "luna", ConversationID: "conv-1"}, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}
}

func TestStreamTurn(t *testing.T) {
	f := newFixture(t)
	var chunks []string
	result, err := f.svc.StreamTurn(context.Background(), request("Hello Luna!"), func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	if len(chunks) != 3 || strings.Join(chunks, "") != result.Reply || !result.Streamed {
		t.Fatalf("unexpected stream: %q %+v", chunks, result)
	}
}

func TestStreamTurnConsumerStops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stop := errors.New("client gone")
	_, err := f.svc.StreamTurn(ctx, request("Hello Luna!"), func(chunk string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected consumer error, got %v", err)
	}

	history, err := f.svc.History(ctx, types.ChatContext{UserID: "user-1", PersonaID: "luna", ConversationID: "conv-1"}, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("an abandoned stream should not be recorded: %+v", history)
	}
}

func TestProviderFailureFallsBack(t *testing.T) {
	f := newFixture(t)
	f.model.err = apperr.NewProviderError("fake", apperr.Unavailable, errors.New("down"))

	result, err := f.svc.HandleTurn(context.Background(), request("hi"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Reply != FallbackReply || !result.Fallback {
		t.Fatalf("unexpected result: %+v", result)
	}

	var chunks []string
	streamed, err := f.svc.StreamTurn(context.Background(), request("hi"), func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	if !streamed.Fallback || len(chunks) != 1 || chunks[0] != FallbackReply {
		t.Fatalf("unexpected stream fallback: %q %+v", chunks, streamed)
	}
}

func TestGreetingOnEmptyConversation(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.HandleTurn(context.Background(), request(""))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Reply != "Hi user-1, I'm Luna!" {
		t.Fatalf("unexpected greeting %q", result.Reply)
	}
	if f.model.calls != 0 {
		t.Fatalf("greeting should not call the model")
	}

	_, err = f.svc.HandleTurn(context.Background(), request(""))
	var configErr *apperr.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError once the conversation started, got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)
	req := request("hi")
	req.UserID = ""
	var configErr *apperr.ConfigError
	if _, err := f.svc.HandleTurn(context.Background(), req); !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	req = request("hi")
	req.PersonaID = "ghost"
	if _, err := f.svc.HandleTurn(context.Background(), req); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMoodCommand(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.HandleTurn(context.Background(), request("/mood"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Reply != "Luna: Mood: Neutral | Affection: 0 | Relationship: Neutral" {
		t.Fatalf("unexpected mood reply %q", result.Reply)
	}
	if f.model.calls != 0 {
		t.Fatalf("commands should not call the model")
	}
}

func TestImageCommand(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.HandleTurn(context.Background(), request("/image {{char}} on a rooftop"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if result.Job == nil || result.Job.Kind != "image" || !strings.Contains(result.Reply, result.Job.ID) {
		t.Fatalf("unexpected result: %+v", result)
	}
	f.creator.Wait()
	job, err := f.creator.Get(result.Job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Prompt != "Luna on a rooftop" || job.Status != types.JobCompleted {
		t.Fatalf("unexpected job: %+v", job)
	}

	usage, err := f.svc.HandleTurn(context.Background(), request("/image"))
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if usage.Job != nil || !strings.Contains(usage.Reply, "What should I draw?") {
		t.Fatalf("unexpected usage reply: %+v", usage)
	}
}

func TestImagePromptKeepsTemplateSyntax(t *testing.T) {
	persona := types.PersonaDefinition{Name: "Luna", Type: types.PersonaCompanion}
	persona.Personality.Traits = []string{"warm", "curious"}

	tests := []struct {
		raw  string
		want string
	}{
		{"{{char}} ({{traits}}) as a {{type}}", "Luna (warm, curious) as a " + string(types.PersonaCompanion)},
		{"{{.PersonaName}} {{printf \"%s\" 1}}", "{{.PersonaName}} {{printf \"%s\" 1}}"},
		{"{{ unbalanced", "{{ unbalanced"},
	}
	for _, tt := range tests {
		if got := imagePrompt(tt.raw, persona); got != tt.want {
			t.Errorf("imagePrompt(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		name string
		args string
		ok   bool
	}{
		{"/image a cat", commandImage, "a cat", true},
		{"  /mood ", commandMood, "", true},
		{"/unknown thing", "", "", false},
		{"hello /image", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		if name != tt.name || args != tt.args || ok != tt.ok {
			t.Errorf("parseCommand(%q) = %q %q %v", tt.text, name, args, ok)
		}
	}
}

func TestKeyedMutexSerializes(t *testing.T) {
	locks := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("conv")
			defer unlock()
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if len(locks.locks) != 0 {
		t.Fatalf("idle keys should be released, %d left", len(locks.locks))
	}
}

func TestShardForIsStable(t *testing.T) {
	if shardFor("conv-1", 4) != shardFor("conv-1", 4) {
		t.Fatalf("shard must be stable")
	}
	if got := shardFor("anything", 1); got != 0 {
		t.Fatalf("single shard should be 0, got %d", got)
	}
}

func TestHandleTurnLocksTrimmedConversationID(t *testing.T) {
	f := newFixture(t)
	unlock := f.svc.locks.Lock("conv-1")

	done := make(chan error, 1)
	go func() {
		req := request("Hello again")
		req.ConversationID = "  conv-1 "
		_, err := f.svc.HandleTurn(context.Background(), req)
		done <- err
	}()

	select {
	case <-done:
		unlock()
		t.Fatalf("a padded conversation id must wait for the same lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("HandleTurn: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn did not finish after the lock was released")
	}
}
