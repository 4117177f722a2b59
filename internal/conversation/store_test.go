package conversation

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"google.golang.org/adk/session"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/types"
)

func testChat() types.ChatContext {
	return types.ChatContext{UserID: "user-1", PersonaID: "luna", ConversationID: "conv-1"}
}

func exchange(user, reply string) []types.ConversationTurn {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []types.ConversationTurn{
		{ID: "u-" + user, Role: types.RoleUser, Content: user, CreatedAt: at},
		{ID: "a-" + user, Role: types.RoleAssistant, Content: reply, CreatedAt: at.Add(time.Second)},
	}
}

func TestLoadCreatesEmptyConversation(t *testing.T) {
	store := NewStore(session.InMemoryService(), "")
	snap, err := store.Load(context.Background(), testChat(), 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(snap.Turns))
	}
	if snap.Emotion != emotion.NewState() {
		t.Fatalf("unexpected initial state: %+v", snap.Emotion)
	}
}

func TestAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewStore(session.InMemoryService(), "test")

	state := emotion.State{Affection: 15, Mood: emotion.MoodHappy, MoodTurns: 2, LastLabel: "Positive"}
	if err := store.Append(ctx, testChat(), exchange("hi", "hello there"), state); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, testChat(), exchange("how are you", "great"), state); err != nil {
		t.Fatalf("Append: %v", err)
	}

	snap, err := store.Load(ctx, testChat(), 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(snap.Turns))
	}
	if snap.Turns[0].Role != types.RoleUser || snap.Turns[0].Content != "hi" || snap.Turns[0].ID != "u-hi" {
		t.Fatalf("unexpected first turn: %+v", snap.Turns[0])
	}
	if snap.Turns[3].Role != types.RoleAssistant || snap.Turns[3].Content != "great" {
		t.Fatalf("unexpected last turn: %+v", snap.Turns[3])
	}
	if snap.Emotion != state {
		t.Fatalf("unexpected emotion state: %+v", snap.Emotion)
	}

	limited, err := store.Load(ctx, testChat(), 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(limited.Turns) != 1 || limited.Turns[0].Content != "great" {
		t.Fatalf("limit should keep the newest turns: %+v", limited.Turns)
	}
}

func TestConversationBoundToPersona(t *testing.T) {
	ctx := context.Background()
	store := NewStore(session.InMemoryService(), "")
	if err := store.Append(ctx, testChat(), exchange("hi", "hey"), emotion.NewState()); err != nil {
		t.Fatalf("Append: %v", err)
	}

	other := testChat()
	other.PersonaID = "kai"
	_, err := store.Load(ctx, other, 0)
	var configErr *apperr.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestValidateChatContext(t *testing.T) {
	store := NewStore(session.InMemoryService(), "")
	chat := testChat()
	chat.ConversationID = ""
	_, err := store.Load(context.Background(), chat, 0)
	var configErr *apperr.ConfigError
	if !errors.As(err, &configErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(session.InMemoryService(), "")
	if err := store.Append(ctx, testChat(), exchange("hi", "hey"), emotion.NewState()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Delete(ctx, testChat()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	snap, err := store.Load(ctx, testChat(), 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Turns) != 0 {
		t.Fatalf("expected a fresh conversation, got %d turns", len(snap.Turns))
	}
}

type mapState map[string]any

var _ session.State = mapState(nil)

func (m mapState) Get(key string) (any, error) {
	val, ok := m[key]
	if !ok {
		return nil, session.ErrStateKeyNotExist
	}
	return val, nil
}

func (m mapState) Set(key string, value any) error {
	m[key] = value
	return nil
}

func (m mapState) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for k, v := range m {
			if !yield(k, v) {
				return
			}
		}
	}
}

func TestReadEmotionFromJSONNumbers(t *testing.T) {
	state, err := readEmotion(mapState{
		keyAffection: float64(250),
		keyMood:      "Sad",
		keyMoodTurns: "3",
	})
	if err != nil {
		t.Fatalf("readEmotion: %v", err)
	}
	if state.Affection != 100 || state.Mood != "Sad" || state.MoodTurns != 3 {
		t.Fatalf("unexpected state: %+v", state)
	}

	if _, err := readEmotion(mapState{keyAffection: []int{1}}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
