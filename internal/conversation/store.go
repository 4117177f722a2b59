// Package conversation persists conversation turns and the persona emotion state as adk
// session events.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/types"
	"github.com/easeaico/persona-core/internal/utils"
)

// DefaultAppName scopes sessions written by this service.
const DefaultAppName = "persona-core"

const (
	keyPersonaID = "persona_id"
	keyAffection = "affection"
	keyMood      = "mood"
	keyMoodTurns = "mood_turns"
	keyLastLabel = "last_label"

	authorUser = "user"
)

// Snapshot is the stored view of one conversation.
type Snapshot struct {
	Turns   []types.ConversationTurn
	Emotion emotion.State
}

// Store reads and writes conversations through a session.Service.
type Store struct {
	sessions session.Service
	appName  string
}

// NewStore wraps sessions. An empty appName uses DefaultAppName.
func NewStore(sessions session.Service, appName string) *Store {
	if strings.TrimSpace(appName) == "" {
		appName = DefaultAppName
	}
	return &Store{sessions: sessions, appName: appName}
}

func validate(chat types.ChatContext) error {
	switch {
	case strings.TrimSpace(chat.ConversationID) == "":
		return apperr.NewConfigError("conversation_id", "required")
	case strings.TrimSpace(chat.UserID) == "":
		return apperr.NewConfigError("user_id", "required")
	case strings.TrimSpace(chat.PersonaID) == "":
		return apperr.NewConfigError("persona_id", "required")
	}
	return nil
}

// Load returns the last limit turns (all when limit <= 0) and the emotion state, creating the
// session on first use.
func (s *Store) Load(ctx context.Context, chat types.ChatContext, limit int) (Snapshot, error) {
	sess, err := s.ensure(ctx, chat)
	if err != nil {
		return Snapshot{}, err
	}
	if err := checkPersona(sess, chat.PersonaID); err != nil {
		return Snapshot{}, err
	}

	turns := make([]types.ConversationTurn, 0, sess.Events().Len())
	for event := range sess.Events().All() {
		if turn, ok := turnFromEvent(event); ok {
			turns = append(turns, turn)
		}
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	state, err := readEmotion(sess.State())
	if err != nil {
		return Snapshot{}, apperr.NewStorageError("read emotion state", err)
	}
	return Snapshot{Turns: turns, Emotion: state}, nil
}

// Append records turns in order. The emotion state rides on the last event as a state delta.
func (s *Store) Append(ctx context.Context, chat types.ChatContext, turns []types.ConversationTurn, state emotion.State) error {
	if len(turns) == 0 {
		return nil
	}
	sess, err := s.ensure(ctx, chat)
	if err != nil {
		return err
	}

	invocationID := turns[0].ID
	for i, turn := range turns {
		event := s.eventFromTurn(invocationID, chat, turn)
		if i == len(turns)-1 {
			event.Actions.StateDelta = map[string]any{
				keyAffection: state.Affection,
				keyMood:      state.Mood,
				keyMoodTurns: state.MoodTurns,
				keyLastLabel: state.LastLabel,
			}
		}
		if err := s.sessions.AppendEvent(ctx, sess, event); err != nil {
			return apperr.NewStorageError("append turn", err)
		}
	}
	return nil
}

// Delete removes the conversation and its history.
func (s *Store) Delete(ctx context.Context, chat types.ChatContext) error {
	if err := validate(chat); err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, &session.DeleteRequest{
		AppName:   s.appName,
		UserID:    chat.UserID,
		SessionID: chat.ConversationID,
	}); err != nil {
		return apperr.NewStorageError("delete conversation", err)
	}
	return nil
}

func (s *Store) ensure(ctx context.Context, chat types.ChatContext) (session.Session, error) {
	if err := validate(chat); err != nil {
		return nil, err
	}
	get := &session.GetRequest{AppName: s.appName, UserID: chat.UserID, SessionID: chat.ConversationID}
	if resp, err := s.sessions.Get(ctx, get); err == nil && resp != nil && resp.Session != nil {
		return resp.Session, nil
	}

	initial := emotion.NewState()
	created, err := s.sessions.Create(ctx, &session.CreateRequest{
		AppName:   s.appName,
		UserID:    chat.UserID,
		SessionID: chat.ConversationID,
		State: map[string]any{
			keyPersonaID: chat.PersonaID,
			keyAffection: initial.Affection,
			keyMood:      initial.Mood,
			keyMoodTurns: initial.MoodTurns,
			keyLastLabel: initial.LastLabel,
		},
	})
	if err == nil && created != nil && created.Session != nil {
		return created.Session, nil
	}

	// A concurrent writer may have created the session between Get and Create.
	resp, getErr := s.sessions.Get(ctx, get)
	if getErr != nil || resp == nil || resp.Session == nil {
		return nil, apperr.NewStorageError("open conversation", errors.Join(err, getErr))
	}
	return resp.Session, nil
}

func checkPersona(sess session.Session, personaID string) error {
	stored, err := sess.State().Get(keyPersonaID)
	if err != nil {
		return nil
	}
	if id, ok := stored.(string); ok && id != "" && id != personaID {
		return apperr.NewConfigError("persona_id", fmt.Sprintf("conversation belongs to persona %q", id))
	}
	return nil
}

func (s *Store) eventFromTurn(invocationID string, chat types.ChatContext, turn types.ConversationTurn) *session.Event {
	event := session.NewEvent(invocationID)
	if turn.ID != "" {
		event.ID = turn.ID
	}
	if !turn.CreatedAt.IsZero() {
		event.Timestamp = turn.CreatedAt
	}
	var role genai.Role = genai.RoleModel
	event.Author = chat.PersonaID
	if turn.Role == types.RoleUser {
		role = genai.RoleUser
		event.Author = authorUser
	}
	event.Content = genai.NewContentFromText(turn.Content, role)
	return event
}

func turnFromEvent(event *session.Event) (types.ConversationTurn, bool) {
	if event == nil || event.Content == nil || event.Partial {
		return types.ConversationTurn{}, false
	}
	text := strings.TrimSpace(utils.ExtractContentText(event.Content))
	if text == "" {
		return types.ConversationTurn{}, false
	}
	role := types.RoleAssistant
	if event.Author == authorUser || event.Content.Role == string(genai.RoleUser) {
		role = types.RoleUser
	}
	return types.ConversationTurn{
		ID:        event.ID,
		Role:      role,
		Content:   text,
		CreatedAt: event.Timestamp.UTC(),
	}, true
}

func readEmotion(state session.State) (emotion.State, error) {
	out := emotion.NewState()
	var err error
	if out.Affection, err = readIntState(state, keyAffection); err != nil {
		return out, err
	}
	if out.MoodTurns, err = readIntState(state, keyMoodTurns); err != nil {
		return out, err
	}
	if mood := readStringState(state, keyMood); mood != "" {
		out.Mood = mood
	}
	out.LastLabel = readStringState(state, keyLastLabel)
	out.Affection = emotion.ClampAffection(out.Affection)
	return out, nil
}

func readStringState(state session.State, key string) string {
	val, err := state.Get(key)
	if err != nil {
		return ""
	}
	str, _ := val.(string)
	return str
}

// readIntState accepts the numeric shapes a state value takes after a JSON round trip.
func readIntState(state session.State, key string) (int, error) {
	val, err := state.Get(key)
	if err != nil {
		if errors.Is(err, session.ErrStateKeyNotExist) {
			return 0, nil
		}
		return 0, err
	}
	switch cast := val.(type) {
	case int:
		return cast, nil
	case int32:
		return int(cast), nil
	case int64:
		return int(cast), nil
	case float32:
		return int(cast), nil
	case float64:
		return int(cast), nil
	case json.Number:
		parsed, err := cast.Int64()
		if err != nil {
			return 0, fmt.Errorf("state value for %s is not an int: %w", key, err)
		}
		return int(parsed), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(cast))
		if err != nil {
			return 0, fmt.Errorf("state value for %s is not an int: %w", key, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("state value for %s has unsupported type %T", key, val)
	}
}
