package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/adk/session"

	"github.com/easeaico/persona-core/internal/chat"
	"github.com/easeaico/persona-core/internal/conversation"
	"github.com/easeaico/persona-core/internal/creator"
	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/storage"
	"github.com/easeaico/persona-core/internal/storage/vectormem"
	"github.com/easeaico/persona-core/internal/types"
)

type fakeModel struct {
	chunks []string
}

var _ models.LanguageModel = (*fakeModel)(nil)

func (f *fakeModel) Complete(ctx context.Context, systemPrompt string, history []types.ConversationTurn) (string, error) {
	return strings.Join(f.chunks, ""), nil
}

func (f *fakeModel) Stream(ctx context.Context, systemPrompt string, history []types.ConversationTurn) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, chunk := range f.chunks {
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

func newTestServer(t *testing.T, ping func(context.Context) error) *httptest.Server {
	t.Helper()
	catalog := storage.NewCatalog(&storage.CatalogFile{
		Personas: []types.PersonaDefinition{
			{ID: "luna", Name: "Luna", Type: types.PersonaCompanion},
			{ID: "blaze", Name: "Blaze", Type: types.PersonaHype},
		},
	})
	factory := &memory.Factory{
		Store:    vectormem.New(),
		Embedder: memory.NewHashEmbedder(64),
		Settings: memory.DefaultSettings(),
	}
	chatSvc, err := chat.NewService(chat.Deps{
		Personas:      catalog,
		Conversations: conversation.NewStore(session.InMemoryService(), "test"),
		Model:         &fakeModel{chunks: []string{"Hello! ", "How can I help ", "you today?"}},
		Memories:      factory,
	}, chat.Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(chatSvc.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(Deps{
		Personas: catalog,
		Chat:     chatSvc,
		Memories: factory,
		Creator:  creator.NewService(fakeImages{}),
		Ping:     ping,
	}, logger))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

var asUser = map[string]string{headerUserID: "user-1"}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if resp.Header.Get(headerRequestID) == "" {
		t.Fatalf("expected a request id header")
	}

	degraded := newTestServer(t, func(context.Context) error { return errors.New("db down") })
	resp = do(t, degraded, http.MethodGet, "/health", "", nil)
	var body healthResponse
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusServiceUnavailable || body.Status != "degraded" {
		t.Fatalf("unexpected health: %d %+v", resp.StatusCode, body)
	}
}

func TestPersonas(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodGet, "/v1/personas", "", nil)
	var list struct {
		Personas []types.PersonaDefinition `json:"personas"`
	}
	decode(t, resp, &list)
	if len(list.Personas) != 2 || list.Personas[0].ID != "blaze" {
		t.Fatalf("unexpected personas: %+v", list.Personas)
	}

	resp = do(t, srv, http.MethodGet, "/v1/personas/ghost", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTurnRequiresUser(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/v1/conversations/c1/turns", `{"persona_id":"luna","text":"hi"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestTurnJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/v1/conversations/c1/turns", `{"persona_id":"luna","text":"Hello Luna!"}`, asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var result chat.TurnResult
	decode(t, resp, &result)
	if result.Reply != "Hello! How can I help you today?" || result.Emotional == nil {
		t.Fatalf("unexpected result: %+v", result)
	}

	resp = do(t, srv, http.MethodGet, "/v1/conversations/c1/turns?persona_id=luna", "", asUser)
	var history struct {
		Turns []types.ConversationTurn `json:"turns"`
	}
	decode(t, resp, &history)
	if len(history.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(history.Turns))
	}
}

func TestTurnBadInput(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/v1/conversations/c1/turns", `{"persona_id":"luna","text":"   "}`, asUser)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodPost, "/v1/conversations/c1/turns", `{"persona_id":`, asUser)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestTurnSSE(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/v1/conversations/c2/turns", `{"persona_id":"luna","text":"Hello Luna!"}`,
		map[string]string{headerUserID: "user-1", "Accept": "text/event-stream"})
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var events []string
	var text strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	current := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
			events = append(events, current)
		case strings.HasPrefix(line, "data: ") && current == "chunk":
			var chunk map[string]string
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
				t.Fatalf("bad chunk: %v", err)
			}
			text.WriteString(chunk["text"])
		}
	}
	if strings.Join(events, ",") != "chunk,chunk,chunk,done" {
		t.Fatalf("unexpected events: %v", events)
	}
	if text.String() != "Hello! How can I help you today?" {
		t.Fatalf("unexpected streamed text %q", text.String())
	}
}

func TestMemoryRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/v1/personas/luna/memories", `{"content":"User has a dog named Max","type":"fact","importance":0.9}`, asUser)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var record types.MemoryRecord
	decode(t, resp, &record)
	if record.ID == "" || record.Type != types.MemoryFact || record.UserID != "user-1" {
		t.Fatalf("unexpected record: %+v", record)
	}

	resp = do(t, srv, http.MethodGet, "/v1/personas/luna/memories", "", asUser)
	var recent struct {
		Memories []types.MemoryRecord `json:"memories"`
	}
	decode(t, resp, &recent)
	if len(recent.Memories) != 1 {
		t.Fatalf("expected 1 memory, got %d", len(recent.Memories))
	}

	resp = do(t, srv, http.MethodGet, "/v1/personas/luna/memories/search?q=dog+named+Max", "", asUser)
	var search struct {
		Results []types.ScoredMemory `json:"results"`
	}
	decode(t, resp, &search)
	if len(search.Results) != 1 || search.Results[0].Record.ID != record.ID {
		t.Fatalf("unexpected search: %+v", search.Results)
	}

	resp = do(t, srv, http.MethodGet, "/v1/personas/luna/memories/summary", "", asUser)
	var summary map[string]string
	decode(t, resp, &summary)
	if !strings.Contains(summary["summary"], "dog named Max") {
		t.Fatalf("unexpected summary: %q", summary["summary"])
	}

	resp = do(t, srv, http.MethodPost, "/v1/personas/luna/memories/consolidate", "", asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected consolidate status %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, "/v1/personas/luna/memories", `{"content":"x","type":"gossip"}`, asUser)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/v1/personas/ghost/memories", "", asUser)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown persona, got %d", resp.StatusCode)
	}
}

func TestContentRoutes(t *testing.T) {
	srv := newTestServer(t, nil)
	resp := do(t, srv, http.MethodPost, "/v1/content", `{"kind":"image","prompt":"a fox"}`, asUser)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var job types.GenerationJob
	decode(t, resp, &job)

	resp = do(t, srv, http.MethodGet, "/v1/content/"+job.ID, "", asUser)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodPost, "/v1/content", `{"kind":"music","prompt":"lofi"}`, asUser)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported kind, got %d", resp.StatusCode)
	}

	resp = do(t, srv, http.MethodGet, "/v1/content/missing", "", asUser)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
