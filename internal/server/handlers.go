package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/chat"
	"github.com/easeaico/persona-core/internal/creator"
	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/storage"
	"github.com/easeaico/persona-core/internal/types"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	ping func(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Store = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Store = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

type PersonaHandler struct {
	personas storage.PersonaRepository
}

// List handles GET /v1/personas
func (h *PersonaHandler) List(w http.ResponseWriter, r *http.Request) {
	personas, err := h.personas.ListPersonas(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": personas})
}

// Get handles GET /v1/personas/{personaID}
func (h *PersonaHandler) Get(w http.ResponseWriter, r *http.Request) {
	persona, err := h.personas.GetPersona(r.Context(), chi.URLParam(r, "personaID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, persona)
}

type TurnHandler struct {
	chat *chat.Service
}

type turnRequest struct {
	PersonaID string `json:"persona_id"`
	WorldID   string `json:"world_id,omitempty"`
	Text      string `json:"text"`
	Stream    bool   `json:"stream,omitempty"`
}

// Create handles POST /v1/conversations/{conversationID}/turns
func (h *TurnHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body turnRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req := chat.TurnRequest{
		ConversationID: chi.URLParam(r, "conversationID"),
		UserID:         userIDFrom(r.Context()),
		PersonaID:      body.PersonaID,
		WorldID:        body.WorldID,
		Text:           body.Text,
	}

	if body.Stream || r.URL.Query().Get("stream") == "true" || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		h.stream(w, r, req)
		return
	}

	result, err := h.chat.HandleTurn(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// stream answers with server-sent events: "chunk" per piece of text, then "done" with the
// full result, or "error".
func (h *TurnHandler) stream(w http.ResponseWriter, r *http.Request, req chat.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errStreamingUnsupported)
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	result, err := h.chat.StreamTurn(r.Context(), req, func(chunk string) error {
		start()
		if err := writeEvent(w, "chunk", map[string]string{"text": chunk}); err != nil {
			return err
		}
		flusher.Flush()
		return r.Context().Err()
	})
	if err != nil {
		if !started {
			writeError(w, r, err)
			return
		}
		status := apperr.HTTPStatus(err)
		msg := http.StatusText(status)
		if status < http.StatusInternalServerError {
			msg = err.Error()
		}
		_ = writeEvent(w, "error", errorResponse{Error: msg})
		flusher.Flush()
		return
	}
	start()
	_ = writeEvent(w, "done", result)
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// List handles GET /v1/conversations/{conversationID}/turns?persona_id=&limit=
func (h *TurnHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	chatCtx := types.ChatContext{
		UserID:         userIDFrom(r.Context()),
		PersonaID:      r.URL.Query().Get("persona_id"),
		ConversationID: chi.URLParam(r, "conversationID"),
	}
	turns, err := h.chat.History(r.Context(), chatCtx, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	mood, err := h.chat.Mood(r.Context(), chatCtx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns, "emotion": mood})
}

type MemoryHandler struct {
	personas storage.PersonaRepository
	memories *memory.Factory
}

// manager resolves the persona first so unknown personas are 404s rather than empty scopes.
func (h *MemoryHandler) manager(r *http.Request) (*memory.Manager, error) {
	if h.memories == nil {
		return nil, apperr.NewProviderError("memory", apperr.Unavailable, fmt.Errorf("memory is not configured"))
	}
	personaID := chi.URLParam(r, "personaID")
	if _, err := h.personas.GetPersona(r.Context(), personaID); err != nil {
		return nil, err
	}
	return h.memories.For(userIDFrom(r.Context()), personaID)
}

// Recent handles GET /v1/personas/{personaID}/memories
func (h *MemoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.manager(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, err := m.GetRecentMemories(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": records})
}

type addMemoryRequest struct {
	Content    string   `json:"content"`
	Type       string   `json:"type,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
}

// Add handles POST /v1/personas/{personaID}/memories
func (h *MemoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var body addMemoryRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	var opts []memory.AddOption
	if body.Type != "" {
		memoryType, ok := types.ParseMemoryType(body.Type)
		if !ok {
			writeError(w, r, apperr.NewConfigError("type", fmt.Sprintf("unknown memory type %q", body.Type)))
			return
		}
		opts = append(opts, memory.WithType(memoryType))
	}
	if body.Importance != nil {
		opts = append(opts, memory.WithImportance(*body.Importance))
	}

	m, err := h.manager(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := m.AddMemory(r.Context(), body.Content, opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Search handles GET /v1/personas/{personaID}/memories/search?q=&limit=
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, r, apperr.NewConfigError("q", "required"))
		return
	}
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.manager(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hits, err := m.SearchScored(r.Context(), query, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// Consolidate handles POST /v1/personas/{personaID}/memories/consolidate
func (h *MemoryHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summaries, err := m.ConsolidateMemories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// Summary handles GET /v1/personas/{personaID}/memories/summary
func (h *MemoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	m, err := h.manager(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := m.GenerateSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type ContentHandler struct {
	creator *creator.Service
}

type contentRequest struct {
	Kind        string `json:"kind"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// Create handles POST /v1/content
func (h *ContentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.creator == nil {
		writeError(w, r, apperr.NewProviderError("creator", apperr.Unavailable, fmt.Errorf("content generation is not configured")))
		return
	}
	var body contentRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	content, err := types.ParseContentType(body.Kind)
	if err != nil {
		writeError(w, r, apperr.NewConfigError("kind", err.Error()))
		return
	}
	if _, ok := content.(types.Image); ok {
		content = types.Image{AspectRatio: body.AspectRatio}
	}
	job, err := h.creator.Submit(r.Context(), content, body.Prompt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Get handles GET /v1/content/{jobID}
func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.creator == nil {
		writeError(w, r, apperr.ErrNotFound)
		return
	}
	job, err := h.creator.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
