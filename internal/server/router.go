// Package server exposes personas, conversations, memories and content jobs over HTTP.
package server

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/easeaico/persona-core/internal/chat"
	"github.com/easeaico/persona-core/internal/creator"
	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/storage"
)

// Deps are the services behind the routes. Creator and Ping are optional.
type Deps struct {
	Personas storage.PersonaRepository
	Chat     *chat.Service
	Memories *memory.Factory
	Creator  *creator.Service
	// Ping reports whether the backing store is reachable.
	Ping func(ctx context.Context) error
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(deps Deps, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := &HealthHandler{ping: deps.Ping}
	personaH := &PersonaHandler{personas: deps.Personas}
	turnH := &TurnHandler{chat: deps.Chat}
	memoryH := &MemoryHandler{personas: deps.Personas, memories: deps.Memories}
	contentH := &ContentHandler{creator: deps.Creator}

	r.Get("/health", healthH.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/personas", personaH.List)
		r.Get("/personas/{personaID}", personaH.Get)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Post("/turns", turnH.Create)
				r.Get("/turns", turnH.List)
			})

			r.Route("/personas/{personaID}/memories", func(r chi.Router) {
				r.Get("/", memoryH.Recent)
				r.Post("/", memoryH.Add)
				r.Get("/search", memoryH.Search)
				r.Post("/consolidate", memoryH.Consolidate)
				r.Get("/summary", memoryH.Summary)
			})

			r.Route("/content", func(r chi.Router) {
				r.Post("/", contentH.Create)
				r.Get("/{jobID}", contentH.Get)
			})
		})
	})

	return r
}
