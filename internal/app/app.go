// Package app wires configuration into the running services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/adk/session"
	"google.golang.org/adk/session/database"
	"gorm.io/driver/postgres"

	"github.com/easeaico/persona-core/internal/chat"
	"github.com/easeaico/persona-core/internal/config"
	"github.com/easeaico/persona-core/internal/conversation"
	"github.com/easeaico/persona-core/internal/creator"
	"github.com/easeaico/persona-core/internal/emotion"
	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/models"
	"github.com/easeaico/persona-core/internal/server"
	"github.com/easeaico/persona-core/internal/storage"
	"github.com/easeaico/persona-core/internal/storage/vectormem"
)

// DefaultCatalogPath is used by the memory backend when PERSONA_CATALOG is unset.
const DefaultCatalogPath = "configs/personas.yaml"

// App owns every long-lived component.
type App struct {
	Config   config.Config
	DB       *storage.Store
	Personas storage.PersonaRepository
	Memories *memory.Factory
	Chat     *chat.Service
	Creator  *creator.Service
	Sweeper  *memory.Sweeper

	closers []func()
}

// New builds the stores, models and services described by cfg.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	memoryStore, sessions, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.EmbeddingCacheSize > 0 {
		cached, err := memory.NewCachedEmbedder(embedder, cfg.EmbeddingCacheSize)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, cached.Close)
		embedder = cached
	}

	llm, err := models.NewLLM(ctx, models.ProviderConfig{Provider: cfg.LLMProvider, Model: cfg.ChatModel, APIKey: cfg.APIKey()})
	if err != nil {
		return fmt.Errorf("failed to create chat model: %w", err)
	}
	summaryLLM := llm
	if cfg.SummaryModel != cfg.ChatModel {
		summaryLLM, err = models.NewLLM(ctx, models.ProviderConfig{Provider: cfg.LLMProvider, Model: cfg.SummaryModel, APIKey: cfg.APIKey()})
		if err != nil {
			return fmt.Errorf("failed to create summary model: %w", err)
		}
	}
	summarizer, err := memory.NewAgentSummarizer(ctx, summaryLLM)
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	a.Memories = &memory.Factory{
		Store:      memoryStore,
		Embedder:   embedder,
		Summarizer: summarizer,
		Settings:   MemorySettings(cfg),
	}
	a.Sweeper = memory.NewSweeper(a.Memories, cfg.ConsolidationInterval, cfg.MemoryWorkers)

	var classifier emotion.Classifier
	if cfg.EmotionAnalyzer == "model" {
		classifier = emotion.NewAnalyzer(llm)
	}

	var images creator.ImageGenerator
	if cfg.GoogleAPIKey != "" {
		images, err = creator.NewGeminiImageGenerator(ctx, cfg.GoogleAPIKey, cfg.ImageModel, cfg.AspectRatio)
		if err != nil {
			return fmt.Errorf("failed to create image generator: %w", err)
		}
	} else {
		slog.Warn("GOOGLE_API_KEY not set, image generation disabled")
	}
	a.Creator = creator.NewService(images)

	a.Chat, err = chat.NewService(chat.Deps{
		Personas:      a.Personas,
		Conversations: conversation.NewStore(sessions, conversation.DefaultAppName),
		Model:         models.NewChatModel(llm, cfg.LLMProvider),
		Emotion:       emotion.NewService(nil, classifier),
		Memories:      a.Memories,
		Creator:       a.Creator,
		Sweeper:       a.Sweeper,
	}, chat.Options{
		HistoryLimit:  cfg.HistoryLimit,
		MemoryLimit:   cfg.TopK,
		Timeout:       cfg.ModelTimeout,
		MemoryWorkers: cfg.MemoryWorkers,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Chat.Close)
	return nil
}

// openStores selects the memory, persona and session backends.
func (a *App) openStores(ctx context.Context) (memory.Store, session.Service, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := storage.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Personas = db.Personas

		if cfg.PersonaCatalog != "" {
			file, err := storage.ReadCatalogFile(cfg.PersonaCatalog)
			if err != nil {
				return nil, nil, err
			}
			if err := storage.Seed(ctx, db.Personas, file); err != nil {
				return nil, nil, err
			}
		}

		sessions, err := database.NewSessionService(postgres.Open(cfg.DatabaseURL))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create session service: %w", err)
		}
		return db.Memories, sessions, nil

	case config.BackendMemory:
		path := cfg.PersonaCatalog
		if path == "" {
			path = DefaultCatalogPath
		}
		catalog, err := storage.LoadCatalog(path)
		if err != nil {
			return nil, nil, err
		}
		a.Personas = catalog
		return vectormem.New(), session.InMemoryService(), nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
}

// NewEmbedder returns the configured embedding provider without caching.
func NewEmbedder(ctx context.Context, cfg config.Config) (memory.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "genai":
		return memory.NewGenAIEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "openai":
		return memory.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	case "hash":
		return memory.NewHashEmbedder(cfg.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.EmbeddingProvider)
	}
}

// MemorySettings maps configuration onto memory settings.
func MemorySettings(cfg config.Config) memory.Settings {
	settings := memory.DefaultSettings()
	settings.SimilarityThreshold = cfg.SimilarityThreshold
	settings.DegradedMode = cfg.DegradedMemory
	settings.ConsolidationMinAge = cfg.ConsolidationMinAge
	settings.ConsolidationMaxImportance = cfg.ConsolidationMaxImportance
	settings.ConsolidationGroupWindow = cfg.ConsolidationGroupWindow
	return settings
}

// Handler returns the HTTP API.
func (a *App) Handler(logger *slog.Logger) http.Handler {
	var ping func(context.Context) error
	if a.DB != nil {
		ping = a.DB.Ping
	}
	return server.NewRouter(server.Deps{
		Personas: a.Personas,
		Chat:     a.Chat,
		Memories: a.Memories,
		Creator:  a.Creator,
		Ping:     ping,
	}, logger)
}

// RunSweeper consolidates active scopes until ctx is done.
func (a *App) RunSweeper(ctx context.Context) error {
	return a.Sweeper.Run(ctx)
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
