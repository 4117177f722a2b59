package storage

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

// CatalogFile is the YAML layout of a persona catalog.
type CatalogFile struct {
	Worlds   []types.WorldDefinition   `yaml:"worlds"`
	Personas []types.PersonaDefinition `yaml:"personas"`
}

// ReadCatalogFile parses and validates a catalog file.
func ReadCatalogFile(path string) (*CatalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes YAML and checks every persona and world reference.
func ParseCatalog(raw []byte) (*CatalogFile, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	worlds := make(map[string]bool, len(file.Worlds))
	for _, world := range file.Worlds {
		if world.ID == "" {
			return nil, apperr.NewConfigError("world.id", "required")
		}
		worlds[world.ID] = true
	}
	for i, persona := range file.Personas {
		persona.Type = types.PersonaType(normalizeType(string(persona.Type)))
		if err := persona.Validate(); err != nil {
			return nil, fmt.Errorf("persona %d: %w", i, err)
		}
		if persona.WorldID != "" && !worlds[persona.WorldID] {
			return nil, apperr.NewConfigError("persona.world_id", fmt.Sprintf("persona %s references unknown world %s", persona.ID, persona.WorldID))
		}
		file.Personas[i] = persona
	}
	return &file, nil
}

func normalizeType(raw string) string {
	if t, err := types.ParsePersonaType(raw); err == nil {
		return string(t)
	}
	return raw
}

// Catalog is an in-memory PersonaRepository, usually loaded from YAML.
type Catalog struct {
	mu       sync.RWMutex
	personas map[string]types.PersonaDefinition
	worlds   map[string]types.WorldDefinition
}

var _ PersonaRepository = (*Catalog)(nil)

// NewCatalog builds a catalog from file. A nil file yields an empty catalog.
func NewCatalog(file *CatalogFile) *Catalog {
	c := &Catalog{
		personas: make(map[string]types.PersonaDefinition),
		worlds:   make(map[string]types.WorldDefinition),
	}
	if file != nil {
		for _, world := range file.Worlds {
			c.worlds[world.ID] = world
		}
		for _, persona := range file.Personas {
			c.personas[persona.ID] = persona
		}
	}
	return c
}

// LoadCatalog reads a catalog file into memory.
func LoadCatalog(path string) (*Catalog, error) {
	file, err := ReadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(file), nil
}

func (c *Catalog) GetPersona(_ context.Context, id string) (*types.PersonaDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	persona, ok := c.personas[id]
	if !ok {
		return nil, fmt.Errorf("persona %s: %w", id, apperr.ErrNotFound)
	}
	return &persona, nil
}

func (c *Catalog) GetWorld(_ context.Context, id string) (*types.WorldDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	world, ok := c.worlds[id]
	if !ok {
		return nil, fmt.Errorf("world %s: %w", id, apperr.ErrNotFound)
	}
	return &world, nil
}

func (c *Catalog) ListPersonas(_ context.Context) ([]types.PersonaDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	personas := make([]types.PersonaDefinition, 0, len(c.personas))
	for _, persona := range c.personas {
		personas = append(personas, persona)
	}
	sort.Slice(personas, func(i, j int) bool { return personas[i].ID < personas[j].ID })
	return personas, nil
}

func (c *Catalog) UpsertPersona(_ context.Context, persona types.PersonaDefinition) error {
	if err := persona.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.personas[persona.ID] = persona
	c.mu.Unlock()
	return nil
}

func (c *Catalog) UpsertWorld(_ context.Context, world types.WorldDefinition) error {
	if world.ID == "" {
		return apperr.NewConfigError("world.id", "required")
	}
	c.mu.Lock()
	c.worlds[world.ID] = world
	c.mu.Unlock()
	return nil
}

// Seed copies every world and persona of file into repo, worlds first.
func Seed(ctx context.Context, repo PersonaRepository, file *CatalogFile) error {
	for _, world := range file.Worlds {
		if err := repo.UpsertWorld(ctx, world); err != nil {
			return fmt.Errorf("failed to seed world %s: %w", world.ID, err)
		}
	}
	for _, persona := range file.Personas {
		if err := repo.UpsertPersona(ctx, persona); err != nil {
			return fmt.Errorf("failed to seed persona %s: %w", persona.ID, err)
		}
	}
	return nil
}
