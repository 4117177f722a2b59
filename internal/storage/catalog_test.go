package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

const sampleCatalog = `
worlds:
  - id: harbor
    name: Harbor Town
    theme: seaside
    scenarios: [storm night]
personas:
  - id: luna
    name: Luna
    type: Companion
    personality:
      traits: [caring, curious]
      humor_level: 6
  - id: sol
    name: Sol
    type: friend
    world_id: harbor
`

func TestParseCatalog(t *testing.T) {
	file, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog returned error: %v", err)
	}
	if len(file.Personas) != 2 || len(file.Worlds) != 1 {
		t.Fatalf("unexpected catalog: %+v", file)
	}
	if file.Personas[0].Type != types.PersonaCompanion {
		t.Fatalf("expected type to be normalized, got %q", file.Personas[0].Type)
	}
	if file.Personas[0].Personality.HumorLevel != 6 || len(file.Personas[0].Personality.Traits) != 2 {
		t.Fatalf("personality not decoded: %+v", file.Personas[0].Personality)
	}
}

func TestParseCatalogRejectsInvalidPersonas(t *testing.T) {
	cases := map[string]string{
		"unknown type":  "personas:\n  - {id: x, name: X, type: villain}\n",
		"missing name":  "personas:\n  - {id: x, type: friend}\n",
		"unknown world": "personas:\n  - {id: x, name: X, type: friend, world_id: nowhere}\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(raw))
			var configErr *apperr.ConfigError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestCatalogLookups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog returned error: %v", err)
	}
	ctx := context.Background()

	persona, err := catalog.GetPersona(ctx, "sol")
	if err != nil || persona.WorldID != "harbor" {
		t.Fatalf("unexpected persona: %+v, %v", persona, err)
	}
	world, err := catalog.GetWorld(ctx, "harbor")
	if err != nil || world.Name != "Harbor Town" {
		t.Fatalf("unexpected world: %+v, %v", world, err)
	}
	if _, err := catalog.GetPersona(ctx, "nobody"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, _ := catalog.ListPersonas(ctx)
	if len(list) != 2 || list[0].ID != "luna" || list[1].ID != "sol" {
		t.Fatalf("expected personas sorted by id, got %+v", list)
	}
}

func TestSeedCopiesCatalog(t *testing.T) {
	file, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("ParseCatalog returned error: %v", err)
	}
	target := NewCatalog(nil)
	if err := Seed(context.Background(), target, file); err != nil {
		t.Fatalf("Seed returned error: %v", err)
	}
	if _, err := target.GetWorld(context.Background(), "harbor"); err != nil {
		t.Fatalf("world not seeded: %v", err)
	}
	if _, err := target.GetPersona(context.Background(), "luna"); err != nil {
		t.Fatalf("persona not seeded: %v", err)
	}
}

func TestBundledCatalogIsValid(t *testing.T) {
	if _, err := ReadCatalogFile(filepath.Join("..", "..", "configs", "personas.yaml")); err != nil {
		t.Fatalf("bundled catalog invalid: %v", err)
	}
}
