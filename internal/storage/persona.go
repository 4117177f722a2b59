package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/persona-core/internal/apperr"
	"github.com/easeaico/persona-core/internal/types"
)

// PersonaRepository resolves personas and worlds.
type PersonaRepository interface {
	GetPersona(ctx context.Context, id string) (*types.PersonaDefinition, error)
	GetWorld(ctx context.Context, id string) (*types.WorldDefinition, error)
	ListPersonas(ctx context.Context) ([]types.PersonaDefinition, error)
	UpsertPersona(ctx context.Context, persona types.PersonaDefinition) error
	UpsertWorld(ctx context.Context, world types.WorldDefinition) error
}

type personaModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:255;not null"`
	Type         string `gorm:"size:32;not null"`
	Personality  datatypes.JSONType[types.Personality]
	SystemPrompt string `gorm:"type:text"`
	VoiceID      string `gorm:"size:128"`
	WorldID      string `gorm:"size:64"`
	Greeting     string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (personaModel) TableName() string {
	return "personas"
}

type worldModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	Name       string `gorm:"size:255;not null"`
	Theme      string `gorm:"type:text"`
	Setting    string `gorm:"type:text"`
	Atmosphere string `gorm:"type:text"`
	TimePeriod string `gorm:"size:255"`
	Location   string `gorm:"size:255"`
	Scenarios  datatypes.JSONType[[]string]
	Locations  datatypes.JSONType[[]string]
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (worldModel) TableName() string {
	return "worlds"
}

// PersonaRepo accesses personas and worlds in PostgreSQL.
type PersonaRepo struct {
	db *gorm.DB
}

var _ PersonaRepository = (*PersonaRepo)(nil)

// NewPersonaRepo returns a PersonaRepo.
func NewPersonaRepo(db *gorm.DB) *PersonaRepo {
	return &PersonaRepo{db: db}
}

func (r *PersonaRepo) GetPersona(ctx context.Context, id string) (*types.PersonaDefinition, error) {
	var model personaModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("persona %s: %w", id, apperr.ErrNotFound)
		}
		return nil, apperr.NewStorageError("get persona", err)
	}
	persona := personaFromModel(model)
	return &persona, nil
}

func (r *PersonaRepo) GetWorld(ctx context.Context, id string) (*types.WorldDefinition, error) {
	var model worldModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("world %s: %w", id, apperr.ErrNotFound)
		}
		return nil, apperr.NewStorageError("get world", err)
	}
	world := worldFromModel(model)
	return &world, nil
}

func (r *PersonaRepo) ListPersonas(ctx context.Context) ([]types.PersonaDefinition, error) {
	var models []personaModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, apperr.NewStorageError("list personas", err)
	}
	personas := make([]types.PersonaDefinition, 0, len(models))
	for _, model := range models {
		personas = append(personas, personaFromModel(model))
	}
	return personas, nil
}

func (r *PersonaRepo) UpsertPersona(ctx context.Context, persona types.PersonaDefinition) error {
	if err := persona.Validate(); err != nil {
		return err
	}
	model := personaModel{
		ID:           persona.ID,
		Name:         persona.Name,
		Type:         string(persona.Type),
		Personality:  datatypes.NewJSONType(persona.Personality),
		SystemPrompt: persona.SystemPrompt,
		VoiceID:      persona.VoiceID,
		WorldID:      persona.WorldID,
		Greeting:     persona.Greeting,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return apperr.NewStorageError("upsert persona", err)
	}
	return nil
}

func (r *PersonaRepo) UpsertWorld(ctx context.Context, world types.WorldDefinition) error {
	if world.ID == "" {
		return apperr.NewConfigError("world.id", "required")
	}
	model := worldModel{
		ID:         world.ID,
		Name:       world.Name,
		Theme:      world.Theme,
		Setting:    world.Setting,
		Atmosphere: world.Atmosphere,
		TimePeriod: world.TimePeriod,
		Location:   world.Location,
		Scenarios:  datatypes.NewJSONType(world.Scenarios),
		Locations:  datatypes.NewJSONType(world.Locations),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&model).Error; err != nil {
		return apperr.NewStorageError("upsert world", err)
	}
	return nil
}

func personaFromModel(model personaModel) types.PersonaDefinition {
	return types.PersonaDefinition{
		ID:           model.ID,
		Name:         model.Name,
		Type:         types.PersonaType(model.Type),
		Personality:  model.Personality.Data(),
		SystemPrompt: model.SystemPrompt,
		VoiceID:      model.VoiceID,
		WorldID:      model.WorldID,
		Greeting:     model.Greeting,
	}
}

func worldFromModel(model worldModel) types.WorldDefinition {
	return types.WorldDefinition{
		ID:         model.ID,
		Name:       model.Name,
		Theme:      model.Theme,
		Setting:    model.Setting,
		Atmosphere: model.Atmosphere,
		TimePeriod: model.TimePeriod,
		Location:   model.Location,
		Scenarios:  model.Scenarios.Data(),
		Locations:  model.Locations.Data(),
	}
}
