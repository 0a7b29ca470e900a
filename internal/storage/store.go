package storage

import (
	"context"

	"trophos/internal/model"
)

// Store defines persistence operations for the ingestion and dataset
// pipeline. List operations return records in a deterministic order so
// seeded downstream builds are reproducible.
type Store interface {
	Init(ctx context.Context) error

	SaveOrganism(ctx context.Context, organism model.Organism) error
	GetOrganism(ctx context.Context, id string) (model.Organism, bool, error)
	// ListOrganisms returns organisms ordered by ID, optionally filtered
	// to one type. An empty type means all.
	ListOrganisms(ctx context.Context, typ model.OrganismType) ([]model.Organism, error)

	SaveStrain(ctx context.Context, strain model.Strain) error
	GetStrain(ctx context.Context, id int64) (model.Strain, bool, error)
	ListStrains(ctx context.Context) ([]model.Strain, error)

	SaveIngredient(ctx context.Context, ingredient model.Ingredient) error
	ListIngredients(ctx context.Context) ([]model.Ingredient, error)

	SaveMedia(ctx context.Context, media model.MediaFormulation) error
	GetMedia(ctx context.Context, id string) (model.MediaFormulation, bool, error)
	ListMedia(ctx context.Context) ([]model.MediaFormulation, error)

	// SaveObservation upserts on (organism, media, provenance); the same
	// pair from different provenances is retained separately.
	SaveObservation(ctx context.Context, obs model.GrowthObservation) error
	ListObservations(ctx context.Context) ([]model.GrowthObservation, error)

	SaveStrainGrowth(ctx context.Context, growth model.StrainGrowth) error
	ListStrainGrowth(ctx context.Context, strainID int64) ([]model.StrainGrowth, error)

	// SaveEmbedding upserts on (organism, method).
	SaveEmbedding(ctx context.Context, embedding model.Embedding) error
	GetEmbedding(ctx context.Context, organismID, method string) (model.Embedding, bool, error)
	// DeleteEmbedding invalidates a stored vector so the next request
	// recomputes it.
	DeleteEmbedding(ctx context.Context, organismID, method string) error

	// Ingest task log, so long-running fetch passes are resumable.
	MarkTaskDone(ctx context.Context, task string) error
	MarkTaskError(ctx context.Context, task, message string) error
	IsTaskDone(ctx context.Context, task string) (bool, error)

	TableCounts(ctx context.Context) (map[string]int64, error)
}
