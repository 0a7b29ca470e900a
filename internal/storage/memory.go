package storage

import (
	"context"
	"sort"
	"sync"

	"trophos/internal/model"
)

type obsKey struct {
	organismID string
	mediaID    string
	provenance model.Provenance
}

type growthKey struct {
	strainID int64
	mediaID  string
}

type embeddingKey struct {
	organismID string
	method     string
}

type taskState struct {
	done    bool
	message string
}

type MemoryStore struct {
	mu           sync.RWMutex
	initialized  bool
	organisms    map[string]model.Organism
	strains      map[int64]model.Strain
	ingredients  map[int64]model.Ingredient
	media        map[string]model.MediaFormulation
	observations map[obsKey]model.GrowthObservation
	strainGrowth map[growthKey]model.StrainGrowth
	embeddings   map[embeddingKey]model.Embedding
	tasks        map[string]taskState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.organisms = make(map[string]model.Organism)
	s.strains = make(map[int64]model.Strain)
	s.ingredients = make(map[int64]model.Ingredient)
	s.media = make(map[string]model.MediaFormulation)
	s.observations = make(map[obsKey]model.GrowthObservation)
	s.strainGrowth = make(map[growthKey]model.StrainGrowth)
	s.embeddings = make(map[embeddingKey]model.Embedding)
	s.tasks = make(map[string]taskState)
	return nil
}

func (s *MemoryStore) SaveOrganism(_ context.Context, organism model.Organism) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.organisms[organism.ID] = organism
	return nil
}

func (s *MemoryStore) GetOrganism(_ context.Context, id string) (model.Organism, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	organism, ok := s.organisms[id]
	return organism, ok, nil
}

func (s *MemoryStore) ListOrganisms(_ context.Context, typ model.OrganismType) ([]model.Organism, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	organisms := make([]model.Organism, 0, len(s.organisms))
	for _, organism := range s.organisms {
		if typ != "" && organism.Type != typ {
			continue
		}
		organisms = append(organisms, organism)
	}
	sort.Slice(organisms, func(i, j int) bool { return organisms[i].ID < organisms[j].ID })
	return organisms, nil
}

func (s *MemoryStore) SaveStrain(_ context.Context, strain model.Strain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strains[strain.ID] = strain
	return nil
}

func (s *MemoryStore) GetStrain(_ context.Context, id int64) (model.Strain, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strain, ok := s.strains[id]
	return strain, ok, nil
}

func (s *MemoryStore) ListStrains(_ context.Context) ([]model.Strain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strains := make([]model.Strain, 0, len(s.strains))
	for _, strain := range s.strains {
		strains = append(strains, strain)
	}
	sort.Slice(strains, func(i, j int) bool { return strains[i].ID < strains[j].ID })
	return strains, nil
}

func (s *MemoryStore) SaveIngredient(_ context.Context, ingredient model.Ingredient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ingredients[ingredient.ID] = ingredient
	return nil
}

func (s *MemoryStore) ListIngredients(_ context.Context) ([]model.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ingredients := make([]model.Ingredient, 0, len(s.ingredients))
	for _, ingredient := range s.ingredients {
		ingredients = append(ingredients, ingredient)
	}
	sort.Slice(ingredients, func(i, j int) bool { return ingredients[i].ID < ingredients[j].ID })
	return ingredients, nil
}

func (s *MemoryStore) SaveMedia(_ context.Context, media model.MediaFormulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	media.Composition = mergeComposition(media.Composition)
	s.media[media.ID] = media
	return nil
}

func (s *MemoryStore) GetMedia(_ context.Context, id string) (model.MediaFormulation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	media, ok := s.media[id]
	return media, ok, nil
}

func (s *MemoryStore) ListMedia(_ context.Context) ([]model.MediaFormulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	media := make([]model.MediaFormulation, 0, len(s.media))
	for _, m := range s.media {
		media = append(media, m)
	}
	sort.Slice(media, func(i, j int) bool { return media[i].ID < media[j].ID })
	return media, nil
}

func (s *MemoryStore) SaveObservation(_ context.Context, obs model.GrowthObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observations[obsKey{obs.OrganismID, obs.MediaID, obs.Provenance}] = obs
	return nil
}

func (s *MemoryStore) ListObservations(_ context.Context) ([]model.GrowthObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	observations := make([]model.GrowthObservation, 0, len(s.observations))
	for _, obs := range s.observations {
		observations = append(observations, obs)
	}
	sort.Slice(observations, func(i, j int) bool {
		a, b := observations[i], observations[j]
		if a.OrganismID != b.OrganismID {
			return a.OrganismID < b.OrganismID
		}
		if a.MediaID != b.MediaID {
			return a.MediaID < b.MediaID
		}
		return a.Provenance < b.Provenance
	})
	return observations, nil
}

func (s *MemoryStore) SaveStrainGrowth(_ context.Context, growth model.StrainGrowth) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.strainGrowth[growthKey{growth.StrainID, growth.MediaID}] = growth
	return nil
}

func (s *MemoryStore) ListStrainGrowth(_ context.Context, strainID int64) ([]model.StrainGrowth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]model.StrainGrowth, 0)
	for key, growth := range s.strainGrowth {
		if key.strainID == strainID {
			records = append(records, growth)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].MediaID < records[j].MediaID })
	return records, nil
}

func (s *MemoryStore) SaveEmbedding(_ context.Context, embedding model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := embedding
	copied.Values = append([]float64(nil), embedding.Values...)
	s.embeddings[embeddingKey{embedding.OrganismID, embedding.Method}] = copied
	return nil
}

func (s *MemoryStore) GetEmbedding(_ context.Context, organismID, method string) (model.Embedding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	embedding, ok := s.embeddings[embeddingKey{organismID, method}]
	if !ok {
		return model.Embedding{}, false, nil
	}
	copied := embedding
	copied.Values = append([]float64(nil), embedding.Values...)
	return copied, true, nil
}

func (s *MemoryStore) DeleteEmbedding(_ context.Context, organismID, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.embeddings, embeddingKey{organismID, method})
	return nil
}

func (s *MemoryStore) MarkTaskDone(_ context.Context, task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task] = taskState{done: true}
	return nil
}

func (s *MemoryStore) MarkTaskError(_ context.Context, task, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[task] = taskState{done: false, message: message}
	return nil
}

func (s *MemoryStore) IsTaskDone(_ context.Context, task string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.tasks[task]
	return ok && state.done, nil
}

func (s *MemoryStore) TableCounts(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]int64{
		"organisms":     int64(len(s.organisms)),
		"strains":       int64(len(s.strains)),
		"ingredients":   int64(len(s.ingredients)),
		"media":         int64(len(s.media)),
		"observations":  int64(len(s.observations)),
		"strain_growth": int64(len(s.strainGrowth)),
		"embeddings":    int64(len(s.embeddings)),
	}, nil
}

// mergeComposition collapses duplicate ingredient lines by summing their
// amounts, so a formulation never lists an ingredient twice.
func mergeComposition(composition []model.IngredientAmount) []model.IngredientAmount {
	seen := make(map[int64]int, len(composition))
	merged := make([]model.IngredientAmount, 0, len(composition))
	for _, line := range composition {
		if i, ok := seen[line.IngredientID]; ok {
			merged[i].Grams += line.Grams
			merged[i].Mmol += line.Mmol
			merged[i].Optional = merged[i].Optional && line.Optional
			continue
		}
		seen[line.IngredientID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}
