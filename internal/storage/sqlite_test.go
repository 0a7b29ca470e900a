package storage

import (
	"context"
	"path/filepath"
	"testing"

	"trophos/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "trophos.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreOrganismAndMediaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	organism := model.Organism{
		VersionedRecord: Stamp(),
		ID:              "org-1",
		Name:            "Methanocaldococcus jannaschii",
		Type:            model.Archaea,
		TaxID:           243232,
		GCContent:       31.4,
		Length:          1664970,
		SequencePath:    "archaea/org-1.fasta",
	}
	if err := store.SaveOrganism(ctx, organism); err != nil {
		t.Fatalf("save organism: %v", err)
	}

	loaded, ok, err := store.GetOrganism(ctx, organism.ID)
	if err != nil {
		t.Fatalf("get organism: %v", err)
	}
	if !ok {
		t.Fatalf("expected organism %s", organism.ID)
	}
	if loaded.Type != model.Archaea || loaded.TaxID != 243232 || loaded.SequencePath != organism.SequencePath {
		t.Fatalf("unexpected organism loaded: %+v", loaded)
	}

	media := model.MediaFormulation{
		VersionedRecord: Stamp(),
		ID:              "141",
		Name:            "Methanogenium medium",
		MinPH:           6.5,
		MaxPH:           7.2,
		Composition: []model.IngredientAmount{
			{IngredientID: 12, Grams: 0.34},
			{IngredientID: 88, Grams: 2.75},
		},
	}
	if err := store.SaveMedia(ctx, media); err != nil {
		t.Fatalf("save media: %v", err)
	}

	loadedMedia, ok, err := store.GetMedia(ctx, media.ID)
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	if !ok {
		t.Fatalf("expected media %s", media.ID)
	}
	if len(loadedMedia.Composition) != 2 || loadedMedia.Composition[1].Grams != 2.75 {
		t.Fatalf("unexpected media loaded: %+v", loadedMedia)
	}
}

func TestSQLiteStoreUpsertsObservationPerProvenance(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	obs := model.GrowthObservation{
		VersionedRecord: Stamp(),
		OrganismID:      "org-1",
		MediaID:         "141",
		Growth:          true,
		Confidence:      0.85,
		Provenance:      model.ProvenanceDirect,
		Quality:         "good",
	}
	if err := store.SaveObservation(ctx, obs); err != nil {
		t.Fatalf("save observation: %v", err)
	}

	obs.Confidence = 0.95
	obs.Quality = "excellent"
	if err := store.SaveObservation(ctx, obs); err != nil {
		t.Fatalf("upsert observation: %v", err)
	}

	taxonomy := obs
	taxonomy.Provenance = model.ProvenanceTaxonomy
	taxonomy.Confidence = 0.3
	taxonomy.Quality = ""
	if err := store.SaveObservation(ctx, taxonomy); err != nil {
		t.Fatalf("save taxonomy observation: %v", err)
	}

	observations, err := store.ListObservations(ctx)
	if err != nil {
		t.Fatalf("list observations: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(observations))
	}
	if observations[0].Confidence != 0.95 || observations[0].Quality != "excellent" {
		t.Fatalf("expected upserted direct observation, got %+v", observations[0])
	}
}

func TestSQLiteStoreEmbeddingRoundTripAndInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	embedding := model.Embedding{
		VersionedRecord: Stamp(),
		OrganismID:      "org-1",
		Method:          "kmer4",
		Dim:             3,
		Values:          []float64{0.25, 0.5, 0.25},
	}
	if err := store.SaveEmbedding(ctx, embedding); err != nil {
		t.Fatalf("save embedding: %v", err)
	}

	loaded, ok, err := store.GetEmbedding(ctx, "org-1", "kmer4")
	if err != nil {
		t.Fatalf("get embedding: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted embedding")
	}
	if len(loaded.Values) != 3 || loaded.Values[1] != 0.5 {
		t.Fatalf("unexpected embedding: %+v", loaded)
	}

	if err := store.DeleteEmbedding(ctx, "org-1", "kmer4"); err != nil {
		t.Fatalf("delete embedding: %v", err)
	}
	_, ok, err = store.GetEmbedding(ctx, "org-1", "kmer4")
	if err != nil {
		t.Fatalf("get deleted embedding: %v", err)
	}
	if ok {
		t.Fatal("expected embedding invalidated")
	}
}

func TestSQLiteStoreTaskLogAndCounts(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if err := store.MarkTaskError(ctx, "strain_detail:17", "timeout"); err != nil {
		t.Fatalf("mark error: %v", err)
	}
	done, err := store.IsTaskDone(ctx, "strain_detail:17")
	if err != nil {
		t.Fatalf("is task done: %v", err)
	}
	if done {
		t.Fatal("errored task reported done")
	}

	if err := store.MarkTaskDone(ctx, "strain_detail:17"); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	done, err = store.IsTaskDone(ctx, "strain_detail:17")
	if err != nil {
		t.Fatalf("is task done: %v", err)
	}
	if !done {
		t.Fatal("completed task not reported done")
	}

	strain := model.Strain{VersionedRecord: Stamp(), ID: 17, Species: "Halobacterium salinarum", Domain: "A"}
	if err := store.SaveStrain(ctx, strain); err != nil {
		t.Fatalf("save strain: %v", err)
	}
	growth := model.StrainGrowth{VersionedRecord: Stamp(), StrainID: 17, MediaID: "141", Growth: true, Quality: "good"}
	if err := store.SaveStrainGrowth(ctx, growth); err != nil {
		t.Fatalf("save strain growth: %v", err)
	}

	counts, err := store.TableCounts(ctx)
	if err != nil {
		t.Fatalf("table counts: %v", err)
	}
	if counts["strains"] != 1 || counts["strain_growth"] != 1 || counts["organisms"] != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	records, err := store.ListStrainGrowth(ctx, 17)
	if err != nil {
		t.Fatalf("list strain growth: %v", err)
	}
	if len(records) != 1 || records[0].Quality != "good" {
		t.Fatalf("unexpected strain growth: %+v", records)
	}
}
