package ingest

import (
	"context"
	"testing"

	"trophos/internal/model"
)

func TestEnrichInfersFromNameCues(t *testing.T) {
	in, store := newTestIngestor(t)
	ctx := context.Background()
	seedMedium(t, store, "10", "Thermophile agar")
	seedMedium(t, store, "11", "Cold seawater medium")
	if err := store.SaveOrganism(ctx, model.Organism{
		ID: "tco", Name: "Thermococcus litoralis", Type: model.Archaea,
	}); err != nil {
		t.Fatalf("seed organism: %v", err)
	}

	report, err := in.Enrich(ctx, EnrichOptions{Curated: map[string][]CuratedMedia{}})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if report.Stored != 1 {
		t.Fatalf("Stored = %d, want 1", report.Stored)
	}

	observations, err := store.ListObservations(ctx)
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if len(observations) != 1 {
		t.Fatalf("observations = %+v", observations)
	}
	obs := observations[0]
	if obs.OrganismID != "tco" || obs.MediaID != "10" {
		t.Fatalf("observation pair = %s/%s, want tco/10", obs.OrganismID, obs.MediaID)
	}
	if !obs.Growth || obs.Confidence != 0.30 || obs.Provenance != model.ProvenanceTaxonomy {
		t.Fatalf("observation = %+v", obs)
	}
}

func TestEnrichAppliesCuratedMap(t *testing.T) {
	in, store := newTestIngestor(t)
	ctx := context.Background()
	seedMedium(t, store, "48", "LB medium")
	if err := store.SaveOrganism(ctx, model.Organism{
		ID: "eco", Name: "Escherichia coli K-12", Type: model.Bacteria,
	}); err != nil {
		t.Fatalf("seed organism: %v", err)
	}

	// Only medium 48 of the curated entries exists in the catalog.
	report, err := in.Enrich(ctx, EnrichOptions{})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if report.Stored != 1 {
		t.Fatalf("Stored = %d, want 1", report.Stored)
	}

	observations, err := store.ListObservations(ctx)
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if len(observations) != 1 {
		t.Fatalf("observations = %+v", observations)
	}
	obs := observations[0]
	if obs.MediaID != "48" || obs.Confidence != 0.95 || obs.Provenance != model.ProvenanceLiterature {
		t.Fatalf("curated observation = %+v", obs)
	}
}

func TestEnrichCoexistsWithDirectObservations(t *testing.T) {
	in, store := newTestIngestor(t)
	ctx := context.Background()
	seedMedium(t, store, "20", "Halophile salt medium")
	if err := store.SaveOrganism(ctx, model.Organism{
		ID: "hal", Name: "Halobacterium salinarum", Type: model.Archaea,
	}); err != nil {
		t.Fatalf("seed organism: %v", err)
	}
	if err := store.SaveObservation(ctx, model.GrowthObservation{
		OrganismID: "hal", MediaID: "20", Growth: true,
		Confidence: 0.95, Provenance: model.ProvenanceDirect,
	}); err != nil {
		t.Fatalf("seed observation: %v", err)
	}

	if _, err := in.Enrich(ctx, EnrichOptions{Curated: map[string][]CuratedMedia{}}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	observations, err := store.ListObservations(ctx)
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	var direct, taxonomy int
	for _, obs := range observations {
		switch obs.Provenance {
		case model.ProvenanceDirect:
			direct++
		case model.ProvenanceTaxonomy:
			taxonomy++
		}
	}
	if direct != 1 || taxonomy != 1 {
		t.Fatalf("direct=%d taxonomy=%d, both provenances should coexist", direct, taxonomy)
	}
}

func TestEnrichSkipsOnRerun(t *testing.T) {
	in, store := newTestIngestor(t)
	ctx := context.Background()
	seedMedium(t, store, "10", "Thermophile agar")
	if err := store.SaveOrganism(ctx, model.Organism{
		ID: "tco", Name: "Thermococcus litoralis", Type: model.Archaea,
	}); err != nil {
		t.Fatalf("seed organism: %v", err)
	}

	if _, err := in.Enrich(ctx, EnrichOptions{}); err != nil {
		t.Fatalf("first Enrich: %v", err)
	}
	report, err := in.Enrich(ctx, EnrichOptions{})
	if err != nil {
		t.Fatalf("second Enrich: %v", err)
	}
	if !report.Skipped || report.Stored != 0 {
		t.Fatalf("rerun report = %+v, want skipped", report)
	}
}

func TestEnrichValidatesConfidence(t *testing.T) {
	in, _ := newTestIngestor(t)
	if _, err := in.Enrich(context.Background(), EnrichOptions{Confidence: 1.5}); err == nil {
		t.Fatal("expected error for confidence above 1")
	}
}
