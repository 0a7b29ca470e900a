package ingest

import (
	"context"
	"fmt"
	"strings"

	"trophos/internal/model"
)

const taskEnrich = "enrich_growth"

// defaultInferredConfidence scores observations derived from name cues
// alone.
const defaultInferredConfidence = 0.30

// trait pairs organism-name cues with media-name cues. An organism
// whose name carries a trait cue is assumed to grow on media named for
// the same trait.
type trait struct {
	name     string
	organism []string
	media    []string
}

var traitCues = []trait{
	{
		name:     "thermophile",
		organism: []string{"thermophil", "thermal", "thermo"},
		media:    []string{"thermophil", "thermo", "hot spring"},
	},
	{
		name:     "psychrophile",
		organism: []string{"psychro", "cryo"},
		media:    []string{"psychro", "cold"},
	},
	{
		name:     "acidophile",
		organism: []string{"acidophil", "acidobacter", "acidi"},
		media:    []string{"acid"},
	},
	{
		name:     "alkaliphile",
		organism: []string{"alkaliphil", "alkali", "natrono"},
		media:    []string{"alkali", "alkaline"},
	},
	{
		name:     "halophile",
		organism: []string{"halophil", "haloba", "halococ", "halomon", "salin"},
		media:    []string{"halophil", "salt", "salin", "marine"},
	},
}

// CuratedMedia is one entry of the curated growth map: a medium and the
// confidence that organisms matching the map key grow on it.
type CuratedMedia struct {
	MediaID    string
	Confidence float64
}

// CuratedGrowthMap returns the built-in mapping of organism name
// patterns to media with documented growth. Patterns match by substring
// against organism names.
func CuratedGrowthMap() map[string][]CuratedMedia {
	return map[string][]CuratedMedia{
		"Escherichia coli":  {{"48", 0.95}, {"1", 0.9}, {"2", 0.85}},
		"Bacillus subtilis": {{"48", 0.9}, {"1", 0.85}, {"3", 0.8}},
		"Streptococcus":     {{"5", 0.85}, {"6", 0.8}},
		"Staphylococcus":    {{"5", 0.9}, {"6", 0.85}},
		"Thermus":           {{"10", 0.8}, {"11", 0.75}},
		"Thermoproteus":     {{"10", 0.8}},
		"Halobacterium":     {{"20", 0.85}},
		"Halomonas":         {{"20", 0.8}, {"21", 0.75}},
		"Acidobacteria":     {{"30", 0.8}},
		"Thiobacillus":      {{"30", 0.85}},
		"Saccharomyces":     {{"50", 0.9}, {"51", 0.85}},
		"Aspergillus":       {{"52", 0.85}, {"53", 0.8}},
		"Candida":           {{"51", 0.9}},
		"Tetrahymena":       {{"60", 0.8}},
		"Paramecium":        {{"61", 0.75}},
	}
}

// EnrichOptions tunes the enrichment pass. Zero values select defaults.
type EnrichOptions struct {
	// Confidence scores taxonomy-inferred observations.
	Confidence float64
	// Curated maps organism name patterns to known growth media. Nil
	// selects the built-in map; an empty map disables curated seeding.
	Curated map[string][]CuratedMedia
}

// Enrich adds low-confidence growth observations no fetch pass can
// provide: taxonomy inferences from organism and media naming, and
// entries from the curated growth map. Inferred observations carry
// "taxonomy" provenance, curated ones "literature"; direct records for
// the same pair always outrank both downstream.
func (in *Ingestor) Enrich(ctx context.Context, opts EnrichOptions) (Report, error) {
	report := newReport("enrich")
	if in.taskDone(ctx, taskEnrich) {
		report.Skipped = true
		in.log.Info("growth enrichment already ran", "batch", report.BatchID)
		return report, nil
	}
	if opts.Confidence == 0 {
		opts.Confidence = defaultInferredConfidence
	}
	if opts.Confidence < 0 || opts.Confidence > 1 {
		return report, fmt.Errorf("enrich confidence must be in [0,1], got %g", opts.Confidence)
	}
	if opts.Curated == nil {
		opts.Curated = CuratedGrowthMap()
	}

	organisms, err := in.store.ListOrganisms(ctx, "")
	if err != nil {
		return report, fmt.Errorf("list organisms: %w", err)
	}
	media, err := in.store.ListMedia(ctx)
	if err != nil {
		return report, fmt.Errorf("list media: %w", err)
	}

	for _, org := range organisms {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := in.inferFromTaxonomy(ctx, org, media, opts.Confidence)
		if err != nil {
			return report, err
		}
		report.Stored += n

		n, err = in.applyCurated(ctx, org, opts.Curated)
		if err != nil {
			return report, err
		}
		report.Stored += n
	}

	if err := in.store.MarkTaskDone(ctx, taskEnrich); err != nil {
		return report, fmt.Errorf("mark %s done: %w", taskEnrich, err)
	}
	in.log.Info("growth enrichment complete",
		"batch", report.BatchID, "organisms", len(organisms), "observations", report.Stored)
	return report, nil
}

func (in *Ingestor) inferFromTaxonomy(ctx context.Context, org model.Organism, media []model.MediaFormulation, confidence float64) (int, error) {
	name := strings.ToLower(org.Name)
	stored := 0
	for _, t := range traitCues {
		if !containsAny(name, t.organism) {
			continue
		}
		for _, m := range media {
			if !containsAny(strings.ToLower(m.Name), t.media) {
				continue
			}
			obs := model.GrowthObservation{
				OrganismID: org.ID,
				MediaID:    m.ID,
				Growth:     true,
				Confidence: confidence,
				Provenance: model.ProvenanceTaxonomy,
			}
			if err := in.store.SaveObservation(ctx, obs); err != nil {
				return stored, fmt.Errorf("save inferred observation %s/%s: %w", org.ID, m.ID, err)
			}
			stored++
		}
	}
	return stored, nil
}

func (in *Ingestor) applyCurated(ctx context.Context, org model.Organism, curated map[string][]CuratedMedia) (int, error) {
	stored := 0
	for pattern, entries := range curated {
		if !strings.Contains(org.Name, pattern) {
			continue
		}
		for _, entry := range entries {
			// Only seed media actually present in the catalog.
			if _, ok, err := in.store.GetMedia(ctx, entry.MediaID); err != nil {
				return stored, fmt.Errorf("get medium %s: %w", entry.MediaID, err)
			} else if !ok {
				continue
			}
			obs := model.GrowthObservation{
				OrganismID: org.ID,
				MediaID:    entry.MediaID,
				Growth:     true,
				Confidence: entry.Confidence,
				Provenance: model.ProvenanceLiterature,
			}
			if err := in.store.SaveObservation(ctx, obs); err != nil {
				return stored, fmt.Errorf("save curated observation %s/%s: %w", org.ID, entry.MediaID, err)
			}
			stored++
		}
	}
	return stored, nil
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
