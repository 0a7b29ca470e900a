package ingest

import (
	"context"
	"fmt"
	"strings"

	"trophos/internal/model"
)

const taskLinkGrowth = "link_growth"

// ConfidencePolicy maps upstream growth quality labels to observation
// confidence scores. Zero values select the defaults.
type ConfidencePolicy struct {
	Excellent float64
	Good      float64
	Fair      float64
	Poor      float64
	// Default applies to unlabeled or unrecognized qualities.
	Default float64
}

func DefaultConfidencePolicy() ConfidencePolicy {
	return ConfidencePolicy{
		Excellent: 0.95,
		Good:      0.85,
		Fair:      0.70,
		Poor:      0.50,
		Default:   0.75,
	}
}

func (p ConfidencePolicy) withDefaults() ConfidencePolicy {
	def := DefaultConfidencePolicy()
	if p.Excellent == 0 {
		p.Excellent = def.Excellent
	}
	if p.Good == 0 {
		p.Good = def.Good
	}
	if p.Fair == 0 {
		p.Fair = def.Fair
	}
	if p.Poor == 0 {
		p.Poor = def.Poor
	}
	if p.Default == 0 {
		p.Default = def.Default
	}
	return p
}

// Confidence scores one quality label.
func (p ConfidencePolicy) Confidence(quality string) float64 {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case "excellent":
		return p.Excellent
	case "good":
		return p.Good
	case "fair":
		return p.Fair
	case "poor":
		return p.Poor
	default:
		return p.Default
	}
}

// Link matches organisms to strains by species name, then propagates
// every matched strain's growth records to the organism as direct
// observations scored by the confidence policy. Safe to rerun; the
// whole pass is one task-log entry.
func (in *Ingestor) Link(ctx context.Context, policy ConfidencePolicy) (Report, error) {
	report := newReport("link")
	if in.taskDone(ctx, taskLinkGrowth) {
		report.Skipped = true
		in.log.Info("growth links already propagated", "batch", report.BatchID)
		return report, nil
	}
	policy = policy.withDefaults()

	organisms, err := in.store.ListOrganisms(ctx, "")
	if err != nil {
		return report, fmt.Errorf("list organisms: %w", err)
	}
	strains, err := in.store.ListStrains(ctx)
	if err != nil {
		return report, fmt.Errorf("list strains: %w", err)
	}

	for i, org := range organisms {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if org.StrainID == 0 {
			strain, ok := matchStrain(org.Name, strains)
			if !ok {
				continue
			}
			org.StrainID = strain.ID
			if err := in.store.SaveOrganism(ctx, org); err != nil {
				return report, fmt.Errorf("save organism %s: %w", org.ID, err)
			}
			organisms[i] = org
			report.Linked++
		}

		records, err := in.store.ListStrainGrowth(ctx, org.StrainID)
		if err != nil {
			return report, fmt.Errorf("list growth for strain %d: %w", org.StrainID, err)
		}
		report.Fetched += len(records)
		for _, rec := range records {
			obs := model.GrowthObservation{
				OrganismID: org.ID,
				MediaID:    rec.MediaID,
				Growth:     rec.Growth,
				Confidence: policy.Confidence(rec.Quality),
				Provenance: model.ProvenanceDirect,
				Quality:    rec.Quality,
				Rate:       rec.Rate,
			}
			if err := in.store.SaveObservation(ctx, obs); err != nil {
				return report, fmt.Errorf("save observation %s/%s: %w", obs.OrganismID, obs.MediaID, err)
			}
			report.Stored++
		}
	}

	if err := in.store.MarkTaskDone(ctx, taskLinkGrowth); err != nil {
		return report, fmt.Errorf("mark %s done: %w", taskLinkGrowth, err)
	}
	in.log.Info("growth links propagated",
		"batch", report.BatchID, "linked", report.Linked, "observations", report.Stored)
	return report, nil
}

// matchStrain finds a strain whose species matches an organism name.
// An exact case-insensitive match wins; otherwise the longest species
// that prefixes the organism name does, so strain-level suffixes like
// "K-12 MG1655" still match their species record.
func matchStrain(organismName string, strains []model.Strain) (model.Strain, bool) {
	name := strings.ToLower(strings.TrimSpace(organismName))
	if name == "" {
		return model.Strain{}, false
	}
	var best model.Strain
	bestLen := -1
	for _, s := range strains {
		species := strings.ToLower(strings.TrimSpace(s.Species))
		if species == "" {
			continue
		}
		if species == name {
			return s, true
		}
		if strings.HasPrefix(name, species+" ") && len(species) > bestLen {
			best = s
			bestLen = len(species)
		}
	}
	return best, bestLen >= 0
}
