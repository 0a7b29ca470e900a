package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"trophos/internal/model"
	"trophos/internal/seqenc"
)

// GenomeEntry is one record of a genome manifest: the metadata needed
// to register an organism plus the location of its FASTA file. Type
// wins over Domain when both are set; FASTA paths are resolved against
// the manifest's directory.
type GenomeEntry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	TaxID    int64   `json:"tax_id,omitempty"`
	StrainID int64   `json:"strain_id,omitempty"`
	FASTA    string  `json:"fasta"`
	GC       float64 `json:"gc_content,omitempty"`
	Length   int64   `json:"length,omitempty"`
}

// Genomes registers organisms from a JSON manifest of genome metadata
// and FASTA files. GC content and sequence length are computed from the
// sequence whenever the manifest omits them. Each genome is tracked as
// its own task; records that fail to load are logged and counted, not
// fatal.
func (in *Ingestor) Genomes(ctx context.Context, manifestPath string) (Report, error) {
	report := newReport("genomes")

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return report, fmt.Errorf("read genome manifest: %w", err)
	}
	var entries []GenomeEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return report, fmt.Errorf("decode genome manifest %s: %w", manifestPath, err)
	}
	report.Fetched = len(entries)

	root := filepath.Dir(manifestPath)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if entry.ID == "" {
			in.log.Warn("skipping manifest entry without id", "name", entry.Name)
			report.Failed++
			continue
		}
		task := "genome:" + entry.ID
		if in.taskDone(ctx, task) {
			continue
		}
		organism, err := in.buildOrganism(entry, root)
		if err != nil {
			in.log.Warn("genome import failed", "genome", entry.ID, "error", err)
			in.markError(ctx, task, err)
			report.Failed++
			continue
		}
		if err := in.store.SaveOrganism(ctx, organism); err != nil {
			return report, fmt.Errorf("save organism %s: %w", organism.ID, err)
		}
		if err := in.store.MarkTaskDone(ctx, task); err != nil {
			return report, fmt.Errorf("mark %s done: %w", task, err)
		}
		report.Stored++
	}
	in.log.Info("genomes ingested",
		"batch", report.BatchID, "stored", report.Stored, "failed", report.Failed)
	return report, nil
}

func (in *Ingestor) buildOrganism(entry GenomeEntry, root string) (model.Organism, error) {
	typ := model.OrganismTypeFromDomain(entry.Domain)
	if entry.Type != "" {
		parsed, err := model.ParseOrganismType(entry.Type)
		if err != nil {
			return model.Organism{}, err
		}
		typ = parsed
	}
	path := entry.FASTA
	if path == "" {
		return model.Organism{}, fmt.Errorf("genome %s has no fasta path", entry.ID)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	organism := model.Organism{
		ID:           entry.ID,
		Name:         entry.Name,
		Type:         typ,
		TaxID:        entry.TaxID,
		StrainID:     entry.StrainID,
		GCContent:    entry.GC,
		Length:       entry.Length,
		SequencePath: path,
	}
	if organism.GCContent == 0 || organism.Length == 0 {
		_, seq, err := seqenc.ReadFASTAFile(path)
		if err != nil {
			return model.Organism{}, fmt.Errorf("read fasta: %w", err)
		}
		gc, length := sequenceStats(seq)
		if organism.GCContent == 0 {
			organism.GCContent = gc
		}
		if organism.Length == 0 {
			organism.Length = length
		}
	}
	return organism, nil
}

// sequenceStats returns GC content as a percentage of unambiguous bases
// and the total sequence length in base pairs.
func sequenceStats(seq string) (float64, int64) {
	var gc, acgt int64
	for i := 0; i < len(seq); i++ {
		switch seq[i] {
		case 'G', 'C', 'g', 'c':
			gc++
			acgt++
		case 'A', 'T', 'a', 't':
			acgt++
		}
	}
	if acgt == 0 {
		return 0, int64(len(seq))
	}
	return 100 * float64(gc) / float64(acgt), int64(len(seq))
}
