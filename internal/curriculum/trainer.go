// Package curriculum trains one model over an ordered sequence of organism
// types, building a filtered dataset per phase and carrying weights from
// each phase into the next.
package curriculum

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"trophos/internal/cvae"
	"trophos/internal/dataset"
	"trophos/internal/model"
	"trophos/internal/retry"
	"trophos/internal/seqenc"
)

const (
	checkpointAttempts = 3
	checkpointBackoff  = 100 * time.Millisecond
)

// DefaultPhases runs the broadest kingdom first and the sparsest last.
var DefaultPhases = []model.OrganismType{
	model.Bacteria,
	model.Archaea,
	model.Fungi,
	model.Protist,
}

// Config fixes one curriculum run. Zero Phases and EpochsPerPhase fall back
// to defaults; fit hyperparameters default inside Fit.
type Config struct {
	Phases         []model.OrganismType
	EpochsPerPhase int
	BatchSize      int
	LearningRate   float64
	Beta           float64

	Method        seqenc.Method
	Ratios        [3]float64
	Seed          int64
	CheckpointDir string
}

// Trainer drives phases over one model and one dataset builder.
type Trainer struct {
	cfg     Config
	builder *dataset.Builder
	model   *cvae.Model
}

func New(builder *dataset.Builder, m *cvae.Model, cfg Config) (*Trainer, error) {
	if builder == nil {
		return nil, fmt.Errorf("dataset builder is required")
	}
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}
	if len(cfg.Phases) == 0 {
		cfg.Phases = append([]model.OrganismType(nil), DefaultPhases...)
	}
	seen := make(map[model.OrganismType]bool, len(cfg.Phases))
	for i, phase := range cfg.Phases {
		if _, err := model.ParseOrganismType(string(phase)); err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		if seen[phase] {
			return nil, fmt.Errorf("phase %s appears twice", phase)
		}
		seen[phase] = true
	}
	if cfg.EpochsPerPhase < 0 {
		return nil, fmt.Errorf("epochs per phase must not be negative, got %d", cfg.EpochsPerPhase)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must not be negative, got %d", cfg.BatchSize)
	}
	if cfg.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate must not be negative, got %v", cfg.LearningRate)
	}
	if cfg.Beta < 0 {
		return nil, fmt.Errorf("beta must not be negative, got %v", cfg.Beta)
	}
	if _, err := seqenc.Dim(cfg.Method); err != nil {
		return nil, err
	}
	if cfg.CheckpointDir == "" {
		return nil, fmt.Errorf("checkpoint dir is required")
	}
	return &Trainer{cfg: cfg, builder: builder, model: m}, nil
}

// PhaseReport describes one phase of a run.
type PhaseReport struct {
	Phase          model.OrganismType `json:"phase"`
	Skipped        bool               `json:"skipped,omitempty"`
	Rows           int                `json:"rows"`
	TrainRows      int                `json:"train_rows"`
	Dropped        int                `json:"dropped"`
	EpochsRun      int                `json:"epochs_run"`
	SkippedBatches int                `json:"skipped_batches,omitempty"`
	PreLoss        cvae.Metrics       `json:"pre_loss"`
	PostLoss       cvae.Metrics       `json:"post_loss"`
	History        []cvae.EpochStats  `json:"history,omitempty"`
	CheckpointPath string             `json:"checkpoint_path,omitempty"`
	Diverged       bool               `json:"diverged,omitempty"`
}

// Run executes the phases in the order supplied. A phase with no training
// rows is marked skipped and the run moves on. Weights carry across phases.
// Divergence halts the run; the reports and checkpoints of completed phases
// come back intact alongside the error.
func (t *Trainer) Run(ctx context.Context) ([]PhaseReport, error) {
	reports := make([]PhaseReport, 0, len(t.cfg.Phases))
	for _, phase := range t.cfg.Phases {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		bundle, err := t.builder.Build(ctx, dataset.Request{
			OrganismType: phase,
			Method:       t.cfg.Method,
			Ratios:       t.cfg.Ratios,
			Seed:         t.cfg.Seed,
		})
		if err != nil {
			return reports, fmt.Errorf("phase %s: build dataset: %w", phase, err)
		}

		report := PhaseReport{
			Phase:     phase,
			Rows:      bundle.Rows(),
			TrainRows: bundle.Train.Len(),
			Dropped:   bundle.Meta.Dropped,
		}
		if bundle.Train.Len() == 0 {
			report.Skipped = true
			reports = append(reports, report)
			continue
		}

		eval := bundle.Val
		if eval.Len() == 0 {
			eval = bundle.Train
		}
		report.PreLoss = t.model.Evaluate(eval, t.cfg.Beta)

		fitReport, err := t.model.Fit(ctx, bundle.Train, cvae.FitOptions{
			Epochs:       t.cfg.EpochsPerPhase,
			BatchSize:    t.cfg.BatchSize,
			LearningRate: t.cfg.LearningRate,
			Beta:         t.cfg.Beta,
		})
		if err != nil {
			var diverged *cvae.DivergedError
			if errors.As(err, &diverged) {
				report.Diverged = true
				reports = append(reports, report)
			}
			return reports, fmt.Errorf("phase %s: %w", phase, err)
		}
		report.EpochsRun = len(fitReport.History)
		report.SkippedBatches = fitReport.SkippedBatches
		report.History = fitReport.History
		report.PostLoss = t.model.Evaluate(eval, t.cfg.Beta)

		path := filepath.Join(t.cfg.CheckpointDir, fmt.Sprintf("phase-%s.json", phase))
		if err := t.saveCheckpoint(ctx, path, bundle); err != nil {
			return reports, fmt.Errorf("phase %s: %w", phase, err)
		}
		report.CheckpointPath = path
		reports = append(reports, report)
	}
	return reports, nil
}

// saveCheckpoint stamps the model with the bundle's provenance and writes
// it, retrying transient filesystem failures.
func (t *Trainer) saveCheckpoint(ctx context.Context, path string, bundle *dataset.Bundle) error {
	t.model.Provenance = &cvae.Provenance{
		Method:       string(bundle.Meta.Method),
		VocabVersion: bundle.Meta.VocabVersion,
		VocabSize:    bundle.Meta.VocabSize,
		Scale:        bundle.Meta.Scale,
	}
	_, err := retry.Do(ctx, checkpointAttempts, retry.Exponential(checkpointBackoff, 2),
		func() (struct{}, error) {
			if err := t.model.Save(path); err != nil {
				return struct{}{}, errors.Join(retry.ErrRetry, err)
			}
			return struct{}{}, nil
		})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}
