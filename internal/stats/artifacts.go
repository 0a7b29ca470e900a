package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"trophos/internal/curriculum"
	"trophos/internal/cvae"
)

const runIndexFile = "run_index.json"

// RunConfig is the resolved configuration one training run executed
// with, written alongside its results so any run can be re-derived.
type RunConfig struct {
	RunID          string     `json:"run_id"`
	Method         string     `json:"method"`
	Phases         []string   `json:"phases"`
	EpochsPerPhase int        `json:"epochs_per_phase"`
	BatchSize      int        `json:"batch_size"`
	LearningRate   float64    `json:"learning_rate"`
	Beta           float64    `json:"beta"`
	Ratios         [3]float64 `json:"ratios"`
	Seed           int64      `json:"seed"`
	MediaDim       int        `json:"media_dim"`
	CondDim        int        `json:"cond_dim"`
	LatentDim      int        `json:"latent_dim"`
	Hidden         []int      `json:"hidden"`
	VocabVersion   string     `json:"vocab_version,omitempty"`
	CheckpointDir  string     `json:"checkpoint_dir,omitempty"`
	CreatedAtUTC   string     `json:"created_at_utc"`
}

// RunArtifacts bundles everything one training run produced.
type RunArtifacts struct {
	RunID        string                   `json:"run_id"`
	Config       RunConfig                `json:"config"`
	PhaseReports []curriculum.PhaseReport `json:"phase_reports"`
	History      []cvae.EpochStats        `json:"history,omitempty"`
	Metrics      cvae.Metrics             `json:"metrics"`
}

// RunIndexEntry is one line of the run index, enough to list and
// compare runs without opening their directories.
type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Method       string  `json:"method"`
	Phases       int     `json:"phases"`
	Seed         int64   `json:"seed"`
	FinalLoss    float64 `json:"final_loss"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes a run's config, phase reports, epoch history
// and final metrics as separate JSON files under baseDir/<runID> and
// returns the run directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if artifacts.Config.RunID == "" {
		artifacts.Config.RunID = artifacts.RunID
	}
	if artifacts.Config.RunID != artifacts.RunID {
		return "", fmt.Errorf("run id mismatch: got=%s want=%s", artifacts.Config.RunID, artifacts.RunID)
	}

	runDir := filepath.Join(baseDir, artifacts.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "phase_reports.json"), artifacts.PhaseReports); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "history.json"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "metrics.json"), artifacts.Metrics); err != nil {
		return "", err
	}
	return runDir, nil
}

// ReadRunArtifacts loads a run written by WriteRunArtifacts. A missing
// run directory reports found=false rather than an error.
func ReadRunArtifacts(baseDir, runID string) (RunArtifacts, bool, error) {
	if strings.TrimSpace(runID) == "" {
		return RunArtifacts{}, false, fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, runID)
	if _, err := os.Stat(runDir); err != nil {
		if os.IsNotExist(err) {
			return RunArtifacts{}, false, nil
		}
		return RunArtifacts{}, false, err
	}

	artifacts := RunArtifacts{RunID: runID}
	if err := readJSON(filepath.Join(runDir, "config.json"), &artifacts.Config); err != nil {
		return RunArtifacts{}, false, err
	}
	if err := readJSON(filepath.Join(runDir, "phase_reports.json"), &artifacts.PhaseReports); err != nil {
		return RunArtifacts{}, false, err
	}
	if err := readJSON(filepath.Join(runDir, "history.json"), &artifacts.History); err != nil {
		return RunArtifacts{}, false, err
	}
	if err := readJSON(filepath.Join(runDir, "metrics.json"), &artifacts.Metrics); err != nil {
		return RunArtifacts{}, false, err
	}
	return artifacts, true, nil
}

// AppendRunIndex upserts an entry into baseDir's run index, keyed by
// run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run index sorted newest first. A missing
// index file is an empty index.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
