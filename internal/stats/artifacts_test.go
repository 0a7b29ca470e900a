package stats

import (
	"os"
	"path/filepath"
	"testing"

	"trophos/internal/curriculum"
	"trophos/internal/cvae"
	"trophos/internal/model"
)

func sampleArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		RunID: runID,
		Config: RunConfig{
			RunID:          runID,
			Method:         "kmer4",
			Phases:         []string{"bacteria", "fungi"},
			EpochsPerPhase: 5,
			BatchSize:      8,
			LearningRate:   0.001,
			Beta:           1,
			Ratios:         [3]float64{0.7, 0.15, 0.15},
			Seed:           42,
			MediaDim:       12,
			CondDim:        256,
			LatentDim:      4,
			Hidden:         []int{32},
			CreatedAtUTC:   "2025-03-01T10:00:00Z",
		},
		PhaseReports: []curriculum.PhaseReport{
			{
				Phase:     model.Bacteria,
				Rows:      40,
				TrainRows: 28,
				EpochsRun: 5,
				PostLoss:  cvae.Metrics{Rows: 6, Total: 0.42, Recon: 0.30, KL: 0.12},
			},
			{Phase: model.Fungi, Skipped: true},
		},
		History: []cvae.EpochStats{
			{Epoch: 0, Total: 1.2, Recon: 1.0, KL: 0.2},
			{Epoch: 1, Total: 0.9, Recon: 0.75, KL: 0.15},
		},
		Metrics: cvae.Metrics{Rows: 6, Total: 0.42, Recon: 0.30, KL: 0.12},
	}
}

func TestWriteAndReadRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := sampleArtifacts("train-42-100")

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("WriteRunArtifacts: %v", err)
	}
	if runDir != filepath.Join(baseDir, "train-42-100") {
		t.Fatalf("run dir = %q", runDir)
	}
	for _, file := range []string{"config.json", "phase_reports.json", "history.json", "metrics.json"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("missing artifact %s: %v", file, err)
		}
	}

	loaded, found, err := ReadRunArtifacts(baseDir, "train-42-100")
	if err != nil {
		t.Fatalf("ReadRunArtifacts: %v", err)
	}
	if !found {
		t.Fatal("written run not found")
	}
	if loaded.Config.Method != "kmer4" || loaded.Config.Seed != 42 {
		t.Fatalf("config = %+v", loaded.Config)
	}
	if len(loaded.PhaseReports) != 2 || loaded.PhaseReports[0].Phase != model.Bacteria {
		t.Fatalf("phase reports = %+v", loaded.PhaseReports)
	}
	if !loaded.PhaseReports[1].Skipped {
		t.Fatal("skipped flag lost")
	}
	if len(loaded.History) != 2 || loaded.History[1].Total != 0.9 {
		t.Fatalf("history = %+v", loaded.History)
	}
	if loaded.Metrics.Total != 0.42 {
		t.Fatalf("metrics = %+v", loaded.Metrics)
	}
}

func TestWriteRunArtifactsRequiresConsistentRunID(t *testing.T) {
	artifacts := sampleArtifacts("train-1-1")
	artifacts.Config.RunID = "train-2-2"
	if _, err := WriteRunArtifacts(t.TempDir(), artifacts); err == nil {
		t.Fatal("expected error for run id mismatch")
	}

	artifacts = sampleArtifacts("")
	if _, err := WriteRunArtifacts(t.TempDir(), artifacts); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestReadRunArtifactsMissingRun(t *testing.T) {
	_, found, err := ReadRunArtifacts(t.TempDir(), "train-9-9")
	if err != nil {
		t.Fatalf("ReadRunArtifacts: %v", err)
	}
	if found {
		t.Fatal("absent run reported found")
	}
}

func TestAppendRunIndexUpsertsAndSorts(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "train-1-100", Method: "stats", Phases: 2, Seed: 1, FinalLoss: 0.9, CreatedAtUTC: "2025-03-01T10:00:00Z"},
		{RunID: "train-2-200", Method: "kmer4", Phases: 4, Seed: 2, FinalLoss: 0.5, CreatedAtUTC: "2025-03-02T10:00:00Z"},
	}
	for _, e := range entries {
		if err := AppendRunIndex(baseDir, e); err != nil {
			t.Fatalf("AppendRunIndex(%s): %v", e.RunID, err)
		}
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("ListRunIndex: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("index entries = %d, want 2", len(index))
	}
	if index[0].RunID != "train-2-200" {
		t.Fatalf("index[0] = %+v, want newest first", index[0])
	}

	// Re-appending the same run updates in place.
	updated := entries[0]
	updated.FinalLoss = 0.4
	if err := AppendRunIndex(baseDir, updated); err != nil {
		t.Fatalf("AppendRunIndex update: %v", err)
	}
	index, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("ListRunIndex: %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("upsert duplicated the entry: %+v", index)
	}
	for _, e := range index {
		if e.RunID == "train-1-100" && e.FinalLoss != 0.4 {
			t.Fatalf("entry not updated: %+v", e)
		}
	}
}

func TestListRunIndexEmptyWhenMissing(t *testing.T) {
	index, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("ListRunIndex: %v", err)
	}
	if len(index) != 0 {
		t.Fatalf("index = %+v, want empty", index)
	}
}
