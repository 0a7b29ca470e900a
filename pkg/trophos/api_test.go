package trophos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"trophos/internal/cvae"
	"trophos/internal/dataset"
	"trophos/internal/model"
	"trophos/internal/stats"
	"trophos/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFASTA(t *testing.T, dir, name, seq string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(">"+name+"\n"+seq+"\n"), 0o644); err != nil {
		t.Fatalf("write fasta: %v", err)
	}
	return path
}

// seedStore fills a store with two bacteria and two fungi, one medium per
// kingdom, all with positive growth.
func seedStore(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	for _, ing := range []model.Ingredient{
		{ID: 1, Name: "Glucose", MolarMass: 180.16},
		{ID: 2, Name: "NaCl", MolarMass: 58.44},
		{ID: 3, Name: "Agar"},
	} {
		if err := store.SaveIngredient(ctx, ing); err != nil {
			t.Fatalf("save ingredient: %v", err)
		}
	}
	for _, m := range []model.MediaFormulation{
		{ID: "M-b", Name: "Broth", Composition: []model.IngredientAmount{
			{IngredientID: 1, Grams: 10},
			{IngredientID: 2, Grams: 5},
		}},
		{ID: "M-f", Name: "Agar plate", Composition: []model.IngredientAmount{
			{IngredientID: 1, Grams: 20},
			{IngredientID: 3, Grams: 15},
		}},
	} {
		if err := store.SaveMedia(ctx, m); err != nil {
			t.Fatalf("save media: %v", err)
		}
	}
	organisms := []model.Organism{
		{ID: "b1", Name: "Escherichia coli", Type: model.Bacteria,
			SequencePath: writeFASTA(t, dir, "b1.fna", "ACGTACGTGGCCAATTACGT")},
		{ID: "b2", Name: "Bacillus subtilis", Type: model.Bacteria,
			SequencePath: writeFASTA(t, dir, "b2.fna", "TTGGCCAACGTACGTACGTA")},
		{ID: "f1", Name: "Saccharomyces cerevisiae", Type: model.Fungi,
			SequencePath: writeFASTA(t, dir, "f1.fna", "GGCCAATTGGCCAATTGGCC")},
		{ID: "f2", Name: "Aspergillus niger", Type: model.Fungi,
			SequencePath: writeFASTA(t, dir, "f2.fna", "ACACACGTGTGTACACGTGT")},
	}
	for _, org := range organisms {
		if err := store.SaveOrganism(ctx, org); err != nil {
			t.Fatalf("save organism: %v", err)
		}
	}
	for _, obs := range []model.GrowthObservation{
		{OrganismID: "b1", MediaID: "M-b", Growth: true, Confidence: 0.9, Provenance: model.ProvenanceDirect},
		{OrganismID: "b2", MediaID: "M-b", Growth: true, Confidence: 0.8, Provenance: model.ProvenanceDirect},
		{OrganismID: "f1", MediaID: "M-f", Growth: true, Confidence: 0.85, Provenance: model.ProvenanceLiterature},
		{OrganismID: "f2", MediaID: "M-f", Growth: true, Confidence: 0.75, Provenance: model.ProvenanceDirect},
	} {
		if err := store.SaveObservation(ctx, obs); err != nil {
			t.Fatalf("save observation: %v", err)
		}
	}
}

func newSeededClient(t *testing.T) *Client {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		ArtifactsDir:  filepath.Join(base, "runs"),
		CheckpointDir: filepath.Join(base, "checkpoints"),
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	seedStore(t, client.store)
	return client
}

// saveCheckpoint writes an untrained model sized for the seeded fixture:
// three ingredients, stats encoding.
func saveCheckpoint(t *testing.T, dir string) string {
	t.Helper()
	m, err := cvae.New(cvae.Config{MediaDim: 3, CondDim: 4, LatentDim: 2, Hidden: []int{8}, Seed: 11})
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	m.Provenance = &cvae.Provenance{Method: "stats", VocabSize: 3, Scale: "log1p"}
	path := filepath.Join(dir, "model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	return path
}

func TestNewDefaultsToMemoryBackend(t *testing.T) {
	client, err := New(Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := New(Options{Backend: "bolt"}); !errors.Is(err, storage.ErrUnknownBackend) {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestClientBuildDatasetSummarizesAndSaves(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()
	outPath := filepath.Join(t.TempDir(), "bundle.json")

	summary, err := client.BuildDataset(ctx, DatasetRequest{
		Method:  "stats",
		Seed:    3,
		OutPath: outPath,
	})
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	if summary.Rows != 4 {
		t.Fatalf("expected 4 rows, got %d", summary.Rows)
	}
	if summary.TrainRows+summary.ValRows+summary.TestRows != 4 {
		t.Fatalf("split sizes do not add up: %+v", summary)
	}
	if summary.TrainRows == 0 || summary.ValRows == 0 || summary.TestRows == 0 {
		t.Fatalf("expected every split populated: %+v", summary)
	}
	if summary.VocabSize != 3 || summary.EmbeddingDim != 4 {
		t.Fatalf("unexpected dims: vocab=%d embedding=%d", summary.VocabSize, summary.EmbeddingDim)
	}
	if summary.Dropped != 0 {
		t.Fatalf("expected no drops, got %d (%v)", summary.Dropped, summary.DroppedByReason)
	}
	if summary.OutPath == "" {
		t.Fatal("expected out path in summary")
	}
	bundle, err := dataset.LoadBundle(outPath)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	if bundle.Rows() != 4 {
		t.Fatalf("saved bundle has %d rows", bundle.Rows())
	}

	fungi, err := client.BuildDataset(ctx, DatasetRequest{Method: "stats", OrganismType: "fungi", Seed: 3})
	if err != nil {
		t.Fatalf("build fungi dataset: %v", err)
	}
	if fungi.Rows != 2 {
		t.Fatalf("expected 2 fungal rows, got %d", fungi.Rows)
	}

	if _, err := client.BuildDataset(ctx, DatasetRequest{Method: "protein"}); err == nil {
		t.Fatal("expected unknown method error")
	}
}

func TestClientTrainWritesArtifactsAndIndex(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()

	result, err := client.Train(ctx, TrainRequest{
		Method:         "stats",
		Phases:         []string{"bacteria", "archaea", "fungi"},
		EpochsPerPhase: 2,
		BatchSize:      2,
		LatentDim:      2,
		Hidden:         []int{8},
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !strings.HasPrefix(result.RunID, "train-7-") {
		t.Fatalf("unexpected run id %q", result.RunID)
	}
	if len(result.Reports) != 3 {
		t.Fatalf("expected 3 phase reports, got %d", len(result.Reports))
	}
	if result.Reports[0].Skipped || result.Reports[2].Skipped {
		t.Fatalf("bacteria and fungi phases should run: %+v", result.Reports)
	}
	if !result.Reports[1].Skipped {
		t.Fatal("archaea phase should be skipped with no archaea in the store")
	}
	for _, report := range []int{0, 2} {
		if result.Reports[report].EpochsRun != 2 {
			t.Fatalf("phase %d ran %d epochs", report, result.Reports[report].EpochsRun)
		}
		if result.Reports[report].CheckpointPath == "" {
			t.Fatalf("phase %d has no checkpoint", report)
		}
		if _, err := os.Stat(result.Reports[report].CheckpointPath); err != nil {
			t.Fatalf("stat checkpoint: %v", err)
		}
	}
	if result.Metrics.Rows == 0 {
		t.Fatal("expected final metrics over at least one row")
	}

	for _, name := range []string{"config.json", "phase_reports.json", "history.json", "metrics.json", "loss_series.csv"} {
		if _, err := os.Stat(filepath.Join(result.ArtifactsPath, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
	artifacts, found, err := stats.ReadRunArtifacts(filepath.Dir(result.ArtifactsPath), result.RunID)
	if err != nil {
		t.Fatalf("read artifacts: %v", err)
	}
	if !found {
		t.Fatal("expected artifacts on disk")
	}
	if artifacts.Config.Method != "stats" || artifacts.Config.EpochsPerPhase != 2 {
		t.Fatalf("unexpected config: %+v", artifacts.Config)
	}
	if artifacts.Config.MediaDim != 3 || artifacts.Config.CondDim != 4 {
		t.Fatalf("unexpected dims in config: %+v", artifacts.Config)
	}
	if len(artifacts.History) != 4 {
		t.Fatalf("expected 4 history entries across 2 trained phases, got %d", len(artifacts.History))
	}
	if artifacts.History[3].Epoch != 4 {
		t.Fatalf("history epochs should renumber continuously, got %d", artifacts.History[3].Epoch)
	}

	runs, err := client.Runs(ctx, RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) == 0 || runs[0].RunID != result.RunID {
		t.Fatalf("expected run %s first in index: %+v", result.RunID, runs)
	}
	if runs[0].Phases != 3 || runs[0].Seed != 7 {
		t.Fatalf("unexpected index entry: %+v", runs[0])
	}
	if runs[0].FinalLoss != result.Metrics.Total {
		t.Fatalf("index loss %v does not match result %v", runs[0].FinalLoss, result.Metrics.Total)
	}
}

func TestClientTrainRequiresIngredients(t *testing.T) {
	client, err := New(Options{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	_, err = client.Train(context.Background(), TrainRequest{Method: "stats"})
	if err == nil || !strings.Contains(err.Error(), "ingredient catalog is empty") {
		t.Fatalf("expected empty catalog error, got %v", err)
	}
}

func TestClientTrainValidatesPhases(t *testing.T) {
	client := newSeededClient(t)

	_, err := client.Train(context.Background(), TrainRequest{
		Method: "stats",
		Phases: []string{"bacteria", "plant"},
	})
	if err == nil || !strings.Contains(err.Error(), "phase 1") {
		t.Fatalf("expected phase validation error, got %v", err)
	}
}

func TestClientGenerateNamesIngredients(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()
	checkpoint := saveCheckpoint(t, t.TempDir())

	result, err := client.Generate(ctx, GenerateRequest{
		CheckpointPath: checkpoint,
		OrganismID:     "b1",
		Count:          3,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(result.Media) != 3 {
		t.Fatalf("expected 3 media, got %d", len(result.Media))
	}
	names := map[string]bool{"Glucose": true, "NaCl": true, "Agar": true}
	for i, medium := range result.Media {
		if len(medium.Vector) != 3 {
			t.Fatalf("medium %d has %d entries", i, len(medium.Vector))
		}
		for _, v := range medium.Vector {
			if v < 0 {
				t.Fatalf("medium %d has negative concentration %v", i, v)
			}
		}
		for c := 1; c < len(medium.Components); c++ {
			if medium.Components[c].GramsPerL > medium.Components[c-1].GramsPerL {
				t.Fatalf("medium %d components out of order", i)
			}
		}
		for _, component := range medium.Components {
			if !names[component.Name] {
				t.Fatalf("unexpected component %q", component.Name)
			}
			if component.GramsPerL <= 0 {
				t.Fatalf("component %q below threshold", component.Name)
			}
		}
	}

	// The condition embedding computed from b1's sequence is persisted.
	stored, found, err := client.store.GetEmbedding(ctx, "b1", "stats")
	if err != nil || !found {
		t.Fatalf("expected persisted embedding, found=%v err=%v", found, err)
	}
	if stored.Dim != 4 {
		t.Fatalf("unexpected embedding dim %d", stored.Dim)
	}

	// An explicit condition vector bypasses the store and Count defaults.
	direct, err := client.Generate(ctx, GenerateRequest{
		CheckpointPath: checkpoint,
		Condition:      make([]float64, 4),
	})
	if err != nil {
		t.Fatalf("generate with condition: %v", err)
	}
	if len(direct.Media) != defaultGenerateCount {
		t.Fatalf("expected %d media by default, got %d", defaultGenerateCount, len(direct.Media))
	}
}

func TestClientGenerateValidatesRequest(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()
	checkpoint := saveCheckpoint(t, t.TempDir())

	if _, err := client.Generate(ctx, GenerateRequest{}); err == nil {
		t.Fatal("expected checkpoint path error")
	}
	if _, err := client.Generate(ctx, GenerateRequest{CheckpointPath: checkpoint}); err == nil {
		t.Fatal("expected missing condition error")
	}
	_, err := client.Generate(ctx, GenerateRequest{CheckpointPath: checkpoint, OrganismID: "nope"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected unknown organism error, got %v", err)
	}
}

func TestClientEvaluateReportsReconstruction(t *testing.T) {
	client := newSeededClient(t)
	ctx := context.Background()
	checkpoint := saveCheckpoint(t, t.TempDir())

	result, err := client.Evaluate(ctx, EvaluateRequest{
		CheckpointPath: checkpoint,
		Seed:           3,
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result.Split != "test" {
		t.Fatalf("expected the test split, got %q", result.Split)
	}
	if result.Metrics.Rows == 0 {
		t.Fatal("expected at least one evaluated row")
	}
	if result.Reconstruction.Rows != result.Metrics.Rows {
		t.Fatalf("reconstruction rows %d != metric rows %d",
			result.Reconstruction.Rows, result.Metrics.Rows)
	}
	if result.Reconstruction.RMSE < 0 {
		t.Fatalf("negative RMSE %v", result.Reconstruction.RMSE)
	}
	if result.Reconstruction.MeanCosine < -1 || result.Reconstruction.MeanCosine > 1+1e-9 {
		t.Fatalf("cosine out of range: %v", result.Reconstruction.MeanCosine)
	}

	if _, err := client.Evaluate(ctx, EvaluateRequest{}); err == nil {
		t.Fatal("expected checkpoint path error")
	}
}
