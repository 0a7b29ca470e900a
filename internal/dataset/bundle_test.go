package dataset

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"trophos/internal/model"
)

func sampleBundle() *Bundle {
	return &Bundle{
		Train: &Split{
			Name:        "train",
			Embeddings:  [][]float64{{0.4, 0.4, 1.3, 0.0}},
			Media:       [][]float64{{2.3978, 0, 1.7917}},
			Labels:      []float64{1},
			Types:       []model.OrganismType{model.Bacteria},
			Confidences: []float64{0.95},
		},
		Val:  &Split{Name: "val"},
		Test: &Split{Name: "test"},
		Meta: Meta{
			Method:       "stats",
			VocabVersion: "v3-00000000000000aa",
			VocabSize:    3,
			EmbeddingDim: 4,
			Seed:         42,
			Ratios:       DefaultRatios,
			Scale:        "log1p",
		},
	}
}

func TestBundleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifacts", "bundle.json")
	original := sampleBundle()

	if err := SaveBundle(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Rows() != 1 {
		t.Fatalf("rows: got=%d want=1", loaded.Rows())
	}
	if loaded.Train.Confidences[0] != 0.95 {
		t.Fatalf("confidence: got=%v want=0.95", loaded.Train.Confidences[0])
	}
	if loaded.Train.Types[0] != model.Bacteria {
		t.Fatalf("type: got=%s", loaded.Train.Types[0])
	}
	if loaded.Meta.Seed != 42 || loaded.Meta.VocabVersion != "v3-00000000000000aa" {
		t.Fatalf("meta: %+v", loaded.Meta)
	}
	if loaded.SchemaVersion != bundleSchemaVersion || loaded.CodecVersion != bundleCodecVersion {
		t.Fatalf("versions: schema=%d codec=%d", loaded.SchemaVersion, loaded.CodecVersion)
	}
}

func TestLoadBundleRejectsForeignVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	original := sampleBundle()
	if err := SaveBundle(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw["schema_version"] = 99
	data, err = json.Marshal(raw)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadBundle(path); !errors.Is(err, ErrBundleVersion) {
		t.Fatalf("expected ErrBundleVersion, got %v", err)
	}
}

func TestLoadBundleRejectsMissingSplit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	original := sampleBundle()
	original.Test = nil
	if err := SaveBundle(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := LoadBundle(path); err == nil {
		t.Fatal("expected error for bundle with a missing split")
	}
}

func TestLoadBundleMissingFile(t *testing.T) {
	if _, err := LoadBundle(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveBundleDoesNotMutateInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	original := sampleBundle()
	if err := SaveBundle(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	if original.SchemaVersion != 0 || original.CodecVersion != 0 {
		t.Fatalf("input stamped in place: schema=%d codec=%d", original.SchemaVersion, original.CodecVersion)
	}
}
