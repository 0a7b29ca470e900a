// Package dataset joins organisms, embeddings, media vectors and growth
// observations into reproducible train/val/test bundles.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"trophos/internal/model"
	"trophos/internal/seqenc"
)

// Split is one partition of a bundle. The slices are parallel: row i of
// every slice describes the same (organism, media) pair.
type Split struct {
	Name        string               `json:"name"`
	Embeddings  [][]float64          `json:"embeddings"`
	Media       [][]float64          `json:"media"`
	Labels      []float64            `json:"labels"`
	Types       []model.OrganismType `json:"types"`
	Confidences []float64            `json:"confidences"`
}

func (s *Split) Len() int {
	return len(s.Labels)
}

// Meta records how a bundle was produced, enough to reproduce or audit it.
type Meta struct {
	Method          seqenc.Method  `json:"method"`
	VocabVersion    string         `json:"vocab_version"`
	VocabSize       int            `json:"vocab_size"`
	EmbeddingDim    int            `json:"embedding_dim"`
	Seed            int64          `json:"seed"`
	Ratios          [3]float64     `json:"ratios"`
	Scale           string         `json:"scale"`
	Dropped         int            `json:"dropped"`
	DroppedByReason map[string]int `json:"dropped_by_reason,omitempty"`
	// MediaFailures counts catalog formulations that failed vectorization,
	// independent of how many observation rows referenced them.
	MediaFailures int `json:"media_failures"`
}

// Bundle is the product of one Build call.
type Bundle struct {
	model.VersionedRecord
	Train *Split `json:"train"`
	Val   *Split `json:"val"`
	Test  *Split `json:"test"`
	Meta  Meta   `json:"meta"`
}

// Rows returns the total row count across the three splits.
func (b *Bundle) Rows() int {
	return b.Train.Len() + b.Val.Len() + b.Test.Len()
}

const (
	bundleSchemaVersion = 1
	bundleCodecVersion  = 1
)

var ErrBundleVersion = errors.New("unsupported bundle version")

// SaveBundle writes a bundle as a versioned JSON artifact, creating parent
// directories as needed.
func SaveBundle(path string, b *Bundle) error {
	stamped := *b
	stamped.SchemaVersion = bundleSchemaVersion
	stamped.CodecVersion = bundleCodecVersion

	data, err := json.Marshal(&stamped)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create bundle dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	return nil
}

// LoadBundle reads a bundle artifact written by SaveBundle.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.SchemaVersion != bundleSchemaVersion || b.CodecVersion != bundleCodecVersion {
		return nil, fmt.Errorf("%w: schema=%d codec=%d", ErrBundleVersion, b.SchemaVersion, b.CodecVersion)
	}
	for _, s := range []*Split{b.Train, b.Val, b.Test} {
		if s == nil {
			return nil, fmt.Errorf("bundle %s is missing a split", path)
		}
	}
	return &b, nil
}
