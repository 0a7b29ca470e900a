package cvae

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trophos/internal/nn"
)

const checkpointSchemaVersion = 1

var ErrCheckpointVersion = errors.New("unsupported checkpoint version")

// Provenance names the dataset a model was trained against, so a checkpoint
// can be matched back to the vocabulary and encoding that produced it.
type Provenance struct {
	Method       string `json:"method,omitempty"`
	VocabVersion string `json:"vocab_version,omitempty"`
	VocabSize    int    `json:"vocab_size,omitempty"`
	Scale        string `json:"scale,omitempty"`
}

type denseWeights struct {
	W [][]float64 `json:"w"`
	B []float64   `json:"b"`
}

type checkpoint struct {
	SchemaVersion int            `json:"schema_version"`
	MediaDim      int            `json:"media_dim"`
	CondDim       int            `json:"cond_dim"`
	LatentDim     int            `json:"latent_dim"`
	Hidden        []int          `json:"hidden"`
	Seed          int64          `json:"seed"`
	SavedAtUTC    string         `json:"saved_at_utc"`
	Provenance    *Provenance    `json:"provenance,omitempty"`
	Encoder       []denseWeights `json:"encoder"`
	MeanHead      denseWeights   `json:"mean_head"`
	LogvarHead    denseWeights   `json:"logvar_head"`
	Decoder       []denseWeights `json:"decoder"`
	Output        denseWeights   `json:"output"`
}

func exportDense(d *nn.Dense) denseWeights {
	w := make([][]float64, d.W.Nout)
	for i, row := range d.W.Rows {
		w[i] = append([]float64(nil), row.Data...)
	}
	return denseWeights{W: w, B: append([]float64(nil), d.B.Data...)}
}

func exportStack(layers []*nn.Dense) []denseWeights {
	out := make([]denseWeights, len(layers))
	for i, layer := range layers {
		out[i] = exportDense(layer)
	}
	return out
}

func importDense(d *nn.Dense, w denseWeights) error {
	if len(w.W) != d.W.Nout {
		return fmt.Errorf("weight row count mismatch: got=%d want=%d", len(w.W), d.W.Nout)
	}
	for i, row := range w.W {
		if len(row) != d.W.Nin {
			return fmt.Errorf("weight row %d length mismatch: got=%d want=%d", i, len(row), d.W.Nin)
		}
		copy(d.W.Rows[i].Data, row)
	}
	if len(w.B) != len(d.B.Data) {
		return fmt.Errorf("bias length mismatch: got=%d want=%d", len(w.B), len(d.B.Data))
	}
	copy(d.B.Data, w.B)
	return nil
}

// Save writes the model as a versioned JSON checkpoint, creating parent
// directories as needed. The checkpoint holds the architecture and every
// weight, so Load needs no further configuration. Optimizer state is not
// part of it: a reloaded model resumes with fresh Adam moments.
func (m *Model) Save(path string) error {
	ck := checkpoint{
		SchemaVersion: checkpointSchemaVersion,
		MediaDim:      m.cfg.MediaDim,
		CondDim:       m.cfg.CondDim,
		LatentDim:     m.cfg.LatentDim,
		Hidden:        append([]int(nil), m.cfg.Hidden...),
		Seed:          m.cfg.Seed,
		SavedAtUTC:    time.Now().UTC().Format(time.RFC3339),
		Provenance:    m.Provenance,
		Encoder:       exportStack(m.encoder),
		MeanHead:      exportDense(m.meanHead),
		LogvarHead:    exportDense(m.logvarHead),
		Decoder:       exportStack(m.decoder),
		Output:        exportDense(m.output),
	}
	data, err := json.Marshal(&ck)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load rebuilds a model from a checkpoint written by Save. Weight shapes
// are validated against the recorded architecture.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var ck checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if ck.SchemaVersion != checkpointSchemaVersion {
		return nil, fmt.Errorf("%w: schema=%d", ErrCheckpointVersion, ck.SchemaVersion)
	}

	m, err := New(Config{
		MediaDim:  ck.MediaDim,
		CondDim:   ck.CondDim,
		LatentDim: ck.LatentDim,
		Hidden:    ck.Hidden,
		Seed:      ck.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint config: %w", err)
	}

	if len(ck.Encoder) != len(m.encoder) {
		return nil, fmt.Errorf("encoder depth mismatch: got=%d want=%d", len(ck.Encoder), len(m.encoder))
	}
	for i := range m.encoder {
		if err := importDense(m.encoder[i], ck.Encoder[i]); err != nil {
			return nil, fmt.Errorf("encoder layer %d: %w", i, err)
		}
	}
	if err := importDense(m.meanHead, ck.MeanHead); err != nil {
		return nil, fmt.Errorf("mean head: %w", err)
	}
	if err := importDense(m.logvarHead, ck.LogvarHead); err != nil {
		return nil, fmt.Errorf("logvar head: %w", err)
	}
	if len(ck.Decoder) != len(m.decoder) {
		return nil, fmt.Errorf("decoder depth mismatch: got=%d want=%d", len(ck.Decoder), len(m.decoder))
	}
	for i := range m.decoder {
		if err := importDense(m.decoder[i], ck.Decoder[i]); err != nil {
			return nil, fmt.Errorf("decoder layer %d: %w", i, err)
		}
	}
	if err := importDense(m.output, ck.Output); err != nil {
		return nil, fmt.Errorf("output layer: %w", err)
	}

	m.Provenance = ck.Provenance
	return m, nil
}
