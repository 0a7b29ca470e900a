package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"trophos/internal/logging"
)

type storeSection struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type logSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File switches to a rotating JSON log file instead of stderr.
	File string `yaml:"file"`
}

type ingestSection struct {
	BaseURL        string  `yaml:"base_url"`
	RPS            float64 `yaml:"rps"`
	CacheDir       string  `yaml:"cache_dir"`
	GenomeManifest string  `yaml:"genome_manifest"`
}

type trainSection struct {
	Method           string    `yaml:"method"`
	Phases           []string  `yaml:"phases"`
	EpochsPerPhase   int       `yaml:"epochs_per_phase"`
	BatchSize        int       `yaml:"batch_size"`
	LearningRate     float64   `yaml:"learning_rate"`
	Beta             float64   `yaml:"beta"`
	LatentDim        int       `yaml:"latent_dim"`
	Hidden           []int     `yaml:"hidden"`
	Ratios           []float64 `yaml:"ratios"`
	Seed             int64     `yaml:"seed"`
	IncludeNegatives bool      `yaml:"include_negatives"`
	ConfidenceFloor  float64   `yaml:"confidence_floor"`
	RawScale         bool      `yaml:"raw_scale"`
}

// fileConfig is the YAML pipeline file. Explicitly set flags override it;
// fields left zero fall through to the package defaults downstream.
type fileConfig struct {
	Store         storeSection  `yaml:"store"`
	Log           logSection    `yaml:"log"`
	ArtifactsDir  string        `yaml:"artifacts_dir"`
	CheckpointDir string        `yaml:"checkpoint_dir"`
	Ingest        ingestSection `yaml:"ingest"`
	Train         trainSection  `yaml:"train"`
}

// defaultConfig is what runs with no -config file: a sqlite store in the
// working directory and the standard artifact layout.
func defaultConfig() fileConfig {
	var cfg fileConfig
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = "trophos.db"
	cfg.ArtifactsDir = "runs"
	cfg.CheckpointDir = "checkpoints"
	cfg.Log.Level = "info"
	return cfg
}

func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return fileConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c fileConfig) validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if n := len(c.Train.Ratios); n != 0 && n != 3 {
		return fmt.Errorf("train.ratios needs exactly 3 entries, got %d", n)
	}
	if c.Ingest.RPS < 0 {
		return fmt.Errorf("ingest.rps must not be negative, got %v", c.Ingest.RPS)
	}
	return nil
}

// trainRatios returns the configured split ratios, zero when unset.
func (c fileConfig) trainRatios() [3]float64 {
	var out [3]float64
	copy(out[:], c.Train.Ratios)
	return out
}

func parseRatios(s string) ([3]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("ratios need 3 comma-separated values, got %q", s)
	}
	var out [3]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [3]float64{}, fmt.Errorf("ratio %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for i, part := range parseList(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseList splits a comma-separated flag value, dropping empty entries.
func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
