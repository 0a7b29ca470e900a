package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"trophos/pkg/trophos"
)

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
	checkpoint := fs.String("checkpoint", "", "model checkpoint path (required)")
	organism := fs.String("organism", "", "condition on this organism's genome")
	embeddingPath := fs.String("embedding", "", "JSON file holding an embedding vector to condition on")
	count := fs.Int("n", 5, "media to generate")
	threshold := fs.Float64("threshold", 0.01, "g/L floor below which ingredients are not listed")
	methodName := fs.String("method", "", "sequence encoding (defaults to the checkpoint's)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkpoint == "" {
		return fmt.Errorf("-checkpoint is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	set := setFlags(fs)
	if set["store"] {
		cfg.Store.Backend = *storeKind
	}
	if set["db-path"] {
		cfg.Store.Path = *dbPath
	}

	var condition []float64
	if *embeddingPath != "" {
		data, err := os.ReadFile(*embeddingPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &condition); err != nil {
			return fmt.Errorf("parse embedding %s: %w", *embeddingPath, err)
		}
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeLog()
	}()

	client, err := newAPIClient(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	result, err := client.Generate(ctx, trophos.GenerateRequest{
		CheckpointPath: *checkpoint,
		OrganismID:     *organism,
		Condition:      condition,
		Method:         *methodName,
		Count:          *count,
		Threshold:      *threshold,
	})
	if err != nil {
		return err
	}

	for i, medium := range result.Media {
		fmt.Printf("medium=%d ingredients=%d\n", i+1, len(medium.Components))
		for _, component := range medium.Components {
			fmt.Printf("medium=%d ingredient=%q g_l=%.4f\n", i+1, component.Name, component.GramsPerL)
		}
	}
	return nil
}
