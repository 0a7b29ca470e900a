package main

import (
	"context"
	"flag"
	"fmt"

	"trophos/pkg/trophos"
)

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
	checkpoint := fs.String("checkpoint", "", "model checkpoint path (required)")
	methodName := fs.String("method", "", "sequence encoding (defaults to the checkpoint's)")
	typeName := fs.String("type", "", "restrict to one organism type")
	seed := fs.Int64("seed", 0, "split seed")
	beta := fs.Float64("beta", 0, "KL weight (0 uses the model default)")
	ratiosFlag := fs.String("ratios", "", "train,val,test ratios, e.g. 0.7,0.15,0.15")
	includeNegatives := fs.Bool("include-negatives", false, "keep growth=false observations as 0-labeled rows")
	confidenceFloor := fs.Float64("confidence-floor", 0, "drop rows below this confidence")
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
	var ratios [3]float64
	if set["ratios"] {
		ratios, err = parseRatios(*ratiosFlag)
		if err != nil {
			return err
		}
	} else {
		ratios = cfg.trainRatios()
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

	result, err := client.Evaluate(ctx, trophos.EvaluateRequest{
		CheckpointPath:   *checkpoint,
		Method:           *methodName,
		OrganismType:     *typeName,
		Ratios:           ratios,
		Seed:             *seed,
		Beta:             *beta,
		IncludeNegatives: *includeNegatives,
		ConfidenceFloor:  *confidenceFloor,
	})
	if err != nil {
		return err
	}

	fmt.Printf("evaluate split=%s rows=%d total=%.6f recon=%.6f kl=%.6f\n",
		result.Split, result.Metrics.Rows, result.Metrics.Total,
		result.Metrics.Recon, result.Metrics.KL)
	fmt.Printf("reconstruction mse=%.6f rmse=%.6f mean_cosine=%.6f\n",
		result.Reconstruction.MSE, result.Reconstruction.RMSE, result.Reconstruction.MeanCosine)
	return nil
}
