package main

import (
	"context"
	"flag"
	"fmt"

	"trophos/internal/cvae"
	"trophos/pkg/trophos"
)

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
	methodName := fs.String("method", string(trophos.DefaultMethod), "sequence encoding: stats|kmer4|kmer7|kmer8")
	phaseList := fs.String("phases", "bacteria,archaea,fungi,protist", "curriculum phase order")
	epochs := fs.Int("epochs", cvae.DefaultEpochs, "epochs per phase")
	batch := fs.Int("batch", cvae.DefaultBatchSize, "batch size")
	lr := fs.Float64("lr", cvae.DefaultLearningRate, "learning rate")
	beta := fs.Float64("beta", cvae.DefaultBeta, "KL weight")
	latent := fs.Int("latent", cvae.DefaultLatentDim, "latent dimension")
	hiddenFlag := fs.String("hidden", "256,128", "encoder hidden layer sizes")
	ratiosFlag := fs.String("ratios", "", "train,val,test ratios, e.g. 0.7,0.15,0.15")
	seed := fs.Int64("seed", 0, "run seed")
	includeNegatives := fs.Bool("include-negatives", false, "keep growth=false observations as 0-labeled rows")
	confidenceFloor := fs.Float64("confidence-floor", 0, "drop rows below this confidence")
	rawScale := fs.Bool("raw-scale", false, "keep media vectors in g/L instead of log1p")
	artifactsDir := fs.String("artifacts-dir", "runs", "run artifacts directory")
	checkpointDir := fs.String("checkpoint-dir", "checkpoints", "checkpoint directory")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return err
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
	if set["method"] {
		cfg.Train.Method = *methodName
	}
	if set["phases"] {
		cfg.Train.Phases = parseList(*phaseList)
	}
	if set["epochs"] {
		cfg.Train.EpochsPerPhase = *epochs
	}
	if set["batch"] {
		cfg.Train.BatchSize = *batch
	}
	if set["lr"] {
		cfg.Train.LearningRate = *lr
	}
	if set["beta"] {
		cfg.Train.Beta = *beta
	}
	if set["latent"] {
		cfg.Train.LatentDim = *latent
	}
	if set["hidden"] {
		cfg.Train.Hidden, err = parseInts(*hiddenFlag)
		if err != nil {
			return fmt.Errorf("hidden: %w", err)
		}
	}
	if set["seed"] {
		cfg.Train.Seed = *seed
	}
	if set["include-negatives"] {
		cfg.Train.IncludeNegatives = *includeNegatives
	}
	if set["confidence-floor"] {
		cfg.Train.ConfidenceFloor = *confidenceFloor
	}
	if set["raw-scale"] {
		cfg.Train.RawScale = *rawScale
	}
	if set["artifacts-dir"] {
		cfg.ArtifactsDir = *artifactsDir
	}
	if set["checkpoint-dir"] {
		cfg.CheckpointDir = *checkpointDir
	}
	if set["log-level"] {
		cfg.Log.Level = *logLevel
	}
	ratios := cfg.trainRatios()
	if set["ratios"] {
		ratios, err = parseRatios(*ratiosFlag)
		if err != nil {
			return err
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

	result, err := client.Train(ctx, trophos.TrainRequest{
		Method:           cfg.Train.Method,
		Phases:           cfg.Train.Phases,
		EpochsPerPhase:   cfg.Train.EpochsPerPhase,
		BatchSize:        cfg.Train.BatchSize,
		LearningRate:     cfg.Train.LearningRate,
		Beta:             cfg.Train.Beta,
		Ratios:           ratios,
		Seed:             cfg.Train.Seed,
		LatentDim:        cfg.Train.LatentDim,
		Hidden:           cfg.Train.Hidden,
		RawScale:         cfg.Train.RawScale,
		IncludeNegatives: cfg.Train.IncludeNegatives,
		ConfidenceFloor:  cfg.Train.ConfidenceFloor,
	})
	if err != nil {
		return err
	}

	fmt.Printf("train completed run_id=%s phases=%d seed=%d\n",
		result.RunID, len(result.Reports), cfg.Train.Seed)
	for _, report := range result.Reports {
		if report.Skipped {
			fmt.Printf("phase=%s skipped=true rows=%d\n", report.Phase, report.Rows)
			continue
		}
		fmt.Printf("phase=%s rows=%d train_rows=%d dropped=%d epochs=%d pre_loss=%.6f post_loss=%.6f checkpoint=%s\n",
			report.Phase, report.Rows, report.TrainRows, report.Dropped, report.EpochsRun,
			report.PreLoss.Total, report.PostLoss.Total, report.CheckpointPath)
	}
	fmt.Printf("final rows=%d total=%.6f recon=%.6f kl=%.6f\n",
		result.Metrics.Rows, result.Metrics.Total, result.Metrics.Recon, result.Metrics.KL)
	fmt.Printf("artifacts_dir=%s\n", result.ArtifactsPath)
	return nil
}
