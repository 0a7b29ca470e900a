package main

import (
	"context"
	"flag"
	"fmt"
	"sort"

	"trophos/pkg/trophos"
)

func runDataset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dataset", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
	methodName := fs.String("method", string(trophos.DefaultMethod), "sequence encoding: stats|kmer4|kmer7|kmer8")
	typeName := fs.String("type", "", "restrict to one organism type")
	seed := fs.Int64("seed", 0, "split seed")
	ratiosFlag := fs.String("ratios", "", "train,val,test ratios, e.g. 0.7,0.15,0.15")
	includeNegatives := fs.Bool("include-negatives", false, "keep growth=false observations as 0-labeled rows")
	confidenceFloor := fs.Float64("confidence-floor", 0, "drop rows below this confidence")
	rawScale := fs.Bool("raw-scale", false, "keep media vectors in g/L instead of log1p")
	outPath := fs.String("out", "", "save the bundle to this path")
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
	if set["method"] || cfg.Train.Method == "" {
		cfg.Train.Method = *methodName
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

	summary, err := client.BuildDataset(ctx, trophos.DatasetRequest{
		Method:           cfg.Train.Method,
		OrganismType:     *typeName,
		Ratios:           ratios,
		Seed:             cfg.Train.Seed,
		RawScale:         cfg.Train.RawScale,
		IncludeNegatives: cfg.Train.IncludeNegatives,
		ConfidenceFloor:  cfg.Train.ConfidenceFloor,
		OutPath:          *outPath,
	})
	if err != nil {
		return err
	}

	fmt.Printf("dataset method=%s rows=%d train=%d val=%d test=%d vocab=%d embedding_dim=%d dropped=%d media_failures=%d\n",
		cfg.Train.Method, summary.Rows, summary.TrainRows, summary.ValRows, summary.TestRows,
		summary.VocabSize, summary.EmbeddingDim, summary.Dropped, summary.MediaFailures)
	reasons := make([]string, 0, len(summary.DroppedByReason))
	for reason := range summary.DroppedByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Printf("dropped reason=%s count=%d\n", reason, summary.DroppedByReason[reason])
	}
	if summary.OutPath != "" {
		fmt.Printf("bundle=%s\n", summary.OutPath)
	}
	return nil
}
