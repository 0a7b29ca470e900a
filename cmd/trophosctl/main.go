// Command trophosctl drives the media-generation pipeline: ingest the
// upstream databases, compute genome embeddings, build datasets, train the
// conditional model and sample media from its checkpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"trophos/internal/logging"
	"trophos/internal/storage"
	"trophos/pkg/trophos"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}
	switch args[0] {
	case "ingest":
		return runIngest(ctx, args[1:])
	case "embed":
		return runEmbed(ctx, args[1:])
	case "dataset":
		return runDataset(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "generate":
		return runGenerate(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "info":
		return runInfo(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: trophosctl <ingest|embed|dataset|train|generate|evaluate|runs|export|info> [flags]", msg)
}

// setFlags reports which flags the user passed explicitly, so config file
// values survive flag defaults.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// newLogger builds the command logger, honoring a rotating file sink when
// one is configured. The returned func releases the sink.
func newLogger(cfg fileConfig) (*slog.Logger, func() error, error) {
	if cfg.Log.File != "" {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, nil, err
		}
		return logging.NewFileLogger(cfg.Log.File, "trophosctl", level)
	}
	logger, err := logging.Setup(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return logger, func() error { return nil }, nil
}

// openStore builds and initializes the configured store.
func openStore(ctx context.Context, cfg fileConfig) (storage.Store, func(), error) {
	store, err := storage.NewStore(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, nil, err
	}
	return store, func() { _ = storage.CloseIfSupported(store) }, nil
}

func newAPIClient(cfg fileConfig, logger *slog.Logger) (*trophos.Client, error) {
	return trophos.New(trophos.Options{
		Backend:       cfg.Store.Backend,
		StorePath:     cfg.Store.Path,
		ArtifactsDir:  cfg.ArtifactsDir,
		CheckpointDir: cfg.CheckpointDir,
		Logger:        logger,
	})
}
