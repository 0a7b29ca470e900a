package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"

	"trophos/internal/stats"
)

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	artifactsDir := fs.String("artifacts-dir", "runs", "run artifacts directory")
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the index")
	outDir := fs.String("out", "exports", "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either -run-id or -latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires -run-id or -latest")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	set := setFlags(fs)
	if set["artifacts-dir"] {
		cfg.ArtifactsDir = *artifactsDir
	}

	if *latest {
		entries, err := stats.ListRunIndex(cfg.ArtifactsDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available to export")
		}
		*runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRun(cfg.ArtifactsDir, *runID, *outDir)
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", *runID, filepath.Clean(exportedDir))
	return nil
}
