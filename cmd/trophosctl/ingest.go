package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"trophos/internal/ingest"
)

// ingestPasses is the canonical pass order; later passes build on the
// records of earlier ones.
var ingestPasses = []string{"media", "ingredients", "strains", "genomes", "link", "enrich"}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
	passList := fs.String("passes", "all", "comma-separated passes: media,ingredients,strains,genomes,link,enrich")
	baseURL := fs.String("base-url", ingest.DefaultBaseURL, "upstream REST base URL")
	rps := fs.Float64("rps", 0, "request rate limit (0 uses the client default)")
	cacheDir := fs.String("cache-dir", "", "on-disk response cache directory")
	manifest := fs.String("genome-manifest", "", "genome manifest JSON path (genomes pass)")
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
	if set["base-url"] {
		cfg.Ingest.BaseURL = *baseURL
	}
	if set["rps"] {
		cfg.Ingest.RPS = *rps
	}
	if set["cache-dir"] {
		cfg.Ingest.CacheDir = *cacheDir
	}
	if set["genome-manifest"] {
		cfg.Ingest.GenomeManifest = *manifest
	}
	if set["log-level"] {
		cfg.Log.Level = *logLevel
	}

	passes, err := selectPasses(*passList, cfg.Ingest.GenomeManifest != "")
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = closeLog()
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := ingest.NewClient(ingest.ClientConfig{
		BaseURL:  cfg.Ingest.BaseURL,
		RPS:      cfg.Ingest.RPS,
		CacheDir: cfg.Ingest.CacheDir,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	ing, err := ingest.NewIngestor(client, store, logger)
	if err != nil {
		return err
	}

	for _, pass := range ingestPasses {
		if !passes[pass] {
			continue
		}
		var report ingest.Report
		switch pass {
		case "media":
			report, err = ing.Media(ctx)
		case "ingredients":
			report, err = ing.Ingredients(ctx)
		case "strains":
			report, err = ing.Strains(ctx)
		case "genomes":
			report, err = ing.Genomes(ctx, cfg.Ingest.GenomeManifest)
		case "link":
			report, err = ing.Link(ctx, ingest.DefaultConfidencePolicy())
		case "enrich":
			report, err = ing.Enrich(ctx, ingest.EnrichOptions{})
		}
		if err != nil {
			return fmt.Errorf("%s pass: %w", pass, err)
		}
		fmt.Printf("pass=%s batch_id=%s pages=%d fetched=%d stored=%d linked=%d failed=%d skipped=%t\n",
			report.Pass, report.BatchID, report.Pages, report.Fetched, report.Stored,
			report.Linked, report.Failed, report.Skipped)
	}
	return nil
}

// selectPasses resolves the -passes value. "all" covers every remote pass
// and includes genomes only when a manifest is configured; naming genomes
// explicitly without a manifest is an error.
func selectPasses(list string, haveManifest bool) (map[string]bool, error) {
	selected := make(map[string]bool, len(ingestPasses))
	if strings.TrimSpace(list) == "all" {
		for _, pass := range ingestPasses {
			if pass == "genomes" && !haveManifest {
				continue
			}
			selected[pass] = true
		}
		return selected, nil
	}

	known := make(map[string]bool, len(ingestPasses))
	for _, pass := range ingestPasses {
		known[pass] = true
	}
	for _, pass := range parseList(list) {
		if !known[pass] {
			return nil, fmt.Errorf("unknown pass %q", pass)
		}
		selected[pass] = true
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no passes selected")
	}
	if selected["genomes"] && !haveManifest {
		return nil, fmt.Errorf("the genomes pass needs -genome-manifest or ingest.genome_manifest")
	}
	return selected, nil
}
