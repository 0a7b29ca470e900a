package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
)

func runInfo(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
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

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	counts, err := store.TableCounts(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("backend=%s\n", cfg.Store.Backend)
	for _, name := range names {
		fmt.Printf("table=%s rows=%d\n", name, counts[name])
	}
	return nil
}
