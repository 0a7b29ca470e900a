package main

import (
	"context"
	"flag"
	"fmt"

	"trophos/internal/model"
	"trophos/internal/seqenc"
	"trophos/internal/storage"
	"trophos/pkg/trophos"
)

// runEmbed computes missing sequence embeddings for one method across the
// whole store, so a later dataset build or generate call finds them ready.
func runEmbed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "trophos.db", "sqlite database path")
	methodName := fs.String("method", string(trophos.DefaultMethod), "sequence encoding: stats|kmer4|kmer7|kmer8")
	typeName := fs.String("type", "", "restrict to one organism type")
	force := fs.Bool("force", false, "recompute embeddings that already exist")
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

	method, err := seqenc.ParseMethod(cfg.Train.Method)
	if err != nil {
		return err
	}
	dim, err := seqenc.Dim(method)
	if err != nil {
		return err
	}
	var organismType model.OrganismType
	if *typeName != "" {
		organismType, err = model.ParseOrganismType(*typeName)
		if err != nil {
			return err
		}
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	organisms, err := store.ListOrganisms(ctx, organismType)
	if err != nil {
		return err
	}

	computed, skipped, failed := 0, 0, 0
	for _, org := range organisms {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !*force {
			stored, found, err := store.GetEmbedding(ctx, org.ID, string(method))
			if err != nil {
				return err
			}
			if found && stored.Dim == dim {
				skipped++
				continue
			}
		}
		if org.SequencePath == "" {
			failed++
			fmt.Printf("organism=%s error=%q\n", org.ID, "no sequence file")
			continue
		}
		_, seq, err := seqenc.ReadFASTAFile(org.SequencePath)
		if err != nil {
			failed++
			fmt.Printf("organism=%s error=%q\n", org.ID, err.Error())
			continue
		}
		vec, valid, err := seqenc.Encode(seq, method)
		if err != nil {
			return err
		}
		if !valid {
			failed++
			fmt.Printf("organism=%s error=%q\n", org.ID, "sequence carries no usable signal")
			continue
		}
		if err := store.SaveEmbedding(ctx, model.Embedding{
			VersionedRecord: storage.Stamp(),
			OrganismID:      org.ID,
			Method:          string(method),
			Dim:             dim,
			Values:          vec,
		}); err != nil {
			return err
		}
		computed++
	}

	fmt.Printf("embed method=%s organisms=%d computed=%d skipped=%d failed=%d\n",
		method, len(organisms), computed, skipped, failed)
	return nil
}
