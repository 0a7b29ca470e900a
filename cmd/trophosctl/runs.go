package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"trophos/pkg/trophos"
)

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML pipeline config path")
	artifactsDir := fs.String("artifacts-dir", "runs", "run artifacts directory")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit the run list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	set := setFlags(fs)
	if set["artifacts-dir"] {
		cfg.ArtifactsDir = *artifactsDir
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

	items, err := client.Runs(ctx, trophos.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Method       string  `json:"method"`
			Phases       int     `json:"phases"`
			Seed         int64   `json:"seed"`
			FinalLoss    float64 `json:"final_loss"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem{
				RunID:        item.RunID,
				CreatedAtUTC: item.CreatedAtUTC,
				Method:       item.Method,
				Phases:       item.Phases,
				Seed:         item.Seed,
				FinalLoss:    item.FinalLoss,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s method=%s phases=%d seed=%d final_loss=%.6f\n",
			item.RunID, item.CreatedAtUTC, item.Method, item.Phases, item.Seed, item.FinalLoss)
	}
	return nil
}
