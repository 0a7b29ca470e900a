// Package ingest populates the store from the upstream media and strain
// databases and from local genome archives. Each pass records finished
// work in the store's task log, so an interrupted run resumes where it
// stopped instead of refetching.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"trophos/internal/storage"
)

// Report summarizes one ingestion pass. BatchID is a fresh UUID per
// invocation so log lines and stored task errors can be correlated.
type Report struct {
	BatchID string `json:"batch_id"`
	Pass    string `json:"pass"`
	Pages   int    `json:"pages,omitempty"`
	Fetched int    `json:"fetched"`
	Stored  int    `json:"stored"`
	Linked  int    `json:"linked,omitempty"`
	Failed  int    `json:"failed,omitempty"`
	// Skipped is set when the task log shows the pass already ran.
	Skipped bool `json:"skipped,omitempty"`
}

// Ingestor runs the ingestion passes against one store.
type Ingestor struct {
	client *Client
	store  storage.Store
	log    *slog.Logger
}

func NewIngestor(client *Client, store storage.Store, logger *slog.Logger) (*Ingestor, error) {
	if client == nil {
		return nil, fmt.Errorf("ingestor requires a client")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestor requires a store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{client: client, store: store, log: logger}, nil
}

func newReport(pass string) Report {
	return Report{BatchID: uuid.NewString(), Pass: pass}
}

// taskDone consults the task log, treating lookup failures as not done
// so a flaky log never skips work silently.
func (in *Ingestor) taskDone(ctx context.Context, task string) bool {
	done, err := in.store.IsTaskDone(ctx, task)
	if err != nil {
		in.log.Warn("task log lookup failed", "task", task, "error", err)
		return false
	}
	return done
}

func (in *Ingestor) markError(ctx context.Context, task string, cause error) {
	if err := in.store.MarkTaskError(ctx, task, cause.Error()); err != nil {
		in.log.Warn("task log write failed", "task", task, "error", err)
	}
}
