package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"trophos/internal/model"
)

const taskMediaList = "media_list"

type mediumItem struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	Complex bool        `json:"complex_medium"`
	Source  string      `json:"source"`
	MinPH   float64     `json:"min_pH"`
	MaxPH   float64     `json:"max_pH"`
}

type compositionItem struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	GPerL    json.Number `json:"g_l"`
	MmolPerL json.Number `json:"mmol_l"`
	Optional bool        `json:"optional"`
}

// Media fetches the medium catalog and the flattened molecular
// composition of every medium. The list and each composition are
// tracked as separate tasks, so a rerun only fetches what failed or
// never ran.
func (in *Ingestor) Media(ctx context.Context) (Report, error) {
	report := newReport("media")
	if in.taskDone(ctx, taskMediaList) {
		report.Skipped = true
		in.log.Info("media list already ingested", "batch", report.BatchID)
		return in.compositions(ctx, report)
	}

	pages, err := Paginate(ctx, in.client, "/media", DefaultPageLimit, func(items []mediumItem) error {
		for _, item := range items {
			media := model.MediaFormulation{
				ID:      item.ID.String(),
				Name:    item.Name,
				Complex: item.Complex,
				Source:  item.Source,
				MinPH:   item.MinPH,
				MaxPH:   item.MaxPH,
			}
			if err := in.store.SaveMedia(ctx, media); err != nil {
				return fmt.Errorf("save medium %s: %w", media.ID, err)
			}
			report.Stored++
		}
		report.Fetched += len(items)
		return nil
	})
	report.Pages = pages
	if err != nil {
		return report, fmt.Errorf("media list: %w", err)
	}
	if err := in.store.MarkTaskDone(ctx, taskMediaList); err != nil {
		return report, fmt.Errorf("mark media list done: %w", err)
	}
	in.log.Info("media list ingested",
		"batch", report.BatchID, "media", report.Stored, "pages", report.Pages)
	return in.compositions(ctx, report)
}

// compositions attaches the molecular composition to every stored
// medium. Individual failures are logged in the task log and counted;
// the pass keeps going.
func (in *Ingestor) compositions(ctx context.Context, report Report) (Report, error) {
	media, err := in.store.ListMedia(ctx)
	if err != nil {
		return report, fmt.Errorf("list media: %w", err)
	}
	for _, m := range media {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		task := "composition:" + m.ID
		if in.taskDone(ctx, task) {
			continue
		}
		var items []compositionItem
		if err := in.client.Detail(ctx, "/medium-composition/"+m.ID, &items); err != nil {
			in.log.Warn("composition fetch failed", "medium", m.ID, "error", err)
			in.markError(ctx, task, err)
			report.Failed++
			continue
		}
		if err := in.attachComposition(ctx, m.ID, items); err != nil {
			return report, err
		}
		if err := in.store.MarkTaskDone(ctx, task); err != nil {
			return report, fmt.Errorf("mark %s done: %w", task, err)
		}
		report.Fetched++
	}
	in.log.Info("compositions ingested",
		"batch", report.BatchID, "media", len(media), "failed", report.Failed)
	return report, nil
}

func (in *Ingestor) attachComposition(ctx context.Context, mediaID string, items []compositionItem) error {
	media, ok, err := in.store.GetMedia(ctx, mediaID)
	if err != nil {
		return fmt.Errorf("get medium %s: %w", mediaID, err)
	}
	if !ok {
		return fmt.Errorf("medium %s vanished during composition pass", mediaID)
	}
	composition := make([]model.IngredientAmount, 0, len(items))
	for _, item := range items {
		grams, _ := item.GPerL.Float64()
		mmol, _ := item.MmolPerL.Float64()
		composition = append(composition, model.IngredientAmount{
			IngredientID: item.ID,
			Grams:        grams,
			Mmol:         mmol,
			Optional:     item.Optional,
		})
	}
	media.Composition = composition
	if err := in.store.SaveMedia(ctx, media); err != nil {
		return fmt.Errorf("save composition for medium %s: %w", mediaID, err)
	}
	return nil
}
