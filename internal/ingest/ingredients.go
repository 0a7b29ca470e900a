package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"trophos/internal/model"
)

const taskIngredientList = "ingredient_list"

type ingredientItem struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	ChEBI   json.Number `json:"ChEBI"`
	CAS     string      `json:"CAS-RN"`
	PubChem json.Number `json:"PubChem"`
	Mass    float64     `json:"mass"`
	Formula string      `json:"formula"`
	Density float64     `json:"density"`
}

// Ingredients fetches the canonical ingredient catalog. Molar mass is
// kept so molar composition lines can be converted to g/L downstream.
func (in *Ingestor) Ingredients(ctx context.Context) (Report, error) {
	report := newReport("ingredients")
	if in.taskDone(ctx, taskIngredientList) {
		report.Skipped = true
		in.log.Info("ingredient catalog already ingested", "batch", report.BatchID)
		return report, nil
	}

	pages, err := Paginate(ctx, in.client, "/ingredients", DefaultPageLimit, func(items []ingredientItem) error {
		for _, item := range items {
			ing := model.Ingredient{
				ID:        item.ID,
				Name:      item.Name,
				ChEBI:     item.ChEBI.String(),
				CAS:       item.CAS,
				PubChem:   item.PubChem.String(),
				MolarMass: item.Mass,
				Formula:   item.Formula,
				Density:   item.Density,
			}
			if err := in.store.SaveIngredient(ctx, ing); err != nil {
				return fmt.Errorf("save ingredient %d: %w", ing.ID, err)
			}
			report.Stored++
		}
		report.Fetched += len(items)
		return nil
	})
	report.Pages = pages
	if err != nil {
		return report, fmt.Errorf("ingredient list: %w", err)
	}
	if err := in.store.MarkTaskDone(ctx, taskIngredientList); err != nil {
		return report, fmt.Errorf("mark ingredient list done: %w", err)
	}
	in.log.Info("ingredient catalog ingested",
		"batch", report.BatchID, "ingredients", report.Stored, "pages", report.Pages)
	return report, nil
}
