package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"trophos/internal/model"
)

type strainItem struct {
	ID      int64  `json:"id"`
	Species string `json:"species"`
	CCNo    string `json:"ccno"`
	Domain  string `json:"domain"`
	Growth  bool   `json:"growth"`
}

type strainDetail struct {
	ID      int64          `json:"id"`
	Species string         `json:"species"`
	CCNo    string         `json:"ccno"`
	Media   []strainMedium `json:"media"`
}

type strainMedium struct {
	MediumID json.Number `json:"medium_id"`
	Growth   bool        `json:"growth"`
	Rate     json.Number `json:"growth_rate"`
	Quality  string      `json:"growth_quality"`
}

// Strains harvests strain records and raw growth observations. Discovery
// runs medium by medium over /medium-strains, then every known strain is
// enriched from /strain/id with growth quality and rate. Both directions
// are tracked per resource in the task log.
func (in *Ingestor) Strains(ctx context.Context) (Report, error) {
	report := newReport("strains")

	media, err := in.store.ListMedia(ctx)
	if err != nil {
		return report, fmt.Errorf("list media: %w", err)
	}
	for _, m := range media {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		task := "medium_strains:" + m.ID
		if in.taskDone(ctx, task) {
			continue
		}
		var items []strainItem
		if err := in.client.Detail(ctx, "/medium-strains/"+m.ID, &items); err != nil {
			in.log.Warn("strain fetch failed", "medium", m.ID, "error", err)
			in.markError(ctx, task, err)
			report.Failed++
			continue
		}
		for _, item := range items {
			if err := in.upsertStrain(ctx, model.Strain{
				ID:        item.ID,
				Species:   item.Species,
				CultureNo: item.CCNo,
				Domain:    item.Domain,
			}); err != nil {
				return report, err
			}
			growth := model.StrainGrowth{
				StrainID: item.ID,
				MediaID:  m.ID,
				Growth:   item.Growth,
			}
			if err := in.upsertGrowth(ctx, growth); err != nil {
				return report, err
			}
			report.Stored++
		}
		report.Fetched += len(items)
		if err := in.store.MarkTaskDone(ctx, task); err != nil {
			return report, fmt.Errorf("mark %s done: %w", task, err)
		}
	}
	in.log.Info("strain associations ingested",
		"batch", report.BatchID, "media", len(media), "observations", report.Stored)

	return in.strainDetails(ctx, report)
}

// strainDetails refetches every known strain from the strain side,
// picking up growth rate and quality labels the medium side omits.
func (in *Ingestor) strainDetails(ctx context.Context, report Report) (Report, error) {
	strains, err := in.store.ListStrains(ctx)
	if err != nil {
		return report, fmt.Errorf("list strains: %w", err)
	}
	for _, s := range strains {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		task := "strain_detail:" + strconv.FormatInt(s.ID, 10)
		if in.taskDone(ctx, task) {
			continue
		}
		var detail strainDetail
		endpoint := "/strain/id/" + strconv.FormatInt(s.ID, 10)
		if err := in.client.Detail(ctx, endpoint, &detail); err != nil {
			in.log.Debug("strain detail fetch failed", "strain", s.ID, "error", err)
			in.markError(ctx, task, err)
			report.Failed++
			continue
		}
		if err := in.upsertStrain(ctx, model.Strain{
			ID:        s.ID,
			Species:   detail.Species,
			CultureNo: detail.CCNo,
		}); err != nil {
			return report, err
		}
		for _, m := range detail.Media {
			rate, _ := m.Rate.Float64()
			if err := in.upsertGrowth(ctx, model.StrainGrowth{
				StrainID: s.ID,
				MediaID:  m.MediumID.String(),
				Growth:   m.Growth,
				Quality:  m.Quality,
				Rate:     rate,
			}); err != nil {
				return report, err
			}
			report.Stored++
		}
		report.Fetched++
		if err := in.store.MarkTaskDone(ctx, task); err != nil {
			return report, fmt.Errorf("mark %s done: %w", task, err)
		}
	}
	in.log.Info("strain details ingested",
		"batch", report.BatchID, "strains", len(strains), "failed", report.Failed)
	return report, nil
}

// upsertStrain merges the incoming record over the stored one, keeping
// stored fields where the upstream response left them blank.
func (in *Ingestor) upsertStrain(ctx context.Context, strain model.Strain) error {
	existing, ok, err := in.store.GetStrain(ctx, strain.ID)
	if err != nil {
		return fmt.Errorf("get strain %d: %w", strain.ID, err)
	}
	if ok {
		if strain.Species == "" {
			strain.Species = existing.Species
		}
		if strain.CultureNo == "" {
			strain.CultureNo = existing.CultureNo
		}
		if strain.Domain == "" {
			strain.Domain = existing.Domain
		}
	}
	if err := in.store.SaveStrain(ctx, strain); err != nil {
		return fmt.Errorf("save strain %d: %w", strain.ID, err)
	}
	return nil
}

// upsertGrowth merges a growth record with any stored one for the same
// strain and medium. The first stored growth flag wins; quality and rate
// fill in wherever the stored record lacks them.
func (in *Ingestor) upsertGrowth(ctx context.Context, growth model.StrainGrowth) error {
	records, err := in.store.ListStrainGrowth(ctx, growth.StrainID)
	if err != nil {
		return fmt.Errorf("list growth for strain %d: %w", growth.StrainID, err)
	}
	for _, existing := range records {
		if existing.MediaID != growth.MediaID {
			continue
		}
		growth.Growth = existing.Growth
		if growth.Quality == "" {
			growth.Quality = existing.Quality
		}
		if growth.Rate == 0 {
			growth.Rate = existing.Rate
		}
		break
	}
	if err := in.store.SaveStrainGrowth(ctx, growth); err != nil {
		return fmt.Errorf("save growth for strain %d: %w", growth.StrainID, err)
	}
	return nil
}
