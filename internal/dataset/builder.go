package dataset

import (
	"context"
	"fmt"
	"math"

	"trophos/internal/media"
	"trophos/internal/model"
	"trophos/internal/seqenc"
	"trophos/internal/storage"
)

// Drop reasons reported in Meta.DroppedByReason.
const (
	DropNegative   = "negative_label"
	DropOrganism   = "unknown_organism"
	DropConfidence = "low_confidence"
	DropMedia      = "unvectorizable_media"
	DropDuplicate  = "duplicate_pair"
	DropSequence   = "missing_sequence"
	DropEmbedding  = "invalid_sequence"
)

// DefaultRatios is the train/val/test allocation used when a request leaves
// the ratios zero.
var DefaultRatios = [3]float64{0.7, 0.15, 0.15}

// Options tune how a Builder joins and filters rows. The zero value gives
// log1p media scaling and positive observations only.
type Options struct {
	// RawScale keeps media vectors in g/L instead of log1p space.
	RawScale bool
	// IncludeNegatives keeps growth=false observations as 0-labeled rows.
	IncludeNegatives bool
	// ConfidenceFloor drops rows with confidence strictly below it.
	ConfidenceFloor float64
}

// Builder assembles training bundles from a store.
type Builder struct {
	store storage.Store
	opts  Options
}

func NewBuilder(store storage.Store, opts Options) (*Builder, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.ConfidenceFloor < 0 || opts.ConfidenceFloor > 1 {
		return nil, fmt.Errorf("confidence floor must be in [0, 1]")
	}
	return &Builder{store: store, opts: opts}, nil
}

// Request selects what goes into one bundle.
type Request struct {
	// OrganismType filters rows to one type; empty keeps every type.
	OrganismType model.OrganismType
	Method       seqenc.Method
	Ratios       [3]float64
	Seed         int64
}

type candidate struct {
	obs model.GrowthObservation
	org model.Organism
}

// Build runs the full join: vectorize the media catalog, walk observations,
// deduplicate (organism, media) pairs, attach embeddings (computing and
// persisting missing ones), then split with the request seed. Every excluded
// row is counted under a reason; the same seed over the same store contents
// returns an identical bundle.
func (b *Builder) Build(ctx context.Context, req Request) (*Bundle, error) {
	embeddingDim, err := seqenc.Dim(req.Method)
	if err != nil {
		return nil, err
	}
	if req.OrganismType != "" {
		if _, err := model.ParseOrganismType(string(req.OrganismType)); err != nil {
			return nil, err
		}
	}
	ratios := req.Ratios
	if ratios == [3]float64{} {
		ratios = DefaultRatios
	}
	for i, ratio := range ratios {
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("split ratio %d must be in [0, 1], got %v", i, ratio)
		}
	}
	if sum := ratios[0] + ratios[1] + ratios[2]; math.Abs(sum-1) > 1e-6 {
		return nil, fmt.Errorf("split ratios must sum to 1, got %v", sum)
	}

	dropped := make(map[string]int)

	ingredients, err := b.store.ListIngredients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ingredients: %w", err)
	}
	vocab := media.BuildVocabulary(ingredients)

	formulations, err := b.store.ListMedia(ctx)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	mediaVecs := make(map[string][]float64, len(formulations))
	mediaFailures := 0
	for _, f := range formulations {
		vec, _, err := media.Vectorize(f, vocab)
		if err != nil {
			mediaFailures++
			continue
		}
		if !b.opts.RawScale {
			vec = media.LogScale(vec)
		}
		mediaVecs[f.ID] = vec
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	organisms, err := b.store.ListOrganisms(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list organisms: %w", err)
	}
	orgByID := make(map[string]model.Organism, len(organisms))
	for _, org := range organisms {
		orgByID[org.ID] = org
	}

	observations, err := b.store.ListObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}

	var candidates []candidate
	for _, obs := range observations {
		if !obs.Growth && !b.opts.IncludeNegatives {
			dropped[DropNegative]++
			continue
		}
		org, ok := orgByID[obs.OrganismID]
		if !ok {
			dropped[DropOrganism]++
			continue
		}
		if req.OrganismType != "" && org.Type != req.OrganismType {
			continue
		}
		if b.opts.ConfidenceFloor > 0 && obs.Confidence < b.opts.ConfidenceFloor {
			dropped[DropConfidence]++
			continue
		}
		if _, ok := mediaVecs[obs.MediaID]; !ok {
			dropped[DropMedia]++
			continue
		}
		candidates = append(candidates, candidate{obs: obs, org: org})
	}

	candidates = dedupe(candidates, dropped)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make(map[string][]float64)
	var rows []row
	for _, c := range candidates {
		vec, ok, err := b.embedding(ctx, c.org, req.Method, embeddingDim, embeddings, dropped)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		label := 0.0
		if c.obs.Growth {
			label = 1.0
		}
		rows = append(rows, row{
			embedding:  vec,
			media:      mediaVecs[c.obs.MediaID],
			label:      label,
			typ:        c.org.Type,
			confidence: c.obs.Confidence,
		})
	}

	parts := stratifiedSplit(rows, ratios, req.Seed)

	scale := "log1p"
	if b.opts.RawScale {
		scale = "none"
	}
	totalDropped := 0
	for _, n := range dropped {
		totalDropped += n
	}
	return &Bundle{
		Train: newSplit("train", parts[0]),
		Val:   newSplit("val", parts[1]),
		Test:  newSplit("test", parts[2]),
		Meta: Meta{
			Method:          req.Method,
			VocabVersion:    vocab.Version,
			VocabSize:       vocab.Dim(),
			EmbeddingDim:    embeddingDim,
			Seed:            req.Seed,
			Ratios:          ratios,
			Scale:           scale,
			Dropped:         totalDropped,
			DroppedByReason: dropped,
			MediaFailures:   mediaFailures,
		},
	}, nil
}

// dedupe keeps one observation per (organism, media) pair: highest
// confidence wins, provenance rank breaks ties. Output preserves the order
// in which pairs first appeared.
func dedupe(candidates []candidate, dropped map[string]int) []candidate {
	type pairKey struct {
		organismID string
		mediaID    string
	}
	winners := make(map[pairKey]candidate, len(candidates))
	for _, c := range candidates {
		key := pairKey{c.obs.OrganismID, c.obs.MediaID}
		cur, ok := winners[key]
		if !ok {
			winners[key] = c
			continue
		}
		dropped[DropDuplicate]++
		if c.obs.Confidence > cur.obs.Confidence {
			winners[key] = c
			continue
		}
		if c.obs.Confidence == cur.obs.Confidence &&
			model.ProvenanceRank(c.obs.Provenance) < model.ProvenanceRank(cur.obs.Provenance) {
			winners[key] = c
		}
	}

	out := make([]candidate, 0, len(winners))
	emitted := make(map[pairKey]bool, len(winners))
	for _, c := range candidates {
		key := pairKey{c.obs.OrganismID, c.obs.MediaID}
		if emitted[key] {
			continue
		}
		emitted[key] = true
		out = append(out, winners[key])
	}
	return out
}

// embedding returns the organism's stored vector for the method, computing
// and persisting it from the sequence file when absent. ok=false means the
// row was counted and dropped.
func (b *Builder) embedding(ctx context.Context, org model.Organism, method seqenc.Method, dim int, cache map[string][]float64, dropped map[string]int) ([]float64, bool, error) {
	if vec, ok := cache[org.ID]; ok {
		return vec, true, nil
	}
	stored, found, err := b.store.GetEmbedding(ctx, org.ID, string(method))
	if err != nil {
		return nil, false, fmt.Errorf("get embedding %s/%s: %w", org.ID, method, err)
	}
	if found && stored.Dim == dim {
		cache[org.ID] = stored.Values
		return stored.Values, true, nil
	}

	if org.SequencePath == "" {
		dropped[DropSequence]++
		return nil, false, nil
	}
	_, seq, err := seqenc.ReadFASTAFile(org.SequencePath)
	if err != nil {
		dropped[DropSequence]++
		return nil, false, nil
	}
	vec, valid, err := seqenc.Encode(seq, method)
	if err != nil {
		return nil, false, err
	}
	if !valid {
		dropped[DropEmbedding]++
		return nil, false, nil
	}

	if err := b.store.SaveEmbedding(ctx, model.Embedding{
		VersionedRecord: storage.Stamp(),
		OrganismID:      org.ID,
		Method:          string(method),
		Dim:             dim,
		Values:          vec,
	}); err != nil {
		return nil, false, fmt.Errorf("save embedding %s/%s: %w", org.ID, method, err)
	}
	cache[org.ID] = vec
	return vec, true, nil
}

func newSplit(name string, rows []row) *Split {
	s := &Split{
		Name:        name,
		Embeddings:  make([][]float64, 0, len(rows)),
		Media:       make([][]float64, 0, len(rows)),
		Labels:      make([]float64, 0, len(rows)),
		Types:       make([]model.OrganismType, 0, len(rows)),
		Confidences: make([]float64, 0, len(rows)),
	}
	for _, r := range rows {
		s.Embeddings = append(s.Embeddings, r.embedding)
		s.Media = append(s.Media, r.media)
		s.Labels = append(s.Labels, r.label)
		s.Types = append(s.Types, r.typ)
		s.Confidences = append(s.Confidences, r.confidence)
	}
	return s
}
