// Package trophos is the embedding API over the whole pipeline: one Client
// wraps a store and artifact directories and exposes dataset builds,
// curriculum training, media generation and model evaluation.
package trophos

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"trophos/internal/curriculum"
	"trophos/internal/cvae"
	"trophos/internal/dataset"
	"trophos/internal/media"
	"trophos/internal/model"
	"trophos/internal/seqenc"
	"trophos/internal/stats"
	"trophos/internal/storage"
)

const (
	defaultStorePath     = "trophos.db"
	defaultArtifactsDir  = "runs"
	defaultCheckpointDir = "checkpoints"
	defaultGenerateCount = 5
	defaultRunsLimit     = 20
)

// DefaultMethod is the sequence encoding used when a request leaves the
// method empty.
const DefaultMethod = seqenc.MethodKmer7

// Options configure a Client. Zero values select the memory backend, the
// default directories and the default logger.
type Options struct {
	// Backend picks the store: "memory" (default) or "sqlite".
	Backend string
	// StorePath is the sqlite database path.
	StorePath string
	// ArtifactsDir receives run artifacts and the run index.
	ArtifactsDir string
	// CheckpointDir receives per-phase checkpoints, one subdirectory
	// per run.
	CheckpointDir string
	Logger        *slog.Logger
}

// Client drives the pipeline against one store. Build one with New and
// release it with Close. Methods are meant for a single goroutine.
type Client struct {
	store storage.Store
	log   *slog.Logger

	artifactsDir  string
	checkpointDir string
	initialized   bool
}

func New(opts Options) (*Client, error) {
	storePath := opts.StorePath
	if storePath == "" {
		storePath = defaultStorePath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	checkpointDir := opts.CheckpointDir
	if checkpointDir == "" {
		checkpointDir = defaultCheckpointDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(opts.Backend, storePath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		log:           logger,
		artifactsDir:  artifactsDir,
		checkpointDir: checkpointDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init prepares the store schema. Every method calls it lazily; explicit
// use only matters to fail fast on a bad backend.
func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

func (c *Client) ensureInit(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// DatasetRequest selects what goes into one bundle build.
type DatasetRequest struct {
	Method           string
	OrganismType     string
	Ratios           [3]float64
	Seed             int64
	RawScale         bool
	IncludeNegatives bool
	ConfidenceFloor  float64
	// OutPath saves the bundle as a JSON artifact when set.
	OutPath string
}

// DatasetSummary reports one bundle build without carrying the rows.
type DatasetSummary struct {
	Rows            int
	TrainRows       int
	ValRows         int
	TestRows        int
	Dropped         int
	DroppedByReason map[string]int
	MediaFailures   int
	VocabSize       int
	VocabVersion    string
	EmbeddingDim    int
	OutPath         string
}

func (c *Client) BuildDataset(ctx context.Context, req DatasetRequest) (DatasetSummary, error) {
	if req.Method == "" {
		req.Method = string(DefaultMethod)
	}
	method, err := seqenc.ParseMethod(req.Method)
	if err != nil {
		return DatasetSummary{}, err
	}
	var organismType model.OrganismType
	if req.OrganismType != "" {
		organismType, err = model.ParseOrganismType(req.OrganismType)
		if err != nil {
			return DatasetSummary{}, err
		}
	}
	if err := c.ensureInit(ctx); err != nil {
		return DatasetSummary{}, err
	}

	builder, err := dataset.NewBuilder(c.store, dataset.Options{
		RawScale:         req.RawScale,
		IncludeNegatives: req.IncludeNegatives,
		ConfidenceFloor:  req.ConfidenceFloor,
	})
	if err != nil {
		return DatasetSummary{}, err
	}
	bundle, err := builder.Build(ctx, dataset.Request{
		OrganismType: organismType,
		Method:       method,
		Ratios:       req.Ratios,
		Seed:         req.Seed,
	})
	if err != nil {
		return DatasetSummary{}, err
	}

	summary := DatasetSummary{
		Rows:            bundle.Rows(),
		TrainRows:       bundle.Train.Len(),
		ValRows:         bundle.Val.Len(),
		TestRows:        bundle.Test.Len(),
		Dropped:         bundle.Meta.Dropped,
		DroppedByReason: bundle.Meta.DroppedByReason,
		MediaFailures:   bundle.Meta.MediaFailures,
		VocabSize:       bundle.Meta.VocabSize,
		VocabVersion:    bundle.Meta.VocabVersion,
		EmbeddingDim:    bundle.Meta.EmbeddingDim,
	}
	if req.OutPath != "" {
		if err := dataset.SaveBundle(req.OutPath, bundle); err != nil {
			return DatasetSummary{}, err
		}
		summary.OutPath = filepath.Clean(req.OutPath)
	}
	return summary, nil
}

// TrainRequest configures one curriculum run. Zero fields fall back to the
// package defaults; the resolved values land in the run's config artifact.
type TrainRequest struct {
	Method           string
	Phases           []string
	EpochsPerPhase   int
	BatchSize        int
	LearningRate     float64
	Beta             float64
	Ratios           [3]float64
	Seed             int64
	LatentDim        int
	Hidden           []int
	RawScale         bool
	IncludeNegatives bool
	ConfidenceFloor  float64
}

// TrainResult summarizes one completed run. Metrics are measured on the
// held-out split of the full dataset, all organism types together.
type TrainResult struct {
	RunID         string
	Reports       []curriculum.PhaseReport
	Metrics       cvae.Metrics
	ArtifactsPath string
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	if req.Method == "" {
		req.Method = string(DefaultMethod)
	}
	if len(req.Phases) == 0 {
		for _, phase := range curriculum.DefaultPhases {
			req.Phases = append(req.Phases, string(phase))
		}
	}
	if req.EpochsPerPhase <= 0 {
		req.EpochsPerPhase = cvae.DefaultEpochs
	}
	if req.BatchSize <= 0 {
		req.BatchSize = cvae.DefaultBatchSize
	}
	if req.LearningRate <= 0 {
		req.LearningRate = cvae.DefaultLearningRate
	}
	if req.Beta == 0 {
		req.Beta = cvae.DefaultBeta
	}
	if req.Ratios == ([3]float64{}) {
		req.Ratios = dataset.DefaultRatios
	}
	if req.LatentDim <= 0 {
		req.LatentDim = cvae.DefaultLatentDim
	}
	if len(req.Hidden) == 0 {
		req.Hidden = append([]int(nil), cvae.DefaultHidden...)
	}

	method, err := seqenc.ParseMethod(req.Method)
	if err != nil {
		return TrainResult{}, err
	}
	condDim, err := seqenc.Dim(method)
	if err != nil {
		return TrainResult{}, err
	}
	phases := make([]model.OrganismType, 0, len(req.Phases))
	for i, name := range req.Phases {
		phase, err := model.ParseOrganismType(name)
		if err != nil {
			return TrainResult{}, fmt.Errorf("phase %d: %w", i, err)
		}
		phases = append(phases, phase)
	}
	if err := c.ensureInit(ctx); err != nil {
		return TrainResult{}, err
	}

	ingredients, err := c.store.ListIngredients(ctx)
	if err != nil {
		return TrainResult{}, fmt.Errorf("list ingredients: %w", err)
	}
	vocab := media.BuildVocabulary(ingredients)
	if vocab.Dim() == 0 {
		return TrainResult{}, fmt.Errorf("ingredient catalog is empty; ingest media and ingredients first")
	}

	m, err := cvae.New(cvae.Config{
		MediaDim:  vocab.Dim(),
		CondDim:   condDim,
		LatentDim: req.LatentDim,
		Hidden:    req.Hidden,
		Seed:      req.Seed,
	})
	if err != nil {
		return TrainResult{}, err
	}
	scale := "log1p"
	if req.RawScale {
		scale = "none"
	}
	m.Provenance = &cvae.Provenance{
		Method:       string(method),
		VocabVersion: vocab.Version,
		VocabSize:    vocab.Dim(),
		Scale:        scale,
	}

	builder, err := dataset.NewBuilder(c.store, dataset.Options{
		RawScale:         req.RawScale,
		IncludeNegatives: req.IncludeNegatives,
		ConfidenceFloor:  req.ConfidenceFloor,
	})
	if err != nil {
		return TrainResult{}, err
	}

	now := time.Now().UTC()
	runID := fmt.Sprintf("train-%d-%d", req.Seed, now.Unix())
	checkpointDir := filepath.Join(c.checkpointDir, runID)

	trainer, err := curriculum.New(builder, m, curriculum.Config{
		Phases:         phases,
		EpochsPerPhase: req.EpochsPerPhase,
		BatchSize:      req.BatchSize,
		LearningRate:   req.LearningRate,
		Beta:           req.Beta,
		Method:         method,
		Ratios:         req.Ratios,
		Seed:           req.Seed,
		CheckpointDir:  checkpointDir,
	})
	if err != nil {
		return TrainResult{}, err
	}

	reports, err := trainer.Run(ctx)
	if err != nil {
		return TrainResult{}, fmt.Errorf("run %s: %w", runID, err)
	}

	full, err := builder.Build(ctx, dataset.Request{
		Method: method,
		Ratios: req.Ratios,
		Seed:   req.Seed,
	})
	if err != nil {
		return TrainResult{}, fmt.Errorf("build evaluation dataset: %w", err)
	}
	eval := full.Test
	if eval.Len() == 0 {
		eval = full.Val
	}
	if eval.Len() == 0 {
		eval = full.Train
	}
	metrics := m.Evaluate(eval, req.Beta)

	// Whole-run loss trajectory; epochs renumber continuously across
	// phases.
	var history []cvae.EpochStats
	for _, report := range reports {
		for _, epoch := range report.History {
			epoch.Epoch = len(history) + 1
			history = append(history, epoch)
		}
	}

	createdAt := now.Format(time.RFC3339Nano)
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		RunID: runID,
		Config: stats.RunConfig{
			RunID:          runID,
			Method:         string(method),
			Phases:         req.Phases,
			EpochsPerPhase: req.EpochsPerPhase,
			BatchSize:      req.BatchSize,
			LearningRate:   req.LearningRate,
			Beta:           req.Beta,
			Ratios:         req.Ratios,
			Seed:           req.Seed,
			MediaDim:       vocab.Dim(),
			CondDim:        condDim,
			LatentDim:      req.LatentDim,
			Hidden:         req.Hidden,
			VocabVersion:   vocab.Version,
			CheckpointDir:  checkpointDir,
			CreatedAtUTC:   createdAt,
		},
		PhaseReports: reports,
		History:      history,
		Metrics:      metrics,
	})
	if err != nil {
		return TrainResult{}, err
	}
	if err := stats.WriteLossSeries(runDir, history); err != nil {
		return TrainResult{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        runID,
		Method:       string(method),
		Phases:       len(req.Phases),
		Seed:         req.Seed,
		FinalLoss:    metrics.Total,
		CreatedAtUTC: createdAt,
	}); err != nil {
		return TrainResult{}, err
	}

	c.log.Info("training run complete",
		"run_id", runID, "phases", len(reports), "final_loss", metrics.Total)

	return TrainResult{
		RunID:         runID,
		Reports:       reports,
		Metrics:       metrics,
		ArtifactsPath: filepath.Clean(runDir),
	}, nil
}

// GenerateRequest asks a checkpoint for candidate media. The condition
// comes from an explicit vector or from an organism's stored embedding,
// computed from its sequence file when the store has none.
type GenerateRequest struct {
	CheckpointPath string
	OrganismID     string
	Condition      []float64
	// Method defaults to the checkpoint's recorded encoding.
	Method string
	Count  int
	// Threshold is the g/L floor below which components are not listed.
	Threshold float64
}

// GeneratedMedium is one decoded formulation. Vector holds g/L
// concentrations over the vocabulary; Components names the entries above
// the request threshold. Components is nil when the current catalog no
// longer matches the checkpoint's vocabulary.
type GeneratedMedium struct {
	Vector     []float64
	Components []media.Component
}

type GenerateResult struct {
	Media []GeneratedMedium
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	if req.CheckpointPath == "" {
		return GenerateResult{}, fmt.Errorf("checkpoint path is required")
	}
	if req.Count <= 0 {
		req.Count = defaultGenerateCount
	}

	m, err := cvae.Load(req.CheckpointPath)
	if err != nil {
		return GenerateResult{}, err
	}
	methodName := req.Method
	if methodName == "" && m.Provenance != nil {
		methodName = m.Provenance.Method
	}
	if methodName == "" {
		methodName = string(DefaultMethod)
	}
	method, err := seqenc.ParseMethod(methodName)
	if err != nil {
		return GenerateResult{}, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return GenerateResult{}, err
	}

	cond := req.Condition
	if len(cond) == 0 {
		if req.OrganismID == "" {
			return GenerateResult{}, fmt.Errorf("either a condition vector or an organism id is required")
		}
		cond, err = c.conditionFor(ctx, req.OrganismID, method)
		if err != nil {
			return GenerateResult{}, err
		}
	}

	vectors, err := m.Generate(req.Count, cond)
	if err != nil {
		return GenerateResult{}, err
	}

	ingredients, err := c.store.ListIngredients(ctx)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("list ingredients: %w", err)
	}
	vocab := media.BuildVocabulary(ingredients)
	if vocab.Dim() != m.Config().MediaDim {
		c.log.Warn("ingredient catalog no longer matches checkpoint",
			"vocab_size", vocab.Dim(), "media_dim", m.Config().MediaDim)
	}

	logScaled := m.Provenance == nil || m.Provenance.Scale != "none"
	out := GenerateResult{Media: make([]GeneratedMedium, 0, len(vectors))}
	for _, vec := range vectors {
		if logScaled {
			vec = media.Unscale(vec)
		}
		medium := GeneratedMedium{Vector: vec}
		if vocab.Dim() == len(vec) {
			components, err := media.Components(vec, vocab, req.Threshold)
			if err != nil {
				return GenerateResult{}, err
			}
			medium.Components = components
		}
		out.Media = append(out.Media, medium)
	}
	return out, nil
}

// conditionFor returns the organism's embedding for the method, computing
// and persisting it from the sequence file when the store has none.
func (c *Client) conditionFor(ctx context.Context, organismID string, method seqenc.Method) ([]float64, error) {
	dim, err := seqenc.Dim(method)
	if err != nil {
		return nil, err
	}
	org, ok, err := c.store.GetOrganism(ctx, organismID)
	if err != nil {
		return nil, fmt.Errorf("get organism %s: %w", organismID, err)
	}
	if !ok {
		return nil, fmt.Errorf("organism %s not found", organismID)
	}

	stored, found, err := c.store.GetEmbedding(ctx, org.ID, string(method))
	if err != nil {
		return nil, fmt.Errorf("get embedding %s/%s: %w", org.ID, method, err)
	}
	if found && stored.Dim == dim {
		return stored.Values, nil
	}

	if org.SequencePath == "" {
		return nil, fmt.Errorf("organism %s has no stored embedding and no sequence file", organismID)
	}
	_, seq, err := seqenc.ReadFASTAFile(org.SequencePath)
	if err != nil {
		return nil, fmt.Errorf("read sequence for %s: %w", organismID, err)
	}
	vec, valid, err := seqenc.Encode(seq, method)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, fmt.Errorf("sequence for %s carries no usable signal", organismID)
	}
	if err := c.store.SaveEmbedding(ctx, model.Embedding{
		VersionedRecord: storage.Stamp(),
		OrganismID:      org.ID,
		Method:          string(method),
		Dim:             dim,
		Values:          vec,
	}); err != nil {
		return nil, fmt.Errorf("save embedding %s/%s: %w", org.ID, method, err)
	}
	return vec, nil
}

// EvaluateRequest measures a checkpoint against a freshly built bundle.
// Scale and encoding follow the checkpoint's recorded provenance unless
// overridden.
type EvaluateRequest struct {
	CheckpointPath   string
	Method           string
	OrganismType     string
	Ratios           [3]float64
	Seed             int64
	Beta             float64
	IncludeNegatives bool
	ConfidenceFloor  float64
}

// EvaluateResult reports losses and reconstruction quality on one split.
// Split names which one was used: test, falling back to val then train
// when earlier splits are empty.
type EvaluateResult struct {
	Split          string
	Metrics        cvae.Metrics
	Reconstruction stats.ReconstructionReport
}

func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvaluateResult, error) {
	if req.CheckpointPath == "" {
		return EvaluateResult{}, fmt.Errorf("checkpoint path is required")
	}
	if req.Beta == 0 {
		req.Beta = cvae.DefaultBeta
	}

	m, err := cvae.Load(req.CheckpointPath)
	if err != nil {
		return EvaluateResult{}, err
	}
	methodName := req.Method
	if methodName == "" && m.Provenance != nil {
		methodName = m.Provenance.Method
	}
	if methodName == "" {
		methodName = string(DefaultMethod)
	}
	method, err := seqenc.ParseMethod(methodName)
	if err != nil {
		return EvaluateResult{}, err
	}
	var organismType model.OrganismType
	if req.OrganismType != "" {
		organismType, err = model.ParseOrganismType(req.OrganismType)
		if err != nil {
			return EvaluateResult{}, err
		}
	}
	if err := c.ensureInit(ctx); err != nil {
		return EvaluateResult{}, err
	}

	rawScale := m.Provenance != nil && m.Provenance.Scale == "none"
	builder, err := dataset.NewBuilder(c.store, dataset.Options{
		RawScale:         rawScale,
		IncludeNegatives: req.IncludeNegatives,
		ConfidenceFloor:  req.ConfidenceFloor,
	})
	if err != nil {
		return EvaluateResult{}, err
	}
	bundle, err := builder.Build(ctx, dataset.Request{
		OrganismType: organismType,
		Method:       method,
		Ratios:       req.Ratios,
		Seed:         req.Seed,
	})
	if err != nil {
		return EvaluateResult{}, err
	}

	split, splitName := bundle.Test, "test"
	if split.Len() == 0 {
		split, splitName = bundle.Val, "val"
	}
	if split.Len() == 0 {
		split, splitName = bundle.Train, "train"
	}
	if split.Len() == 0 {
		return EvaluateResult{}, fmt.Errorf("dataset is empty; nothing to evaluate")
	}

	cfg := m.Config()
	inputs := make([][]float64, 0, split.Len())
	recons := make([][]float64, 0, split.Len())
	for i := 0; i < split.Len(); i++ {
		mediaVec, cond := split.Media[i], split.Embeddings[i]
		if len(mediaVec) != cfg.MediaDim || len(cond) != cfg.CondDim {
			continue
		}
		recon, err := m.Predict(mediaVec, cond)
		if err != nil {
			return EvaluateResult{}, err
		}
		inputs = append(inputs, mediaVec)
		recons = append(recons, recon)
	}
	report, err := stats.Reconstruction(inputs, recons)
	if err != nil {
		return EvaluateResult{}, fmt.Errorf("%s split: %w", splitName, err)
	}

	return EvaluateResult{
		Split:          splitName,
		Metrics:        m.Evaluate(split, req.Beta),
		Reconstruction: report,
	}, nil
}

type RunsRequest struct {
	Limit int
}

// RunItem is one line of the run index, newest first.
type RunItem struct {
	RunID        string
	Method       string
	Phases       int
	Seed         int64
	FinalLoss    float64
	CreatedAtUTC string
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	items := make([]RunItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, RunItem{
			RunID:        entry.RunID,
			Method:       entry.Method,
			Phases:       entry.Phases,
			Seed:         entry.Seed,
			FinalLoss:    entry.FinalLoss,
			CreatedAtUTC: entry.CreatedAtUTC,
		})
	}
	return items, nil
}
