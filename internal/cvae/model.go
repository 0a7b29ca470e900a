// Package cvae is a conditional variational autoencoder over media vectors,
// conditioned on genome embeddings. The encoder maps (media, condition) to a
// latent Gaussian, the decoder maps (latent, condition) back to a
// non-negative media vector. Training runs on the internal autodiff engine;
// initialization, shuffling and sampling all draw from one seeded source so
// a run reproduces bit for bit.
package cvae

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"trophos/internal/dataset"
	"trophos/internal/nn"
)

const (
	DefaultLatentDim    = 32
	DefaultEpochs       = 100
	DefaultBatchSize    = 64
	DefaultLearningRate = 1e-3
	DefaultBeta         = 1.0

	weightStd = 0.08
	gradClip  = 1.0
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// DefaultHidden is the encoder hidden stack used when a config leaves Hidden
// empty. The decoder mirrors it.
var DefaultHidden = []int{256, 128}

// Config fixes the architecture. Zero LatentDim and empty Hidden fall back
// to the defaults above.
type Config struct {
	MediaDim  int   `json:"media_dim"`
	CondDim   int   `json:"cond_dim"`
	LatentDim int   `json:"latent_dim"`
	Hidden    []int `json:"hidden"`
	Seed      int64 `json:"seed"`
}

// Model holds the network weights and the optimizer state. Build one with
// New or Load; the zero value is not usable.
type Model struct {
	cfg        Config
	rng        *rand.Rand
	encoder    []*nn.Dense
	meanHead   *nn.Dense
	logvarHead *nn.Dense
	decoder    []*nn.Dense
	output     *nn.Dense
	params     []*nn.Vec
	adam       *nn.AdamState

	// Provenance names the dataset the model was trained against; Save
	// carries it into the checkpoint when set.
	Provenance *Provenance
}

func New(cfg Config) (*Model, error) {
	if cfg.MediaDim <= 0 {
		return nil, fmt.Errorf("media dim must be positive, got %d", cfg.MediaDim)
	}
	if cfg.CondDim <= 0 {
		return nil, fmt.Errorf("condition dim must be positive, got %d", cfg.CondDim)
	}
	if cfg.LatentDim < 0 {
		return nil, fmt.Errorf("latent dim must not be negative, got %d", cfg.LatentDim)
	}
	if cfg.LatentDim == 0 {
		cfg.LatentDim = DefaultLatentDim
	}
	if len(cfg.Hidden) == 0 {
		cfg.Hidden = DefaultHidden
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)
	for i, h := range cfg.Hidden {
		if h <= 0 {
			return nil, fmt.Errorf("hidden layer %d must be positive, got %d", i, h)
		}
	}

	m := &Model{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}

	in := cfg.MediaDim + cfg.CondDim
	for _, h := range cfg.Hidden {
		m.encoder = append(m.encoder, nn.NewDense(h, in, weightStd, m.rng))
		in = h
	}
	m.meanHead = nn.NewDense(cfg.LatentDim, in, weightStd, m.rng)
	m.logvarHead = nn.NewDense(cfg.LatentDim, in, weightStd, m.rng)

	in = cfg.LatentDim + cfg.CondDim
	for i := len(cfg.Hidden) - 1; i >= 0; i-- {
		m.decoder = append(m.decoder, nn.NewDense(cfg.Hidden[i], in, weightStd, m.rng))
		in = cfg.Hidden[i]
	}
	m.output = nn.NewDense(cfg.MediaDim, in, weightStd, m.rng)

	for _, layer := range m.encoder {
		m.params = append(m.params, layer.Params()...)
	}
	m.params = append(m.params, m.meanHead.Params()...)
	m.params = append(m.params, m.logvarHead.Params()...)
	for _, layer := range m.decoder {
		m.params = append(m.params, layer.Params()...)
	}
	m.params = append(m.params, m.output.Params()...)
	m.adam = nn.NewAdamState(m.params, adamBeta1, adamBeta2, adamEps)

	return m, nil
}

// Config returns a copy of the resolved architecture.
func (m *Model) Config() Config {
	cfg := m.cfg
	cfg.Hidden = append([]int(nil), m.cfg.Hidden...)
	return cfg
}

func (m *Model) checkDim(op string, got []float64, want int) error {
	if len(got) != want {
		return &ShapeError{Op: op, Want: want, Got: len(got)}
	}
	return nil
}

func (m *Model) encodeVec(x, cond *nn.Vec) (mean, logvar *nn.Vec) {
	h := nn.Concat([]*nn.Vec{x, cond})
	for _, layer := range m.encoder {
		h = layer.Apply(h).ReLU()
	}
	return m.meanHead.Apply(h), m.logvarHead.Apply(h)
}

func (m *Model) decodeVec(z, cond *nn.Vec) *nn.Vec {
	h := nn.Concat([]*nn.Vec{z, cond})
	for _, layer := range m.decoder {
		h = layer.Apply(h).ReLU()
	}
	// Final ReLU keeps generated concentrations non-negative.
	return m.output.Apply(h).ReLU()
}

// Encode maps a media vector and its condition to the latent mean and log
// variance. Deterministic.
func (m *Model) Encode(mediaVec, cond []float64) ([]float64, []float64, error) {
	if err := m.checkDim("encode media", mediaVec, m.cfg.MediaDim); err != nil {
		return nil, nil, err
	}
	if err := m.checkDim("encode cond", cond, m.cfg.CondDim); err != nil {
		return nil, nil, err
	}
	mean, logvar := m.encodeVec(nn.NewVec(mediaVec), nn.NewVec(cond))
	return mean.Data, logvar.Data, nil
}

// Reparameterize draws z = mean + exp(0.5*logvar)*eps with eps from the
// model's seeded source. The only stochastic operation besides Generate.
func (m *Model) Reparameterize(mean, logvar []float64) []float64 {
	z := make([]float64, len(mean))
	for i := range mean {
		z[i] = mean[i] + math.Exp(0.5*logvar[i])*m.rng.NormFloat64()
	}
	return z
}

// Decode maps a latent vector and condition to a media vector. All entries
// of the result are >= 0.
func (m *Model) Decode(z, cond []float64) ([]float64, error) {
	if err := m.checkDim("decode latent", z, m.cfg.LatentDim); err != nil {
		return nil, err
	}
	if err := m.checkDim("decode cond", cond, m.cfg.CondDim); err != nil {
		return nil, err
	}
	return m.decodeVec(nn.NewVec(z), nn.NewVec(cond)).Data, nil
}

// Loss scores one reconstruction: mean squared error plus beta times the
// Gaussian KL divergence -0.5*sum(1 + logvar - mean^2 - exp(logvar)). The KL
// term is >= 0 for any finite mean and logvar. media and recon must have
// equal length, as must mean and logvar.
func Loss(mediaVec, recon, mean, logvar []float64, beta float64) (total, rec, kl float64) {
	for i := range mediaVec {
		d := recon[i] - mediaVec[i]
		rec += d * d
	}
	if len(mediaVec) > 0 {
		rec /= float64(len(mediaVec))
	}
	for i := range mean {
		kl += 1 + logvar[i] - mean[i]*mean[i] - math.Exp(logvar[i])
	}
	kl *= -0.5
	return rec + beta*kl, rec, kl
}

// Predict reconstructs a media vector through the latent mean, with no
// sampling. Two calls on the same input return the same output.
func (m *Model) Predict(mediaVec, cond []float64) ([]float64, error) {
	mean, _, err := m.Encode(mediaVec, cond)
	if err != nil {
		return nil, err
	}
	return m.Decode(mean, cond)
}

// Generate decodes n prior draws against one condition. It returns exactly
// n rows with every entry >= 0, and is legal on an untrained model.
func (m *Model) Generate(n int, cond []float64) ([][]float64, error) {
	if n < 0 {
		return nil, fmt.Errorf("sample count must not be negative, got %d", n)
	}
	if err := m.checkDim("generate cond", cond, m.cfg.CondDim); err != nil {
		return nil, err
	}
	out := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		z := make([]float64, m.cfg.LatentDim)
		for j := range z {
			z[j] = m.rng.NormFloat64()
		}
		out = append(out, m.decodeVec(nn.NewVec(z), nn.NewVec(cond)).Data)
	}
	return out, nil
}

// Metrics are mean losses over one full pass of a split.
type Metrics struct {
	Rows  int     `json:"rows"`
	Total float64 `json:"total"`
	Recon float64 `json:"recon"`
	KL    float64 `json:"kl"`
}

// Evaluate runs a deterministic full pass over a split, reconstructing
// through the latent mean, and returns the mean losses. Rows whose
// dimensions do not match the model are skipped.
func (m *Model) Evaluate(split *dataset.Split, beta float64) Metrics {
	var out Metrics
	if split == nil {
		return out
	}
	for i := 0; i < split.Len(); i++ {
		mediaVec := split.Media[i]
		cond := split.Embeddings[i]
		if len(mediaVec) != m.cfg.MediaDim || len(cond) != m.cfg.CondDim {
			continue
		}
		condVec := nn.NewVec(cond)
		mean, logvar := m.encodeVec(nn.NewVec(mediaVec), condVec)
		recon := m.decodeVec(mean, condVec)
		total, rec, kl := Loss(mediaVec, recon.Data, mean.Data, logvar.Data, beta)
		out.Total += total
		out.Recon += rec
		out.KL += kl
		out.Rows++
	}
	if out.Rows > 0 {
		n := float64(out.Rows)
		out.Total /= n
		out.Recon /= n
		out.KL /= n
	}
	return out
}

// FitOptions tune one Fit call. Zero fields fall back to the package
// defaults.
type FitOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Beta         float64
}

func (o FitOptions) withDefaults() FitOptions {
	if o.Epochs == 0 {
		o.Epochs = DefaultEpochs
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.LearningRate == 0 {
		o.LearningRate = DefaultLearningRate
	}
	if o.Beta == 0 {
		o.Beta = DefaultBeta
	}
	return o
}

// EpochStats are the mean losses over the finite batches of one epoch.
type EpochStats struct {
	Epoch          int     `json:"epoch"`
	Total          float64 `json:"total"`
	Recon          float64 `json:"recon"`
	KL             float64 `json:"kl"`
	SkippedBatches int     `json:"skipped_batches,omitempty"`
}

// FitReport summarizes one Fit call.
type FitReport struct {
	Epochs         int          `json:"epochs"`
	Rows           int          `json:"rows"`
	SkippedBatches int          `json:"skipped_batches"`
	History        []EpochStats `json:"history"`
}

// Fit trains on a split with mini-batch Adam. Each epoch reshuffles with the
// model's seeded source; successive calls continue from the current weights.
// A batch whose loss is non-finite is skipped with weights untouched and
// counted; an epoch where every batch is skipped halts the fit with
// DivergedError. Cancellation is honored between epochs.
func (m *Model) Fit(ctx context.Context, train *dataset.Split, opts FitOptions) (*FitReport, error) {
	if train == nil || train.Len() == 0 {
		return nil, fmt.Errorf("training split is empty")
	}
	n := train.Len()
	if len(train.Media) != n || len(train.Embeddings) != n {
		return nil, fmt.Errorf("split slices are not parallel: media=%d cond=%d labels=%d",
			len(train.Media), len(train.Embeddings), n)
	}
	opts = opts.withDefaults()
	if opts.Epochs < 0 {
		return nil, fmt.Errorf("epochs must not be negative, got %d", opts.Epochs)
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must not be negative, got %d", opts.BatchSize)
	}
	if opts.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate must not be negative, got %v", opts.LearningRate)
	}
	if opts.Beta < 0 {
		return nil, fmt.Errorf("beta must not be negative, got %v", opts.Beta)
	}
	for i := 0; i < n; i++ {
		if err := m.checkDim("fit media", train.Media[i], m.cfg.MediaDim); err != nil {
			return nil, err
		}
		if err := m.checkDim("fit cond", train.Embeddings[i], m.cfg.CondDim); err != nil {
			return nil, err
		}
	}

	report := &FitReport{
		Epochs:  opts.Epochs,
		Rows:    n,
		History: make([]EpochStats, 0, opts.Epochs),
	}
	for epoch := 0; epoch < opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats, err := m.runEpoch(train, opts, epoch)
		if err != nil {
			return nil, err
		}
		report.History = append(report.History, stats)
		report.SkippedBatches += stats.SkippedBatches
	}
	return report, nil
}

func (m *Model) runEpoch(train *dataset.Split, opts FitOptions, epoch int) (EpochStats, error) {
	n := train.Len()
	perm := m.rng.Perm(n)

	var sumTotal, sumRec, sumKL float64
	finite, skipped := 0, 0
	for start := 0; start < n; start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > n {
			end = n
		}
		total, rec, kl, loss := m.batchLoss(train, perm[start:end], opts.Beta)
		if !isFinite(total) {
			skipped++
			continue
		}
		nn.Backward(loss)
		m.adam.Step(m.params, opts.LearningRate, gradClip)
		sumTotal += total
		sumRec += rec
		sumKL += kl
		finite++
	}
	if finite == 0 {
		return EpochStats{}, &DivergedError{Epoch: epoch, SkippedBatches: skipped}
	}
	nb := float64(finite)
	return EpochStats{
		Epoch:          epoch,
		Total:          sumTotal / nb,
		Recon:          sumRec / nb,
		KL:             sumKL / nb,
		SkippedBatches: skipped,
	}, nil
}

// batchLoss builds the forward graph for one batch and returns its mean
// loss, both as floats for reporting and as the graph root for backward.
func (m *Model) batchLoss(train *dataset.Split, batch []int, beta float64) (total, rec, kl float64, loss *nn.Scalar) {
	var sum *nn.Scalar
	for _, idx := range batch {
		x := nn.NewVec(train.Media[idx])
		cond := nn.NewVec(train.Embeddings[idx])

		mean, logvar := m.encodeVec(x, cond)
		noise := make([]float64, len(mean.Data))
		for i := range noise {
			noise[i] = m.rng.NormFloat64()
		}
		z := mean.Add(logvar.Scale(0.5).Exp().MulVec(nn.NewVec(noise)))
		recon := m.decodeVec(z, cond)

		recTerm := recon.Sub(x).MeanSq()
		klTerm := logvar.AddScalar(1).Sub(mean.MulVec(mean)).Sub(logvar.Exp()).Sum().MulF(-0.5)
		rowLoss := recTerm.AddS(klTerm.MulF(beta))

		rec += recTerm.Data
		kl += klTerm.Data
		if sum == nil {
			sum = rowLoss
		} else {
			sum = sum.AddS(rowLoss)
		}
	}
	nb := float64(len(batch))
	meanLoss := sum.MulF(1.0 / nb)
	return meanLoss.Data, rec / nb, kl / nb, meanLoss
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
