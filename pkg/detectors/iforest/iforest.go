// Package iforest exposes the isolation forest ensemble engine behind the
// detectors contract.
//
// The detector itself performs no tree induction: it forwards its
// configuration to pkg/ensemble, negates the engine's native decision
// scores so that higher values denote stronger outliers, and delegates
// threshold and label derivation to the shared scorer.
package iforest

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"go.uber.org/zap"

	"github.com/odkit/odkit/pkg/detectors"
	"github.com/odkit/odkit/pkg/ensemble"
)

// IForest is an outlier detector backed by an isolation forest.
//
// Configuration is immutable after construction. Fit replaces the fitted
// engine handle wholesale and must be externally serialized; all other
// methods are read-only and safe for concurrent use once Fit has returned.
type IForest struct {
	nTrees           int
	maxSamplesCount  int     // 0 = auto (min of 256 and n)
	maxSamplesFrac   float64 // takes precedence when > 0
	maxFeaturesCount int     // 0 = all
	maxFeaturesFrac  float64 // takes precedence when > 0
	contamination    float64
	bootstrap        bool
	workers          int
	seed             int64
	logger           *zap.Logger
	probaMethod      detectors.ProbaMethod

	// Fitted state, replaced as a unit by Fit.
	engine    *ensemble.Forest
	scorer    *detectors.Scorer
	nFeatures int
}

var (
	_ detectors.Detector       = (*IForest)(nil)
	_ detectors.StreamDetector = (*IForest)(nil)
)

// Option configures an IForest.
type Option func(*IForest)

// WithTrees sets the number of trees in the ensemble.
func WithTrees(n int) Option {
	return func(d *IForest) { d.nTrees = n }
}

// WithMaxSamples sets the absolute number of rows drawn to grow each tree.
// The default draws min(256, n) rows.
func WithMaxSamples(n int) Option {
	return func(d *IForest) { d.maxSamplesCount = n }
}

// WithMaxSamplesFraction sets the per-tree row draw as a fraction of the
// training set size.
func WithMaxSamplesFraction(frac float64) Option {
	return func(d *IForest) { d.maxSamplesFrac = frac }
}

// WithMaxFeatures sets the number of columns each tree may split on.
// The default uses all columns.
func WithMaxFeatures(n int) Option {
	return func(d *IForest) { d.maxFeaturesCount = n }
}

// WithMaxFeaturesFraction sets the per-tree column draw as a fraction of
// the feature count.
func WithMaxFeaturesFraction(frac float64) Option {
	return func(d *IForest) { d.maxFeaturesFrac = frac }
}

// WithContamination sets the expected proportion of outliers, used to pick
// the decision threshold over the training score distribution.
func WithContamination(c float64) Option {
	return func(d *IForest) { d.contamination = c }
}

// WithBootstrap draws per-tree rows with replacement.
func WithBootstrap(bootstrap bool) Option {
	return func(d *IForest) { d.bootstrap = bootstrap }
}

// WithWorkers bounds the goroutines used while fitting. Values <= 0 use
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *IForest) { d.workers = n }
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(d *IForest) { d.seed = seed }
}

// WithLogger attaches a logger reporting fit progress.
func WithLogger(logger *zap.Logger) Option {
	return func(d *IForest) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProbaMethod selects the scaling used by PredictProba.
func WithProbaMethod(method detectors.ProbaMethod) Option {
	return func(d *IForest) { d.probaMethod = method }
}

// New creates an IForest with the given options. Configuration is not
// validated here; invalid combinations surface when Fit constructs the
// engine.
func New(opts ...Option) *IForest {
	d := &IForest{
		nTrees:        100,
		contamination: 0.1,
		workers:       1,
		seed:          42,
		logger:        zap.NewNop(),
		probaMethod:   detectors.ProbaLinear,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *IForest) newEngine() *ensemble.Forest {
	opts := []ensemble.Option{
		ensemble.WithNumTrees(d.nTrees),
		ensemble.WithBootstrap(d.bootstrap),
		ensemble.WithWorkers(d.workers),
		ensemble.WithSeed(d.seed),
		ensemble.WithLogger(d.logger),
	}
	switch {
	case d.maxSamplesFrac > 0:
		opts = append(opts, ensemble.WithMaxSamplesFraction(d.maxSamplesFrac))
	case d.maxSamplesCount > 0:
		opts = append(opts, ensemble.WithMaxSamples(d.maxSamplesCount))
	}
	switch {
	case d.maxFeaturesFrac > 0:
		opts = append(opts, ensemble.WithMaxFeaturesFraction(d.maxFeaturesFrac))
	case d.maxFeaturesCount > 0:
		opts = append(opts, ensemble.WithMaxFeatures(d.maxFeaturesCount))
	}
	return ensemble.New(opts...)
}

// Fit trains the detector unsupervised on data. It constructs a fresh
// engine from the stored configuration, trains it, inverts the engine's
// training scores so outliers come out with higher values, and derives the
// decision threshold and training labels from the contamination rate.
func (d *IForest) Fit(data [][]float64) error {
	nFeatures, err := detectors.ValidateMatrix(data)
	if err != nil {
		return fmt.Errorf("iforest: %w", err)
	}

	engine := d.newEngine()
	if err := engine.Fit(data); err != nil {
		return fmt.Errorf("iforest: %w", err)
	}

	native, err := engine.DecisionFunction(data)
	if err != nil {
		return fmt.Errorf("iforest: %w", err)
	}
	scores := invert(native)

	scorer := detectors.NewScorer(d.contamination)
	if err := scorer.Process(scores); err != nil {
		return fmt.Errorf("iforest: %w", err)
	}

	d.engine = engine
	d.scorer = scorer
	d.nFeatures = nFeatures
	return nil
}

// DecisionFunction returns one anomaly score per row of data, the negation
// of the engine's native scores so that higher = more anomalous. It does
// not refit or mutate state.
func (d *IForest) DecisionFunction(data [][]float64) ([]float64, error) {
	if err := d.checkFitted(); err != nil {
		return nil, err
	}
	if err := detectors.CheckWidth(data, d.nFeatures); err != nil {
		return nil, fmt.Errorf("iforest: %w", err)
	}

	native, err := d.engine.DecisionFunction(data)
	if err != nil {
		return nil, fmt.Errorf("iforest: %w", err)
	}
	return invert(native), nil
}

// Predict returns binary labels for data: 0 inlier, 1 outlier.
func (d *IForest) Predict(data [][]float64) ([]int, error) {
	scores, err := d.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return d.scorer.Label(scores), nil
}

// PredictProba returns [P(inlier), P(outlier)] per row of data.
func (d *IForest) PredictProba(data [][]float64) ([][2]float64, error) {
	scores, err := d.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return d.scorer.Proba(scores, d.probaMethod)
}

// PredictStream scores samples from a channel until the input closes or
// the context is cancelled.
func (d *IForest) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	if err := d.checkFitted(); err != nil {
		return err
	}

	threshold := d.scorer.Threshold()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			scores, err := d.DecisionFunction([][]float64{sample})
			if err != nil {
				continue
			}

			select {
			case output <- detectors.Score{
				Value:     scores[0],
				IsOutlier: scores[0] > threshold,
				Features:  sample,
			}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// DecisionScores returns the training decision scores.
func (d *IForest) DecisionScores() ([]float64, error) {
	if err := d.checkFitted(); err != nil {
		return nil, err
	}
	return d.scorer.TrainingScores(), nil
}

// Labels returns the binary labels assigned to the training samples.
func (d *IForest) Labels() ([]int, error) {
	if err := d.checkFitted(); err != nil {
		return nil, err
	}
	return d.scorer.TrainingLabels(), nil
}

// Threshold returns the fitted decision threshold.
func (d *IForest) Threshold() (float64, error) {
	if err := d.checkFitted(); err != nil {
		return 0, err
	}
	return d.scorer.Threshold(), nil
}

// Estimators returns the fitted trees held by the engine, unchanged.
func (d *IForest) Estimators() ([]*ensemble.Tree, error) {
	if err := d.checkFitted(); err != nil {
		return nil, err
	}
	return d.engine.Estimators()
}

// EstimatorSamples returns, for each tree, the in-bag training row indices
// held by the engine, unchanged.
func (d *IForest) EstimatorSamples() ([][]int, error) {
	if err := d.checkFitted(); err != nil {
		return nil, err
	}
	return d.engine.EstimatorSamples()
}

// MaxSamplesResolved returns the per-tree sample count the engine actually
// used.
func (d *IForest) MaxSamplesResolved() (int, error) {
	if err := d.checkFitted(); err != nil {
		return 0, err
	}
	return d.engine.MaxSamplesResolved()
}

func (d *IForest) checkFitted() error {
	if d.engine == nil || d.scorer == nil {
		return fmt.Errorf("iforest: %w", detectors.ErrNotFitted)
	}
	return nil
}

// modelState mirrors the serializable fields of a fitted IForest.
type modelState struct {
	NTrees           int
	MaxSamplesCount  int
	MaxSamplesFrac   float64
	MaxFeaturesCount int
	MaxFeaturesFrac  float64
	Contamination    float64
	Bootstrap        bool
	Seed             int64

	Engine    *ensemble.Forest
	Scorer    *detectors.Scorer
	NFeatures int
}

// Save serializes the fitted detector to bytes.
func (d *IForest) Save() ([]byte, error) {
	if err := d.checkFitted(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	state := modelState{
		NTrees:           d.nTrees,
		MaxSamplesCount:  d.maxSamplesCount,
		MaxSamplesFrac:   d.maxSamplesFrac,
		MaxFeaturesCount: d.maxFeaturesCount,
		MaxFeaturesFrac:  d.maxFeaturesFrac,
		Contamination:    d.contamination,
		Bootstrap:        d.bootstrap,
		Seed:             d.seed,
		Engine:           d.engine,
		Scorer:           d.scorer,
		NFeatures:        d.nFeatures,
	}
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, fmt.Errorf("iforest: encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// Load deserializes a detector previously produced by Save.
func (d *IForest) Load(data []byte) error {
	var state modelState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return fmt.Errorf("iforest: decode model: %w", err)
	}

	d.nTrees = state.NTrees
	d.maxSamplesCount = state.MaxSamplesCount
	d.maxSamplesFrac = state.MaxSamplesFrac
	d.maxFeaturesCount = state.MaxFeaturesCount
	d.maxFeaturesFrac = state.MaxFeaturesFrac
	d.contamination = state.Contamination
	d.bootstrap = state.Bootstrap
	d.seed = state.Seed
	d.engine = state.Engine
	d.scorer = state.Scorer
	d.nFeatures = state.NFeatures
	return nil
}

func invert(scores []float64) []float64 {
	out := make([]float64, len(scores))
	for i, v := range scores {
		out[i] = -v
	}
	return out
}
