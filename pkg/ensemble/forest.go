// Package ensemble implements the isolation forest algorithm: an ensemble
// of randomly grown trees in which outliers are isolated, on average, in
// fewer splits than inliers.
//
// The native decision function follows the convention of the classic
// formulation: higher values denote more normal samples. Detector wrappers
// that need the opposite convention negate the scores themselves.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotFitted is returned when scores or learned structures are requested
// before Fit has completed.
var ErrNotFitted = errors.New("isolation forest is not fitted")

const (
	defaultNumTrees   = 100
	defaultMaxSamples = 256
)

// subsetSpec describes how many rows or columns to draw: an absolute count,
// a fraction of the available total, or the zero value meaning "default".
type subsetSpec struct {
	Count int
	Frac  float64
}

func (s subsetSpec) resolve(total, fallback int) (int, error) {
	switch {
	case s.Frac != 0:
		if s.Frac < 0 || s.Frac > 1 {
			return 0, fmt.Errorf("fraction %v out of range (0, 1]", s.Frac)
		}
		n := int(math.Ceil(s.Frac * float64(total)))
		if n < 1 {
			n = 1
		}
		return n, nil
	case s.Count != 0:
		if s.Count < 0 {
			return 0, fmt.Errorf("count %d must be positive", s.Count)
		}
		if s.Count > total {
			return total, nil
		}
		return s.Count, nil
	default:
		if fallback > total {
			return total, nil
		}
		return fallback, nil
	}
}

// Forest is an isolation forest.
//
// Fit replaces all learned state and must be externally serialized; the
// scoring methods and accessors are read-only once Fit has returned.
type Forest struct {
	numTrees    int
	maxSamples  subsetSpec
	maxFeatures subsetSpec
	bootstrap   bool
	workers     int
	seed        int64
	logger      *zap.Logger

	trees      []*Tree
	samples    [][]int
	sampleSize int
	nFeatures  int
	norm       float64
	fitted     bool
}

// Option configures a Forest.
type Option func(*Forest)

// WithNumTrees sets the number of isolation trees in the ensemble.
func WithNumTrees(n int) Option {
	return func(f *Forest) { f.numTrees = n }
}

// WithMaxSamples sets the absolute number of rows drawn per tree.
// The default draws min(256, n) rows.
func WithMaxSamples(n int) Option {
	return func(f *Forest) { f.maxSamples = subsetSpec{Count: n} }
}

// WithMaxSamplesFraction sets the per-tree row draw as a fraction of the
// training set size.
func WithMaxSamplesFraction(frac float64) Option {
	return func(f *Forest) { f.maxSamples = subsetSpec{Frac: frac} }
}

// WithMaxFeatures sets the absolute number of columns each tree may split
// on. The default uses all columns.
func WithMaxFeatures(n int) Option {
	return func(f *Forest) { f.maxFeatures = subsetSpec{Count: n} }
}

// WithMaxFeaturesFraction sets the per-tree column draw as a fraction of
// the feature count.
func WithMaxFeaturesFraction(frac float64) Option {
	return func(f *Forest) { f.maxFeatures = subsetSpec{Frac: frac} }
}

// WithBootstrap draws per-tree rows with replacement instead of sampling
// without replacement.
func WithBootstrap(bootstrap bool) Option {
	return func(f *Forest) { f.bootstrap = bootstrap }
}

// WithWorkers bounds the number of goroutines used while growing trees.
// Values <= 0 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(f *Forest) { f.workers = n }
}

// WithSeed sets the random seed for reproducibility. Trees derive
// per-index generators from it, so results do not depend on worker count.
func WithSeed(seed int64) Option {
	return func(f *Forest) { f.seed = seed }
}

// WithLogger attaches a logger used to report fit progress.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Forest) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// New creates an isolation forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		numTrees: defaultNumTrees,
		workers:  1,
		seed:     42,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit grows the ensemble on data, a row-major matrix. It resolves the
// sampling configuration against the data shape, records per-tree in-bag
// row indices, and computes the path-length normalizer.
func (f *Forest) Fit(data [][]float64) error {
	if len(data) < 2 {
		return errors.New("need at least two training samples")
	}
	n := len(data)
	d := len(data[0])
	if d == 0 {
		return errors.New("training data has no features")
	}
	if f.numTrees <= 0 {
		return fmt.Errorf("number of trees %d must be positive", f.numTrees)
	}

	sampleSize, err := f.maxSamples.resolve(n, defaultMaxSamples)
	if err != nil {
		return fmt.Errorf("max samples: %w", err)
	}
	// A single-row draw has no splits and a zero path normalizer, which
	// would turn every score into 0/0.
	if sampleSize < 2 {
		sampleSize = 2
	}
	nFeatures, err := f.maxFeatures.resolve(d, d)
	if err != nil {
		return fmt.Errorf("max features: %w", err)
	}

	heightLimit := 0
	if sampleSize > 1 {
		heightLimit = int(math.Ceil(math.Log2(float64(sampleSize))))
	}

	workers := f.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	f.logger.Debug("growing isolation trees",
		zap.Int("trees", f.numTrees),
		zap.Int("sample_size", sampleSize),
		zap.Int("features_per_tree", nFeatures),
		zap.Int("height_limit", heightLimit),
		zap.Int("workers", workers),
		zap.Bool("bootstrap", f.bootstrap),
	)

	trees := make([]*Tree, f.numTrees)
	samples := make([][]int, f.numTrees)

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < f.numTrees; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(f.seed + int64(i)))

			indices := f.drawRows(rng, n, sampleSize)
			rows := make([][]float64, len(indices))
			for j, idx := range indices {
				rows[j] = data[idx]
			}

			features := rng.Perm(d)[:nFeatures]

			trees[i] = grow(rows, features, heightLimit, rng)
			samples[i] = indices
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.samples = samples
	f.sampleSize = sampleSize
	f.nFeatures = d
	f.norm = averagePathLength(float64(sampleSize))
	f.fitted = true

	f.logger.Debug("isolation forest fitted", zap.Int("trees", len(trees)))
	return nil
}

func (f *Forest) drawRows(rng *rand.Rand, n, size int) []int {
	if f.bootstrap {
		indices := make([]int, size)
		for i := range indices {
			indices[i] = rng.Intn(n)
		}
		return indices
	}
	return rng.Perm(n)[:size]
}

// DecisionFunction returns the native decision score per row: 0.5 minus the
// anomaly score, so inliers land above zero and outliers below.
func (f *Forest) DecisionFunction(data [][]float64) ([]float64, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	if err := f.checkRows(data); err != nil {
		return nil, err
	}
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = 0.5 - f.anomalyScore(sample)
	}
	return scores, nil
}

// AnomalyScores returns the raw isolation scores 2^(-E[h(x)]/c(psi)) in
// (0, 1), where higher values denote stronger outliers.
func (f *Forest) AnomalyScores(data [][]float64) ([]float64, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	if err := f.checkRows(data); err != nil {
		return nil, err
	}
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.anomalyScore(sample)
	}
	return scores, nil
}

// checkRows guards the tree traversal, which indexes samples by the
// feature positions seen during fitting.
func (f *Forest) checkRows(data [][]float64) error {
	for i, row := range data {
		if len(row) != f.nFeatures {
			return fmt.Errorf("row %d has %d features, forest was fitted on %d", i, len(row), f.nFeatures)
		}
	}
	return nil
}

func (f *Forest) anomalyScore(sample []float64) float64 {
	var total float64
	for _, tree := range f.trees {
		total += tree.PathLength(sample)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.norm)
}

// Estimators returns the fitted trees.
func (f *Forest) Estimators() ([]*Tree, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	return f.trees, nil
}

// EstimatorSamples returns, for each tree, the training row indices it was
// grown on.
func (f *Forest) EstimatorSamples() ([][]int, error) {
	if !f.fitted {
		return nil, ErrNotFitted
	}
	return f.samples, nil
}

// MaxSamplesResolved returns the concrete per-tree sample count resolved
// during fitting.
func (f *Forest) MaxSamplesResolved() (int, error) {
	if !f.fitted {
		return 0, ErrNotFitted
	}
	return f.sampleSize, nil
}

// NumFeatures returns the feature count seen during fitting.
func (f *Forest) NumFeatures() (int, error) {
	if !f.fitted {
		return 0, ErrNotFitted
	}
	return f.nFeatures, nil
}

// forestState mirrors the serializable fields of a Forest.
type forestState struct {
	NumTrees    int
	MaxSamples  subsetSpec
	MaxFeatures subsetSpec
	Bootstrap   bool
	Seed        int64

	Trees      []*Tree
	Samples    [][]int
	SampleSize int
	NFeatures  int
	Norm       float64
	Fitted     bool
}

// MarshalBinary implements encoding.BinaryMarshaler. Only the fitted model
// and its configuration are serialized; logger and worker settings are not.
func (f *Forest) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	state := forestState{
		NumTrees:    f.numTrees,
		MaxSamples:  f.maxSamples,
		MaxFeatures: f.maxFeatures,
		Bootstrap:   f.bootstrap,
		Seed:        f.seed,
		Trees:       f.trees,
		Samples:     f.samples,
		SampleSize:  f.sampleSize,
		NFeatures:   f.nFeatures,
		Norm:        f.norm,
		Fitted:      f.fitted,
	}
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (f *Forest) UnmarshalBinary(data []byte) error {
	var state forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	f.numTrees = state.NumTrees
	f.maxSamples = state.MaxSamples
	f.maxFeatures = state.MaxFeatures
	f.bootstrap = state.Bootstrap
	f.seed = state.Seed
	f.trees = state.Trees
	f.samples = state.Samples
	f.sampleSize = state.SampleSize
	f.nFeatures = state.NFeatures
	f.norm = state.Norm
	f.fitted = state.Fitted
	if f.workers == 0 {
		f.workers = 1
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return nil
}
