// Package mad implements a robust outlier detector based on the median
// absolute deviation. Each feature is scored independently as a robust
// z-score and a sample takes the largest deviation across its features, so
// one wildly deviating feature is enough to flag a row.
package mad

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/odkit/odkit/pkg/detectors"
)

// madScale makes the MAD a consistent estimator of the standard deviation
// under normality.
const madScale = 0.6744897501960817

// MAD is the median absolute deviation outlier detector.
type MAD struct {
	contamination float64
	probaMethod   detectors.ProbaMethod

	// Fitted state.
	medians   []float64
	mads      []float64
	scorer    *detectors.Scorer
	nFeatures int
}

var _ detectors.Detector = (*MAD)(nil)

// Option configures a MAD detector.
type Option func(*MAD)

// WithContamination sets the expected proportion of outliers.
func WithContamination(c float64) Option {
	return func(m *MAD) { m.contamination = c }
}

// WithProbaMethod selects the scaling used by PredictProba.
func WithProbaMethod(method detectors.ProbaMethod) Option {
	return func(m *MAD) { m.probaMethod = method }
}

// New creates a MAD detector with the given options.
func New(opts ...Option) *MAD {
	m := &MAD{
		contamination: 0.1,
		probaMethod:   detectors.ProbaLinear,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fit records the per-feature median and median absolute deviation and
// derives the decision threshold from the training scores.
func (m *MAD) Fit(data [][]float64) error {
	nFeatures, err := detectors.ValidateMatrix(data)
	if err != nil {
		return fmt.Errorf("mad: %w", err)
	}

	medians := make([]float64, nFeatures)
	mads := make([]float64, nFeatures)
	col := make([]float64, len(data))
	for j := 0; j < nFeatures; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		median, err := stats.Median(col)
		if err != nil {
			return fmt.Errorf("mad: feature %d: %w", j, err)
		}
		deviation, err := stats.MedianAbsoluteDeviation(col)
		if err != nil {
			return fmt.Errorf("mad: feature %d: %w", j, err)
		}
		medians[j] = median
		mads[j] = deviation
	}

	m.medians = medians
	m.mads = mads
	m.nFeatures = nFeatures

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = m.score(row)
	}

	scorer := detectors.NewScorer(m.contamination)
	if err := scorer.Process(scores); err != nil {
		return fmt.Errorf("mad: %w", err)
	}
	m.scorer = scorer

	return nil
}

// DecisionFunction returns one anomaly score per row of data, the largest
// robust z-score across features. Higher = more anomalous.
func (m *MAD) DecisionFunction(data [][]float64) ([]float64, error) {
	if err := m.checkFitted(); err != nil {
		return nil, err
	}
	if err := detectors.CheckWidth(data, m.nFeatures); err != nil {
		return nil, fmt.Errorf("mad: %w", err)
	}

	scores := make([]float64, len(data))
	for i, row := range data {
		scores[i] = m.score(row)
	}
	return scores, nil
}

// Predict returns binary labels for data: 0 inlier, 1 outlier.
func (m *MAD) Predict(data [][]float64) ([]int, error) {
	scores, err := m.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return m.scorer.Label(scores), nil
}

// PredictProba returns [P(inlier), P(outlier)] per row of data.
func (m *MAD) PredictProba(data [][]float64) ([][2]float64, error) {
	scores, err := m.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return m.scorer.Proba(scores, m.probaMethod)
}

// DecisionScores returns the training decision scores.
func (m *MAD) DecisionScores() ([]float64, error) {
	if err := m.checkFitted(); err != nil {
		return nil, err
	}
	return m.scorer.TrainingScores(), nil
}

// Labels returns the binary labels assigned to the training samples.
func (m *MAD) Labels() ([]int, error) {
	if err := m.checkFitted(); err != nil {
		return nil, err
	}
	return m.scorer.TrainingLabels(), nil
}

// Threshold returns the fitted decision threshold.
func (m *MAD) Threshold() (float64, error) {
	if err := m.checkFitted(); err != nil {
		return 0, err
	}
	return m.scorer.Threshold(), nil
}

func (m *MAD) checkFitted() error {
	if m.scorer == nil {
		return fmt.Errorf("mad: %w", detectors.ErrNotFitted)
	}
	return nil
}

// maxRobustZ stands in for the robust z-score when a feature that was
// constant during training sees a new value.
const maxRobustZ = 1e9

func (m *MAD) score(row []float64) float64 {
	var worst float64
	for j, v := range row {
		deviation := math.Abs(v - m.medians[j])
		if m.mads[j] > 0 {
			deviation = madScale * deviation / m.mads[j]
		} else if deviation > 0 {
			deviation = maxRobustZ
		}
		if deviation > worst {
			worst = deviation
		}
	}
	return worst
}
