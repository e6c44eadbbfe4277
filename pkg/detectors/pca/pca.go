// Package pca implements an outlier detector based on principal component
// analysis. Samples are scored by their distance from the training
// distribution in the whitened principal space: the sum of squared
// projections onto each component, weighted by the inverse of that
// component's explained variance. Directions with little training variance
// dominate the score, so samples deviating from the learned correlation
// structure come out with high scores.
package pca

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/odkit/odkit/pkg/detectors"
)

// varianceFloor discards components whose explained variance is numerically
// zero; dividing by them would blow up the score.
const varianceFloor = 1e-12

// PCA is the principal component analysis outlier detector.
type PCA struct {
	nComponents   int // 0 = keep all
	contamination float64
	probaMethod   detectors.ProbaMethod

	// Fitted state.
	means      []float64
	stds       []float64
	components [][]float64 // one vector of length nFeatures per component
	variances  []float64   // explained variance per kept component
	scorer     *detectors.Scorer
	nFeatures  int
}

var _ detectors.Detector = (*PCA)(nil)

// Option configures a PCA detector.
type Option func(*PCA)

// WithComponents bounds the number of principal components kept.
// The default keeps all components with nonzero explained variance.
func WithComponents(n int) Option {
	return func(p *PCA) { p.nComponents = n }
}

// WithContamination sets the expected proportion of outliers.
func WithContamination(c float64) Option {
	return func(p *PCA) { p.contamination = c }
}

// WithProbaMethod selects the scaling used by PredictProba.
func WithProbaMethod(method detectors.ProbaMethod) Option {
	return func(p *PCA) { p.probaMethod = method }
}

// New creates a PCA detector with the given options.
func New(opts ...Option) *PCA {
	p := &PCA{
		contamination: 0.1,
		probaMethod:   detectors.ProbaLinear,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fit standardizes data column-wise, factorizes it with a thin SVD, keeps
// the leading components, and derives the decision threshold from the
// training scores.
func (p *PCA) Fit(data [][]float64) error {
	nFeatures, err := detectors.ValidateMatrix(data)
	if err != nil {
		return fmt.Errorf("pca: %w", err)
	}
	n := len(data)
	if n < 2 {
		return errors.New("pca: need at least two samples")
	}

	means := make([]float64, nFeatures)
	stds := make([]float64, nFeatures)
	col := make([]float64, n)
	for j := 0; j < nFeatures; j++ {
		for i, row := range data {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		means[j] = mean
		stds[j] = std
	}

	centered := mat.NewDense(n, nFeatures, nil)
	for i, row := range data {
		for j, v := range row {
			centered.Set(i, j, (v-means[j])/stds[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return errors.New("pca: svd did not converge")
	}

	var v mat.Dense
	svd.VTo(&v)
	singular := svd.Values(nil)

	keep := len(singular)
	if p.nComponents > 0 && p.nComponents < keep {
		keep = p.nComponents
	}

	var components [][]float64
	var variances []float64
	for k := 0; k < keep; k++ {
		variance := singular[k] * singular[k] / float64(n-1)
		if variance <= varianceFloor {
			break
		}
		component := make([]float64, nFeatures)
		for j := 0; j < nFeatures; j++ {
			component[j] = v.At(j, k)
		}
		components = append(components, component)
		variances = append(variances, variance)
	}
	if len(components) == 0 {
		return errors.New("pca: no components with nonzero variance")
	}

	p.means = means
	p.stds = stds
	p.components = components
	p.variances = variances
	p.nFeatures = nFeatures

	scores := make([]float64, n)
	standardized := make([]float64, nFeatures)
	for i, row := range data {
		p.standardize(row, standardized)
		scores[i] = p.score(standardized)
	}

	scorer := detectors.NewScorer(p.contamination)
	if err := scorer.Process(scores); err != nil {
		return fmt.Errorf("pca: %w", err)
	}
	p.scorer = scorer

	return nil
}

// DecisionFunction returns one anomaly score per row of data, higher =
// more anomalous.
func (p *PCA) DecisionFunction(data [][]float64) ([]float64, error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	if err := detectors.CheckWidth(data, p.nFeatures); err != nil {
		return nil, fmt.Errorf("pca: %w", err)
	}

	scores := make([]float64, len(data))
	standardized := make([]float64, p.nFeatures)
	for i, row := range data {
		p.standardize(row, standardized)
		scores[i] = p.score(standardized)
	}
	return scores, nil
}

// Predict returns binary labels for data: 0 inlier, 1 outlier.
func (p *PCA) Predict(data [][]float64) ([]int, error) {
	scores, err := p.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return p.scorer.Label(scores), nil
}

// PredictProba returns [P(inlier), P(outlier)] per row of data.
func (p *PCA) PredictProba(data [][]float64) ([][2]float64, error) {
	scores, err := p.DecisionFunction(data)
	if err != nil {
		return nil, err
	}
	return p.scorer.Proba(scores, p.probaMethod)
}

// DecisionScores returns the training decision scores.
func (p *PCA) DecisionScores() ([]float64, error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	return p.scorer.TrainingScores(), nil
}

// Labels returns the binary labels assigned to the training samples.
func (p *PCA) Labels() ([]int, error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	return p.scorer.TrainingLabels(), nil
}

// Threshold returns the fitted decision threshold.
func (p *PCA) Threshold() (float64, error) {
	if err := p.checkFitted(); err != nil {
		return 0, err
	}
	return p.scorer.Threshold(), nil
}

// Components returns the principal components kept during fitting.
func (p *PCA) Components() ([][]float64, error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	return p.components, nil
}

// ExplainedVariance returns the variance captured by each kept component.
func (p *PCA) ExplainedVariance() ([]float64, error) {
	if err := p.checkFitted(); err != nil {
		return nil, err
	}
	return p.variances, nil
}

func (p *PCA) checkFitted() error {
	if p.scorer == nil {
		return fmt.Errorf("pca: %w", detectors.ErrNotFitted)
	}
	return nil
}

func (p *PCA) standardize(row, dst []float64) {
	for j, v := range row {
		dst[j] = (v - p.means[j]) / p.stds[j]
	}
}

func (p *PCA) score(standardized []float64) float64 {
	var sum float64
	for k, component := range p.components {
		var proj float64
		for j, v := range component {
			proj += standardized[j] * v
		}
		sum += proj * proj / p.variances[k]
	}
	return sum
}
