// Package detectors provides unsupervised outlier detection algorithms for
// tabular data behind a single estimator contract: Fit, DecisionFunction,
// Predict, PredictProba.
package detectors

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNotFitted is returned when scoring or accessor methods are called
// before Fit has completed.
var ErrNotFitted = errors.New("detector is not fitted")

// Detector is the common contract implemented by every outlier detector.
//
// Fit mutates the detector and must be externally serialized; once Fit has
// returned, the scoring methods are read-only and safe for concurrent use.
type Detector interface {
	// Fit trains the detector on data, a row-major matrix where each row
	// is a sample and each column a feature.
	Fit(data [][]float64) error

	// DecisionFunction returns one anomaly score per row of data.
	// Higher scores denote stronger outliers. Valid only after Fit.
	DecisionFunction(data [][]float64) ([]float64, error)

	// Predict returns binary labels for data: 0 inlier, 1 outlier.
	Predict(data [][]float64) ([]int, error)

	// PredictProba returns [P(inlier), P(outlier)] per row of data.
	PredictProba(data [][]float64) ([][2]float64, error)
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// PredictStream scores samples from a channel and emits results until
	// the input closes or the context is cancelled.
	PredictStream(ctx context.Context, input <-chan []float64, output chan<- Score) error
}

// Score represents a single streaming detection result.
type Score struct {
	// Value is the anomaly score, higher = more anomalous.
	Value float64
	// IsOutlier indicates whether Value exceeds the fitted threshold.
	IsOutlier bool
	// Features contains the original input features.
	Features []float64
}

// ValidateMatrix checks that data is a non-empty rectangular matrix of
// finite values and returns the number of features.
func ValidateMatrix(data [][]float64) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("empty input matrix")
	}

	width := len(data[0])
	if width == 0 {
		return 0, errors.New("input matrix has no features")
	}

	for i, row := range data {
		if len(row) != width {
			return 0, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("row %d column %d is not finite", i, j)
			}
		}
	}

	return width, nil
}

// CheckWidth validates data against the feature count seen during fitting.
func CheckWidth(data [][]float64, nFeatures int) error {
	width, err := ValidateMatrix(data)
	if err != nil {
		return err
	}
	if width != nFeatures {
		return fmt.Errorf("input has %d features, detector was fitted on %d", width, nFeatures)
	}
	return nil
}
