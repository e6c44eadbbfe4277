// Package dataset provides data sources and result sinks for the
// detectors: tabular readers turning raw inputs into row-major float
// matrices, and record types for scored output.
package dataset

import "context"

// Reader is the interface for loading tabular data from a source.
type Reader interface {
	// Read returns the complete dataset as a row-major matrix.
	Read() ([][]float64, error)

	// Stream returns a channel of samples for incremental scoring.
	Stream(ctx context.Context) (<-chan []float64, error)

	// Close releases resources.
	Close() error
}

// FeatureExtractor converts raw source records into feature vectors.
type FeatureExtractor interface {
	// Extract converts raw input to a feature vector, or nil to skip it.
	Extract(raw any) []float64

	// FeatureNames returns the names of the extracted features.
	FeatureNames() []string
}

// Record is a scored sample, ready for serialization.
type Record struct {
	Index     int       `json:"index"`
	Score     float64   `json:"score"`
	IsOutlier bool      `json:"is_outlier"`
	Features  []float64 `json:"features,omitempty"`
}
