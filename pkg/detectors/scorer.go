package detectors

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ProbaMethod selects how raw anomaly scores are converted to outlier
// probabilities.
type ProbaMethod string

const (
	// ProbaLinear rescales scores linearly against the training score range.
	ProbaLinear ProbaMethod = "linear"
	// ProbaUnify applies Gaussian unification: erf of the standardized score.
	ProbaUnify ProbaMethod = "unify"
)

// Scorer turns raw decision scores into a threshold, binary labels and
// outlier probabilities. Every detector feeds its training scores through
// Process once fitting completes and delegates label and probability
// derivation here afterwards.
//
// Scores follow the project-wide convention: higher = more anomalous.
type Scorer struct {
	contamination float64

	fitted    bool
	scores    []float64
	labels    []int
	threshold float64
	mean      float64
	std       float64
	min       float64
	max       float64
}

// NewScorer creates a Scorer for the given contamination rate, the assumed
// proportion of outliers in the training data.
func NewScorer(contamination float64) *Scorer {
	return &Scorer{contamination: contamination}
}

// Contamination returns the configured contamination rate.
func (s *Scorer) Contamination() float64 { return s.contamination }

// Process derives the decision threshold and binary training labels from
// the training decision scores. The threshold is the (1 - contamination)
// empirical quantile, so roughly a contamination fraction of the training
// samples is labelled as outliers.
func (s *Scorer) Process(scores []float64) error {
	if s.contamination <= 0 || s.contamination > 0.5 {
		return fmt.Errorf("contamination %v out of range (0, 0.5]", s.contamination)
	}
	if len(scores) == 0 {
		return errors.New("no decision scores to process")
	}
	for i, v := range scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("decision score %d is not finite", i)
		}
	}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	s.threshold = stat.Quantile(1-s.contamination, stat.Empirical, sorted, nil)
	s.min = sorted[0]
	s.max = sorted[len(sorted)-1]
	s.mean, s.std = stat.MeanStdDev(scores, nil)

	s.scores = make([]float64, len(scores))
	copy(s.scores, scores)
	s.labels = s.Label(scores)
	s.fitted = true

	return nil
}

// CheckFitted returns ErrNotFitted until Process has completed.
func (s *Scorer) CheckFitted() error {
	if s == nil || !s.fitted {
		return ErrNotFitted
	}
	return nil
}

// Threshold returns the fitted decision threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// TrainingScores returns the decision scores seen during fitting.
func (s *Scorer) TrainingScores() []float64 { return s.scores }

// TrainingLabels returns the binary labels assigned to the training samples.
func (s *Scorer) TrainingLabels() []int { return s.labels }

// Label binarizes scores against the fitted threshold: 0 inlier, 1 outlier.
func (s *Scorer) Label(scores []float64) []int {
	labels := make([]int, len(scores))
	for i, v := range scores {
		if v > s.threshold {
			labels[i] = 1
		}
	}
	return labels
}

// Proba converts raw scores to [P(inlier), P(outlier)] pairs using the
// statistics of the training score distribution.
func (s *Scorer) Proba(scores []float64, method ProbaMethod) ([][2]float64, error) {
	if err := s.CheckFitted(); err != nil {
		return nil, err
	}

	probs := make([][2]float64, len(scores))
	switch method {
	case ProbaLinear:
		span := s.max - s.min
		for i, v := range scores {
			p := 0.0
			if span > 0 {
				p = clamp01((v - s.min) / span)
			}
			probs[i] = [2]float64{1 - p, p}
		}
	case ProbaUnify:
		for i, v := range scores {
			p := 0.0
			if s.std > 0 {
				p = clamp01(math.Erf((v - s.mean) / (s.std * math.Sqrt2)))
			}
			probs[i] = [2]float64{1 - p, p}
		}
	default:
		return nil, fmt.Errorf("unknown probability method %q", method)
	}

	return probs, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// scorerState mirrors the fitted fields for gob serialization.
type scorerState struct {
	Contamination float64
	Fitted        bool
	Scores        []float64
	Labels        []int
	Threshold     float64
	Mean          float64
	Std           float64
	Min           float64
	Max           float64
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Scorer) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	state := scorerState{
		Contamination: s.contamination,
		Fitted:        s.fitted,
		Scores:        s.scores,
		Labels:        s.labels,
		Threshold:     s.threshold,
		Mean:          s.mean,
		Std:           s.std,
		Min:           s.min,
		Max:           s.max,
	}
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Scorer) UnmarshalBinary(data []byte) error {
	var state scorerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return err
	}
	s.contamination = state.Contamination
	s.fitted = state.Fitted
	s.scores = state.Scores
	s.labels = state.Labels
	s.threshold = state.Threshold
	s.mean = state.Mean
	s.std = state.Std
	s.min = state.Min
	s.max = state.Max
	return nil
}
