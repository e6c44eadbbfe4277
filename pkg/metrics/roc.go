// Package metrics provides evaluation helpers for scored detections.
package metrics

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ROCAUC computes the area under the ROC curve for binary labels
// (0 inlier, 1 outlier) against anomaly scores where higher = more
// anomalous. Returns an error when labels contain a single class only.
func ROCAUC(labels []int, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, errors.New("labels and scores length mismatch")
	}
	if len(labels) == 0 {
		return 0, errors.New("empty input")
	}

	positives := 0
	for _, l := range labels {
		if l == 1 {
			positives++
		}
	}
	if positives == 0 || positives == len(labels) {
		return 0, errors.New("labels contain a single class")
	}

	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(labels))
	for i := range labels {
		pairs[i] = pair{score: scores[i], pos: labels[i] == 1}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	y := make([]float64, len(pairs))
	classes := make([]bool, len(pairs))
	for i, p := range pairs {
		y[i] = p.score
		classes[i] = p.pos
	}

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// PrecisionAtN returns the fraction of true outliers among the n samples
// with the highest scores. When n is 0 it defaults to the number of
// positive labels.
func PrecisionAtN(labels []int, scores []float64, n int) (float64, error) {
	if len(labels) != len(scores) {
		return 0, errors.New("labels and scores length mismatch")
	}
	if len(labels) == 0 {
		return 0, errors.New("empty input")
	}

	if n <= 0 {
		for _, l := range labels {
			if l == 1 {
				n++
			}
		}
		if n == 0 {
			return 0, errors.New("no positive labels")
		}
	}
	if n > len(labels) {
		n = len(labels)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	hits := 0
	for _, idx := range order[:n] {
		if labels[idx] == 1 {
			hits++
		}
	}
	return float64(hits) / float64(n), nil
}
