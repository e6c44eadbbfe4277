// Package datagen produces labelled synthetic datasets for exercising and
// evaluating outlier detectors.
package datagen

import (
	"fmt"
	"math"
	"math/rand"
)

// Outlier samples are drawn uniformly from this box, wide enough to sit far
// outside the unit-variance inlier blob.
const outlierRange = 6.0

// Dataset is a labelled train/test split. Labels are 0 for inliers and 1
// for outliers; within each split the inliers come first.
type Dataset struct {
	XTrain [][]float64
	YTrain []int
	XTest  [][]float64
	YTest  []int
}

// Generate draws nTrain training and nTest test samples with nFeatures
// columns each. A contamination fraction of every split is replaced by
// outliers drawn from a wide uniform box; the rest is a standard Gaussian
// blob. The same seed always produces the same dataset.
func Generate(nTrain, nTest, nFeatures int, contamination float64, seed int64) (*Dataset, error) {
	if nTrain <= 0 {
		return nil, fmt.Errorf("nTrain %d must be positive", nTrain)
	}
	if nTest < 0 {
		return nil, fmt.Errorf("nTest %d must not be negative", nTest)
	}
	if nFeatures <= 0 {
		return nil, fmt.Errorf("nFeatures %d must be positive", nFeatures)
	}
	if contamination <= 0 || contamination > 0.5 {
		return nil, fmt.Errorf("contamination %v out of range (0, 0.5]", contamination)
	}

	rng := rand.New(rand.NewSource(seed))

	ds := &Dataset{}
	ds.XTrain, ds.YTrain = block(rng, nTrain, nFeatures, contamination)
	ds.XTest, ds.YTest = block(rng, nTest, nFeatures, contamination)
	return ds, nil
}

func block(rng *rand.Rand, n, nFeatures int, contamination float64) ([][]float64, []int) {
	if n == 0 {
		return nil, nil
	}

	nOutliers := int(math.Round(float64(n) * contamination))
	nInliers := n - nOutliers

	data := make([][]float64, 0, n)
	labels := make([]int, 0, n)

	for i := 0; i < nInliers; i++ {
		row := make([]float64, nFeatures)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		data = append(data, row)
		labels = append(labels, 0)
	}

	for i := 0; i < nOutliers; i++ {
		row := make([]float64, nFeatures)
		for j := range row {
			row[j] = (rng.Float64()*2 - 1) * outlierRange
		}
		data = append(data, row)
		labels = append(labels, 1)
	}

	return data, labels
}
