package iforest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odkit/odkit/pkg/datagen"
	"github.com/odkit/odkit/pkg/detectors"
	"github.com/odkit/odkit/pkg/ensemble"
	"github.com/odkit/odkit/pkg/metrics"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		opts              []Option
		wantNTrees        int
		wantContamination float64
	}{
		{
			name:              "defaults",
			opts:              nil,
			wantNTrees:        100,
			wantContamination: 0.1,
		},
		{
			name:              "custom trees",
			opts:              []Option{WithTrees(50)},
			wantNTrees:        50,
			wantContamination: 0.1,
		},
		{
			name:              "multiple options",
			opts:              []Option{WithTrees(200), WithContamination(0.05), WithSeed(123)},
			wantNTrees:        200,
			wantContamination: 0.05,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, d.nTrees)
			assert.Equal(t, tt.wantContamination, d.contamination)
			assert.Nil(t, d.engine, "construction must not create an engine")
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr bool
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: true,
		},
		{
			name:    "ragged rows",
			data:    [][]float64{{1, 2}, {3}},
			wantErr: true,
		},
		{
			name:    "non-finite value",
			data:    [][]float64{{1, math.NaN()}, {2, 3}},
			wantErr: true,
		},
		{
			name:    "single sample",
			data:    [][]float64{{1, 2, 3}},
			wantErr: true,
		},
		{
			name: "normal data",
			data: trainingBlob(t, 100, 5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(WithTrees(10), WithSeed(42))
			err := d.Fit(tt.data)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, d.engine, "failed fit must not leave a fitted handle")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, d.engine)
			assert.NotNil(t, d.scorer)
		})
	}
}

func TestFitArtifacts(t *testing.T) {
	data := trainingBlob(t, 100, 5)

	d := New(WithTrees(50), WithContamination(0.1), WithSeed(42))
	require.NoError(t, d.Fit(data))

	scores, err := d.DecisionScores()
	require.NoError(t, err)
	assert.Len(t, scores, 100)
	for _, score := range scores {
		require.False(t, math.IsNaN(score))
	}

	labels, err := d.Labels()
	require.NoError(t, err)
	assert.Len(t, labels, 100)

	outliers := 0
	for _, label := range labels {
		outliers += label
	}
	assert.InDelta(t, 10, outliers, 2, "contamination 0.1 over 100 samples")

	threshold, err := d.Threshold()
	require.NoError(t, err)
	for i, score := range scores {
		if score > threshold {
			assert.Equal(t, 1, labels[i])
		} else {
			assert.Equal(t, 0, labels[i])
		}
	}
}

func TestDecisionFunction(t *testing.T) {
	data := trainingBlob(t, 300, 4)

	d := New(WithTrees(50), WithSeed(42))
	require.NoError(t, d.Fit(data))

	t.Run("score length matches rows", func(t *testing.T) {
		scores, err := d.DecisionFunction(data[:37])
		require.NoError(t, err)
		assert.Len(t, scores, 37)
	})

	t.Run("exact negation of the engine scores", func(t *testing.T) {
		// An engine configured identically, seed included, rebuilds the
		// same forest; the wrapper must return exactly its negated scores.
		engine := ensemble.New(
			ensemble.WithNumTrees(50),
			ensemble.WithSeed(42),
		)
		require.NoError(t, engine.Fit(data))

		native, err := engine.DecisionFunction(data)
		require.NoError(t, err)
		wrapped, err := d.DecisionFunction(data)
		require.NoError(t, err)

		require.Len(t, wrapped, len(native))
		for i := range native {
			assert.Equal(t, -native[i], wrapped[i])
		}
	})

	t.Run("width mismatch", func(t *testing.T) {
		_, err := d.DecisionFunction([][]float64{{1, 2}})
		assert.Error(t, err)
	})

	t.Run("does not mutate fitted state", func(t *testing.T) {
		engineBefore := d.engine
		_, err := d.DecisionFunction(data)
		require.NoError(t, err)
		assert.Same(t, engineBefore, d.engine)
	})
}

func TestNotFittedErrors(t *testing.T) {
	d := New()
	data := [][]float64{{1, 2, 3}}

	_, err := d.DecisionFunction(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.Predict(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.PredictProba(data)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.Estimators()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.EstimatorSamples()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.MaxSamplesResolved()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.DecisionScores()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.Labels()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.Threshold()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	_, err = d.Save()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	err = d.PredictStream(context.Background(), nil, nil)
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
}

func TestAccessorsPassThrough(t *testing.T) {
	data := trainingBlob(t, 200, 3)

	d := New(WithTrees(20), WithMaxSamples(64), WithSeed(42))
	require.NoError(t, d.Fit(data))

	engineTrees, err := d.engine.Estimators()
	require.NoError(t, err)
	trees, err := d.Estimators()
	require.NoError(t, err)
	assert.Len(t, trees, 20)
	for i := range trees {
		assert.Same(t, engineTrees[i], trees[i], "accessors must not copy")
	}

	engineSamples, err := d.engine.EstimatorSamples()
	require.NoError(t, err)
	samples, err := d.EstimatorSamples()
	require.NoError(t, err)
	assert.Len(t, samples, 20)
	for i := range samples {
		assert.Len(t, samples[i], 64)
		assert.Equal(t, engineSamples[i], samples[i])
	}

	maxSamples, err := d.MaxSamplesResolved()
	require.NoError(t, err)
	assert.Equal(t, 64, maxSamples)
}

func TestPredict(t *testing.T) {
	ds := syntheticDataset(t)

	d := New(WithTrees(100), WithContamination(0.1), WithSeed(42))
	require.NoError(t, d.Fit(ds.XTrain))

	labels, err := d.Predict(ds.XTest)
	require.NoError(t, err)
	require.Len(t, labels, len(ds.XTest))
	for _, label := range labels {
		assert.Contains(t, []int{0, 1}, label)
	}
}

func TestPredictProba(t *testing.T) {
	ds := syntheticDataset(t)

	for _, method := range []detectors.ProbaMethod{detectors.ProbaLinear, detectors.ProbaUnify} {
		t.Run(string(method), func(t *testing.T) {
			d := New(WithTrees(100), WithSeed(42), WithProbaMethod(method))
			require.NoError(t, d.Fit(ds.XTrain))

			probs, err := d.PredictProba(ds.XTest)
			require.NoError(t, err)
			require.Len(t, probs, len(ds.XTest))
			for _, p := range probs {
				assert.GreaterOrEqual(t, p[1], 0.0)
				assert.LessOrEqual(t, p[1], 1.0)
				assert.InDelta(t, 1, p[0]+p[1], 1e-12)
			}
		})
	}
}

func TestDetectionQuality(t *testing.T) {
	ds := syntheticDataset(t)

	d := New(WithTrees(100), WithContamination(0.1), WithSeed(42))
	require.NoError(t, d.Fit(ds.XTrain))

	scores, err := d.DecisionFunction(ds.XTest)
	require.NoError(t, err)

	auc, err := metrics.ROCAUC(ds.YTest, scores)
	require.NoError(t, err)
	assert.Greater(t, auc, 0.75, "isolation forest should separate the synthetic outliers")
}

func TestRefitReplacesState(t *testing.T) {
	first := trainingBlob(t, 100, 3)
	second := trainingBlob(t, 150, 3)

	d := New(WithTrees(10), WithSeed(42))
	require.NoError(t, d.Fit(first))
	engineBefore := d.engine

	require.NoError(t, d.Fit(second))
	assert.NotSame(t, engineBefore, d.engine, "fit must replace the fitted handle")

	scores, err := d.DecisionScores()
	require.NoError(t, err)
	assert.Len(t, scores, 150)
}

func TestSaveLoad(t *testing.T) {
	data := trainingBlob(t, 200, 4)

	original := New(WithTrees(30), WithContamination(0.15), WithSeed(42))
	require.NoError(t, original.Fit(data))

	testData := trainingBlob(t, 50, 4)
	originalScores, err := original.DecisionFunction(testData)
	require.NoError(t, err)

	raw, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	loaded := New()
	require.NoError(t, loaded.Load(raw))

	loadedScores, err := loaded.DecisionFunction(testData)
	require.NoError(t, err)
	assert.Equal(t, originalScores, loadedScores)

	originalThreshold, err := original.Threshold()
	require.NoError(t, err)
	loadedThreshold, err := loaded.Threshold()
	require.NoError(t, err)
	assert.Equal(t, originalThreshold, loadedThreshold)
}

func TestPredictStream(t *testing.T) {
	data := trainingBlob(t, 200, 3)

	d := New(WithTrees(20), WithSeed(42))
	require.NoError(t, d.Fit(data))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []float64, 10)
	output := make(chan detectors.Score, 10)

	done := make(chan error, 1)
	go func() {
		done <- d.PredictStream(ctx, input, output)
		close(output)
	}()

	samples := [][]float64{
		{0.5, 0.5, 0.5},
		{100, 100, 100}, // far outside the training blob
		{0.3, 0.3, 0.3},
	}
	go func() {
		for _, sample := range samples {
			input <- sample
		}
		close(input)
	}()

	var results []detectors.Score
	for score := range output {
		results = append(results, score)
	}

	require.NoError(t, <-done)
	require.Len(t, results, len(samples))
	assert.True(t, results[1].IsOutlier, "extreme sample should be flagged")
	assert.Greater(t, results[1].Value, results[0].Value)
}

func BenchmarkFit(b *testing.B) {
	ds, err := datagen.Generate(10000, 1, 10, 0.1, 42)
	if err != nil {
		b.Fatal(err)
	}
	d := New(WithTrees(100), WithMaxSamples(256))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Fit(ds.XTrain)
	}
}

func BenchmarkDecisionFunction(b *testing.B) {
	ds, err := datagen.Generate(5000, 1000, 10, 0.1, 42)
	if err != nil {
		b.Fatal(err)
	}
	d := New(WithTrees(100), WithMaxSamples(256))
	if err := d.Fit(ds.XTrain); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.DecisionFunction(ds.XTest)
	}
}

// trainingBlob draws a training matrix via the shared generator.
func trainingBlob(t testing.TB, n, features int) [][]float64 {
	t.Helper()
	ds, err := datagen.Generate(n, 0, features, 0.1, 7)
	require.NoError(t, err)
	return ds.XTrain
}

// syntheticDataset returns a labelled train/test split with 10% outliers.
func syntheticDataset(t testing.TB) *datagen.Dataset {
	t.Helper()
	ds, err := datagen.Generate(500, 200, 5, 0.1, 42)
	require.NoError(t, err)
	return ds
}
