package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name    string
		labels  []int
		scores  []float64
		want    float64
		wantErr bool
	}{
		{
			name:   "perfect ranking",
			labels: []int{0, 0, 1, 1},
			scores: []float64{0.1, 0.2, 0.8, 0.9},
			want:   1.0,
		},
		{
			name:   "inverted ranking",
			labels: []int{1, 1, 0, 0},
			scores: []float64{0.1, 0.2, 0.8, 0.9},
			want:   0.0,
		},
		{
			name:   "partial ranking",
			labels: []int{0, 1, 0, 1},
			scores: []float64{0.9, 0.8, 0.2, 0.1},
			want:   0.25,
		},
		{
			name:    "single class",
			labels:  []int{1, 1, 1},
			scores:  []float64{0.1, 0.2, 0.3},
			wantErr: true,
		},
		{
			name:    "length mismatch",
			labels:  []int{0, 1},
			scores:  []float64{0.5},
			wantErr: true,
		},
		{
			name:    "empty",
			labels:  nil,
			scores:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auc, err := ROCAUC(tt.labels, tt.scores)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, auc, 1e-12)
		})
	}
}

func TestPrecisionAtN(t *testing.T) {
	labels := []int{1, 0, 1, 0, 0}
	scores := []float64{0.9, 0.8, 0.7, 0.2, 0.1}

	t.Run("explicit n", func(t *testing.T) {
		precision, err := PrecisionAtN(labels, scores, 2)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, precision, 1e-12)
	})

	t.Run("defaults to positive count", func(t *testing.T) {
		precision, err := PrecisionAtN(labels, scores, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, precision, 1e-12)
	})

	t.Run("n above length clamps", func(t *testing.T) {
		precision, err := PrecisionAtN(labels, scores, 100)
		require.NoError(t, err)
		assert.InDelta(t, 0.4, precision, 1e-12)
	})

	t.Run("no positives", func(t *testing.T) {
		_, err := PrecisionAtN([]int{0, 0}, []float64{0.1, 0.2}, 0)
		assert.Error(t, err)
	})
}
