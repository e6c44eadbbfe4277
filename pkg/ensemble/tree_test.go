package ensemble

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAveragePathLength(t *testing.T) {
	tests := []struct {
		name string
		n    float64
		want float64
	}{
		{name: "empty", n: 0, want: 0},
		{name: "single point", n: 1, want: 0},
		{name: "two points use the exact value", n: 2, want: 1},
		{name: "three points", n: 3, want: 2*(math.Log(2)+eulerMascheroni) - 2*2.0/3},
		{name: "256 points", n: 256, want: 2*(math.Log(255)+eulerMascheroni) - 2*255.0/256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, averagePathLength(tt.n), 1e-12)
		})
	}
}

func TestGrowConstantData(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	rows := [][]float64{
		{1, 1}, {1, 1}, {1, 1}, {1, 1},
	}

	tree := grow(rows, []int{0, 1}, 10, rng)

	// No feature has spread, so the root must be a leaf holding everything.
	require.NotNil(t, tree.Root)
	assert.Nil(t, tree.Root.Left)
	assert.Nil(t, tree.Root.Right)
	assert.Equal(t, len(rows), tree.Root.Size)
}

func TestGrowRespectsHeightLimit(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	rows := make([][]float64, 128)
	for i := range rows {
		rows[i] = []float64{rng.Float64(), rng.Float64()}
	}

	limit := 3
	tree := grow(rows, []int{0, 1}, limit, rng)
	assert.LessOrEqual(t, maxDepth(tree.Root, 0), limit)
}

func TestGrowRespectsFeatureSubset(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rows := make([][]float64, 64)
	for i := range rows {
		rows[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
	}

	tree := grow(rows, []int{2}, 6, rng)
	assertSplitsOnly(t, tree.Root, 2)
}

func TestPathLengthIsolatesOutlier(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	rows := make([][]float64, 256)
	for i := range rows {
		rows[i] = []float64{rng.NormFloat64()}
	}

	// Average over an ensemble so a single unlucky split sequence cannot
	// dominate.
	var inlier, outlier float64
	const trees = 25
	for i := 0; i < trees; i++ {
		tree := grow(rows, []int{0}, 8, rng)
		inlier += tree.PathLength([]float64{0})
		outlier += tree.PathLength([]float64{1000})
	}

	assert.Less(t, outlier/trees, inlier/trees,
		"far outliers should be isolated in fewer splits on average")
}

func maxDepth(n *Node, depth int) int {
	if n == nil || (n.Left == nil && n.Right == nil) {
		return depth
	}
	left := maxDepth(n.Left, depth+1)
	right := maxDepth(n.Right, depth+1)
	if left > right {
		return left
	}
	return right
}

func assertSplitsOnly(t *testing.T, n *Node, feature int) {
	t.Helper()
	if n == nil || (n.Left == nil && n.Right == nil) {
		return
	}
	assert.Equal(t, feature, n.Feature)
	assertSplitsOnly(t, n.Left, feature)
	assertSplitsOnly(t, n.Right, feature)
}
