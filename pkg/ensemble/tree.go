package ensemble

import (
	"math"
	"math/rand"
)

// eulerMascheroni appears in the harmonic-number approximation of the
// average unsuccessful BST search length.
const eulerMascheroni = 0.5772156649015329

// Tree is a single isolation tree grown on a subsample of rows and, when
// feature subsampling is enabled, a subset of columns.
type Tree struct {
	// Root of the tree. Fields are exported for gob serialization.
	Root *Node
	// Features holds the column indices the tree was allowed to split on.
	Features []int
}

// Node is an isolation tree node. A node with nil children is a leaf.
type Node struct {
	// Split parameters, meaningful for internal nodes only.
	Feature int
	Split   float64

	Left  *Node
	Right *Node

	// Size is the number of training samples that reached this leaf.
	Size int
}

// grow builds an isolation tree over rows, splitting only on the given
// feature indices and stopping at the height limit.
func grow(rows [][]float64, features []int, limit int, rng *rand.Rand) *Tree {
	return &Tree{
		Root:     growNode(rows, features, 0, limit, rng),
		Features: features,
	}
}

func growNode(rows [][]float64, features []int, depth, limit int, rng *rand.Rand) *Node {
	n := len(rows)
	if depth >= limit || n <= 1 {
		return &Node{Size: n}
	}

	feature := features[rng.Intn(len(features))]

	minVal, maxVal := rows[0][feature], rows[0][feature]
	for _, row := range rows[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// Constant feature: the sample cannot be partitioned further here.
	if minVal == maxVal {
		return &Node{Size: n}
	}

	split := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, row := range rows {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}

	return &Node{
		Feature: feature,
		Split:   split,
		Left:    growNode(left, features, depth+1, limit, rng),
		Right:   growNode(right, features, depth+1, limit, rng),
	}
}

// PathLength returns the isolation depth of sample in the tree. Leaves
// holding more than one sample contribute the expected remaining depth
// c(size) so that truncated trees stay comparable to fully grown ones.
func (t *Tree) PathLength(sample []float64) float64 {
	return nodePath(t.Root, sample, 0)
}

func nodePath(n *Node, sample []float64, depth int) float64 {
	if n.Left == nil && n.Right == nil {
		return float64(depth) + averagePathLength(float64(n.Size))
	}
	if sample[n.Feature] < n.Split {
		return nodePath(n.Left, sample, depth+1)
	}
	return nodePath(n.Right, sample, depth+1)
}

// averagePathLength is c(n): the average path length of an unsuccessful
// search in a binary search tree over n points,
// c(n) = 2*H(n-1) - 2*(n-1)/n with H(i) ~ ln(i) + gamma. The harmonic
// approximation is poor at H(1), so c(2) uses the exact value 1.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*(math.Log(n-1)+eulerMascheroni) - 2*(n-1)/n
}
