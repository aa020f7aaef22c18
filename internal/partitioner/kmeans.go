package partitioner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/dshills/newscluster/pkg/types"
)

const (
	// DefaultSeed fixes centroid seeding for reproducible labels
	DefaultSeed = 42

	// DefaultMaxIterations bounds Lloyd's loop
	DefaultMaxIterations = 100
)

var (
	ErrInvalidK          = errors.New("cluster count must be positive")
	ErrDimensionMismatch = errors.New("vectors have different dimensions")
)

// Partitioner assigns each vector a label in [0, k).
type Partitioner interface {
	Partition(ctx context.Context, vectors [][]float32, k int) ([]int, error)
}

// KMeans is a deterministic Lloyd's k-means partitioner.
type KMeans struct {
	Seed          int64
	MaxIterations int
}

// New creates a KMeans partitioner with the default seed and iteration cap.
func New() *KMeans {
	return &KMeans{
		Seed:          DefaultSeed,
		MaxIterations: DefaultMaxIterations,
	}
}

// EffectiveK returns max(1, min(b, n)).
func EffectiveK(b, n int) int {
	return max(1, min(b, n))
}

// Reduce returns the branching factor to use for vectors: b capped by the
// number of distinct vectors, never below 1.
func Reduce(vectors [][]float32, b int) int {
	return EffectiveK(b, DistinctCount(vectors, b))
}

// DistinctCount counts distinct vectors, stopping once limit is reached.
func DistinctCount(vectors [][]float32, limit int) int {
	var reps [][]float32
	for _, v := range vectors {
		if len(reps) >= limit {
			break
		}
		seen := false
		for _, r := range reps {
			if slices.Equal(r, v) {
				seen = true
				break
			}
		}
		if !seen {
			reps = append(reps, v)
		}
	}
	return len(reps)
}

// Partition clusters vectors into exactly k non-empty groups. Labels are
// renumbered by first appearance, so vectors[0] always has label 0.
func (km *KMeans) Partition(ctx context.Context, vectors [][]float32, k int) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return []int{}, nil
	}
	if k < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if k > n {
		return nil, &types.InsufficientDataError{Requested: k, Available: n}
	}

	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	if distinct := DistinctCount(vectors, k); distinct < k {
		return nil, &types.InsufficientDataError{Requested: k, Available: distinct}
	}

	labels := make([]int, n)
	if k == 1 {
		return labels, nil
	}

	maxIter := km.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	rng := rand.New(rand.NewSource(km.Seed))
	centroids := seedCentroids(vectors, k, rng)

	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := assign(vectors, centroids, labels)
		if fillEmpty(vectors, centroids, labels) {
			changed = true
		}
		if !changed {
			break
		}
		updateCentroids(vectors, centroids, labels)
	}

	return relabel(labels), nil
}

// seedCentroids picks k distinct starting points with k-means++.
func seedCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float64 {
	n := len(vectors)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, toFloat64(vectors[rng.Intn(n)]))

	dist := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d := math.MaxFloat64
			for _, c := range centroids {
				d = math.Min(d, sqDist(v, c))
			}
			dist[i] = d
			total += d
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				if d == 0 {
					continue
				}
				target -= d
				next = i
				if target <= 0 {
					break
				}
			}
		}
		if next < 0 {
			// All remaining mass is on existing centroids; cannot happen when
			// there are at least k distinct vectors.
			next = len(centroids) % n
		}
		centroids = append(centroids, toFloat64(vectors[next]))
	}

	return centroids
}

// assign moves every vector to its nearest centroid and reports whether any
// label changed. Ties go to the lower centroid index.
func assign(vectors [][]float32, centroids [][]float64, labels []int) bool {
	changed := false
	for i, v := range vectors {
		best := 0
		bestDist := math.MaxFloat64
		for j, c := range centroids {
			if d := sqDist(v, c); d < bestDist {
				bestDist = d
				best = j
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

// fillEmpty gives every empty cluster the point farthest from its own
// centroid, taken from a cluster that can spare one.
func fillEmpty(vectors [][]float32, centroids [][]float64, labels []int) bool {
	counts := make([]int, len(centroids))
	for _, l := range labels {
		counts[l]++
	}

	moved := false
	for j := range centroids {
		if counts[j] > 0 {
			continue
		}

		far := -1
		farDist := -1.0
		for i, v := range vectors {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := sqDist(v, centroids[labels[i]]); d > farDist {
				farDist = d
				far = i
			}
		}
		if far < 0 {
			continue
		}

		counts[labels[far]]--
		labels[far] = j
		counts[j]++
		centroids[j] = toFloat64(vectors[far])
		moved = true
	}
	return moved
}

func updateCentroids(vectors [][]float32, centroids [][]float64, labels []int) {
	dim := len(centroids[0])
	counts := make([]int, len(centroids))
	sums := make([][]float64, len(centroids))
	for j := range sums {
		sums[j] = make([]float64, dim)
	}

	for i, v := range vectors {
		l := labels[i]
		counts[l]++
		for d, x := range v {
			sums[l][d] += float64(x)
		}
	}

	for j := range centroids {
		if counts[j] == 0 {
			continue
		}
		scale := 1.0 / float64(counts[j])
		for d := range sums[j] {
			centroids[j][d] = sums[j][d] * scale
		}
	}
}

// relabel renumbers labels in order of first appearance.
func relabel(labels []int) []int {
	mapping := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		m, ok := mapping[l]
		if !ok {
			m = len(mapping)
			mapping[l] = m
		}
		out[i] = m
	}
	return out
}

func sqDist(v []float32, c []float64) float64 {
	var sum float64
	for i, x := range v {
		d := float64(x) - c[i]
		sum += d * d
	}
	return sum
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
