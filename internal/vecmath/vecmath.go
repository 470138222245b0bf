// Package vecmath provides the small set of vector operations the topic layer
// needs: cosine similarity, incremental (running) means, assignment entropy,
// and a deterministic Lloyd's k-means for subtree rebalancing.
package vecmath

import (
	"math"
	"math/rand"
)

// Cosine returns the cosine similarity of a and b.
// Returns 0 when either vector has zero norm or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// RunningMean folds a new sample x into a mean computed over n prior samples:
// mu' = (mu*n + x) / (n+1). With n <= 0 it returns a copy of x.
func RunningMean(mean []float32, n int, x []float32) []float32 {
	out := make([]float32, len(x))
	if n <= 0 || len(mean) != len(x) {
		copy(out, x)
		return out
	}
	fn := float32(n)
	for i := range x {
		out[i] = (mean[i]*fn + x[i]) / (fn + 1)
	}
	return out
}

// Mean returns the element-wise mean of vecs. Returns nil for empty input.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			out[i] += float64(v[i])
		}
	}
	res := make([]float32, len(out))
	for i := range out {
		res[i] = float32(out[i] / float64(len(vecs)))
	}
	return res
}

// Entropy computes the Shannon entropy (natural log) of a discrete
// assignment given per-bucket counts. A distribution concentrated in a
// single bucket has entropy 0; spreading raises it.
func Entropy[K comparable](counts map[K]int) float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total <= 1 {
		return 0
	}
	entropy := 0.0
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log(p+1e-12)
	}
	return entropy
}

// kmeansSeed fixes the RNG so rebalancing is reproducible across runs.
const kmeansSeed = 42

// kmeansMaxIter bounds Lloyd iterations when assignments keep oscillating.
const kmeansMaxIter = 20

// KMeans partitions vecs into k clusters with Lloyd's algorithm and returns
// the per-vector cluster labels. Seeding is deterministic (fixed RNG seed),
// distance is Euclidean, and a cluster that loses all members keeps its
// previous centroid. When len(vecs) <= k every vector gets its own label.
func KMeans(vecs [][]float32, k int) []int {
	n := len(vecs)
	labels := make([]int, n)
	if n == 0 || k <= 0 {
		return labels
	}
	if n <= k {
		for i := range labels {
			labels[i] = i
		}
		return labels
	}

	rng := rand.New(rand.NewSource(kmeansSeed))
	centroids := make([][]float32, k)
	for i, idx := range rng.Perm(n)[:k] {
		c := make([]float32, len(vecs[idx]))
		copy(c, vecs[idx])
		centroids[i] = c
	}

	for iter := 0; iter < kmeansMaxIter; iter++ {
		next := make([]int, n)
		for i, v := range vecs {
			best, bestDist := 0, math.MaxFloat64
			for j, c := range centroids {
				d := sqDist(v, c)
				if d < bestDist {
					best, bestDist = j, d
				}
			}
			next[i] = best
		}
		if equalLabels(labels, next) && iter > 0 {
			break
		}
		labels = next
		for j := range centroids {
			var members [][]float32
			for i, l := range labels {
				if l == j {
					members = append(members, vecs[i])
				}
			}
			if len(members) > 0 {
				centroids[j] = Mean(members)
			}
		}
	}
	return labels
}

func sqDist(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func equalLabels(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
