package vecmath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-3, 0}), 1e-9)

	// Zero norm and mismatched lengths return 0 rather than NaN.
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 1}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestRunningMeanMatchesBatchMean(t *testing.T) {
	samples := [][]float32{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
		{-2, 0, 2},
	}
	mean := make([]float32, 3)
	for i, s := range samples {
		mean = RunningMean(mean, i, s)
	}
	batch := Mean(samples)
	for i := range batch {
		assert.InDelta(t, batch[i], mean[i], 1e-5)
	}
}

func TestRunningMeanColdStart(t *testing.T) {
	x := []float32{0.5, -0.5}
	got := RunningMean(nil, 0, x)
	assert.Equal(t, x, got)

	// Must be a copy, not an alias.
	got[0] = 99
	assert.Equal(t, float32(0.5), x[0])
}

func TestEntropy(t *testing.T) {
	// Two equal buckets: H = ln 2 ~ 0.693.
	h2 := Entropy(map[string]int{"a": 15, "b": 15})
	assert.InDelta(t, math.Log(2), h2, 1e-3)

	// Eight equal buckets: H = ln 8 ~ 2.079.
	even8 := map[int]int{}
	for i := 0; i < 8; i++ {
		even8[i] = 4
	}
	assert.InDelta(t, math.Log(8), Entropy(even8), 1e-3)

	// Degenerate cases.
	assert.Equal(t, 0.0, Entropy(map[int]int{1: 1}))
	assert.Equal(t, 0.0, Entropy(map[int]int{}))
	assert.InDelta(t, 0.0, Entropy(map[int]int{1: 30}), 1e-9)
}

func TestKMeansSeparatesObviousClusters(t *testing.T) {
	var vecs [][]float32
	for i := 0; i < 10; i++ {
		vecs = append(vecs, []float32{10 + float32(i)*0.01, 10})
	}
	for i := 0; i < 10; i++ {
		vecs = append(vecs, []float32{-10 - float32(i)*0.01, -10})
	}
	labels := KMeans(vecs, 2)
	require.Len(t, labels, 20)

	first := labels[0]
	for i := 1; i < 10; i++ {
		assert.Equal(t, first, labels[i])
	}
	second := labels[10]
	assert.NotEqual(t, first, second)
	for i := 11; i < 20; i++ {
		assert.Equal(t, second, labels[i])
	}
}

func TestKMeansDeterministic(t *testing.T) {
	var vecs [][]float32
	for i := 0; i < 30; i++ {
		vecs = append(vecs, []float32{float32(i % 7), float32(i % 5), float32(i % 3)})
	}
	a := KMeans(vecs, 3)
	b := KMeans(vecs, 3)
	assert.Equal(t, a, b)
}

func TestKMeansFewerPointsThanK(t *testing.T) {
	labels := KMeans([][]float32{{1, 1}, {2, 2}}, 5)
	assert.Equal(t, []int{0, 1}, labels)
}
