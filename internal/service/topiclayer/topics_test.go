package topiclayer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/microknowledge/atlas/internal/config"
	"github.com/microknowledge/atlas/internal/model"
)

func stanceTestService() *Service {
	return &Service{cfg: config.Config{StanceConfidenceMargin: 0.04}}
}

func topicWithBuckets(buckets map[string]model.StanceBucket) *model.Topic {
	return &model.Topic{StanceCentroids: buckets}
}

func TestAssignStance(t *testing.T) {
	svc := stanceTestService()
	pro := []float32{1, 0}
	con := []float32{0, 1}
	leaf := topicWithBuckets(map[string]model.StanceBucket{
		"pro": {NPoints: 3, Centroid: pro},
		"con": {NPoints: 3, Centroid: con},
	})
	mid := topicWithBuckets(nil)

	t.Run("aligned with pro centroid", func(t *testing.T) {
		stance, score := svc.assignStance([]float32{1, 0}, leaf, mid, nil)
		assert.Equal(t, model.StancePro, stance)
		assert.InDelta(t, 1.0, score, 1e-9)
	})

	t.Run("aligned with con centroid", func(t *testing.T) {
		stance, score := svc.assignStance([]float32{0, 1}, leaf, mid, nil)
		assert.Equal(t, model.StanceCon, stance)
		assert.InDelta(t, -1.0, score, 1e-9)
	})

	t.Run("equidistant is neutral", func(t *testing.T) {
		stance, score := svc.assignStance([]float32{1, 1}, leaf, mid, nil)
		assert.Equal(t, model.StanceNeutral, stance)
		assert.InDelta(t, 0.0, score, 1e-9)
	})

	t.Run("inside margin is neutral", func(t *testing.T) {
		// Slight pro lean, but |p-c| below the 0.04 margin.
		stance, _ := svc.assignStance([]float32{1, 0.97}, leaf, mid, nil)
		assert.Equal(t, model.StanceNeutral, stance)
	})

	t.Run("missing centroid falls back to hint", func(t *testing.T) {
		proOnly := topicWithBuckets(map[string]model.StanceBucket{
			"pro": {NPoints: 1, Centroid: pro},
		})
		stance, score := svc.assignStance([]float32{1, 0}, proOnly, mid, map[string]any{"stance_hint": "con"})
		assert.Equal(t, model.StanceCon, stance)
		assert.Zero(t, score)
	})

	t.Run("cold start without hint is neutral", func(t *testing.T) {
		stance, score := svc.assignStance([]float32{1, 0}, topicWithBuckets(nil), mid, nil)
		assert.Equal(t, model.StanceNeutral, stance)
		assert.Zero(t, score)
	})

	t.Run("per-bucket fallback to level 2", func(t *testing.T) {
		leafProOnly := topicWithBuckets(map[string]model.StanceBucket{
			"pro": {NPoints: 1, Centroid: pro},
		})
		midConOnly := topicWithBuckets(map[string]model.StanceBucket{
			"con": {NPoints: 1, Centroid: con},
		})
		stance, _ := svc.assignStance([]float32{1, 0}, leafProOnly, midConOnly, nil)
		assert.Equal(t, model.StancePro, stance)
	})

	t.Run("legacy contra bucket counts as con", func(t *testing.T) {
		legacy := topicWithBuckets(map[string]model.StanceBucket{
			"pro":    {NPoints: 1, Centroid: pro},
			"contra": {NPoints: 1, Centroid: con},
		})
		stance, _ := svc.assignStance([]float32{0, 1}, legacy, mid, nil)
		assert.Equal(t, model.StanceCon, stance)
	})
}

func TestClusterCount(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{24, 2},
		{30, 2},
		{96, 4},
		{384, 8},
		{10000, 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clusterCount(tt.n), "n=%d", tt.n)
	}
}

func TestScopeLimit(t *testing.T) {
	assert.Equal(t, 24, scopeLimit(3))
	assert.Equal(t, 24, scopeLimit(6))
	assert.Equal(t, 40, scopeLimit(10))
}

func TestDedupeAndTrim(t *testing.T) {
	rows := []model.Neighbor{
		{Text: "Snow is wonderful.", Similarity: 0.9},
		{Text: "snow is wonderful!", Similarity: 0.8}, // same key as first
		{Text: "Cold is exhausting.", Similarity: 0.7},
		{Text: "Skiing is fun.", Similarity: 0.6},
	}

	got := dedupeAndTrim(rows, 2)
	assert.Len(t, got, 2)
	assert.Equal(t, "Snow is wonderful.", got[0].Text)
	assert.Equal(t, "Cold is exhausting.", got[1].Text)
}

func TestTopicPath(t *testing.T) {
	path := topicPath(map[string]any{"topic_path": []any{"seasons", "winter", "winter feelings"}})
	assert.Equal(t, []string{"seasons", "winter", "winter feelings"}, path)
	assert.Empty(t, topicPath(nil))
}
