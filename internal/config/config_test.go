package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.InDelta(t, 0.62, cfg.TopicSimilarityThreshold, 1e-9)
	assert.InDelta(t, 0.70, cfg.SubtopicSimilarityThreshold, 1e-9)
	assert.Equal(t, 8, cfg.TopicNeighborTopK)
	assert.InDelta(t, 0.04, cfg.StanceConfidenceMargin, 1e-9)
	assert.InDelta(t, 0.65, cfg.OpposingAlpha, 1e-9)
	assert.InDelta(t, 0.33, cfg.FallbackSimilarityFloor, 1e-9)
	assert.Equal(t, 24, cfg.ReclusterMinPoints)
	assert.InDelta(t, 1.05, cfg.ReclusterEntropyThreshold, 1e-9)
	assert.Equal(t, 12, cfg.MaxEdgesPerNode)
	assert.Equal(t, time.Duration(0), cfg.ReclusterInterval)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "8")
	t.Setenv("OPPOSING_ALPHA", "0.5")
	t.Setenv("RECLUSTER_INTERVAL", "15m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.EmbeddingDim)
	assert.InDelta(t, 0.5, cfg.OpposingAlpha, 1e-9)
	assert.Equal(t, 15*time.Minute, cfg.ReclusterInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsAlphaOutOfRange(t *testing.T) {
	t.Setenv("OPPOSING_ALPHA", "1.5")
	_, err := Load()
	assert.Error(t, err)
}
