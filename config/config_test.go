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

	assert.Equal(t, ModeFull, cfg.Mode)
	assert.Equal(t, "./data/memfuse.db", cfg.DBPath)
	assert.Equal(t, 0.75, cfg.Extraction.AcceptThreshold)
	assert.Equal(t, 0.40, cfg.Extraction.ConsiderThreshold)
	assert.Equal(t, 0.6, cfg.Retrieval.SimilarityWeight)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 0.83, cfg.Consolidation.MergeThreshold)
	assert.Equal(t, 10*time.Minute, cfg.Disambiguation.TTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEMFUSE_MODE", "simple")
	t.Setenv("MEMFUSE_RETRIEVAL_TOP_K", "25")
	t.Setenv("MEMFUSE_PROVIDER_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ModeSimple, cfg.Mode)
	assert.Equal(t, 25, cfg.Retrieval.TopK)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
}

func TestLoadInvalidMode(t *testing.T) {
	t.Setenv("MEMFUSE_MODE", "turbo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMFUSE_MODE")
}

func TestValidateWeights(t *testing.T) {
	t.Setenv("MEMFUSE_WEIGHT_SIMILARITY", "0.9")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1")
}

func TestEnvParsingFallbacks(t *testing.T) {
	t.Setenv("MEMFUSE_RETRIEVAL_TOP_K", "not-a-number")
	t.Setenv("MEMFUSE_MERGE_THRESHOLD", "bogus")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 0.83, cfg.Consolidation.MergeThreshold)
}
