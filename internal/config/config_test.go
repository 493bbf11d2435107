package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 1, cfg.Cluster.ShardCount)
	assert.Equal(t, 0.9, cfg.Consolidation.DedupThreshold)
	assert.Empty(t, cfg.Raft.SeedVoters)
}

func TestLoadParsesSeedVotersFromEnv(t *testing.T) {
	t.Setenv("MEMOROSE_RAFT_SEED_VOTERS", "node-a@10.0.0.1:7100, node-b@10.0.0.2:7100")
	cfg := Load()
	assert.Equal(t, []string{"node-a@10.0.0.1:7100", "node-b@10.0.0.2:7100"}, cfg.Raft.SeedVoters)
}

func TestGetEnvSliceFallsBackWhenUnset(t *testing.T) {
	assert.Nil(t, getEnvSlice("MEMOROSE_TEST_UNSET_SLICE_KEY", nil))
}
