package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm/pkg/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, types.TopologyMesh, cfg.Topology.Type)
	assert.Equal(t, 0.5, cfg.Consensus.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Consensus.ElectionTimeout())
	assert.Equal(t, time.Second, cfg.Consensus.HeartbeatInterval())
	assert.Equal(t, 3, cfg.Heartbeat.FailureThreshold)
	assert.True(t, cfg.Metrics.AsyncMode)
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	data := []byte(`
swarm_id: staging
topology:
  type: ring
consensus:
  threshold: 0.66
heartbeat:
  interval_ms: 2000
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.SwarmID)
	assert.Equal(t, types.TopologyRing, cfg.Topology.Type)
	assert.Equal(t, 0.66, cfg.Consensus.Threshold)
	assert.Equal(t, 2000, cfg.Heartbeat.IntervalMs)
	// Untouched options keep their defaults.
	assert.Equal(t, 3, cfg.Heartbeat.FailureThreshold)
	assert.Equal(t, 10000, cfg.Metrics.QueueCapacity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(c *Config) {}, false},
		{"threshold at floor", func(c *Config) { c.Consensus.Threshold = 0.5 }, false},
		{"threshold below floor", func(c *Config) { c.Consensus.Threshold = 0.49 }, true},
		{"threshold above one", func(c *Config) { c.Consensus.Threshold = 1.01 }, true},
		{"unknown topology", func(c *Config) { c.Topology.Type = "tree" }, true},
		{"zero heartbeat interval", func(c *Config) { c.Heartbeat.IntervalMs = 0 }, true},
		{"negative retries", func(c *Config) { c.Hooks.MaxRetries = -1 }, true},
		{"zero queue capacity", func(c *Config) { c.Metrics.QueueCapacity = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCapsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hooks.MaxRetries = 10
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Hooks.MaxRetries)
}
