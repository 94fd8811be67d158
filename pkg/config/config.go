package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moai-flow/swarm/pkg/types"
)

// Config holds the full runtime configuration for the swarm core
type Config struct {
	SwarmID  string         `yaml:"swarm_id"`
	DataDir  string         `yaml:"data_dir"`
	Topology TopologyConfig `yaml:"topology"`

	Consensus  ConsensusConfig  `yaml:"consensus"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Bottleneck BottleneckConfig `yaml:"bottleneck"`
	Hooks      HooksConfig      `yaml:"hooks"`
	Log        LogConfig        `yaml:"log"`
}

// TopologyConfig selects the initial connectivity pattern
type TopologyConfig struct {
	Type types.TopologyKind `yaml:"type"`
}

// ConsensusConfig tunes leader election and proposal handling
type ConsensusConfig struct {
	// Threshold is the majority fraction for the quorum variant,
	// exclusive at 0.5 (strict majority) and inclusive at 1.0.
	Threshold           float64 `yaml:"threshold"`
	ElectionTimeoutMs   int     `yaml:"election_timeout_ms"`
	HeartbeatIntervalMs int     `yaml:"heartbeat_interval_ms"`
}

// HeartbeatConfig tunes liveness tracking
type HeartbeatConfig struct {
	IntervalMs       int `yaml:"interval_ms"`
	FailureThreshold int `yaml:"failure_threshold"`
	HistorySize      int `yaml:"history_size"`
	CheckIntervalMs  int `yaml:"check_interval_ms"`
}

// MetricsConfig tunes the metrics collector
type MetricsConfig struct {
	AsyncMode      bool `yaml:"async_mode"`
	QueueCapacity  int  `yaml:"queue_capacity"`
	BatchSize      int  `yaml:"batch_size"`
	BatchTimeoutMs int  `yaml:"batch_timeout_ms"`
}

// BottleneckConfig tunes the bottleneck detector
type BottleneckConfig struct {
	DetectionWindowMs int `yaml:"detection_window_ms"`
	MonitorIntervalMs int `yaml:"monitor_interval_ms"`
}

// HooksConfig tunes the hook system executors
type HooksConfig struct {
	DefaultSyncTimeoutMs  int  `yaml:"default_sync_timeout_ms"`
	DefaultAsyncTimeoutMs int  `yaml:"default_async_timeout_ms"`
	AsyncConcurrency      int  `yaml:"async_concurrency"`
	GracefulDegradation   bool `yaml:"graceful_degradation"`
	MaxRetries            int  `yaml:"max_retries"`
}

// LogConfig tunes the log sinks
type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	JSONLines  bool   `yaml:"json_lines"`
}

// DefaultConfig returns a Config populated with the documented defaults
func DefaultConfig() *Config {
	return &Config{
		SwarmID: "default",
		DataDir: "data",
		Topology: TopologyConfig{
			Type: types.TopologyMesh,
		},
		Consensus: ConsensusConfig{
			Threshold:           0.5,
			ElectionTimeoutMs:   5000,
			HeartbeatIntervalMs: 1000,
		},
		Heartbeat: HeartbeatConfig{
			IntervalMs:       5000,
			FailureThreshold: 3,
			HistorySize:      100,
			CheckIntervalMs:  1000,
		},
		Metrics: MetricsConfig{
			AsyncMode:      true,
			QueueCapacity:  10000,
			BatchSize:      64,
			BatchTimeoutMs: 50,
		},
		Bottleneck: BottleneckConfig{
			DetectionWindowMs: 60000,
			MonitorIntervalMs: 30000,
		},
		Hooks: HooksConfig{
			DefaultSyncTimeoutMs:  2000,
			DefaultAsyncTimeoutMs: 5000,
			AsyncConcurrency:      10,
			GracefulDegradation:   true,
			MaxRetries:            2,
		},
		Log: LogConfig{
			Level:      "info",
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			JSONLines:  true,
		},
	}
}

// Load reads a YAML config file, layering it over the defaults
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks option ranges and rejects unknown enum values
func (c *Config) Validate() error {
	switch c.Topology.Type {
	case types.TopologyMesh, types.TopologyStar, types.TopologyRing,
		types.TopologyHierarchical, types.TopologyAdaptive:
	default:
		return fmt.Errorf("unknown topology type: %q", c.Topology.Type)
	}

	// Strict majority is the floor: exactly 0.5 means "more than half".
	if c.Consensus.Threshold < 0.5 || c.Consensus.Threshold > 1.0 {
		return fmt.Errorf("consensus threshold %v outside (0.5, 1.0]", c.Consensus.Threshold)
	}

	if c.Heartbeat.IntervalMs <= 0 || c.Heartbeat.FailureThreshold <= 0 {
		return fmt.Errorf("heartbeat interval and failure threshold must be positive")
	}
	if c.Heartbeat.HistorySize <= 0 {
		return fmt.Errorf("heartbeat history size must be positive")
	}

	if c.Metrics.QueueCapacity <= 0 || c.Metrics.BatchSize <= 0 {
		return fmt.Errorf("metrics queue capacity and batch size must be positive")
	}

	if c.Hooks.MaxRetries > 3 {
		c.Hooks.MaxRetries = 3
	}
	if c.Hooks.MaxRetries < 0 {
		return fmt.Errorf("hooks max retries cannot be negative")
	}
	if c.Hooks.AsyncConcurrency <= 0 {
		return fmt.Errorf("hooks async concurrency must be positive")
	}

	return nil
}

// ElectionTimeout returns the consensus election timeout as a duration
func (c *ConsensusConfig) ElectionTimeout() time.Duration {
	return time.Duration(c.ElectionTimeoutMs) * time.Millisecond
}

// HeartbeatInterval returns the consensus heartbeat interval as a duration
func (c *ConsensusConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}
