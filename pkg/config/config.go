// Package config loads the YAML configuration a spacetimed process
// starts from: which replica directories to open, the engine tunables
// each one runs with, and a host section that is parsed but not applied
// (replica.Manager launches every Host with host.DefaultConfig()). It is grounded in the teacher's
// cmd/warren/apply.go, which parses a YAML resource manifest with
// gopkg.in/yaml.v3 — the same library, generalized here from a
// one-off `apply` manifest to the process's own startup configuration,
// since §9 leaves engine/host tunables as "configuration, not
// hard-coded" for this repository to supply a concrete form for.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/spacetimedb/core/pkg/energy"
	"github.com/spacetimedb/core/pkg/engine"
	"github.com/spacetimedb/core/pkg/host"
)

// ReplicaConfig describes one replica a process should open at startup.
type ReplicaConfig struct {
	ID     uint64 `yaml:"id"`
	Dir    string `yaml:"dir"`
	Engine EngineConfig `yaml:"engine"`
	Host   HostConfig   `yaml:"host"`
}

// EngineConfig is the YAML form of engine.Config.
type EngineConfig struct {
	CommitBufferFlushThreshold int   `yaml:"commit_buffer_flush_threshold"`
	MaxScheduleDelayNanos      int64 `yaml:"max_schedule_delay_nanos"`
}

// HostConfig is the YAML form of host.Config. Host converts it, but no
// caller passes the result to a launched Host.
type HostConfig struct {
	EnergyQuotaPerCall int64            `yaml:"energy_quota_per_call"`
	EnergyCosts        map[string]int64 `yaml:"energy_costs,omitempty"`
	WorkerPoolSize     int              `yaml:"worker_pool_size"`
}

// Config is the top-level spacetimed process configuration: the
// control RPC listen addresses and every replica it should open.
type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	HealthAddr string          `yaml:"health_addr"`
	Replicas   []ReplicaConfig `yaml:"replicas"`
}

// Load reads and parses a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Replicas) == 0 {
		return fmt.Errorf("config: at least one replica is required")
	}
	seen := make(map[uint64]bool, len(c.Replicas))
	for _, r := range c.Replicas {
		if r.Dir == "" {
			return fmt.Errorf("config: replica %d: dir is required", r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("config: replica %d listed more than once", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Engine converts the YAML engine tunables into engine.Config, falling
// back to engine.DefaultConfig's values for anything left at zero.
func (e EngineConfig) Engine() engine.Config {
	cfg := engine.DefaultConfig()
	if e.CommitBufferFlushThreshold > 0 {
		cfg.CommitBufferFlushThreshold = e.CommitBufferFlushThreshold
	}
	if e.MaxScheduleDelayNanos > 0 {
		cfg.MaxScheduleDelayNanos = e.MaxScheduleDelayNanos
	}
	return cfg
}

// Host converts the YAML host tunables into host.Config, falling back
// to host.DefaultConfig's values for anything left at zero.
func (h HostConfig) Host() host.Config {
	cfg := host.DefaultConfig()
	if h.EnergyQuotaPerCall > 0 {
		cfg.EnergyQuotaPerCall = h.EnergyQuotaPerCall
	}
	if h.WorkerPoolSize > 0 {
		cfg.WorkerPoolSize = h.WorkerPoolSize
	}
	if len(h.EnergyCosts) > 0 {
		table := make(energy.Table, len(h.EnergyCosts))
		for syscall, cost := range h.EnergyCosts {
			table[syscall] = energy.Units(cost)
		}
		cfg.EnergyCosts = table
	}
	return cfg
}
