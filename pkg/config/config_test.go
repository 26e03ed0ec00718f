package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
listen_addr: ":7777"
health_addr: ":7778"
replicas:
  - id: 1
    dir: /var/lib/spacetimedb/replica-1
    engine:
      commit_buffer_flush_threshold: 32
    host:
      energy_quota_per_call: 2000000
      worker_pool_size: 4
      energy_costs:
        console_log: 5
`

func writeSample(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spacetimed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesReplicasAndTunables(t *testing.T) {
	path := writeSample(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.ListenAddr)
	require.Len(t, cfg.Replicas, 1)

	r := cfg.Replicas[0]
	require.Equal(t, uint64(1), r.ID)
	require.Equal(t, "/var/lib/spacetimedb/replica-1", r.Dir)

	engineCfg := r.Engine.Engine()
	require.Equal(t, 32, engineCfg.CommitBufferFlushThreshold)

	hostCfg := r.Host.Host()
	require.Equal(t, int64(2_000_000), hostCfg.EnergyQuotaPerCall)
	require.Equal(t, 4, hostCfg.WorkerPoolSize)
	require.Equal(t, int64(5), int64(hostCfg.EnergyCosts.Cost("console_log")))
}

func TestLoadRejectsEmptyReplicaList(t *testing.T) {
	path := writeSample(t, "listen_addr: \":7777\"\nreplicas: []\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one replica")
}

func TestLoadRejectsDuplicateReplicaIDs(t *testing.T) {
	path := writeSample(t, `
replicas:
  - id: 1
    dir: /a
  - id: 1
    dir: /b
`)

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "listed more than once")
}

func TestLoadRejectsMissingReplicaDir(t *testing.T) {
	path := writeSample(t, "replicas:\n  - id: 1\n")

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "dir is required")
}
