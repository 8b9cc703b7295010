package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treestore-io/treestore/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
node:
  id: "node-1"
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.Node.ID)
	assert.Equal(t, "/var/lib/treestore", cfg.Node.DataDir)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/treestore/store", cfg.Storage.Dir)
	assert.Equal(t, "/var/lib/treestore/journal", cfg.Journal.Dir)
	assert.Equal(t, 5*time.Second, cfg.Journal.SyncDelay)
	assert.Equal(t, 10000, cfg.Cache.MaxSize)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_StopDelayDefaultsToTenSyncDelays(t *testing.T) {
	path := writeConfig(t, `
node:
  id: "node-1"
journal:
  sync_delay: 2s
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Journal.StopDelay)
}

func TestLoadConfig_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
node:
  id: "node-1"
  data_dir: "/data"
storage:
  backend: "memory"
journal:
  sync_delay: 1s
  stop_delay: 3s
metrics:
  enabled: true
  port: 9100
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "/data/store", cfg.Storage.Dir)
	assert.Equal(t, 3*time.Second, cfg.Journal.StopDelay)
	assert.Equal(t, 9100, cfg.Metrics.Port)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing node id",
			content: `storage: {backend: "memory"}`,
		},
		{
			name: "unknown backend",
			content: `
node: {id: "node-1"}
storage: {backend: "flatfile"}
`,
		},
		{
			name: "stop delay below sync delay",
			content: `
node: {id: "node-1"}
journal: {sync_delay: 10s, stop_delay: 1s}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := config.LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
