package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ctt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.PollInterval)
	assert.Equal(t, "ctt", cfg.Operator)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr)
	assert.False(t, cfg.Server.ReadOnly)
	assert.Equal(t, DriverBolt, cfg.Storage.Driver)
	assert.Equal(t, "./ctt-data", cfg.Storage.Path)
	assert.Equal(t, BackendPBS, cfg.Scheduler.Backend)
	assert.Equal(t, "pbsnodes", cfg.Scheduler.PBSNodes)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Timeout)
	assert.Equal(t, "ctt.changelog", cfg.Notify.NATS.Subject)
	assert.Empty(t, cfg.NodeTypes)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
poll_interval: 2m
operator: robot
storage:
  driver: postgres
  dsn: postgres://ctt:secret@db/ctt
scheduler:
  backend: memory
node_types:
  - name: cpu
    prefix: dec
    digits: 4
    first: 1
    last: 512
    card_size: 2
    blade_size: 8
notify:
  slack:
    webhook_url: https://hooks.example.com/T000/B000
    channel: ops
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.PollInterval)
	assert.Equal(t, "robot", cfg.Operator)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, BackendMemory, cfg.Scheduler.Backend)
	require.Len(t, cfg.NodeTypes, 1)
	assert.Equal(t, "dec", cfg.NodeTypes[0].Prefix)
	assert.Equal(t, 8, cfg.NodeTypes[0].BladeSize)
	assert.Equal(t, "ops", cfg.Notify.Slack.Channel)

	t.Run("yaml masks secrets", func(t *testing.T) {
		out, err := cfg.YAML()
		require.NoError(t, err)
		assert.NotContains(t, string(out), "secret@db")
		assert.NotContains(t, string(out), "B000")

		var back map[string]interface{}
		require.NoError(t, yaml.Unmarshal(out, &back))
		assert.Equal(t, "2m", back["poll_interval"])
		assert.Equal(t, "********", back["storage"].(map[string]interface{})["dsn"])
	})
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: 0.0.0.0:9000\n")
	t.Setenv("CTT_SERVER_ADDR", "127.0.0.1:9100")
	t.Setenv("CTT_POLL_INTERVAL", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero interval", "poll_interval: 0s\n", "poll_interval"},
		{"unknown driver", "storage:\n  driver: sqlite\n", "storage.driver"},
		{"postgres without dsn", "storage:\n  driver: postgres\n", "storage.dsn"},
		{"unknown backend", "scheduler:\n  backend: slurm\n", "scheduler.backend"},
		{"bad node type", "node_types:\n  - name: cpu\n    prefix: dec\n    digits: 0\n", "node_types[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
