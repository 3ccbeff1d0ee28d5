package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OFFSYNC_REMOTE__BASE_URL", "https://api.example.com/v1")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "tasks", cfg.Remote.Resource)
	require.Equal(t, 10*time.Second, cfg.Remote.Timeout)
	require.Equal(t, time.Minute, cfg.Drain.Interval)
	require.Equal(t, time.Second, cfg.Drain.BackoffMin)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "https://api.example.com/v1/tasks", cfg.Probe.URL,
		"probe defaults to the collection endpoint")
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/offsync
remote:
  base_url: https://api.example.com/v2
  resource: notes
  timeout: 3s
probe:
  url: https://health.example.com/ping
  interval: 15s
drain:
  backoff_max: 2m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/offsync", cfg.DataDir)
	require.Equal(t, "notes", cfg.Remote.Resource)
	require.Equal(t, 3*time.Second, cfg.Remote.Timeout)
	require.Equal(t, "https://health.example.com/ping", cfg.Probe.URL)
	require.Equal(t, 15*time.Second, cfg.Probe.Interval)
	require.Equal(t, 2*time.Minute, cfg.Drain.BackoffMax)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
remote:
  base_url: https://file.example.com
`), 0o644))

	t.Setenv("OFFSYNC_REMOTE__BASE_URL", "https://env.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
}

func TestMissingBaseURLRejected(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
}

func TestMissingExplicitFileRejected(t *testing.T) {
	t.Setenv("OFFSYNC_REMOTE__BASE_URL", "https://api.example.com")

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestBackoffRangeValidated(t *testing.T) {
	t.Setenv("OFFSYNC_REMOTE__BASE_URL", "https://api.example.com")
	t.Setenv("OFFSYNC_DRAIN__BACKOFF_MIN", "2m")
	t.Setenv("OFFSYNC_DRAIN__BACKOFF_MAX", "1s")

	_, err := Load("")
	require.Error(t, err)
}
