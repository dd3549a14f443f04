package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// --- Test Helpers ---

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojostore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// --- Test Cases ---

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ".", cfg.Store.DataDir)
	require.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
store:
  data_dir: /var/lib/gojostore
  backup:
    schedule: "0 0 3 * * *"
    commit_schedule: "@every 30s"
    rate_bytes_per_sec: 1048576
    compress: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "console", cfg.Logger.Format, "unset fields keep their defaults")
	require.Equal(t, "/var/lib/gojostore", cfg.Store.DataDir)
	require.Equal(t, "backups", cfg.Store.Backup.Dir)
	require.Equal(t, int64(1<<20), cfg.Store.Backup.RateBytesPerSec)
	require.True(t, cfg.Store.Backup.Compress)
}

func TestLoad_RejectsBadSchedule(t *testing.T) {
	path := writeConfig(t, `
store:
  backup:
    schedule: "every tuesday"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "store.backup.schedule")
}

func TestLoad_RejectsNegativeRate(t *testing.T) {
	path := writeConfig(t, `
store:
  backup:
    rate_bytes_per_sec: -1
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "rate_bytes_per_sec")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
