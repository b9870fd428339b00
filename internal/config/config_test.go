package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MONEYSYNC_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "share", "moneysync", "moneysync.db"), cfg.Database.Path)
	require.Equal(t, "MONEYSYNC_TOKEN", cfg.Sync.TokenEnv)
	require.Equal(t, 15*time.Second, cfg.Sync.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	require.Equal(t, "memory", cfg.Relay.Store)
	require.Equal(t, 6, cfg.UI.HorizonMonths)
	require.Empty(t, cfg.Sync.Remote)
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[sync]
remote = "https://relay.example.com"
interval = "30s"

[ui]
horizon_months = 3
`), 0o600))
	t.Setenv("MONEYSYNC_CONFIG", path)
	t.Setenv("MONEYSYNC_RELAY_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://relay.example.com", cfg.Sync.Remote)
	require.Equal(t, 30*time.Second, cfg.Sync.Interval)
	require.Equal(t, 3, cfg.UI.HorizonMonths)
	require.Equal(t, "from-env", cfg.Relay.Token)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	t.Setenv("MONEYSYNC_CONFIG", path)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Sync.Remote = "/mnt/share/moneysync"
	cfg.Sync.Debounce = 5 * time.Second
	require.NoError(t, Save(cfg))

	got, err := Load()
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync\nremote ="), 0o600))
	t.Setenv("MONEYSYNC_CONFIG", path)

	_, err := Load()
	require.Error(t, err)
}
