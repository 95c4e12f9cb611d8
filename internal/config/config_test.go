package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.Mode)
	require.True(t, cfg.Database.AutoMigrate)
	require.False(t, cfg.Redis.Enabled)
	require.True(t, cfg.Stats.TrackMessages)
	require.True(t, cfg.Stats.SaveChatHistory)
	require.Equal(t, 1000, cfg.Stats.BufferCapacity)
	require.Equal(t, 90, cfg.Stats.RetentionDays)
	require.Equal(t, 10, cfg.Stats.TopLimit)

	sync, messageTTL, commandTTL, err := cfg.Stats.Durations()
	require.NoError(t, err)
	require.Equal(t, time.Minute, sync)
	require.Equal(t, 7*24*time.Hour, messageTTL)
	require.Equal(t, 30*24*time.Hour, commandTTL)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "chatstats.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  port: 9090
  mode: "debug"
redis:
  enabled: true
  url: "redis://cache:6379/2"
  key_prefix: "bot"
stats:
  buffer_capacity: 50
  sync_interval: "30s"
  retention_days: 14
`), 0o644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.True(t, cfg.Redis.Enabled)
	require.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	require.Equal(t, "bot", cfg.Redis.KeyPrefix)
	require.Equal(t, 50, cfg.Stats.BufferCapacity)
	require.Equal(t, 14, cfg.Stats.RetentionDays)

	// Unset keys keep their defaults.
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, 25, cfg.Database.MaxOpenConns)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "chatstats.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
server:
  port: 9090
`), 0o644))

	t.Setenv("CHATSTATS_SERVER__PORT", "7070")
	t.Setenv("CHATSTATS_STATS__RETENTION_DAYS", "7")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 7, cfg.Stats.RetentionDays)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestStatsDurationsValidation(t *testing.T) {
	stats := StatsConfig{SyncInterval: "1m", MessageTTL: "168h", CommandTTL: "720h"}
	_, _, _, err := stats.Durations()
	require.NoError(t, err)

	stats.SyncInterval = "soon"
	_, _, _, err = stats.Durations()
	require.ErrorContains(t, err, "sync_interval")

	// TTLs shorter than the reconciliation interval would evict live
	// counters before they can be drained.
	stats = StatsConfig{SyncInterval: "10m", MessageTTL: "5m", CommandTTL: "720h"}
	_, _, _, err = stats.Durations()
	require.ErrorContains(t, err, "must exceed")
}
