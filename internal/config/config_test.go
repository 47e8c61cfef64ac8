package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	reset()
	t.Setenv("TESTSTAND_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:50000", cfg.ListenAddr)
	assert.Equal(t, "239.255.255.250:1900", cfg.MulticastAddr)
	assert.Equal(t, 600*time.Second, cfg.ResyncTTL)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "", cfg.SnapshotPath)
}

func TestLoadReadsSnapshotPath(t *testing.T) {
	reset()
	t.Setenv("TESTSTAND_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("TESTSTAND_SNAPSHOT_PATH", "/tmp/teststand-snapshot.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/teststand-snapshot.json", cfg.SnapshotPath)
}

func TestLoadEnvFileThenEnvOverride(t *testing.T) {
	reset()
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TESTSTAND_LISTEN_ADDR=10.0.0.1:50000\nTESTSTAND_LOG_LEVEL=debug\n"), 0o644))

	t.Setenv("TESTSTAND_ENV_FILE", envFile)
	t.Setenv("TESTSTAND_LOG_LEVEL", "warn") // env var wins over .env

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:50000", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadRejectsBadResyncTTL(t *testing.T) {
	reset()
	t.Setenv("TESTSTAND_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("TESTSTAND_RESYNC_TTL", "not-a-duration")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadCachesAfterFirstCall(t *testing.T) {
	reset()
	t.Setenv("TESTSTAND_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("TESTSTAND_LISTEN_ADDR", "1.2.3.4:1")

	first, err := Load()
	require.NoError(t, err)

	t.Setenv("TESTSTAND_LISTEN_ADDR", "5.6.7.8:2")
	second, err := Load()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "1.2.3.4:1", second.ListenAddr)
}
