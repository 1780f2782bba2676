package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache: false
buckets: 257
recv_timeout_ms: 1500
heartbeat_interval: 2s
client_shardinfo_timeout_ms: 9000
log_level: debug
metrics_addr: ":9090"
`), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)

	require.NotNil(t, f.Cache)
	assert.False(t, *f.Cache)
	require.NotNil(t, f.Buckets)
	assert.Equal(t, 257, *f.Buckets)
	require.NotNil(t, f.RecvTimeoutMS)
	assert.Equal(t, 1500, *f.RecvTimeoutMS)
	require.NotNil(t, f.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, *f.HeartbeatInterval)
	require.NotNil(t, f.ClientShardInfoTimeout)
	assert.Equal(t, 9000, *f.ClientShardInfoTimeout)
	require.NotNil(t, f.LogLevel)
	assert.Equal(t, "debug", *f.LogLevel)
	require.NotNil(t, f.MetricsAddr)
	assert.Equal(t, ":9090", *f.MetricsAddr)
}

func TestLoadFileMissingPathErrors(t *testing.T) {
	_, err := LoadFile("/no/such/file.yaml")
	assert.Error(t, err)
}

func TestFileApplyOverlaysOnlySetFields(t *testing.T) {
	for _, k := range []string{EnvCache, EnvBuckets, EnvLogLevel} {
		t.Setenv(k, "")
	}

	cache := true
	level := "warn"
	f := File{Cache: &cache, LogLevel: &level}
	f.Apply()

	assert.Equal(t, "true", os.Getenv(EnvCache))
	assert.Equal(t, "warn", os.Getenv(EnvLogLevel))
	// Buckets was never set on f, so Apply must leave it untouched.
	assert.Equal(t, "", os.Getenv(EnvBuckets))
}

func TestLoadIfConfiguredNoopWhenUnset(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	assert.NoError(t, LoadIfConfigured())
}

func TestLoadIfConfiguredAppliesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: error\n"), 0o644))

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvLogLevel, "")

	require.NoError(t, LoadIfConfigured())
	assert.Equal(t, "error", os.Getenv(EnvLogLevel))
}
