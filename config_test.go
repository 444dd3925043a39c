package focuslog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		PoolSizeKey, FlushThresholdKey, StoragePathKey, AcquireTimeoutKey,
		BusyTimeoutKey, LogLevelKey, OTLPEndpointKey, OTLPInsecureKey,
	} {
		t.Setenv(k, "")
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("", noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultFlushThreshold, cfg.FlushThreshold)
	assert.Equal(t, DefaultBusyTimeout, cfg.BusyTimeout)
	assert.Zero(t, cfg.AcquireTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.StoragePath)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "focuslog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool_size: 3
flush_threshold: 10
storage_path: /var/lib/focuslog/data.db
acquire_timeout: 2s
log_level: debug
`), 0o600))

	t.Setenv(FlushThresholdKey, "25")
	t.Setenv(OTLPEndpointKey, "localhost:4317")
	t.Setenv(OTLPInsecureKey, "true")

	cfg, err := LoadConfig(path, noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, 25, cfg.FlushThreshold)
	assert.Equal(t, "/var/lib/focuslog/data.db", cfg.StoragePath)
	assert.Equal(t, 2*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.OTLPInsecure)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set
	os.Unsetenv(PoolSizeKey)
	t.Cleanup(func() { os.Unsetenv(PoolSizeKey) })

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte(PoolSizeKey+"=8\n"), 0o600))

	cfg, err := LoadConfig("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.PoolSize)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "zero pool size", env: map[string]string{PoolSizeKey: "0"}},
		{name: "non-numeric threshold", env: map[string]string{FlushThresholdKey: "lots"}},
		{name: "bad duration", env: map[string]string{AcquireTimeoutKey: "soon"}},
		{name: "bad bool", env: map[string]string{OTLPInsecureKey: "maybe"}},
		{name: "negative busy timeout", env: map[string]string{BusyTimeoutKey: "-1s"}},
		{name: "malformed yaml", file: "pool_size: [1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			var path string
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "focuslog.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
			}
			_, err := LoadConfig(path, noEnvFile(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_ExpandsTilde(t *testing.T) {
	clearEnv(t)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv(StoragePathKey, "~/focus/data.db")

	cfg, err := LoadConfig("", noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "focus", "data.db"), cfg.StoragePath)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
}
