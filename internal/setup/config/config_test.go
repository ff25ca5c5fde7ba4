package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/robalyx/answervote/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "common.toml"), []byte(content), 0o600)
	require.NoError(t, err)
	return dir
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `
version = 1

[postgresql]
user = "voter"
db_name = "votes"

[vote]
backend = "memory"
`)

	cfg, used, err := config.LoadConfigFrom(filepath.Join(dir, "missing"), dir)
	require.NoError(t, err)
	assert.Equal(t, dir, used)

	assert.Equal(t, "voter", cfg.Common.PostgreSQL.User)
	assert.Equal(t, 5432, cfg.Common.PostgreSQL.Port)
	assert.Equal(t, config.BackendMemory, cfg.Common.Vote.Backend)
	assert.Equal(t, config.LockerLocal, cfg.Common.Vote.Locker)
	assert.Equal(t, "X-Username", cfg.Common.API.Server.UserHeader)
	assert.Equal(t, 8080, cfg.Common.API.Server.Port)
	assert.Equal(t, "info", cfg.Common.Debug.LogLevel)
	assert.Equal(t, 4, cfg.Common.Reconcile.Workers)
	assert.Equal(t, int64(5000), cfg.Common.Vote.CommitTimeout().Milliseconds())
}

func TestLoadConfigSample(t *testing.T) {
	t.Parallel()

	cfg, _, err := config.LoadConfigFrom(filepath.Join("..", "..", "..", "config"))
	require.NoError(t, err)
	assert.Equal(t, config.CurrentCommonVersion, cfg.Common.Version)
	assert.Equal(t, config.BackendPostgres, cfg.Common.Vote.Backend)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		err     error
	}{
		{"missing version", "[debug]\nlog_level = \"debug\"\n", config.ErrConfigVersionMissing},
		{"old version", "version = 99\n", config.ErrConfigVersionMismatch},
		{"unknown backend", "version = 1\n[vote]\nbackend = \"mongo\"\n", config.ErrInvalidConfig},
		{"unknown locker", "version = 1\n[vote]\nlocker = \"etcd\"\n", config.ErrInvalidConfig},
		{
			"lease shorter than commit",
			"version = 1\n[vote]\nlocker = \"redis\"\nlock_ttl_ms = 100\ncommit_timeout_ms = 500\n",
			config.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := config.LoadConfigFrom(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.err)
		})
	}

	_, _, err := config.LoadConfigFrom(t.TempDir())
	require.ErrorIs(t, err, config.ErrConfigFileNotFound)
}
