package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/robalyx/answervote/internal/setup/config"
	"github.com/robalyx/answervote/internal/setup/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggersWritesSessionFiles(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	manager := telemetry.NewManager(telemetry.ServiceAPI, logDir,
		&config.Debug{LogLevel: "info", MaxLogsToKeep: 3}, &config.Telemetry{})

	mainLogger, dbLogger, err := manager.GetLoggers()
	require.NoError(t, err)

	mainLogger.Info("main entry")
	dbLogger.Info("database entry")
	require.NoError(t, manager.Stop(context.Background()))

	sessionDir := manager.GetCurrentSessionDir()
	assert.Equal(t, logDir, filepath.Dir(sessionDir))
	assert.Contains(t, filepath.Base(sessionDir), "_api")

	content, err := os.ReadFile(filepath.Join(sessionDir, "main.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "main entry")
	assert.Contains(t, string(content), manager.GetInstanceID())

	content, err = os.ReadFile(filepath.Join(sessionDir, "database.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "database entry")
}

func TestGetLoggersRotatesOldSessions(t *testing.T) {
	t.Parallel()

	logDir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		dir := filepath.Join(logDir, fmt.Sprintf("old_%d", i))
		require.NoError(t, os.Mkdir(dir, 0o755))
		stamp := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(dir, stamp, stamp))
	}

	manager := telemetry.NewManager(telemetry.ServiceDB, logDir,
		&config.Debug{LogLevel: "debug", MaxLogsToKeep: 3}, &config.Telemetry{})
	_, _, err := manager.GetLoggers()
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Stop(context.Background()) })

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Len(t, names, 3)
	assert.Contains(t, names, "old_3")
	assert.Contains(t, names, "old_4")
	assert.Contains(t, names, filepath.Base(manager.GetCurrentSessionDir()))
}

func TestGetLoggersConsoleOnly(t *testing.T) {
	t.Parallel()

	logDir := filepath.Join(t.TempDir(), "logs")
	manager := telemetry.NewManager(telemetry.ServiceAPI, logDir,
		&config.Debug{LogLevel: "warn", ConsoleOnly: true}, &config.Telemetry{})

	_, _, err := manager.GetLoggers()
	require.NoError(t, err)
	require.NoError(t, manager.Stop(context.Background()))

	assert.Empty(t, manager.GetCurrentSessionDir())
	assert.NoDirExists(t, logDir)
}

func TestGetLoggersRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	manager := telemetry.NewManager(telemetry.ServiceAPI, t.TempDir(),
		&config.Debug{LogLevel: "loud", ConsoleOnly: true}, &config.Telemetry{})

	_, _, err := manager.GetLoggers()
	require.Error(t, err)
}

func TestErrorCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		function string
		want     string
	}{
		{"github.com/robalyx/answervote/internal/database/models.(*AnswerCounterModel).Apply", "database"},
		{"github.com/robalyx/answervote/internal/redis.(*Locker).Lock", "redis"},
		{"github.com/robalyx/answervote/internal/vote.(*Aggregator).Vote", "vote"},
		{"github.com/robalyx/answervote/internal/rest.(*Server).handleVote", "rest"},
		{"main.run", "application"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			ent := zapcore.Entry{Caller: zapcore.EntryCaller{Defined: true, Function: tt.function}}
			assert.Equal(t, tt.want, telemetry.ErrorCategory(ent))
		})
	}
}
