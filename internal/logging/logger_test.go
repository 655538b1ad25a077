package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docsync/internal/config"
)

func testConfig(t *testing.T) config.LoggingConfig {
	t.Helper()
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = t.TempDir()
	cfg.RepeatWindow = 0
	return cfg
}

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stderr
	stderr = buf
	t.Cleanup(func() { stderr = prev })
	return buf
}

func TestNewLogger_DefaultConfig(t *testing.T) {
	captureConsole(t)
	cfg := testConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("test message", "key", "value")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, mainLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"test message"`)
	assert.Contains(t, string(content), `"key":"value"`)
}

func TestNewLogger_ErrorLogSeparation(t *testing.T) {
	captureConsole(t)
	cfg := testConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("info message")
	logger.Warn("warning message")
	logger.Error("error message")
	require.NoError(t, Shutdown())

	mainContent, err := os.ReadFile(filepath.Join(cfg.Dir, mainLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(mainContent), "info message")
	assert.Contains(t, string(mainContent), "warning message")
	assert.Contains(t, string(mainContent), "error message")

	errorContent, err := os.ReadFile(filepath.Join(cfg.Dir, errorLogFile))
	require.NoError(t, err)
	assert.NotContains(t, string(errorContent), "info message")
	assert.Contains(t, string(errorContent), "warning message")
	assert.Contains(t, string(errorContent), "error message")
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	console := captureConsole(t)
	cfg := testConfig(t)
	cfg.File.Enabled = false
	cfg.Console.Level = "debug"
	cfg.Console.Format = "text"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Debug("console message", "n", 1)

	assert.Contains(t, console.String(), "msg=\"console message\"")
	assert.Contains(t, console.String(), "n=1")
	assert.NoFileExists(t, filepath.Join(cfg.Dir, mainLogFile))
}

func TestNewLogger_NothingEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.File.Enabled = false
	cfg.Console.Enabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Error("dropped")
}

func TestNewLogger_RepeatWindow(t *testing.T) {
	console := captureConsole(t)
	cfg := testConfig(t)
	cfg.File.Enabled = false
	cfg.RepeatWindow = time.Hour

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		logger.Warn("replay failed", "id", "a")
	}
	assert.Equal(t, 1, bytes.Count(console.Bytes(), []byte("replay failed")))
}

func TestNewLogger_BadDirectory(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(cfg.Dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Dir = filepath.Join(blocker, "logs")

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestInitialize_SetsGlobalLogger(t *testing.T) {
	captureConsole(t)
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	cfg := testConfig(t)

	require.NoError(t, Initialize(cfg))
	slog.Info("global test message")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, mainLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(content), "global test message")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}
