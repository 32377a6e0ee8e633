package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/auth"
	"github.com/tonimelisma/journal-sync/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests must either:
//   - Pass state explicitly (buildLogger takes its inputs as arguments), or
//   - Use cmd.SetArgs() + cmd.Execute() to let Cobra parse flags (integration tests).

const testSecret = "test-secret"

// cliEnv isolates a CLI test from the user's environment: config, store,
// and token all point into a temp dir. It returns the store path.
func cliEnv(t *testing.T, userID string) string {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "journal.db")

	token, err := auth.Mint(userID, []byte(testSecret), time.Hour, time.Now())
	require.NoError(t, err)

	t.Setenv(config.EnvConfig, filepath.Join(dir, "config.toml"))
	t.Setenv(config.EnvDB, dbPath)
	t.Setenv(config.EnvToken, token)
	t.Setenv(config.EnvRemoteURL, "")

	return dbPath
}

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

// --- buildLogger tests ---

func TestBuildLogger_Default(t *testing.T) {
	logger, closer := buildLogger(nil, CLIFlags{}, nil)

	assert.Nil(t, closer)
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_ConfigLevels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		below   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &config.Resolved{Logging: config.LoggingConfig{LogLevel: tt.level, LogFormat: "text"}}
			logger, _ := buildLogger(cfg, CLIFlags{}, nil)

			assert.True(t, logger.Handler().Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Handler().Enabled(context.Background(), tt.below))
		})
	}
}

func TestBuildLogger_VerboseOverrides(t *testing.T) {
	// Config says error, but --verbose should override to Debug.
	cfg := &config.Resolved{Logging: config.LoggingConfig{LogLevel: "error"}}
	logger, _ := buildLogger(cfg, CLIFlags{Verbose: true}, nil)

	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_QuietOverrides(t *testing.T) {
	cfg := &config.Resolved{Logging: config.LoggingConfig{LogLevel: "debug"}}
	logger, _ := buildLogger(cfg, CLIFlags{Quiet: true}, nil)

	// Error is enabled, but warn should not be.
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
}

func TestBuildLogger_LogFileIsRotatedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "journal.log")
	cfg := &config.Resolved{Logging: config.LoggingConfig{
		LogLevel:         "info",
		LogFile:          path,
		LogFormat:        "auto",
		LogRetentionDays: 7,
	}}

	logger, closer := buildLogger(cfg, CLIFlags{}, os.Stderr)
	require.NotNil(t, closer)

	logger.Info("hello", slog.String("date", "2024-05-01"))
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"date":"2024-05-01"`)
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"open", "write", "drain", "pending", "status", "watch", "config"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "db", "remote", "json", "verbose", "quiet", "offline"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag --%s", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	cliEnv(t, "user-1")

	_, err := runCLI(t, "", "--remote", "http://127.0.0.1:1", "--offline", "pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_ConfigInitSkipsConfigLoading(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[bogus]\n"), 0o600))

	// A broken config must not stop init from reporting the existing file.
	_, err := runCLI(t, "", "--config", path, "config", "init")
	require.ErrorIs(t, err, config.ErrConfigExists)
}

func TestLoadConfig_InvalidConfigFails(t *testing.T) {
	cliEnv(t, "user-1")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[sync]\ndebounc = \"1s\"\n"), 0o600))

	_, err := runCLI(t, "", "--config", path, "pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean")
}

func TestDefaultHTTPClient_HasTimeout(t *testing.T) {
	assert.Equal(t, httpClientTimeout, defaultHTTPClient().Timeout)
}
