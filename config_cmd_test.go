package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/config"
)

func TestConfigInitSetShow(t *testing.T) {
	cliEnv(t, "user-1")

	path := filepath.Join(t.TempDir(), "config.toml")

	_, err := runCLI(t, "", "--config", path, "config", "init")
	require.NoError(t, err)

	_, err = runCLI(t, "", "--config", path, "config", "set", "sync", "debounce", "5s")
	require.NoError(t, err)

	_, err = runCLI(t, "", "--config", path, "config", "set", "Remote", "URL", "https://journal.example.com")
	require.NoError(t, err)

	out, err := runCLI(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `debounce            = "5s"`)
	assert.Contains(t, out, `url             = "https://journal.example.com"`)
	assert.Contains(t, out, `token           = "(set)"`)

	out, err = runCLI(t, "", "--config", path, "--json", "config", "show")
	require.NoError(t, err)

	r := decodeJSON[config.Resolved](t, out)
	assert.Equal(t, "(set)", r.Token)
	assert.Equal(t, "https://journal.example.com", r.RemoteURL)
}

func TestConfigSet_RejectsInvalidValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, err := runCLI(t, "", "--config", path, "config", "set", "sync", "debounce", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config now invalid")
}

func TestConfigSet_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	_, err := runCLI(t, "", "--config", path, "config", "set", "remote", "password", "x")
	require.Error(t, err)
}
