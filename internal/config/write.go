package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the permission mode for config files. The file
// may hold a bearer token, so it is readable by the owner only.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by CreateDefault when the file already exists.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the config file written by "config init". Every setting
// is present as a commented-out default so users can discover each option
// without reading docs.
const configTemplate = `# journal-sync configuration

[store]
# Local store database; "" keeps everything in memory.
# path = "~/.local/share/journal-sync/journal.db"
# Quota for the local store, in bytes or with a KB/MB/GB or KiB/MiB/GiB
# unit; "0" or "unlimited" disables it.
# max_bytes = "64MiB"

[sync]
# Quiet period after the last edit before a save is sent.
# debounce = "3s"
# Bound on each remote fetch before falling back to the cache.
# fetch_timeout = "10s"
# Periodic drain of the pending queue in watch mode.
# drain_interval = "1m"
# Consecutive failed drains of one date before it is reported.
# drain_failure_limit = 3

[remote]
# url = "https://journal.example.com"
# token = ""
# websocket = true
# connect_timeout = "10s"

[media]
# s3_bucket = ""
# s3_region = "us-east-1"
# s3_endpoint = ""

[logging]
# Log verbosity: debug, info, warn, error
# log_level = "info"
# log_file = ""
# log_format = "auto"
# log_retention_days = 30
`

// CreateDefault writes the commented default config to path. It refuses to
// overwrite an existing file.
func CreateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	slog.Info("creating config file", "path", path)

	return atomicWriteFile(path, []byte(configTemplate))
}

// SetKey sets key in [section] of the config file at path, creating the
// file and the section as needed. An existing (uncommented) key line in the
// section is replaced; otherwise the key is inserted after the header.
//
// Value formatting: booleans ("true"/"false") and integers are written
// without quotes; all other values are written as quoted strings.
func SetKey(path, section, key, value string) error {
	if !knownKeys[section][key] {
		return fmt.Errorf("unknown config key %q in [%s]", key, section)
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading config file: %w", err)
	}

	slog.Info("setting config key",
		"path", path,
		"section", section,
		"key", key,
	)

	content := setKeyInContent(string(data), section, key, formatValue(value))

	return atomicWriteFile(path, []byte(content))
}

// setKeyInContent performs the line-based edit behind SetKey.
func setKeyInContent(content, section, key, value string) string {
	line := fmt.Sprintf("%s = %s", key, value)
	header := "[" + section + "]"

	lines := strings.Split(content, "\n")
	headerIdx := -1

	for i, l := range lines {
		trimmed := strings.TrimSpace(l)

		if headerIdx < 0 {
			if trimmed == header {
				headerIdx = i
			}

			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			break
		}

		if lineKey(trimmed) == key {
			lines[i] = line
			return strings.Join(lines, "\n")
		}
	}

	if headerIdx >= 0 {
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:headerIdx+1]...)
		out = append(out, line)
		out = append(out, lines[headerIdx+1:]...)

		return strings.Join(out, "\n")
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	if content != "" {
		content += "\n"
	}

	return content + header + "\n" + line + "\n"
}

// lineKey returns the key of a "key = value" line, or "" for comments and
// other lines.
func lineKey(trimmed string) string {
	if strings.HasPrefix(trimmed, "#") {
		return ""
	}

	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}

	return strings.TrimSpace(k)
}

func formatValue(value string) string {
	if value == "true" || value == "false" {
		return value
	}

	if value != "" && strings.Trim(value, "0123456789") == "" {
		return value
	}

	return fmt.Sprintf("%q", value)
}

// atomicWriteFile writes data to path via a temp file and rename, so a crash
// never leaves a partially written config.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
