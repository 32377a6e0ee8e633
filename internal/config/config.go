// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for journal-sync. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags) and resolves the raw string settings into typed values once.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Sync    SyncConfig    `toml:"sync"`
	Remote  RemoteConfig  `toml:"remote"`
	Media   MediaConfig   `toml:"media"`
	Logging LoggingConfig `toml:"logging"`
}

// StoreConfig locates the local key-value store and bounds its size.
// An empty path keeps everything in memory.
type StoreConfig struct {
	Path     string `toml:"path"`
	MaxBytes string `toml:"max_bytes"`
}

// SyncConfig controls the save debounce, fetch bound, and queue draining.
type SyncConfig struct {
	Debounce          string `toml:"debounce"`
	FetchTimeout      string `toml:"fetch_timeout"`
	DrainInterval     string `toml:"drain_interval"`
	DrainFailureLimit int    `toml:"drain_failure_limit"`
}

// RemoteConfig points at the remote document service. An empty URL runs
// the engine offline.
type RemoteConfig struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	Websocket      bool   `toml:"websocket"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// MediaConfig configures the object store holding attached media. An empty
// bucket disables orphan cleanup.
type MediaConfig struct {
	S3Bucket    string `toml:"s3_bucket"`
	S3Region    string `toml:"s3_region"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	StorePath  *string // --db flag
	RemoteURL  *string // --remote flag
	Offline    bool    // --offline: ignore the remote entirely
}

// Resolved is the final configuration after the override chain, with every
// duration and size parsed.
type Resolved struct {
	ConfigPath string

	StorePath string
	MaxBytes  int64

	Debounce          time.Duration
	FetchTimeout      time.Duration
	DrainInterval     time.Duration
	DrainFailureLimit int

	RemoteURL      string
	Token          string
	Websocket      bool
	ConnectTimeout time.Duration

	Media   MediaConfig
	Logging LoggingConfig
}

// Offline reports whether no remote is configured.
func (r *Resolved) Offline() bool {
	return r.RemoteURL == ""
}
