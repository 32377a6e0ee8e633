package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.RemoteURL != "" {
		cfg.Remote.URL = env.RemoteURL
	}

	if env.Token != "" {
		cfg.Remote.Token = env.Token
	}

	if env.StorePath != "" {
		cfg.Store.Path = env.StorePath
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.RemoteURL != nil {
		cfg.Remote.URL = *cli.RemoteURL
	}

	if cli.StorePath != nil {
		cfg.Store.Path = *cli.StorePath
	}

	if cli.Offline {
		cfg.Remote.URL = ""
	}

	// 5. Validate the merged result; env and CLI values bypassed Load.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath)
}

// resolve parses the validated string settings into typed values.
func resolve(cfg *Config, path string) (*Resolved, error) {
	maxBytes, err := ParseQuota(cfg.Store.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("max_bytes: %w", err)
	}

	r := &Resolved{
		ConfigPath:        path,
		StorePath:         expandTilde(cfg.Store.Path),
		MaxBytes:          maxBytes,
		DrainFailureLimit: cfg.Sync.DrainFailureLimit,
		RemoteURL:         cfg.Remote.URL,
		Token:             cfg.Remote.Token,
		Websocket:         cfg.Remote.Websocket,
		Media:             cfg.Media,
		Logging:           cfg.Logging,
	}

	r.Logging.LogFile = expandTilde(r.Logging.LogFile)

	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"debounce", cfg.Sync.Debounce, &r.Debounce},
		{"fetch_timeout", cfg.Sync.FetchTimeout, &r.FetchTimeout},
		{"drain_interval", cfg.Sync.DrainInterval, &r.DrainInterval},
		{"connect_timeout", cfg.Remote.ConnectTimeout, &r.ConnectTimeout},
	}

	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid duration %q: %w", d.field, d.value, err)
		}

		*d.dst = parsed
	}

	return r, nil
}
