package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "JOURNAL_SYNC_CONFIG"
	EnvRemoteURL = "JOURNAL_SYNC_REMOTE_URL"
	EnvToken     = "JOURNAL_SYNC_TOKEN"
	EnvDB        = "JOURNAL_SYNC_DB"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // JOURNAL_SYNC_CONFIG: override config file path
	RemoteURL  string // JOURNAL_SYNC_REMOTE_URL: remote service base URL
	Token      string // JOURNAL_SYNC_TOKEN: bearer token
	StorePath  string // JOURNAL_SYNC_DB: local store path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		RemoteURL:  os.Getenv(EnvRemoteURL),
		Token:      os.Getenv(EnvToken),
		StorePath:  os.Getenv(EnvDB),
	}
}
