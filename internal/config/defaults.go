package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultMaxBytes          = "64MiB"
	defaultDebounce          = "3s"
	defaultFetchTimeout      = "10s"
	defaultDrainInterval     = "1m"
	defaultDrainFailureLimit = 3
	defaultConnectTimeout    = "10s"
	defaultS3Region          = "us-east-1"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	defaultLogRetentionDays  = 30
	defaultStoreFileName     = "journal.db"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:     DefaultStorePath(),
			MaxBytes: defaultMaxBytes,
		},
		Sync: SyncConfig{
			Debounce:          defaultDebounce,
			FetchTimeout:      defaultFetchTimeout,
			DrainInterval:     defaultDrainInterval,
			DrainFailureLimit: defaultDrainFailureLimit,
		},
		Remote: RemoteConfig{
			Websocket:      true,
			ConnectTimeout: defaultConnectTimeout,
		},
		Media: MediaConfig{
			S3Region: defaultS3Region,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
