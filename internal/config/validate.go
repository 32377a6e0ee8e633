package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minLogRetention      = 1
	minDrainFailureLimit = 1
	minDebounce          = 100 * time.Millisecond
	minFetchTimeout      = 1 * time.Second
	minDrainInterval     = 5 * time.Second
	minConnectTimeout    = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateMedia(&cfg.Media)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateStore(s *StoreConfig) []error {
	if _, err := ParseQuota(s.MaxBytes); err != nil {
		return []error{fmt.Errorf("max_bytes: %w", err)}
	}

	return nil
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("debounce", s.Debounce, minDebounce)...)
	errs = append(errs, validateDurationMin("fetch_timeout", s.FetchTimeout, minFetchTimeout)...)
	errs = append(errs, validateDurationMin("drain_interval", s.DrainInterval, minDrainInterval)...)

	if s.DrainFailureLimit < minDrainFailureLimit {
		errs = append(errs, fmt.Errorf("drain_failure_limit: must be >= %d, got %d",
			minDrainFailureLimit, s.DrainFailureLimit))
	}

	return errs
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", r.ConnectTimeout, minConnectTimeout)...)

	if r.URL != "" {
		u, err := url.Parse(r.URL)

		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("url: scheme must be http or https, got %q", r.URL))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("url: missing host in %q", r.URL))
		}
	}

	return errs
}

func validateMedia(m *MediaConfig) []error {
	if m.S3Bucket == "" {
		return nil
	}

	var errs []error

	if m.S3Region == "" {
		errs = append(errs, errors.New("s3_region: required when s3_bucket is set"))
	}

	if (m.S3AccessKey == "") != (m.S3SecretKey == "") {
		errs = append(errs, errors.New("s3_access_key and s3_secret_key must be set together"))
	}

	return errs
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
