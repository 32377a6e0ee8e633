package config

import (
	"fmt"
	"io"
)

// redacted replaces secrets in rendered output.
const redacted = "(set)"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w, after all four override layers have been applied.
// Secrets are never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (%s)\n\n", r.ConfigPath)

	ew.printf("[store]\n")
	ew.printf("  path      = %q\n", r.StorePath)
	ew.printf("  max_bytes = %q\n", FormatQuota(r.MaxBytes))
	ew.printf("\n")

	ew.printf("[sync]\n")
	ew.printf("  debounce            = %q\n", r.Debounce.String())
	ew.printf("  fetch_timeout       = %q\n", r.FetchTimeout.String())
	ew.printf("  drain_interval      = %q\n", r.DrainInterval.String())
	ew.printf("  drain_failure_limit = %d\n", r.DrainFailureLimit)
	ew.printf("\n")

	ew.printf("[remote]\n")
	ew.printf("  url             = %q\n", r.RemoteURL)
	ew.printf("  token           = %q\n", secret(r.Token))
	ew.printf("  websocket       = %t\n", r.Websocket)
	ew.printf("  connect_timeout = %q\n", r.ConnectTimeout.String())
	ew.printf("\n")

	ew.printf("[media]\n")
	ew.printf("  s3_bucket     = %q\n", r.Media.S3Bucket)
	ew.printf("  s3_region     = %q\n", r.Media.S3Region)

	if r.Media.S3Endpoint != "" {
		ew.printf("  s3_endpoint   = %q\n", r.Media.S3Endpoint)
	}

	ew.printf("  s3_secret_key = %q\n", secret(r.Media.S3SecretKey))
	ew.printf("\n")

	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", r.Logging.LogLevel)

	if r.Logging.LogFile != "" {
		ew.printf("  log_file           = %q\n", r.Logging.LogFile)
	}

	ew.printf("  log_format         = %q\n", r.Logging.LogFormat)
	ew.printf("  log_retention_days = %d\n", r.Logging.LogRetentionDays)

	return ew.err
}

func secret(s string) string {
	if s == "" {
		return ""
	}

	return redacted
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
