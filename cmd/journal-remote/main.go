// Command journal-remote serves the journal entry API that journal-sync
// replicates against, and mints the bearer tokens it accepts.
//
// Usage:
//
//	journal-remote serve --addr :8080 --secret s3cret [--dsn postgres://...]
//	journal-remote token --user alice --secret s3cret
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Environment variables read when the matching flag is not given.
const (
	envSecret = "JOURNAL_REMOTE_SECRET"
	envDSN    = "JOURNAL_REMOTE_DSN"
	envAddr   = "JOURNAL_REMOTE_ADDR"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "journal-remote",
		Short:         "Journal entry API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTokenCmd())

	return cmd
}

// newLogger logs text to a terminal and JSON otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// secretFrom returns the flag value, falling back to the environment.
func secretFrom(flag string) ([]byte, error) {
	secret := flag
	if secret == "" {
		secret = os.Getenv(envSecret)
	}

	if secret == "" {
		return nil, fmt.Errorf("a token secret is required: pass --secret or set %s", envSecret)
	}

	return []byte(secret), nil
}
