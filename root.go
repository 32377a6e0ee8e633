package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tonimelisma/journal-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDB         string
	flagRemote     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
	flagOffline    bool
)

// skipConfigAnnotation marks commands that handle config loading themselves
// (config init and config set work on the file, not the resolved result).
const skipConfigAnnotation = "skipConfig"

// httpClientTimeout is the default timeout for HTTP requests.
// Prevents hung connections from blocking CLI commands indefinitely.
const httpClientTimeout = 30 * time.Second

// logMaxSizeMB is the size at which the log file is rotated.
const logMaxSizeMB = 10

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// CLIFlags is the parsed form of the global flags.
type CLIFlags struct {
	JSON    bool
	Verbose bool
	Quiet   bool
}

// CLIContext carries the resolved configuration and logger to subcommands.
// It is attached to the command context by the root pre-run phase.
type CLIContext struct {
	Cfg    *config.Resolved
	Logger *slog.Logger
	Flags  CLIFlags

	logCloser io.Closer
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext attached to ctx, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

// mustCLIContext returns the CLIContext attached to ctx. Commands that do
// not skip config loading can rely on it being present.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("CLIContext missing: command ran without the root pre-run phase")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "journal-sync",
		Short:   "Offline-first journal sync client",
		Long:    "Read and write one journal entry per day, locally first, synced to a remote store when reachable.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc := cliContextFrom(cmd.Context()); cc != nil && cc.logCloser != nil {
				cc.logCloser.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDB, "db", "", "local store path (overrides config)")
	cmd.PersistentFlags().StringVar(&flagRemote, "remote", "", "remote service URL (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	cmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "never contact the remote service")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
	cmd.MarkFlagsMutuallyExclusive("remote", "offline")

	// Register subcommands.
	cmd.AddCommand(newOpenCmd())
	cmd.AddCommand(newWriteCmd())
	cmd.AddCommand(newDrainCmd())
	cmd.AddCommand(newPendingCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer override
// chain, builds the logger, and attaches both to the command context.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		Offline:    flagOffline,
	}

	// Only pass flags to the resolver if the user explicitly set them.
	if cmd.Flags().Changed("db") {
		cli.StorePath = &flagDB
	}

	if cmd.Flags().Changed("remote") {
		cli.RemoteURL = &flagRemote
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := CLIFlags{JSON: flagJSON, Verbose: flagVerbose, Quiet: flagQuiet}
	logger, closer := buildLogger(resolved, flags, os.Stderr)

	cc := &CLIContext{Cfg: resolved, Logger: logger, Flags: flags, logCloser: closer}
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. With a log file set,
// output goes to a rotated file instead of stderr. The returned closer is
// nil when logging to stderr.
func buildLogger(cfg *config.Resolved, flags CLIFlags, stderr *os.File) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo

	// Config-based log level (lower priority than CLI flags).
	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority).
	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		out    io.Writer = stderr
		closer io.Closer
		tty    = stderr != nil && isatty.IsTerminal(stderr.Fd())
	)

	if cfg != nil && cfg.Logging.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.Logging.LogFile,
			MaxSize:  logMaxSizeMB,
			MaxAge:   cfg.Logging.LogRetentionDays,
			Compress: true,
		}
		out, closer, tty = lj, lj, false
	}

	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(out, opts)), closer
	}

	return slog.New(slog.NewTextHandler(out, opts)), closer
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if errors.Is(err, errEscalated) {
		os.Exit(exitEscalated)
	}

	os.Exit(1)
}
