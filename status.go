package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/auth"
	"github.com/tonimelisma/journal-sync/internal/config"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateInvalid = "invalid"
	tokenStateValid   = "valid"
)

// Remote state constants for status reporting.
const (
	remoteStateOffline     = "offline"
	remoteStateReachable   = "reachable"
	remoteStateUnreachable = "unreachable"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, local store, and remote reachability",
		Long: `Display the effective store and remote settings, whether the remote store
answers, and how many edits are waiting to be sent.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport is the output of the status command.
type statusReport struct {
	ConfigPath  string `json:"config_path"`
	UserID      string `json:"user_id,omitempty"`
	StorePath   string `json:"store_path"`
	StoreQuota  int64  `json:"store_quota_bytes"`
	Degraded    bool   `json:"store_degraded"`
	RemoteURL   string `json:"remote_url,omitempty"`
	RemoteState string `json:"remote_state"`
	RemoteError string `json:"remote_error,omitempty"`
	TokenState  string `json:"token_state"`
	Pending     int    `json:"pending"`
	Watching    bool   `json:"watching"`
	Error       string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	report := statusReport{
		ConfigPath: cc.Cfg.ConfigPath,
		StorePath:  cc.Cfg.StorePath,
		StoreQuota: cc.Cfg.MaxBytes,
		RemoteURL:  cc.Cfg.RemoteURL,
		TokenState: tokenState(cc.Cfg.Token),
		Watching:   watcherRunning(cc.Cfg.StorePath),
	}

	// A watcher owns the store; opening it here would contend for the lock.
	switch {
	case report.Watching:
		report.RemoteState = remoteStateOffline
		if !cc.Cfg.Offline() {
			report.RemoteState = "(see watcher)"
		}
	default:
		if err := fillEngineStatus(ctx, cc, &report); err != nil {
			return err
		}
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	printStatusText(cmd.OutOrStdout(), report)

	return nil
}

// fillEngineStatus opens the engine to report the user, store health,
// queue length, and remote reachability. A missing user is reported, not
// returned.
func fillEngineStatus(ctx context.Context, cc *CLIContext, report *statusReport) error {
	e, err := newEngine(ctx, cc, engineHooks{})
	if err != nil {
		report.RemoteState = "unknown"
		report.Error = err.Error()

		return nil
	}

	report.UserID = e.coord.UserID()
	report.Degraded = e.store.Degraded()

	if recs, err := e.coord.Pending(ctx); err == nil {
		report.Pending = len(recs)
	}

	report.RemoteState, report.RemoteError = pingRemote(ctx, cc, e)

	return e.close(ctx)
}

// tokenState classifies the configured bearer token.
func tokenState(token string) string {
	if token == "" {
		return tokenStateMissing
	}

	if _, err := auth.UserFromToken(token); err != nil {
		return tokenStateInvalid
	}

	return tokenStateValid
}

// pingRemote pings the remote store within the connect timeout.
func pingRemote(ctx context.Context, cc *CLIContext, e *engine) (string, string) {
	if e.client == nil {
		return remoteStateOffline, ""
	}

	ctx, cancel := context.WithTimeout(ctx, cc.Cfg.ConnectTimeout)
	defer cancel()

	if err := e.client.Ping(ctx); err != nil {
		return remoteStateUnreachable, err.Error()
	}

	return remoteStateReachable, ""
}

// watcherRunning reports whether a live watch process holds the store.
func watcherRunning(storePath string) bool {
	pidPath := pidFilePath(storePath)
	if pidPath == "" {
		return false
	}

	pid, err := readPIDFile(pidPath)
	if err != nil {
		return false
	}

	return processAlive(pid)
}

func printStatusText(w io.Writer, r statusReport) {
	storePath := r.StorePath
	if storePath == "" {
		storePath = "(memory)"
	}

	quota := "unlimited"
	if r.StoreQuota > 0 {
		quota = formatSize(r.StoreQuota)
	}

	fmt.Fprintf(w, "Config:  %s\n", r.ConfigPath)

	if r.UserID != "" {
		fmt.Fprintf(w, "User:    %s\n", r.UserID)
	}

	fmt.Fprintf(w, "Store:   %s (quota %s)", storePath, quota)

	if r.Degraded {
		fmt.Fprint(w, " [degraded: running in memory]")
	}

	fmt.Fprintln(w)

	remoteURL := r.RemoteURL
	if remoteURL == "" {
		remoteURL = "(none)"
	}

	fmt.Fprintf(w, "Remote:  %s (%s)\n", remoteURL, r.RemoteState)

	if r.RemoteError != "" {
		fmt.Fprintf(w, "         %s\n", r.RemoteError)
	}

	fmt.Fprintf(w, "Token:   %s\n", r.TokenState)

	if r.Watching {
		fmt.Fprintln(w, "Watcher: running")
	} else {
		fmt.Fprintf(w, "Pending: %d\n", r.Pending)
	}

	if r.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", r.Error)
	}

	if r.TokenState == tokenStateMissing && r.UserID == "" {
		fmt.Fprintf(w, "\nSet a token with 'journal-sync config set remote token <jwt>' or %s.\n", config.EnvToken)
	}
}
