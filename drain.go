package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/sync"
)

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send queued edits to the remote store",
		Long: `Process the pending write queue in date order. An edit is dropped when the
remote holds a strictly newer version of the entry; otherwise it is written.
Edits that fail stay queued for the next drain.

When a watch process owns the local store, it is asked to drain instead.`,
		Args: cobra.NoArgs,
		RunE: runDrain,
	}
}

// drainOutput is the JSON form of a drain report.
type drainOutput struct {
	Written   int      `json:"written"`
	Discarded int      `json:"discarded"`
	Failed    int      `json:"failed"`
	Skipped   bool     `json:"skipped,omitempty"`
	Signaled  bool     `json:"signaled,omitempty"`
	Duration  string   `json:"duration"`
	Errors    []string `json:"errors,omitempty"`
}

func runDrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	if cc.Cfg.Offline() {
		return errors.New("no remote configured: set [remote] url or drop --offline")
	}

	// A running watcher holds the store; ask it to drain.
	if pidPath := pidFilePath(cc.Cfg.StorePath); pidPath != "" {
		if _, err := os.Stat(pidPath); err == nil {
			if err := sendSIGHUP(pidPath); err == nil {
				if cc.Flags.JSON {
					return printJSON(cmd.OutOrStdout(), drainOutput{Signaled: true})
				}

				cc.Statusf("Asked the running watcher to drain.\n")

				return nil
			}
		}
	}

	e, err := newEngine(ctx, cc, engineHooks{})
	if err != nil {
		return err
	}

	report := e.coord.Drain(ctx)

	if err := e.close(ctx); err != nil {
		return err
	}

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), newDrainOutput(report)); err != nil {
			return err
		}
	} else {
		printDrainReport(cmd.OutOrStdout(), report)
	}

	for _, err := range report.Errors {
		if errors.Is(err, sync.ErrDrainExhausted) || errors.Is(err, sync.ErrIdentityInconsistent) {
			return escalation(err)
		}
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d queued edit(s) could not be sent", report.Failed)
	}

	return nil
}

func newDrainOutput(r sync.DrainReport) drainOutput {
	o := drainOutput{
		Written:   r.Written,
		Discarded: r.Discarded,
		Failed:    r.Failed,
		Skipped:   r.Skipped,
		Duration:  r.Duration.Round(time.Millisecond).String(),
	}

	for _, err := range r.Errors {
		o.Errors = append(o.Errors, err.Error())
	}

	return o
}

func printDrainReport(w io.Writer, r sync.DrainReport) {
	if r.Total() == 0 {
		fmt.Fprintln(w, "Nothing queued.")
		return
	}

	fmt.Fprintf(w, "Drained %d queued edit(s) in %s: %d written, %d superseded by remote, %d failed\n",
		r.Total(), r.Duration.Round(time.Millisecond), r.Written, r.Discarded, r.Failed)

	for _, err := range r.Errors {
		fmt.Fprintf(w, "  %v\n", err)
	}
}

// pidFilePath returns the PID file guarding the store at storePath, or ""
// for an in-memory store.
func pidFilePath(storePath string) string {
	if storePath == "" {
		return ""
	}

	return storePath + ".pid"
}
