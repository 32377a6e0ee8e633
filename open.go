package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/sync"
)

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open [date]",
		Short: "Show the journal entry for a date",
		Long: `Show the entry for a date (default today) from the local cache at once,
then again after the remote refresh if it changed anything.

Dates may be ISO (2024-05-01) or natural language (yesterday, last friday).`,
		Args: cobra.MaximumNArgs(1),
		RunE: runOpen,
	}
}

// openOutput is the JSON form of the open command.
type openOutput struct {
	Cached    bool          `json:"cached"`
	Local     documentView  `json:"local"`
	Refreshed *documentView `json:"refreshed,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	d, err := dateArg(args, time.Now())
	if err != nil {
		return err
	}

	e, err := newEngine(ctx, cc, engineHooks{})
	if err != nil {
		return err
	}

	defer func() {
		if cerr := e.close(ctx); cerr != nil {
			cc.Logger.Warn("teardown failed", "error", cerr)
		}
	}()

	// Edits queued by earlier runs go out while this one reads.
	e.coord.Foreground()

	opened, err := e.coord.OpenDocument(ctx, d)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if !cc.Flags.JSON && opened.Cached {
		printDocument(out, opened.Document)
	}

	var res sync.FetchResult

	select {
	case res = <-opened.Done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if cc.Flags.JSON {
		o := openOutput{Cached: opened.Cached, Local: newDocumentView(opened.Document)}

		if res.Applied {
			v := newDocumentView(res.Document)
			o.Refreshed = &v
		}

		if res.Err != nil {
			o.Error = res.Err.Error()
		}

		return printJSON(out, o)
	}

	switch {
	case errors.Is(res.Err, sync.ErrNoDocument):
		return fmt.Errorf("no entry for %s: nothing cached and the remote is unreachable", d)
	case res.Applied:
		if opened.Cached {
			cc.Statusf("Updated from remote:\n")
		}

		printDocument(out, res.Document)
	case !opened.Cached:
		// Nothing local and nothing remote: a new, empty entry.
		printDocument(out, res.Document)
	}

	return nil
}
