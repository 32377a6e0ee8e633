package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/remote"
	"github.com/tonimelisma/journal-sync/internal/sync"
)

// writeFlags holds the media flags of the write command.
type writeFlags struct {
	image      string
	audio      string
	clearImage bool
	clearAudio bool
}

func newWriteCmd() *cobra.Command {
	var f writeFlags

	cmd := &cobra.Command{
		Use:   "write [date] [text]",
		Short: "Replace the journal entry for a date",
		Long: `Replace the text of the entry for a date (default today). The text is read
from stdin when it is not given as an argument. The edit is saved locally,
then sent to the remote store; when the remote is unreachable it stays
queued and is sent by a later drain.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args, f)
		},
	}

	cmd.Flags().StringVar(&f.image, "image", "", "attach an image by storage path")
	cmd.Flags().StringVar(&f.audio, "audio", "", "attach an audio note by storage path")
	cmd.Flags().BoolVar(&f.clearImage, "clear-image", false, "remove the attached image")
	cmd.Flags().BoolVar(&f.clearAudio, "clear-audio", false, "remove the attached audio note")

	cmd.MarkFlagsMutuallyExclusive("image", "clear-image")
	cmd.MarkFlagsMutuallyExclusive("audio", "clear-audio")

	return cmd
}

// writeOutput is the JSON form of the write command.
type writeOutput struct {
	Document documentView `json:"document"`
	Error    string       `json:"error,omitempty"`
}

func runWrite(cmd *cobra.Command, args []string, f writeFlags) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	d, err := dateArg(args, time.Now())
	if err != nil {
		return err
	}

	var content string
	if len(args) == 2 {
		content = args[1]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}

		content = strings.TrimRight(string(data), "\n")
	}

	var escalated error

	e, err := newEngine(ctx, cc, engineHooks{
		onFailure: func(_ day.Date, err error) { escalated = err },
	})
	if err != nil {
		return err
	}

	doc, err := saveEntry(ctx, e, d, content, f)
	if err == nil && doc.State == sync.StateSynced {
		e.coord.Foreground()
	}

	if cerr := e.close(ctx); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		o := writeOutput{Document: newDocumentView(doc)}
		if escalated != nil {
			o.Error = escalated.Error()
		}

		if err := printJSON(cmd.OutOrStdout(), o); err != nil {
			return err
		}
	} else {
		cc.Statusf("Saved %s %s\n", d, stateBadge(doc.State))

		if doc.State == sync.StatePending || doc.State == sync.StateLocal {
			cc.Statusf("Remote unreachable: the edit is queued for the next drain.\n")
		}
	}

	if escalated != nil {
		return escalation(escalated)
	}

	return nil
}

// saveEntry opens d, applies the edit on top of the freshest media
// references, and flushes it.
func saveEntry(ctx context.Context, e *engine, d day.Date, content string, f writeFlags) (sync.Document, error) {
	opened, err := e.coord.OpenDocument(ctx, d)
	if err != nil {
		return sync.Document{}, err
	}

	base := opened.Document

	select {
	case res := <-opened.Done:
		if res.Err == nil {
			base = res.Document
		}
	case <-ctx.Done():
		return sync.Document{}, ctx.Err()
	}

	if _, err := e.coord.ScheduleSave(ctx, d, content, applyMediaFlags(base.Media, f)); err != nil {
		return sync.Document{}, err
	}

	if _, err := e.coord.Flush(ctx, d); err != nil {
		return sync.Document{}, err
	}

	doc, _ := e.coord.Document(ctx, d)

	return doc, nil
}

// applyMediaFlags returns the media references after the write flags.
func applyMediaFlags(m remote.Media, f writeFlags) remote.Media {
	switch {
	case f.clearImage:
		m.Image = ""
	case f.image != "":
		m.Image = f.image
	}

	switch {
	case f.clearAudio:
		m.Audio = ""
	case f.audio != "":
		m.Audio = f.audio
	}

	return m
}
