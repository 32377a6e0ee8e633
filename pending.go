package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List edits waiting for the remote store",
		Args:  cobra.NoArgs,
		RunE:  runPending,
	}
}

// pendingView is the output form of one queued edit.
type pendingView struct {
	Date         string    `json:"date"`
	LastModified time.Time `json:"last_modified"`
	Chars        int       `json:"chars"`
	Image        string    `json:"image_url,omitempty"`
	Audio        string    `json:"audio_url,omitempty"`
}

func runPending(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	e, err := newEngine(ctx, cc, engineHooks{})
	if err != nil {
		return err
	}

	recs, err := e.coord.Pending(ctx)

	if cerr := e.close(ctx); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		return err
	}

	views := make([]pendingView, 0, len(recs))
	for _, r := range recs {
		views = append(views, pendingView{
			Date:         r.Date.String(),
			LastModified: r.LastModified,
			Chars:        len([]rune(r.Content)),
			Image:        r.Media.Image,
			Audio:        r.Media.Audio,
		})
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), views)
	}

	if len(views) == 0 {
		cc.Statusf("No pending edits.\n")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			v.Date,
			formatTime(v.LastModified.Local()),
			strconv.Itoa(v.Chars),
			mediaSummary(v.Image, v.Audio),
		})
	}

	printTable(cmd.OutOrStdout(), []string{"DATE", "MODIFIED", "CHARS", "MEDIA"}, rows)
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d pending edit(s)\n", len(views))

	return nil
}

// mediaSummary names the attached media kinds.
func mediaSummary(image, audio string) string {
	switch {
	case image != "" && audio != "":
		return "image+audio"
	case image != "":
		return "image"
	case audio != "":
		return "audio"
	default:
		return "-"
	}
}
