package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tonimelisma/journal-sync/internal/sync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
// Method form of statusf, so quiet does not need threading through call chains.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
	sizeTB = 1024 * 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeTB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/float64(sizeTB))
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	// Compute column widths.
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	// Print header.
	printRow(w, headers, widths)

	// Print rows.
	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// stateStyles colors sync-state badges. lipgloss drops the color when
// stdout is not a terminal.
var stateStyles = map[sync.SyncState]lipgloss.Style{
	sync.StateSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	sync.StatePending: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	sync.StateLocal:   lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
	sync.StateFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
}

// stateBadge renders a sync state as a bracketed, colored label.
func stateBadge(s sync.SyncState) string {
	label := "[" + s.String() + "]"

	if style, ok := stateStyles[s]; ok {
		return style.Render(label)
	}

	return label
}

// documentView is the output form of a document.
type documentView struct {
	Date         string    `json:"date"`
	State        string    `json:"state"`
	Identity     string    `json:"identity,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
	Content      string    `json:"content"`
	Image        string    `json:"image_url,omitempty"`
	Audio        string    `json:"audio_url,omitempty"`
}

func newDocumentView(doc sync.Document) documentView {
	return documentView{
		Date:         doc.Date.String(),
		State:        doc.State.String(),
		Identity:     doc.Identity,
		LastModified: doc.LastModified,
		Content:      doc.Content,
		Image:        doc.Media.Image,
		Audio:        doc.Media.Audio,
	}
}

// printDocument writes a document header line followed by its content and
// media references.
func printDocument(w io.Writer, doc sync.Document) {
	header := doc.Date.String() + "  " + stateBadge(doc.State)
	if !doc.LastModified.IsZero() {
		header += "  " + formatTime(doc.LastModified.Local())
	}

	fmt.Fprintln(w, header)

	if doc.Content != "" {
		fmt.Fprintln(w, doc.Content)
	}

	if doc.Media.Image != "" {
		fmt.Fprintf(w, "image: %s\n", doc.Media.Image)
	}

	if doc.Media.Audio != "" {
		fmt.Fprintf(w, "audio: %s\n", doc.Media.Audio)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
