package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/remote"
	"github.com/tonimelisma/journal-sync/internal/sync"
)

// Watcher error backoff parameters.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// errWatcherClosed stops the watch when the file watcher goes away.
var errWatcherClosed = errors.New("file watcher closed")

// draftExt is the file extension of draft files.
const draftExt = ".md"

// draftFilePermissions: owner rw, group/other r.
const draftFilePermissions = 0o644

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dir>",
		Short: "Sync a directory of daily drafts continuously",
		Long: `Watch a directory of YYYY-MM-DD.md drafts. Saving a draft schedules a save
of that date's entry; moving to another date's draft flushes the previous
one. Entries refreshed from the remote store are written back to their
drafts unless the draft has unsaved local changes.

Queued edits are drained every drain_interval, on reconnect to the change
feed, and on SIGHUP. SIGINT or SIGTERM flushes pending edits and exits.`,
		Args: cobra.ExactArgs(1),
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	dir := args[0]

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watch directory: %s is not a directory", dir)
	}

	if pidPath := pidFilePath(cc.Cfg.StorePath); pidPath != "" {
		cleanup, err := writePIDFile(pidPath)
		if err != nil {
			return err
		}

		defer cleanup()
	}

	ctx := shutdownContext(cmd.Context(), logger)

	dw := newDraftWatcher(dir, logger)

	e, err := newEngine(ctx, cc, engineHooks{
		onDocument: dw.refresh,
		onFailure: func(d day.Date, err error) {
			logger.Error("entry needs attention", slog.String("date", d.String()), slog.String("error", err.Error()))
			cc.Statusf("%s needs attention: %v\n", d, err)
		},
	})
	if err != nil {
		return err
	}

	dw.coord = e.coord
	e.coord.Foreground()

	fw, err := newFsWatcher()
	if err != nil {
		e.close(ctx)
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		e.close(ctx)
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	cc.Statusf("Watching %s (user %s, %s)\n", dir, e.coord.UserID(), onlineLabel(e.coord.Online()))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dw.run(gctx, fw, day.Today(time.Now()))
	})

	if e.client != nil {
		g.Go(func() error {
			return drainLoop(gctx, e.coord, cc.Cfg.DrainInterval, hup, logger)
		})

		if cc.Cfg.Websocket {
			feed := remote.NewFeed(cc.Cfg.RemoteURL, e.tokens, e.coord.FeedHandler(), logger)
			g.Go(func() error {
				return feed.Run(gctx)
			})
		}
	}

	err = g.Wait()

	cc.Statusf("Flushing pending edits...\n")

	if cerr := e.close(ctx); cerr != nil && err == nil {
		err = cerr
	}

	return err
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}

	return "offline"
}

// drainLoop drains the pending queue every interval and whenever a SIGHUP
// arrives.
func drainLoop(ctx context.Context, coord *sync.Coordinator, interval time.Duration, hup <-chan os.Signal, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-hup:
			logger.Info("drain requested by signal")
		}

		coord.Drain(ctx)
	}
}

// fsWatcher abstracts fsnotify.Watcher so tests can feed events directly.
type fsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsWatcher() (fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// draftWatcher maps draft files to coordinator operations. All of its
// state is owned by the run goroutine; coordinator callbacks reach it
// through the refreshed channel.
type draftWatcher struct {
	dir       string
	coord     *sync.Coordinator
	logger    *slog.Logger
	refreshed chan sync.Document

	active day.Date
	// known is the draft content last read from or written to disk, per
	// date. A draft whose content differs from it has local changes that
	// have not been picked up yet.
	known map[day.Date]string
}

func newDraftWatcher(dir string, logger *slog.Logger) *draftWatcher {
	return &draftWatcher{
		dir:       dir,
		logger:    logger,
		refreshed: make(chan sync.Document, 8),
		known:     make(map[day.Date]string),
	}
}

// refresh hands a document to the run goroutine. It never blocks the
// coordinator; when the run goroutine is behind or gone the update is
// dropped and the draft keeps its content.
func (w *draftWatcher) refresh(doc sync.Document) {
	select {
	case w.refreshed <- doc:
	default:
		w.logger.Debug("draft refresh dropped", slog.String("date", doc.Date.String()))
	}
}

// run opens start and processes draft events until ctx is canceled.
func (w *draftWatcher) run(ctx context.Context, fw fsWatcher, start day.Date) error {
	if err := w.open(ctx, start, true); err != nil {
		return err
	}

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return errWatcherClosed
			}

			w.handleFsEvent(ctx, ev)

			errBackoff = watchErrInitBackoff

		case doc := <-w.refreshed:
			w.handleRefresh(doc)

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return errWatcherClosed
			}

			w.logger.Warn("draft watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// open makes d the active date. With materialize set, the refreshed local
// state is written to the draft once the remote refresh settles.
func (w *draftWatcher) open(ctx context.Context, d day.Date, materialize bool) error {
	opened, err := w.coord.OpenDocument(ctx, d)
	if err != nil {
		return err
	}

	w.active = d

	if materialize {
		go func() {
			res, ok := <-opened.Done
			if ok && res.Err == nil && !res.Applied {
				w.refresh(res.Document)
			}
		}()
	}

	return nil
}

// handleFsEvent schedules a save when a draft was created or written.
func (w *draftWatcher) handleFsEvent(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	d, ok := draftDate(filepath.Base(ev.Name))
	if !ok {
		return
	}

	data, err := os.ReadFile(ev.Name)
	if err != nil {
		// The draft may have been replaced again already.
		w.logger.Debug("reading draft failed", slog.String("path", ev.Name), slog.String("error", err.Error()))
		return
	}

	content := draftContent(data)
	w.known[d] = content

	if d != w.active {
		if err := w.open(ctx, d, false); err != nil {
			w.logger.Warn("opening date failed", slog.String("date", d.String()), slog.String("error", err.Error()))
			return
		}
	}

	cur, _ := w.coord.Document(ctx, d)
	if cur.Content == content {
		return
	}

	state, err := w.coord.ScheduleSave(ctx, d, content, cur.Media)
	if err != nil {
		w.logger.Warn("scheduling save failed", slog.String("date", d.String()), slog.String("error", err.Error()))
		return
	}

	w.logger.Debug("draft saved",
		slog.String("date", d.String()),
		slog.String("state", state.String()),
	)
}

// handleRefresh writes a document refreshed from the remote store to its
// draft, unless the draft holds changes not yet picked up.
func (w *draftWatcher) handleRefresh(doc sync.Document) {
	if doc.Date.IsZero() {
		return
	}

	path := draftPath(w.dir, doc.Date)

	data, err := os.ReadFile(path)

	switch {
	case err == nil:
		onDisk := draftContent(data)
		if onDisk == doc.Content {
			w.known[doc.Date] = onDisk
			return
		}

		if known, ok := w.known[doc.Date]; !ok || known != onDisk {
			w.logger.Info("draft has local changes, not overwriting",
				slog.String("date", doc.Date.String()),
			)

			return
		}
	case errors.Is(err, os.ErrNotExist):
		if doc.IsEmpty() {
			return
		}
	default:
		w.logger.Warn("reading draft failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	if err := writeDraft(path, doc.Content); err != nil {
		w.logger.Warn("writing draft failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	w.known[doc.Date] = doc.Content

	w.logger.Debug("draft updated from remote", slog.String("date", doc.Date.String()))
}

// draftDate parses a draft file name ("2024-05-01.md").
func draftDate(name string) (day.Date, bool) {
	stem, ok := strings.CutSuffix(name, draftExt)
	if !ok {
		return day.Date{}, false
	}

	d, err := day.Parse(stem)
	if err != nil {
		return day.Date{}, false
	}

	return d, true
}

func draftPath(dir string, d day.Date) string {
	return filepath.Join(dir, d.String()+draftExt)
}

// draftContent is the entry text held by a draft file: NFC-normalized,
// without trailing newlines.
func draftContent(data []byte) string {
	return norm.NFC.String(strings.TrimRight(string(data), "\r\n"))
}

// writeDraft replaces the draft at path via a temp file and rename. The
// temp name never parses as a draft, so the watcher ignores it.
func writeDraft(path, content string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".draft-*.tmp")
	if err != nil {
		return err
	}

	tmp := f.Name()

	if _, err := f.WriteString(content + "\n"); err != nil {
		f.Close()
		os.Remove(tmp)

		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Chmod(tmp, draftFilePermissions); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}
