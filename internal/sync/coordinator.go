package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
	"github.com/tonimelisma/journal-sync/internal/media"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

// Coordinator defaults.
const (
	DefaultDebounce     = 3 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// CoordinatorConfig holds the options for NewCoordinator.
type CoordinatorConfig struct {
	UserID            string
	Store             kv.Store      // local persistence for cache, queue and bindings
	Remote            remote.Store  // nil runs fully offline
	Cleaner           media.Cleaner // optional: removes media orphaned by a confirmed write
	Debounce          time.Duration // save debounce window; zero means DefaultDebounce
	FetchTimeout      time.Duration // bound on each remote fetch; zero means DefaultFetchTimeout
	DrainFailureLimit int           // consecutive drain failures before escalation
	Logger            *slog.Logger

	// OnDocument is called when the active document changes outside of the
	// caller's own ScheduleSave: a remote refresh or a completed write.
	OnDocument func(Document)
	// OnFailure is called for escalated failures only: identity
	// inconsistency after the rebind retry, and drain exhaustion.
	OnFailure func(day.Date, error)
}

// Opened is the immediate result of OpenDocument.
type Opened struct {
	Date     day.Date
	Document Document // local state, possibly stale
	Cached   bool     // whether any local state existed

	// Done receives exactly one FetchResult once the remote refresh
	// settles, then closes.
	Done <-chan FetchResult
}

// FetchResult is the outcome of the remote refresh started by OpenDocument.
type FetchResult struct {
	Document  Document // state of the document after the refresh
	Applied   bool     // remote content replaced local state
	Discarded bool     // the navigation guard dropped the result
	Err       error    // ErrNoDocument when nothing local exists and the remote failed
}

// docState is the in-memory view of one document.
type docState struct {
	Document
	known       bool         // local state exists (cache, queue, or edits)
	remoteMedia remote.Media // media last confirmed by the remote store
}

// stopper stops a pending timer.
type stopper interface {
	Stop() bool
}

// Coordinator is the Sync Coordinator. It is safe for concurrent use; all
// shared state is guarded by one mutex, and no remote call is made while it
// is held.
type Coordinator struct {
	mu          sync.Mutex
	session     *Session
	docs        map[day.Date]*docState
	debouncers  map[day.Date]*debouncer
	online      bool
	closed      bool
	fetchCancel context.CancelFunc

	cache    *Cache
	queue    *Queue
	binder   *Binder
	remote   remote.Store
	cleaner  media.Cleaner
	failures *failureTracker

	debounce     time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	onDocument   func(Document)
	onFailure    func(day.Date, error)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drainMu sync.Mutex

	nowFunc   func() time.Time
	afterFunc func(d time.Duration, f func()) stopper
}

// NewCoordinator creates a Coordinator for one user.
func NewCoordinator(cfg *CoordinatorConfig) (*Coordinator, error) {
	if cfg.UserID == "" {
		return nil, ErrNoUser
	}

	if cfg.Store == nil {
		return nil, errors.New("sync: coordinator requires a store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With(slog.String("user_id", cfg.UserID))

	cleaner := cfg.Cleaner
	if cleaner == nil {
		cleaner = media.Noop{}
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}

	cache := NewCache(cfg.Store, logger)
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		session:      NewSession(cfg.UserID),
		docs:         make(map[day.Date]*docState),
		debouncers:   make(map[day.Date]*debouncer),
		online:       cfg.Remote != nil,
		cache:        cache,
		queue:        NewQueue(cfg.Store, cache, logger),
		binder:       NewBinder(cfg.Store, cfg.Remote, logger),
		remote:       cfg.Remote,
		cleaner:      cleaner,
		failures:     newFailureTracker(cfg.DrainFailureLimit, logger),
		debounce:     debounce,
		fetchTimeout: fetchTimeout,
		logger:       logger,
		onDocument:   cfg.OnDocument,
		onFailure:    cfg.OnFailure,
		ctx:          ctx,
		cancel:       cancel,
		nowFunc:      time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}, nil
}

// UserID returns the user this coordinator serves.
func (c *Coordinator) UserID() string {
	return c.session.UserID
}

// Active returns the currently active date.
func (c *Coordinator) Active() day.Date {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session.Active
}

// Online reports whether the coordinator currently believes the remote
// store is reachable.
func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.online
}

// OpenDocument makes d the active date and returns its local state at once.
// Leaving the previous date flushes its pending edit and cancels its fetch.
// A remote refresh runs in the background; its outcome arrives on
// Opened.Done and, when applied, through OnDocument.
func (c *Coordinator) OpenDocument(ctx context.Context, d day.Date) (*Opened, error) {
	if d.IsZero() {
		return nil, errors.New("sync: open: date is required")
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	if prev := c.session.Active; !prev.IsZero() && prev != d {
		c.signalLocked(prev, eventKeyChanged)
	}

	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}

	c.session.Active = d
	t := c.session.issueFetch(d)
	ds := c.docLocked(ctx, d)

	done := make(chan FetchResult, 1)
	opened := &Opened{Date: d, Document: ds.Document, Cached: ds.known, Done: done}

	if c.remote == nil {
		res := FetchResult{Document: ds.Document}
		if !ds.known {
			res.Err = ErrNoDocument
		}

		c.mu.Unlock()

		done <- res
		close(done)

		return opened, nil
	}

	fctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	c.fetchCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("document opened",
		slog.String("date", d.String()),
		slog.Bool("cached", ds.known),
		slog.String("state", ds.State.String()),
	)

	go func() {
		defer c.wg.Done()
		defer cancel()

		done <- c.fetch(fctx, t)
		close(done)
	}()

	return opened, nil
}

// Document returns the local state of d without contacting the remote.
func (c *Coordinator) Document(ctx context.Context, d day.Date) (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds := c.docLocked(ctx, d)

	return ds.Document, ds.known
}

// ScheduleSave records an edit of d. The edit is written to the local
// cache immediately and sent after the debounce window, or sooner on
// Blur, Flush, a date change, or Close. Only the newest edit within a
// window is sent. The returned state is pending, or local when offline.
func (c *Coordinator) ScheduleSave(ctx context.Context, d day.Date, content string, refs remote.Media) (SyncState, error) {
	if d.IsZero() {
		return StateFailed, errors.New("sync: save: date is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return StateFailed, ErrClosed
	}

	ds := c.docLocked(ctx, d)
	t := c.session.issueEdit(d)
	now := c.nowFunc().UTC()

	ds.Content = norm.NFC.String(content)
	ds.Media = refs
	ds.LastModified = now
	ds.known = true

	if c.online {
		ds.State = StatePending
	} else {
		ds.State = StateLocal
	}

	c.cache.Write(ctx, t.Key(), ds.Document)

	snap := &snapshot{ticket: t, content: ds.Content, media: refs, modified: now}
	c.applyLocked(d, c.debouncerLocked(d).on(eventEdit, snap))

	return ds.State, nil
}

// Blur flushes d's pending edit without waiting for the debounce window.
func (c *Coordinator) Blur(d day.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.signalLocked(d, eventBlur)
}

// Flush sends d's pending edit now and waits for the write (or its
// fallback to the queue) to finish. It returns the document's state.
func (c *Coordinator) Flush(ctx context.Context, d day.Date) (SyncState, error) {
	c.mu.Lock()
	c.signalLocked(d, eventBlur)
	idle := c.debouncerLocked(d).wait()
	c.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return StatePending, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.docLocked(ctx, d).State, nil
}

// Close flushes every date with a pending edit, waits for the writes to
// settle or ctx to end, and stops background work. Edits that could not
// be written remain in the durable queue.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true

	idle := make([]<-chan struct{}, 0, len(c.debouncers))
	for d, db := range c.debouncers {
		c.signalLocked(d, eventTeardown)
		idle = append(idle, db.wait())
	}

	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}

	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range idle {
		g.Go(func() error {
			select {
			case <-ch:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	err := g.Wait()

	// Let a background drain or refresh finish while ctx allows.
	settled := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(settled)
	}()

	select {
	case <-settled:
	case <-ctx.Done():
	}

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	for _, db := range c.debouncers {
		if db.stop != nil {
			db.stop()
			db.stop = nil
		}
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("sync: teardown flush: %w", err)
	}

	c.logger.Debug("coordinator closed")

	return nil
}

// SetOnline records a connectivity change reported by the application.
// Going online starts a drain of the pending queue.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()

	var drain bool
	if online {
		drain = c.markOnlineLocked()
	} else {
		c.markOfflineLocked(nil)
	}

	c.mu.Unlock()

	if drain {
		c.drainAsync()
	}
}

// Foreground drains the pending queue in the background. Callers invoke it
// when the application starts or returns to the foreground, so edits queued
// by an earlier session are sent without waiting for a reconnect.
func (c *Coordinator) Foreground() {
	if c.remote == nil {
		return
	}

	c.drainAsync()
}

// RemoteChanged handles a change notification from the remote feed. A
// change to the active, clean document triggers a guarded refetch.
func (c *Coordinator) RemoteChanged(ch remote.Change) {
	c.mu.Lock()

	if c.closed || c.remote == nil || ch.UserID != c.session.UserID || ch.Date != c.session.Active {
		c.mu.Unlock()
		return
	}

	d := ch.Date

	if db := c.debouncers[d]; db != nil && db.dirty() {
		c.mu.Unlock()
		return
	}

	if ds := c.docs[d]; ds != nil && ds.State == StateSynced && !ds.LastModified.Before(ch.UpdatedAt) {
		c.mu.Unlock()
		return
	}

	if c.fetchCancel != nil {
		c.fetchCancel()
	}

	t := c.session.issueFetch(d)
	fctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	c.fetchCancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("remote change, refreshing", slog.String("date", d.String()))

	go func() {
		defer c.wg.Done()
		defer cancel()

		c.fetch(fctx, t)
	}()
}

// Pending lists the queued writes for this user in date order.
func (c *Coordinator) Pending(ctx context.Context) ([]PendingRecord, error) {
	return c.queue.List(ctx, c.session.UserID)
}

// FeedHandler adapts the coordinator to remote.FeedHandler: connecting
// marks the remote reachable (draining the queue) and changes trigger
// refreshes.
func (c *Coordinator) FeedHandler() remote.FeedHandler {
	return feedHandler{c: c}
}

type feedHandler struct {
	c *Coordinator
}

// Connected drains on every (re)connect, including the first one, when the
// coordinator may already consider itself online.
func (h feedHandler) Connected() {
	h.c.mu.Lock()
	h.c.markOnlineLocked()
	h.c.mu.Unlock()

	h.c.Foreground()
}

func (h feedHandler) Disconnected(error)       { h.c.SetOnline(false) }
func (h feedHandler) Changed(ch remote.Change) { h.c.RemoteChanged(ch) }

// fetch runs one remote refresh and applies it if the guard admits it.
func (c *Coordinator) fetch(ctx context.Context, t ticket) FetchResult {
	entry, err := c.remote.FetchByDate(ctx, t.userID, t.date)
	if err == nil {
		c.binder.Observe(c.ctx, t.Key(), entry)
	}

	c.mu.Lock()

	var (
		events []func()
		drain  bool
	)

	canceled := errors.Is(err, context.Canceled)

	switch {
	case err == nil, errors.Is(err, remote.ErrNotFound):
		drain = c.markOnlineLocked()
	case !canceled:
		c.markOfflineLocked(err)
	}

	ds := c.docLocked(c.ctx, t.date)
	res := FetchResult{Document: ds.Document}

	switch {
	case !c.session.admitFetch(t):
		c.logger.Debug("discarding stale fetch",
			slog.String("date", t.date.String()),
			slog.String("active", c.session.Active.String()),
		)

		res.Discarded = true

	case errors.Is(err, remote.ErrNotFound):
		// Nothing remote yet: the local state (if any) is the document.

	case err != nil:
		if canceled {
			res.Discarded = true
		} else if !ds.known {
			res.Err = fmt.Errorf("%w: %w", ErrNoDocument, err)
		}

	default:
		if reason := c.protectLocked(c.ctx, t.Key(), entry); reason != "" {
			c.logger.Debug("keeping local edits over fetched copy",
				slog.String("date", t.date.String()),
				slog.String("reason", reason),
			)

			break
		}

		c.adoptLocked(c.ctx, t.Key(), entry)

		res.Applied = true
		res.Document = c.docs[t.date].Document

		if c.onDocument != nil {
			doc := res.Document
			events = append(events, func() { c.onDocument(doc) })
		}
	}

	c.mu.Unlock()

	for _, ev := range events {
		ev()
	}

	if drain {
		c.drainAsync()
	}

	return res
}

// protectLocked returns a non-empty reason when fetched remote content must
// not replace local state for k.
func (c *Coordinator) protectLocked(ctx context.Context, k day.Key, entry *remote.Entry) string {
	if db := c.debouncers[k.Date]; db != nil && db.dirty() {
		return "unsaved edit"
	}

	if rec, ok, err := c.queue.Get(ctx, k.UserID, k.Date); err == nil && ok && !rec.LastModified.Before(entry.UpdatedAt) {
		return "newer pending write"
	}

	if ds := c.docs[k.Date]; ds != nil && ds.known && ds.State != StateSynced && !ds.LastModified.Before(entry.UpdatedAt) {
		return "newer local state"
	}

	return ""
}

// adoptLocked makes entry the local state of k.
func (c *Coordinator) adoptLocked(ctx context.Context, k day.Key, entry *remote.Entry) {
	ds := c.docLocked(ctx, k.Date)

	ds.Document = Document{
		Date:         k.Date,
		Identity:     entry.ID,
		Content:      entry.Content,
		Media:        entry.Media,
		LastModified: entry.UpdatedAt,
		State:        StateSynced,
	}
	ds.known = true
	ds.remoteMedia = entry.Media

	c.cache.Write(ctx, k, ds.Document)
}

// runFlush writes one snapshot. It runs on its own goroutine; writes for
// one date never overlap because the debouncer allows one flush at a time.
func (c *Coordinator) runFlush(s snapshot) {
	defer c.wg.Done()

	k := s.Key()
	w := remote.Write{Content: s.content, Media: s.media}

	c.mu.Lock()
	online := c.online && c.remote != nil
	c.mu.Unlock()

	var (
		entry *remote.Entry
		err   error
	)

	if online {
		entry, err = c.binder.Write(c.ctx, k, w)
	}

	// The commit must land even if Close canceled c.ctx mid-write.
	ctx := context.WithoutCancel(c.ctx)

	c.mu.Lock()

	var (
		events  []func()
		orphans []string
		drain   bool
	)

	ds := c.docLocked(ctx, s.date)
	latest := c.session.latestEdit(s.ticket)

	switch {
	case online && err == nil:
		drain = c.markOnlineLocked()
		c.failures.recordSuccess(k)

		if _, serr := c.queue.Settle(ctx, k.UserID, PendingRecord{Date: s.date, LastModified: s.modified}); serr != nil {
			c.logger.Warn("clearing settled pending write failed", slog.String("error", serr.Error()))
		}

		orphans = media.Orphaned(ds.remoteMedia, entry.Media)
		ds.remoteMedia = entry.Media
		ds.Identity = entry.ID

		if latest {
			ds.LastModified = entry.UpdatedAt
			ds.State = StateSynced
		}

		c.cache.Write(ctx, k, ds.Document)

		c.logger.Debug("save confirmed",
			slog.String("date", s.date.String()),
			slog.String("identity", entry.ID),
			slog.Bool("superseded", !latest),
		)

	default:
		state := StatePending

		switch {
		case errors.Is(err, ErrIdentityInconsistent):
			state = StateFailed

			c.logger.Error("save failed after rebind retry",
				slog.String("date", s.date.String()),
				slog.String("error", err.Error()),
			)

			if c.onFailure != nil {
				d, ferr := s.date, err
				events = append(events, func() { c.onFailure(d, ferr) })
			}

		case err != nil:
			c.markOfflineLocked(err)
		}

		if qerr := c.queue.Enqueue(ctx, k.UserID, PendingRecord{
			Date:         s.date,
			Content:      s.content,
			Media:        s.media,
			LastModified: s.modified,
		}); qerr != nil {
			state = StateFailed

			c.logger.Error("queueing write failed", slog.String("date", s.date.String()), slog.String("error", qerr.Error()))
		}

		if latest {
			ds.State = state
			c.cache.Write(ctx, k, ds.Document)
		}
	}

	c.applyLocked(s.date, c.debouncerLocked(s.date).on(eventFlushed, nil))

	if latest && c.onDocument != nil && c.session.admitView(s.ticket) {
		doc := ds.Document
		events = append(events, func() { c.onDocument(doc) })
	} else if !c.session.admitView(s.ticket) {
		c.logger.Debug("flush completed off the active date",
			slog.String("date", s.date.String()),
			slog.String("active", c.session.Active.String()),
		)
	}

	c.mu.Unlock()

	for _, ev := range events {
		ev()
	}

	c.cleanup(ctx, s.date, orphans)

	if drain {
		c.drainAsync()
	}
}

// cleanup removes media orphaned by a confirmed write. Failures leave the
// orphan in place; the document write stands.
func (c *Coordinator) cleanup(ctx context.Context, d day.Date, paths []string) {
	for _, p := range paths {
		if err := c.cleaner.Remove(ctx, p); err != nil {
			c.logger.Warn("orphaned media left behind",
				slog.String("date", d.String()),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
}

// signalLocked feeds a flush trigger to d's debouncer.
func (c *Coordinator) signalLocked(d day.Date, ev saveEvent) {
	db, ok := c.debouncers[d]
	if !ok {
		return
	}

	c.applyLocked(d, db.on(ev, nil))
}

// applyLocked carries out a debouncer step for d.
func (c *Coordinator) applyLocked(d day.Date, st step) {
	db := c.debouncerLocked(d)

	if (st.disarm || st.arm) && db.stop != nil {
		db.stop()
		db.stop = nil
	}

	if st.arm {
		db.timerGen++
		gen := db.timerGen
		db.stop = c.afterFunc(c.debounce, func() { c.timerFired(d, gen) }).Stop
	}

	if st.flush != nil {
		c.wg.Add(1)

		go c.runFlush(*st.flush)
	}

	db.release()
}

func (c *Coordinator) timerFired(d day.Date, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, ok := c.debouncers[d]
	if !ok || db.timerGen != gen {
		return
	}

	db.stop = nil
	c.applyLocked(d, db.on(eventTimerFired, nil))
}

func (c *Coordinator) debouncerLocked(d day.Date) *debouncer {
	db, ok := c.debouncers[d]
	if !ok {
		db = &debouncer{}
		c.debouncers[d] = db
	}

	return db
}

// docLocked returns the in-memory state of d, loading it from the cache
// and pending queue on first use.
func (c *Coordinator) docLocked(ctx context.Context, d day.Date) *docState {
	if ds, ok := c.docs[d]; ok {
		return ds
	}

	k := day.NewKey(c.session.UserID, d)
	ds := &docState{Document: Document{Date: d, State: StateLocal}}

	if doc, ok := c.cache.Read(ctx, k); ok {
		ds.Document = doc
		ds.known = true

		if doc.State == StateSynced {
			ds.remoteMedia = doc.Media
		}
	}

	rec, ok, err := c.queue.Get(ctx, k.UserID, d)
	if err != nil {
		c.logger.Warn("reading pending write failed", slog.String("date", d.String()), slog.String("error", err.Error()))
	}

	if ok && (!ds.known || !rec.LastModified.Before(ds.LastModified)) {
		ds.Content = rec.Content
		ds.Media = rec.Media
		ds.LastModified = rec.LastModified

		if ds.State != StateFailed {
			ds.State = StatePending
		}

		ds.known = true
	}

	if ds.Identity == "" {
		ds.Identity = c.binder.Identity(ctx, k)
	}

	c.docs[d] = ds

	return ds
}

// markOnlineLocked records that the remote answered. It reports whether
// this is a transition from offline, which warrants a drain.
func (c *Coordinator) markOnlineLocked() bool {
	if c.online || c.remote == nil {
		return false
	}

	c.online = true
	c.logger.Info("remote reachable, switching to online")

	return !c.closed
}

// markOfflineLocked records that the remote could not be used. Any failed
// remote operation counts, not only an explicit connectivity signal.
func (c *Coordinator) markOfflineLocked(cause error) {
	if !c.online {
		return
	}

	c.online = false

	attrs := []any{}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}

	c.logger.Info("remote unreachable, switching to offline", attrs...)
}

func (c *Coordinator) drainAsync() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.Drain(c.ctx)
	}()
}
