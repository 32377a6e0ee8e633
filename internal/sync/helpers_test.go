package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

const testUser = "user-1"

var (
	may1 = day.MustParse("2024-05-01")
	may2 = day.MustParse("2024-05-02")
	may3 = day.MustParse("2024-05-03")

	t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func key(d day.Date) day.Key {
	return day.NewKey(testUser, d)
}

// fakeTimers replaces time.AfterFunc; timers only fire when the test says so.
type fakeTimers struct {
	mu     gosync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	owner *fakeTimers
	f     func()
	done  bool
}

func (ft *fakeTimers) after(_ time.Duration, f func()) stopper {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	t := &fakeTimer{owner: ft, f: f}
	ft.timers = append(ft.timers, t)

	return t
}

func (t *fakeTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()

	if t.done {
		return false
	}

	t.done = true

	return true
}

// armed returns the number of timers neither fired nor stopped.
func (ft *fakeTimers) armed() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	n := 0

	for _, t := range ft.timers {
		if !t.done {
			n++
		}
	}

	return n
}

// fireAll fires every armed timer.
func (ft *fakeTimers) fireAll() {
	ft.mu.Lock()

	var due []func()

	for _, t := range ft.timers {
		if !t.done {
			t.done = true
			due = append(due, t.f)
		}
	}

	ft.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// fakeRemote wraps the in-memory store with failure injection, gates that
// hold calls in flight, and call counters.
type fakeRemote struct {
	*remote.Memory

	mu         gosync.Mutex
	err        error // returned by every call while set
	upsertErr  error // returned by upserts while set
	fetchGates map[day.Date]chan struct{}
	writeGate  chan struct{}
	writing    chan struct{} // signaled as each write starts
	fetches    int
	upserts    int
	updates    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		Memory:     remote.NewMemory(),
		fetchGates: make(map[day.Date]chan struct{}),
		writing:    make(chan struct{}, 64),
	}
}

// writeAt stores content for d as another device would, stamped at.
func (r *fakeRemote) writeAt(t *testing.T, d day.Date, content string, at time.Time) *remote.Entry {
	t.Helper()

	r.Memory.SetClock(func() time.Time { return at })
	defer r.Memory.SetClock(time.Now)

	e, err := r.Memory.UpsertByDate(context.Background(), testUser, d, remote.Write{Content: content})
	require.NoError(t, err)

	return e
}

func (r *fakeRemote) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

func (r *fakeRemote) setUpsertErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upsertErr = err
}

// holdFetch makes fetches of d block until the returned func is called.
func (r *fakeRemote) holdFetch(d day.Date) func() {
	gate := make(chan struct{})

	r.mu.Lock()
	r.fetchGates[d] = gate
	r.mu.Unlock()

	return func() { close(gate) }
}

// holdWrites makes writes block until the returned func is called.
func (r *fakeRemote) holdWrites() func() {
	gate := make(chan struct{})

	r.mu.Lock()
	r.writeGate = gate
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		r.writeGate = nil
		r.mu.Unlock()
		close(gate)
	}
}

func (r *fakeRemote) counts() (fetches, upserts, updates int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fetches, r.upserts, r.updates
}

func (r *fakeRemote) FetchByDate(ctx context.Context, userID string, d day.Date) (*remote.Entry, error) {
	r.mu.Lock()
	r.fetches++
	gate, err := r.fetchGates[d], r.err
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}

	return r.Memory.FetchByDate(ctx, userID, d)
}

func (r *fakeRemote) UpsertByDate(ctx context.Context, userID string, d day.Date, w remote.Write) (*remote.Entry, error) {
	r.mu.Lock()
	r.upserts++
	gate, err := r.writeGate, r.err
	if err == nil {
		err = r.upsertErr
	}
	r.mu.Unlock()

	if err := r.waitWrite(ctx, gate); err != nil {
		return nil, err
	}

	if err != nil {
		return nil, err
	}

	return r.Memory.UpsertByDate(ctx, userID, d, w)
}

func (r *fakeRemote) UpdateByID(ctx context.Context, userID, id string, w remote.Write) (*remote.Entry, error) {
	r.mu.Lock()
	r.updates++
	gate, err := r.writeGate, r.err
	r.mu.Unlock()

	if err := r.waitWrite(ctx, gate); err != nil {
		return nil, err
	}

	if err != nil {
		return nil, err
	}

	return r.Memory.UpdateByID(ctx, userID, id, w)
}

func (r *fakeRemote) waitWrite(ctx context.Context, gate chan struct{}) error {
	r.writing <- struct{}{}

	if gate == nil {
		return nil
	}

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordingCleaner records removed media paths.
type recordingCleaner struct {
	mu      gosync.Mutex
	removed []string
}

func (c *recordingCleaner) Remove(_ context.Context, p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removed = append(c.removed, p)

	return nil
}

func (c *recordingCleaner) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.removed...)
}

// testEnv is a coordinator wired to fakes.
type testEnv struct {
	c       *Coordinator
	store   *kv.Memory
	remote  *fakeRemote
	timers  *fakeTimers
	cleaner *recordingCleaner
	clock   *testClock

	mu       gosync.Mutex
	docs     []Document
	failures []error
}

type testClock struct {
	mu  gosync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(time.Second)

	return c.now
}

func newTestEnv(t *testing.T, withRemote bool) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   kv.NewMemory(0),
		timers:  &fakeTimers{},
		cleaner: &recordingCleaner{},
		clock:   &testClock{now: t0},
	}

	cfg := &CoordinatorConfig{
		UserID:            testUser,
		Store:             env.store,
		Cleaner:           env.cleaner,
		DrainFailureLimit: 2,
		Logger:            testLogger(t),
		OnDocument: func(doc Document) {
			env.mu.Lock()
			defer env.mu.Unlock()

			env.docs = append(env.docs, doc)
		},
		OnFailure: func(_ day.Date, err error) {
			env.mu.Lock()
			defer env.mu.Unlock()

			env.failures = append(env.failures, err)
		},
	}

	if withRemote {
		env.remote = newFakeRemote()
		cfg.Remote = env.remote
	}

	c, err := NewCoordinator(cfg)
	require.NoError(t, err)

	c.afterFunc = env.timers.after
	c.nowFunc = env.clock.Now
	env.c = c

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = c.Close(ctx)
	})

	return env
}

func (e *testEnv) failureList() []error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]error(nil), e.failures...)
}

func (e *testEnv) documents() []Document {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]Document(nil), e.docs...)
}

// waitWriting blocks until the fake remote has started a write.
func (e *testEnv) waitWriting(t *testing.T) {
	t.Helper()

	select {
	case <-e.remote.writing:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a remote write")
	}
}

func (e *testEnv) remoteEntry(t *testing.T, d day.Date) *remote.Entry {
	t.Helper()

	entry, err := e.remote.Memory.FetchByDate(context.Background(), testUser, d)
	require.NoError(t, err)

	return entry
}

func waitResult(t *testing.T, o *Opened) FetchResult {
	t.Helper()

	select {
	case res := <-o.Done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fetch result")
		return FetchResult{}
	}
}
