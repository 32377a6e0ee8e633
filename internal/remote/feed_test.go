package remote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler collects feed events.
type recordingHandler struct {
	mu           sync.Mutex
	connects     int
	disconnects  int
	changes      []Change
	connectedSig chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{connectedSig: make(chan struct{}, 8)}
}

func (h *recordingHandler) Connected() {
	h.mu.Lock()
	h.connects++
	h.mu.Unlock()

	select {
	case h.connectedSig <- struct{}{}:
	default:
	}
}

func (h *recordingHandler) Disconnected(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
}

func (h *recordingHandler) Changed(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, c)
}

func (h *recordingHandler) snapshot() (int, int, []Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.connects, h.disconnects, append([]Change(nil), h.changes...)
}

func TestFeed_DeliversChangesForUser(t *testing.T) {
	t.Parallel()

	c, _, hub, srv := newTestAPI(t)
	rec := newRecordingHandler()

	feed := NewFeed(srv.URL, StaticToken("tok-u1"), rec, testLogger(t))
	feed.sleepFunc = noopSleep

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = feed.Run(ctx)
	}()

	select {
	case <-rec.connectedSig:
	case <-time.After(5 * time.Second):
		t.Fatal("feed never connected")
	}

	require.Eventually(t, func() bool { return hub.Subscribers("u1") == 1 }, 5*time.Second, 10*time.Millisecond)

	e, err := c.UpsertByDate(context.Background(), "", may1, Write{Content: "x"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, changes := rec.snapshot()
		return len(changes) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, _, changes := rec.snapshot()
	assert.Equal(t, e.ID, changes[0].ID)
	assert.Equal(t, may1, changes[0].Date)

	cancel()
	<-done
}

func TestFeed_ReconnectsAfterServerClose(t *testing.T) {
	t.Parallel()

	_, _, hub, srv := newTestAPI(t)
	rec := newRecordingHandler()

	feed := NewFeed(srv.URL, StaticToken("tok-u1"), rec, testLogger(t))
	feed.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = feed.Run(ctx) }()

	<-rec.connectedSig

	// Closing the hub ends every subscription; the next connection fails
	// to subscribe and is closed at once, so the feed keeps reconnecting.
	hub.Close()

	require.Eventually(t, func() bool {
		connects, disconnects, _ := rec.snapshot()
		return connects >= 2 && disconnects >= 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFeed_BadTokenNeverConnects(t *testing.T) {
	t.Parallel()

	_, _, _, srv := newTestAPI(t)
	rec := newRecordingHandler()

	var attempts int

	feed := NewFeed(srv.URL, StaticToken("bogus"), rec, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	feed.sleepFunc = func(context.Context, time.Duration) error {
		attempts++
		if attempts == 3 {
			cancel()
		}

		return ctx.Err()
	}

	require.NoError(t, feed.Run(ctx))

	connects, _, _ := rec.snapshot()
	assert.Zero(t, connects)
}

func TestFeedBackoff(t *testing.T) {
	t.Parallel()

	assert.Equal(t, feedMinBackoff, feedBackoff(0))
	assert.Equal(t, 2*feedMinBackoff, feedBackoff(1))
	assert.Equal(t, feedMaxBackoff, feedBackoff(50))
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger(t))

	ch, unsubscribe := hub.Subscribe("u1")
	assert.Equal(t, 1, hub.Subscribers("u1"))

	hub.Publish(Change{UserID: "u2", Date: may1})
	hub.Publish(Change{UserID: "u1", Date: may2})

	got := <-ch
	assert.Equal(t, may2, got.Date)

	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.Subscribers("u1"))
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger(t))
	_, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	for range subscriberBuffer * 2 {
		hub.Publish(Change{UserID: "u1", Date: may1})
	}
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	hub := NewHub(testLogger(t))
	hub.Close()

	ch, _ := hub.Subscribe("u1")
	_, open := <-ch
	assert.False(t, open)
}
