package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenUsers authenticates by exact token lookup.
type tokenUsers map[string]string

func (m tokenUsers) Authenticate(token string) (string, error) {
	if u, ok := m[token]; ok {
		return u, nil
	}

	return "", errors.New("unknown token")
}

func noopSleep(context.Context, time.Duration) error { return nil }

// newTestAPI serves a Memory store and returns a client authenticated as u1.
func newTestAPI(t *testing.T) (*Client, *Memory, *Hub, *httptest.Server) {
	t.Helper()

	store := NewMemory()
	hub := NewHub(testLogger(t))
	srv := httptest.NewServer(NewHandler(store, tokenUsers{"tok-u1": "u1", "tok-u2": "u2"}, hub, testLogger(t)))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	c := NewClient(srv.URL, srv.Client(), StaticToken("tok-u1"), testLogger(t))
	c.sleepFunc = noopSleep

	return c, store, hub, srv
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()

	c, store, _, _ := newTestAPI(t)
	ctx := context.Background()

	_, err := c.FetchByDate(ctx, "", may1)
	require.ErrorIs(t, err, ErrNotFound)

	created, err := c.UpsertByDate(ctx, "", may1, Write{Content: "Felt great today"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "u1", created.UserID, "user comes from the token")
	assert.Equal(t, may1, created.Date)

	updated, err := c.UpdateByID(ctx, "", created.ID, Write{Content: "edited", Media: Media{Image: "img/x.png"}})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	got, err := c.FetchByDate(ctx, "", may1)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, "img/x.png", got.Media.Image)
	assert.Equal(t, 1, store.Len())
}

func TestClient_UpdateByID_NotFound(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestAPI(t)

	_, err := c.UpdateByID(context.Background(), "", "gone", Write{Content: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.NotEmpty(t, httpErr.RequestID)
}

func TestClient_Unauthorized(t *testing.T) {
	t.Parallel()

	_, _, _, srv := newTestAPI(t)

	c := NewClient(srv.URL, srv.Client(), StaticToken("bogus"), testLogger(t))

	_, err := c.FetchByDate(context.Background(), "", may1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnauthorized)
}

func TestClient_BadDate(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestAPI(t)

	resp, err := c.Do(context.Background(), http.MethodGet, pathEntries+"not-a-date", nil)
	if resp != nil {
		resp.Body.Close()
	}

	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestClient_Ping(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestAPI(t)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestClient_UsersAreIsolated(t *testing.T) {
	t.Parallel()

	c1, _, _, srv := newTestAPI(t)
	c2 := NewClient(srv.URL, srv.Client(), StaticToken("tok-u2"), testLogger(t))
	ctx := context.Background()

	e, err := c1.UpsertByDate(ctx, "", may1, Write{Content: "mine"})
	require.NoError(t, err)

	_, err = c2.FetchByDate(ctx, "", may1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c2.UpdateByID(ctx, "", e.ID, Write{Content: "theirs"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), nil, testLogger(t))
	c.sleepFunc = noopSleep

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, srv.Client(), nil, testLogger(t))
	c.sleepFunc = noopSleep

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestClient_NetworkErrorIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, nil, nil, testLogger(t))
	c.sleepFunc = noopSleep

	_, err := c.FetchByDate(context.Background(), "", may1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_CanceledContext(t *testing.T) {
	t.Parallel()

	c, _, _, _ := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchByDate(ctx, "", may1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryBackoff_HonorsRetryAfter(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")

	assert.Equal(t, 7*time.Second, retryBackoff(resp, 0))
}

func TestCalcBackoff_Bounded(t *testing.T) {
	t.Parallel()

	for attempt := range 20 {
		d := calcBackoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
	}
}

func TestHandler_PublishesChanges(t *testing.T) {
	t.Parallel()

	c, _, hub, _ := newTestAPI(t)

	changes, unsubscribe := hub.Subscribe("u1")
	defer unsubscribe()

	e, err := c.UpsertByDate(context.Background(), "", may2, Write{Content: "x"})
	require.NoError(t, err)

	select {
	case ch := <-changes:
		assert.Equal(t, e.ID, ch.ID)
		assert.Equal(t, may2, ch.Date)
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}

func TestHandler_StoreClockStampsWrites(t *testing.T) {
	t.Parallel()

	_, store, _, srv := newTestAPI(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	put := func(body string) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+pathEntries+"2024-05-01", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer tok-u1")

		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		return resp.StatusCode
	}

	// A client cannot pick the timestamp that decides conflicts.
	assert.Equal(t, http.StatusBadRequest, put(`{"content":"x","updated_at":"2099-01-01T00:00:00Z"}`))

	_, err := store.FetchByDate(context.Background(), "u1", may1)
	require.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, http.StatusOK, put(`{"content":"x"}`))

	e, err := store.FetchByDate(context.Background(), "u1", may1)
	require.NoError(t, err)
	assert.Equal(t, fixed, e.UpdatedAt)
}
