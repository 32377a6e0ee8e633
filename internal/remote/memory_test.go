package remote

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/day"
)

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

var (
	may1 = day.MustParse("2024-05-01")
	may2 = day.MustParse("2024-05-02")
)

func TestMemory_FetchMissing(t *testing.T) {
	t.Parallel()

	m := NewMemory()

	_, err := m.FetchByDate(context.Background(), "u1", may1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpsertAssignsStableIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	first, err := m.UpsertByDate(ctx, "u1", may1, Write{Content: "one"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := m.UpsertByDate(ctx, "u1", may1, Write{Content: "two"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "two", second.Content)
	assert.Equal(t, 1, m.Len())

	other, err := m.UpsertByDate(ctx, "u2", may1, Write{Content: "theirs"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, 2, m.Len())
}

func TestMemory_ConcurrentUpsertsConverge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	const writers = 16

	ids := make([]string, writers)

	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			e, err := m.UpsertByDate(ctx, "u1", may1, Write{Content: "x"})
			if err == nil {
				ids[i] = e.ID
			}
		}()
	}

	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	assert.Equal(t, 1, m.Len())
}

func TestMemory_UpdateByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return fixed }

	e, err := m.UpsertByDate(ctx, "u1", may1, Write{Content: "one"})
	require.NoError(t, err)
	assert.Equal(t, fixed, e.UpdatedAt)

	later := fixed.Add(time.Hour)
	m.SetClock(func() time.Time { return later })

	updated, err := m.UpdateByID(ctx, "u1", e.ID, Write{
		Content: "two",
		Media:   Media{Image: "img/1.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "two", updated.Content)
	assert.Equal(t, "img/1.jpg", updated.Media.Image)
	assert.Equal(t, later, updated.UpdatedAt)

	_, err = m.UpdateByID(ctx, "u2", e.ID, Write{Content: "steal"})
	assert.ErrorIs(t, err, ErrNotFound, "identity of another user is not visible")

	_, err = m.UpdateByID(ctx, "u1", "missing", Write{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_DeleteSimulatesLostRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	e, err := m.UpsertByDate(ctx, "u1", may2, Write{Content: "x"})
	require.NoError(t, err)

	m.Delete(e.ID)

	_, err = m.UpdateByID(ctx, "u1", e.ID, Write{Content: "y"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.FetchByDate(ctx, "u1", may2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_RejectsZeroKey(t *testing.T) {
	t.Parallel()

	_, err := NewMemory().UpsertByDate(context.Background(), "u1", day.Date{}, Write{})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	e, err := m.UpsertByDate(ctx, "u1", may1, Write{Content: "orig"})
	require.NoError(t, err)

	e.Content = "mutated"

	got, err := m.FetchByDate(ctx, "u1", may1)
	require.NoError(t, err)
	assert.Equal(t, "orig", got.Content)
}
