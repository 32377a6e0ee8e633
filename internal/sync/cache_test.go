package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

func TestCache_WriteRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(kv.NewMemory(0), testLogger(t))

	_, ok := c.Read(ctx, key(may1))
	assert.False(t, ok)

	doc := Document{
		Identity:     "id-1",
		Content:      "Felt great today",
		Media:        remote.Media{Image: "user-1/2024-05-01/photo.jpg"},
		LastModified: t0,
		State:        StateSynced,
	}
	require.True(t, c.Write(ctx, key(may1), doc))

	got, ok := c.Read(ctx, key(may1))
	require.True(t, ok)
	assert.Equal(t, may1, got.Date)
	assert.Equal(t, "id-1", got.Identity)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Media, got.Media)
	assert.True(t, t0.Equal(got.LastModified))
	assert.Equal(t, StateSynced, got.State)

	c.Remove(ctx, key(may1))

	_, ok = c.Read(ctx, key(may1))
	assert.False(t, ok)
}

func TestCache_CorruptRecordDiscarded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemory(0)
	c := NewCache(store, testLogger(t))

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"wrong version", `{"v":2,"date":"2024-05-01","content":"","last_modified":"2024-05-01T09:00:00Z","state":"synced"}`},
		{"unknown state", `{"v":1,"date":"2024-05-01","content":"","last_modified":"2024-05-01T09:00:00Z","state":"lost"}`},
		{"bad date", `{"v":1,"date":"May 1","content":"","last_modified":"2024-05-01T09:00:00Z","state":"synced"}`},
		{"extra field", `{"v":1,"date":"2024-05-01","content":"","last_modified":"2024-05-01T09:00:00Z","state":"synced","x":1}`},
		{"date mismatch", `{"v":1,"date":"2024-05-02","content":"","last_modified":"2024-05-01T09:00:00Z","state":"synced"}`},
	}

	for _, tt := range tests {
		k := recordKey(prefixCache, key(may1))
		require.NoError(t, store.Set(ctx, k, []byte(tt.data)))

		_, ok := c.Read(ctx, key(may1))
		assert.False(t, ok, tt.name)

		_, present, err := store.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, present, "%s: corrupt record should be deleted", tt.name)
	}
}

func TestCache_EvictsOldestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(kv.NewMemory(0), testLogger(t))

	base := day.MustParse("2024-01-01")

	// Modification order is the reverse of date order.
	for i := range 30 {
		d := base.AddDays(i)
		c.Write(ctx, key(d), Document{Content: "x", LastModified: t0.Add(-time.Duration(i) * time.Hour)})
	}

	removed := c.Evict(ctx)
	assert.Equal(t, 6, removed, "a fifth of 30")

	for i := range 30 {
		_, ok := c.Read(ctx, key(base.AddDays(i)))
		assert.Equal(t, i < 24, ok, "date %d", i)
	}
}

func TestCache_EvictsAtLeastFive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(kv.NewMemory(0), testLogger(t))

	for i := range 7 {
		c.Write(ctx, key(may1.AddDays(i)), Document{LastModified: t0.Add(time.Duration(i) * time.Minute)})
	}

	assert.Equal(t, 5, c.Evict(ctx))
	assert.Zero(t, NewCache(kv.NewMemory(0), testLogger(t)).Evict(ctx))
}

func TestCache_QuotaEvictsAndRetries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sample, err := encodeCache(Document{Date: may1, Content: "0123456789", LastModified: t0})
	require.NoError(t, err)

	entry := int64(len(recordKey(prefixCache, key(may1))) + len(sample))
	store := kv.NewMemory(entry * 6)
	c := NewCache(store, testLogger(t))

	for i := range 6 {
		require.True(t, c.Write(ctx, key(may1.AddDays(i)), Document{Content: "0123456789", LastModified: t0.Add(time.Duration(i) * time.Minute)}))
	}

	require.True(t, c.Write(ctx, key(may1.AddDays(10)), Document{Content: "0123456789", LastModified: t0.Add(time.Hour)}))

	_, ok := c.Read(ctx, key(may1))
	assert.False(t, ok, "oldest entry evicted")

	_, ok = c.Read(ctx, key(may1.AddDays(10)))
	assert.True(t, ok)
}

func TestCache_WriteDroppedWhenNothingFits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCache(kv.NewMemory(10), testLogger(t))

	assert.False(t, c.Write(ctx, key(may1), Document{Content: fmt.Sprintf("%0100d", 0)}))

	_, ok := c.Read(ctx, key(may1))
	assert.False(t, ok)
}
