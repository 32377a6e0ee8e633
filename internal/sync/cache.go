package sync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
)

// Eviction sizing when the local store reports its quota exceeded.
const (
	evictFraction = 0.2
	evictMinimum  = 5
)

// Cache is the Local Cache Store: the last known state of each document,
// written through on every fetch and every save attempt. It never returns
// errors to callers. A record that fails validation is deleted and treated
// as absent, and a write that does not fit even after eviction is dropped.
type Cache struct {
	store  kv.Store
	logger *slog.Logger
}

// NewCache creates a Cache over store.
func NewCache(store kv.Store, logger *slog.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Read returns the cached document for k.
func (c *Cache) Read(ctx context.Context, k day.Key) (Document, bool) {
	key := recordKey(prefixCache, k)

	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		return Document{}, false
	}

	if !ok {
		return Document{}, false
	}

	doc, err := decodeCache(data)
	if err != nil || doc.Date != k.Date {
		c.discard(ctx, key, err)
		return Document{}, false
	}

	return doc, true
}

// Write stores doc under k. On quota exhaustion it evicts the least
// recently modified entries and retries once. It reports whether the
// document was stored.
func (c *Cache) Write(ctx context.Context, k day.Key, doc Document) bool {
	key := recordKey(prefixCache, k)
	doc.Date = k.Date

	data, err := encodeCache(doc)
	if err != nil {
		c.logger.Warn("cache encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}

	err = c.store.Set(ctx, key, data)
	if errors.Is(err, kv.ErrQuotaExceeded) {
		c.Evict(ctx)
		err = c.store.Set(ctx, key, data)
	}

	if err != nil {
		c.logger.Warn("cache write dropped", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}

	return true
}

// Remove deletes the cached document for k.
func (c *Cache) Remove(ctx context.Context, k day.Key) {
	key := recordKey(prefixCache, k)

	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("cache remove failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Evict removes the least recently modified 20% of cached documents (at
// least five) across all users, oldest LastModified first. Unreadable
// records rank oldest. It returns the number of entries removed.
func (c *Cache) Evict(ctx context.Context) int {
	keys, err := c.store.Keys(ctx, prefixCache)
	if err != nil {
		c.logger.Warn("cache eviction could not list entries", slog.String("error", err.Error()))
		return 0
	}

	if len(keys) == 0 {
		return 0
	}

	type ranked struct {
		key      string
		modified time.Time
	}

	entries := make([]ranked, 0, len(keys))

	for _, key := range keys {
		r := ranked{key: key}

		if data, ok, err := c.store.Get(ctx, key); err == nil && ok {
			if doc, err := decodeCache(data); err == nil {
				r.modified = doc.LastModified
			}
		}

		entries = append(entries, r)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].modified.Before(entries[j].modified)
	})

	n := max(int(float64(len(entries))*evictFraction), evictMinimum)
	n = min(n, len(entries))

	removed := 0

	for _, e := range entries[:n] {
		if err := c.store.Remove(ctx, e.key); err != nil {
			c.logger.Warn("cache eviction failed", slog.String("key", e.key), slog.String("error", err.Error()))
			continue
		}

		removed++
	}

	c.logger.Info("cache evicted",
		slog.Int("removed", removed),
		slog.Int("entries", len(entries)),
	)

	return removed
}

// discard deletes a corrupt record.
func (c *Cache) discard(ctx context.Context, key string, cause error) {
	attrs := []any{slog.String("key", key)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}

	c.logger.Warn("discarding corrupt cache record", attrs...)

	if err := c.store.Remove(ctx, key); err != nil {
		c.logger.Warn("removing corrupt cache record failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
