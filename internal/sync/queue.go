package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
)

// Queue is the Pending Write Queue: at most one record per (user, date),
// holding the latest write the remote store has not confirmed. It is
// durable across restarts through the kv store.
type Queue struct {
	store  kv.Store
	cache  *Cache // evicted from when the store is full; may be nil
	logger *slog.Logger
}

// NewQueue creates a Queue over store. When cache is non-nil, a full store
// makes room by evicting cached documents, which are recoverable, rather
// than failing the enqueue.
func NewQueue(store kv.Store, cache *Cache, logger *slog.Logger) *Queue {
	return &Queue{store: store, cache: cache, logger: logger}
}

// Enqueue stores rec for (userID, rec.Date), replacing any earlier record
// for that date. Two offline edits of one date are never merged.
func (q *Queue) Enqueue(ctx context.Context, userID string, rec PendingRecord) error {
	key := recordKey(prefixPending, day.NewKey(userID, rec.Date))

	data, err := encodePending(rec)
	if err != nil {
		return fmt.Errorf("sync: encoding pending %s: %w", key, err)
	}

	err = q.store.Set(ctx, key, data)
	if errors.Is(err, kv.ErrQuotaExceeded) && q.cache != nil {
		q.cache.Evict(ctx)
		err = q.store.Set(ctx, key, data)
	}

	if err != nil {
		return fmt.Errorf("sync: enqueue %s: %w", key, err)
	}

	q.logger.Debug("write queued",
		slog.String("key", key),
		slog.Time("last_modified", rec.LastModified),
	)

	return nil
}

// Get returns the pending record for (userID, d). A corrupt record is
// deleted and reported absent.
func (q *Queue) Get(ctx context.Context, userID string, d day.Date) (PendingRecord, bool, error) {
	key := recordKey(prefixPending, day.NewKey(userID, d))

	data, ok, err := q.store.Get(ctx, key)
	if err != nil {
		return PendingRecord{}, false, fmt.Errorf("sync: reading pending %s: %w", key, err)
	}

	if !ok {
		return PendingRecord{}, false, nil
	}

	rec, err := decodePending(data)
	if err != nil || rec.Date != d {
		q.logger.Warn("discarding corrupt pending record", slog.String("key", key))

		if rmErr := q.store.Remove(ctx, key); rmErr != nil {
			return PendingRecord{}, false, fmt.Errorf("sync: removing corrupt pending %s: %w", key, rmErr)
		}

		return PendingRecord{}, false, nil
	}

	return rec, true, nil
}

// Remove deletes the pending record for (userID, d).
func (q *Queue) Remove(ctx context.Context, userID string, d day.Date) error {
	key := recordKey(prefixPending, day.NewKey(userID, d))

	if err := q.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("sync: removing pending %s: %w", key, err)
	}

	return nil
}

// Settle removes the pending record for (userID, rec.Date) unless it has
// been replaced by a newer write since rec was read. It reports whether a
// record was removed.
func (q *Queue) Settle(ctx context.Context, userID string, rec PendingRecord) (bool, error) {
	current, ok, err := q.Get(ctx, userID, rec.Date)
	if err != nil || !ok {
		return false, err
	}

	if current.LastModified.After(rec.LastModified) {
		q.logger.Debug("pending record superseded, keeping",
			slog.String("date", rec.Date.String()),
			slog.Time("settled", rec.LastModified),
			slog.Time("current", current.LastModified),
		)

		return false, nil
	}

	if err := q.Remove(ctx, userID, rec.Date); err != nil {
		return false, err
	}

	return true, nil
}

// Dates lists the dates with a pending record for userID in ascending
// (chronological) order.
func (q *Queue) Dates(ctx context.Context, userID string) ([]day.Date, error) {
	keys, err := q.store.Keys(ctx, userPrefix(prefixPending, userID))
	if err != nil {
		return nil, fmt.Errorf("sync: listing pending: %w", err)
	}

	dates := make([]day.Date, 0, len(keys))

	for _, key := range keys {
		d, err := dateFromKey(key)
		if err != nil {
			q.logger.Warn("discarding pending record with malformed key", slog.String("key", key))
			_ = q.store.Remove(ctx, key)

			continue
		}

		dates = append(dates, d)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	return dates, nil
}

// List returns every valid pending record for userID in date order.
func (q *Queue) List(ctx context.Context, userID string) ([]PendingRecord, error) {
	dates, err := q.Dates(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]PendingRecord, 0, len(dates))

	for _, d := range dates {
		rec, ok, err := q.Get(ctx, userID, d)
		if err != nil {
			return nil, err
		}

		if ok {
			out = append(out, rec)
		}
	}

	return out, nil
}
