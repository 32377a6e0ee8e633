package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/kv"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

// Binder is the Identity Binder. It remembers, per (user, date), the
// identity the remote store assigned, and routes every write for a date
// through one of two paths: upsert by date while unbound, update by
// identity once bound. All remote writes for one date are serialized.
type Binder struct {
	store  kv.Store
	remote remote.Store
	locks  keyedMutex
	logger *slog.Logger
}

// NewBinder creates a Binder persisting bindings in store.
func NewBinder(store kv.Store, rs remote.Store, logger *slog.Logger) *Binder {
	return &Binder{
		store:  store,
		remote: rs,
		locks:  keyedMutex{locks: make(map[day.Key]*keyLock)},
		logger: logger,
	}
}

// Identity returns the bound identity for k, or "" when unbound.
func (b *Binder) Identity(ctx context.Context, k day.Key) string {
	key := recordKey(prefixIdentity, k)

	data, ok, err := b.store.Get(ctx, key)
	if err != nil {
		b.logger.Warn("identity read failed", slog.String("key", key), slog.String("error", err.Error()))
		return ""
	}

	if !ok {
		return ""
	}

	id, err := decodeBinding(data)
	if err != nil {
		b.logger.Warn("discarding corrupt identity record", slog.String("key", key))
		_ = b.store.Remove(ctx, key)

		return ""
	}

	return id
}

// Observe binds the identity of an entry read from the remote store. A
// differing existing binding is replaced: the remote row is authoritative.
func (b *Binder) Observe(ctx context.Context, k day.Key, e *remote.Entry) {
	if e == nil || e.ID == "" {
		return
	}

	unlock := b.locks.Lock(k)
	defer unlock()

	current := b.Identity(ctx, k)
	if current == e.ID {
		return
	}

	if current != "" {
		b.logger.Warn("remote identity changed, rebinding",
			slog.String("key", k.String()),
			slog.String("old_identity", current),
			slog.String("new_identity", e.ID),
		)
	}

	b.bind(ctx, k, e.ID)
}

// Write sends w for k through the identity-appropriate path and returns the
// stored entry. A bound identity the remote no longer knows is cleared and
// the write is retried once by date; if that retry fails the error wraps
// ErrIdentityInconsistent.
func (b *Binder) Write(ctx context.Context, k day.Key, w remote.Write) (*remote.Entry, error) {
	unlock := b.locks.Lock(k)
	defer unlock()

	return b.writeLocked(ctx, k, w)
}

// reconcileOutcome is what Reconcile did with a pending record.
type reconcileOutcome int

const (
	outcomeWritten reconcileOutcome = iota
	outcomeServerWins
)

// Reconcile applies a pending record: when the remote copy is strictly newer
// than rec, nothing is written and the remote entry is returned with
// outcomeServerWins. Otherwise rec is written as in Write. The check and the
// write happen under the date's lock.
func (b *Binder) Reconcile(ctx context.Context, k day.Key, rec PendingRecord) (reconcileOutcome, *remote.Entry, error) {
	unlock := b.locks.Lock(k)
	defer unlock()

	existing, err := b.remote.FetchByDate(ctx, k.UserID, k.Date)

	switch {
	case errors.Is(err, remote.ErrNotFound):
	case err != nil:
		return outcomeWritten, nil, fmt.Errorf("sync: checking remote %s: %w", k, err)
	default:
		if existing.ID != "" && b.Identity(ctx, k) != existing.ID {
			b.bind(ctx, k, existing.ID)
		}

		if existing.UpdatedAt.After(rec.LastModified) {
			return outcomeServerWins, existing, nil
		}
	}

	e, err := b.writeLocked(ctx, k, remote.Write{Content: rec.Content, Media: rec.Media})

	return outcomeWritten, e, err
}

func (b *Binder) writeLocked(ctx context.Context, k day.Key, w remote.Write) (*remote.Entry, error) {
	id := b.Identity(ctx, k)

	if id == "" {
		e, err := b.remote.UpsertByDate(ctx, k.UserID, k.Date, w)
		if err != nil {
			return nil, fmt.Errorf("sync: upsert %s: %w", k, err)
		}

		b.bind(ctx, k, e.ID)

		return e, nil
	}

	e, err := b.remote.UpdateByID(ctx, k.UserID, id, w)
	if err == nil {
		return e, nil
	}

	if !errors.Is(err, remote.ErrNotFound) {
		return nil, fmt.Errorf("sync: update %s (%s): %w", k, id, err)
	}

	b.logger.Warn("bound identity not found remotely, rebinding",
		slog.String("key", k.String()),
		slog.String("identity", id),
	)

	b.unbind(ctx, k)

	e, err = b.remote.UpsertByDate(ctx, k.UserID, k.Date, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrIdentityInconsistent, k, err)
	}

	b.bind(ctx, k, e.ID)

	return e, nil
}

// bind persists identity for k. A failure to persist only costs an extra
// upsert next time, which the remote uniqueness constraint absorbs.
func (b *Binder) bind(ctx context.Context, k day.Key, identity string) {
	key := recordKey(prefixIdentity, k)

	data, err := encodeBinding(k.Date, identity)
	if err == nil {
		err = b.store.Set(ctx, key, data)
	}

	if err != nil {
		b.logger.Warn("identity bind not persisted", slog.String("key", key), slog.String("error", err.Error()))
		return
	}

	b.logger.Debug("identity bound", slog.String("key", key), slog.String("identity", identity))
}

func (b *Binder) unbind(ctx context.Context, k day.Key) {
	key := recordKey(prefixIdentity, k)

	if err := b.store.Remove(ctx, key); err != nil {
		b.logger.Warn("identity unbind failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// keyedMutex hands out one mutex per key, freeing it when no holder or
// waiter remains.
type keyedMutex struct {
	mu    gosync.Mutex
	locks map[day.Key]*keyLock
}

type keyLock struct {
	mu   gosync.Mutex
	refs int
}

// Lock blocks until k is free and returns the unlock function.
func (m *keyedMutex) Lock(k day.Key) func() {
	m.mu.Lock()

	l, ok := m.locks[k]
	if !ok {
		l = &keyLock{}
		m.locks[k] = l
	}

	l.refs++
	m.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		m.mu.Lock()
		l.refs--

		if l.refs == 0 {
			delete(m.locks, k)
		}

		m.mu.Unlock()
	}
}
