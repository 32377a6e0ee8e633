package kv

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	sqlite3 "modernc.org/sqlite/lib"
)

// Degrading wraps a durable Store. Lock conflicts (SQLITE_BUSY, SQLITE_LOCKED
// or ErrBusy) are retried with backoff and, if they outlast the retries,
// returned to the caller with the durable store still in use. Any other
// failure except ErrQuotaExceeded or a context error makes Degrading log one
// warning and serve every later call from an in-memory store; callers never
// see that failure.
type Degrading struct {
	mu       sync.Mutex
	primary  Store
	fallback *Memory
	degraded bool
	logger   *slog.Logger
}

// NewDegrading wraps primary. A nil primary starts in degraded mode.
func NewDegrading(primary Store, maxBytes int64, logger *slog.Logger) *Degrading {
	if logger == nil {
		logger = slog.Default()
	}

	return &Degrading{
		primary:  primary,
		fallback: NewMemory(maxBytes),
		degraded: primary == nil,
		logger:   logger,
	}
}

// Open opens the durable SQLite store at path. When path is empty or the
// database cannot be opened, the returned store runs in memory only.
func Open(ctx context.Context, path string, maxBytes int64, logger *slog.Logger) *Degrading {
	if logger == nil {
		logger = slog.Default()
	}

	if path == "" {
		logger.Info("kv store running in memory", slog.String("reason", "no path configured"))
		return NewDegrading(nil, maxBytes, logger)
	}

	db, err := OpenSQLite(ctx, path, maxBytes, logger)
	if err != nil {
		logger.Warn("kv store unavailable, continuing in memory",
			slog.String("db_path", path),
			slog.String("error", err.Error()),
		)

		return NewDegrading(nil, maxBytes, logger)
	}

	return NewDegrading(db, maxBytes, logger)
}

// Degraded reports whether the store has fallen back to memory.
func (d *Degrading) Degraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.degraded
}

// active returns the store that should serve the next call.
func (d *Degrading) active() Store {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.degraded {
		return d.fallback
	}

	return d.primary
}

// Retry schedule for transient failures of the durable store. SQLite
// already waits busy_timeout inside each statement.
const (
	busyRetries = 4
	busyBackoff = 25 * time.Millisecond
)

// transient reports whether err is a lock conflict that a retry can clear.
func transient(err error) bool {
	if errors.Is(err, ErrBusy) {
		return true
	}

	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// Extended result codes keep the primary code in the low byte.
		switch coded.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	return false
}

// run sends op to the active store. On the primary, transient failures are
// retried with backoff; a failure that persists and is not transient
// switches to the fallback and reruns op there.
func (d *Degrading) run(ctx context.Context, op func(Store) error) error {
	s := d.active()
	if s == Store(d.fallback) {
		return op(s)
	}

	b := retry.WithMaxRetries(busyRetries, retry.NewExponential(busyBackoff))

	err := retry.Do(ctx, b, func(context.Context) error {
		err := op(s)
		if transient(err) {
			return retry.RetryableError(err)
		}

		return err
	})

	if d.failed(err) {
		return op(d.fallback)
	}

	return err
}

// failed inspects the final error from the primary store and switches to
// the fallback when it indicates the store itself is broken. It reports
// whether the call should be rerun against the fallback.
func (d *Degrading) failed(err error) bool {
	if err == nil || errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if transient(err) {
		d.logger.Warn("kv store busy, keeping durable store", slog.String("error", err.Error()))
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Another call degraded the store while this one ran on the primary.
	if d.degraded {
		return true
	}

	d.degraded = true
	d.logger.Warn("kv store failed, continuing in memory", slog.String("error", err.Error()))

	if cerr := d.primary.Close(); cerr != nil {
		d.logger.Debug("closing failed kv store", slog.String("error", cerr.Error()))
	}

	return true
}

func (d *Degrading) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		v  []byte
		ok bool
	)

	err := d.run(ctx, func(s Store) error {
		var err error
		v, ok, err = s.Get(ctx, key)

		return err
	})

	return v, ok, err
}

func (d *Degrading) Set(ctx context.Context, key string, value []byte) error {
	return d.run(ctx, func(s Store) error { return s.Set(ctx, key, value) })
}

func (d *Degrading) Remove(ctx context.Context, key string) error {
	return d.run(ctx, func(s Store) error { return s.Remove(ctx, key) })
}

func (d *Degrading) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := d.run(ctx, func(s Store) error {
		var err error
		keys, err = s.Keys(ctx, prefix)

		return err
	})

	return keys, err
}

// Close closes both stores.
func (d *Degrading) Close() error {
	d.mu.Lock()
	primary, degraded := d.primary, d.degraded
	d.mu.Unlock()

	_ = d.fallback.Close()

	if primary != nil && !degraded {
		return primary.Close()
	}

	return nil
}
