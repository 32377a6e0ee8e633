// Package kv provides the local persistent key-value store that backs the
// journal cache, the pending write queue, and identity bindings.
//
// Three implementations share one Store interface:
//   - SQLite: a single-file database in WAL mode, the durable default
//   - Memory: a process-local map, for tests and degraded operation
//   - Degrading: wraps a durable store and silently falls back to Memory
//     when the durable store becomes unavailable
//
// Every implementation enforces an optional byte quota. A Set that would
// push the total stored size past the quota fails with ErrQuotaExceeded and
// leaves the store unchanged; callers decide whether to evict and retry.
package kv

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	ErrQuotaExceeded = errors.New("kv: quota exceeded")
	ErrClosed        = errors.New("kv: store closed")

	// ErrBusy marks a failure the durable store expects to clear on its
	// own, such as a lock held by another process sharing the database.
	ErrBusy = errors.New("kv: store busy")
)

// Store is a generic byte-valued key-value store addressed by string keys.
// Get reports found=false (with a nil error) for absent keys. Remove of an
// absent key is not an error. Keys returns matching keys in ascending order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// entrySize is the number of bytes a key/value pair counts against the quota.
func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}
