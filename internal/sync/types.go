// Package sync implements the offline-first synchronization engine for
// per-date journal documents.
//
// The Coordinator is the entry point. It serves reads from the local cache
// at once and refreshes them from the remote store. Edits are debounced per
// date and written through the identity binder, or queued when the remote
// store is unreachable. A navigation guard keeps results of stale requests
// from touching the active document.
package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/journal-sync/internal/day"
	"github.com/tonimelisma/journal-sync/internal/remote"
)

// Sentinel errors.
var (
	ErrNoDocument           = errors.New("sync: no cached document and remote unavailable")
	ErrIdentityInconsistent = errors.New("sync: remote identity inconsistent")
	ErrDrainExhausted       = errors.New("sync: pending write keeps failing")
	ErrInvalidRecord        = errors.New("sync: invalid record")
	ErrNoUser               = errors.New("sync: no user")
	ErrClosed               = errors.New("sync: coordinator closed")
)

// SyncState is the replication state of a document.
type SyncState int

const (
	// StateLocal means the document has edits that were never sent.
	StateLocal SyncState = iota
	// StatePending means the edits are queued for the remote store.
	StatePending
	// StateSynced means the remote store holds this content.
	StateSynced
	// StateFailed means the last attempt errored; the write is queued and
	// will be retried.
	StateFailed
)

var stateNames = [...]string{"local", "pending", "synced", "failed"}

func (s SyncState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}

	return fmt.Sprintf("SyncState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SyncState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if string(text) == name {
			*s = SyncState(i)
			return nil
		}
	}

	return fmt.Errorf("sync: unknown state %q", text)
}

// Document is one user's journal entry for one date as seen by this
// replica.
type Document struct {
	Date         day.Date
	Identity     string // remote identity; empty until first confirmed write
	Content      string
	Media        remote.Media
	LastModified time.Time
	State        SyncState
}

// IsEmpty reports whether the document has no content and no media.
func (d Document) IsEmpty() bool {
	return d.Content == "" && d.Media.IsZero()
}

// PendingRecord is a write not yet confirmed by the remote store.
type PendingRecord struct {
	Date         day.Date
	Content      string
	Media        remote.Media
	LastModified time.Time
}

// DrainReport summarizes one pass over the pending write queue.
type DrainReport struct {
	Written   int // confirmed by the remote store and removed
	Discarded int // remote was strictly newer; local write dropped
	Failed    int // still queued
	Skipped   bool
	Duration  time.Duration
	Errors    []error
}

// Total returns the number of records examined.
func (r DrainReport) Total() int {
	return r.Written + r.Discarded + r.Failed
}
