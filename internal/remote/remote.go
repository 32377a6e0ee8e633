// Package remote implements the authoritative Remote Document Store for
// journal entries: the Store contract, an in-memory store, a Postgres store,
// an HTTP client and server for that contract, and a websocket change feed.
//
// The store holds at most one entry per (user, date). The first write for a
// date assigns an immutable identity; updated_at is authoritative for
// last-write-wins conflict resolution.
package remote

import (
	"context"
	"time"

	"github.com/tonimelisma/journal-sync/internal/day"
)

// Media holds the optional storage paths attached to an entry. An empty
// string means no reference (NULL in storage). The paths are owned by the
// media subsystem; the store only records them.
type Media struct {
	Image string `json:"image_url,omitempty"`
	Audio string `json:"audio_url,omitempty"`
}

// IsZero reports whether neither reference is set.
func (m Media) IsZero() bool {
	return m.Image == "" && m.Audio == ""
}

// Entry is one row of the entries table.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Date      day.Date  `json:"date"`
	Content   string    `json:"content"`
	Media     Media     `json:"media"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Write is the mutable payload of an upsert or update. Clients never
// choose updated_at: the store stamps every write with its own clock.
type Write struct {
	Content string `json:"content"`
	Media   Media  `json:"media"`
}

// Store is the Remote Document Store contract.
//
// FetchByDate returns ErrNotFound when no entry exists for the date.
// UpsertByDate creates or updates the entry keyed by (user, date) and returns
// the stored row including its identity. UpdateByID updates the entry with
// the given identity and returns ErrNotFound when it does not exist for the
// user.
type Store interface {
	FetchByDate(ctx context.Context, userID string, d day.Date) (*Entry, error)
	UpsertByDate(ctx context.Context, userID string, d day.Date, w Write) (*Entry, error)
	UpdateByID(ctx context.Context, userID, id string, w Write) (*Entry, error)
}

// Change announces that an entry was written. It is what the change feed
// carries.
type Change struct {
	UserID    string    `json:"user_id"`
	Date      day.Date  `json:"date"`
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}
