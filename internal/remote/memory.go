package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/journal-sync/internal/day"
)

// Memory is an in-process Store with the same uniqueness and identity rules
// as the Postgres store. It backs the development server and tests.
type Memory struct {
	mu    sync.Mutex
	byKey map[day.Key]*Entry
	byID  map[string]*Entry

	nowFunc func() time.Time
	newID   func() string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		byKey:   make(map[day.Key]*Entry),
		byID:    make(map[string]*Entry),
		nowFunc: time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

// FetchByDate returns a copy of the entry for (userID, d).
func (m *Memory) FetchByDate(ctx context.Context, userID string, d day.Date) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byKey[day.NewKey(userID, d)]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *e

	return &cp, nil
}

// UpsertByDate creates the entry for (userID, d) or updates it in place.
func (m *Memory) UpsertByDate(ctx context.Context, userID string, d day.Date, w Write) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d.IsZero() || userID == "" {
		return nil, ErrBadRequest
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := day.NewKey(userID, d)

	e, ok := m.byKey[key]
	if !ok {
		e = &Entry{ID: m.newID(), UserID: userID, Date: d}
		m.byKey[key] = e
		m.byID[e.ID] = e
	}

	apply(e, w, m.nowFunc)

	return m.committed(e), nil
}

// UpdateByID updates the entry with the given identity.
func (m *Memory) UpdateByID(ctx context.Context, userID, id string, w Write) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok || e.UserID != userID {
		return nil, ErrNotFound
	}

	apply(e, w, m.nowFunc)

	return m.committed(e), nil
}

// Delete removes the entry with the given identity. The journal never
// deletes entries; this exists for administrative repair and tests that
// simulate a lost row.
func (m *Memory) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.byID[id]; ok {
		delete(m.byID, id)
		delete(m.byKey, day.NewKey(e.UserID, e.Date))
	}
}

// SetClock replaces the clock that stamps writes. Simulations use it to
// order writes from several devices.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nowFunc = now
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.byKey)
}

// committed returns a copy of e safe to hand out. Called with m.mu held.
func (m *Memory) committed(e *Entry) *Entry {
	cp := *e
	return &cp
}

func apply(e *Entry, w Write, now func() time.Time) {
	e.Content = w.Content
	e.Media = w.Media
	e.UpdatedAt = now().UTC()
}
