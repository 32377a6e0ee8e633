package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	data     map[string][]byte
	used     int64
	maxBytes int64
	closed   bool
}

// NewMemory returns an empty Memory store. maxBytes <= 0 disables the quota.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		data:     make(map[string][]byte),
		maxBytes: maxBytes,
	}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), v...), true, nil
}

// Set stores a copy of value, replacing any previous value for key.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	var prev int64
	if old, ok := m.data[key]; ok {
		prev = entrySize(key, old)
	}

	next := m.used - prev + entrySize(key, value)
	if m.maxBytes > 0 && next > m.maxBytes {
		return ErrQuotaExceeded
	}

	m.data[key] = append([]byte(nil), value...)
	m.used = next

	return nil
}

// Remove deletes key if present.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if old, ok := m.data[key]; ok {
		m.used -= entrySize(key, old)
		delete(m.data, key)
	}

	return nil
}

// Keys returns all keys starting with prefix, sorted ascending.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// Used reports the number of bytes currently counted against the quota.
func (m *Memory) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.used
}

// Close marks the store closed. Later calls return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil

	return nil
}
