package cache

import (
	"context"
	"sync"
)

// Memory is an in-process Store backed by a map.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key]string)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key Key) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, key Key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

// Clear implements Store.
func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Store. It is a no-op.
func (m *Memory) Close() error { return nil }
