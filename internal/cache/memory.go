package cache

import (
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	createdAt time.Time
}

// Memory is the in-process store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// Now is the clock used for insertion and freshness checks.
	Now func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), Now: time.Now}
}

func (m *Memory) Name() string { return "memory" }

// Get returns a copy of the value when now - createdAt < maxAge.
func (m *Memory) Get(key Key, maxAge time.Duration) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key.String()]
	if !ok || m.Now().Sub(e.createdAt) >= maxAge {
		return nil, false
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true
}

func (m *Memory) Set(key Key, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key.String()] = memoryEntry{data: stored, createdAt: m.Now()}
	return nil
}

func (m *Memory) Clear(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key.String())
	return nil
}

func (m *Memory) ClearAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Len returns the number of stored entries, stale ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
