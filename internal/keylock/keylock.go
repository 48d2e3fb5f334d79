// Package keylock provides per-key mutual exclusion and stable key hashing.
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Map serializes work per key. Each key has its own mutex, so distinct keys
// never wait on each other. Entries are dropped when no holder or waiter
// remains.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Index returns a stable bucket in [0,n) for key.
func Index(key string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Lock acquires the lock for key and returns its unlock function.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Do runs fn while holding the lock for key.
func (m *Map) Do(key string, fn func()) {
	unlock := m.Lock(key)
	defer unlock()
	fn()
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
