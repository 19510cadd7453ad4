// Package cache provides the key/value cache shared by transport clients.
//
// Several clients, possibly belonging to different sidebars, may read and
// write one cache concurrently. Implementations must be safe for that.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Cache is the storage contract transport clients depend on.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Has(key string) bool
	Unset(key string)
	// UnsetAll removes every key with the given prefix.
	UnsetAll(prefix string)
	Keys() []string
	// Purge removes every entry.
	Purge()
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache without expiry.
func NewMemory() *Memory {
	return NewMemoryWithTTL(0)
}

// NewMemoryWithTTL creates an in-memory cache whose entries expire after
// ttl. A zero ttl disables expiry.
func NewMemoryWithTTL(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.expired(entry) {
		m.dropExpired(key)
		return nil, false
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true
}

func (m *Memory) expired(entry memoryEntry) bool {
	return !entry.expires.IsZero() && !m.now().Before(entry.expires)
}

// dropExpired deletes key only if it is still expired under the write
// lock, so a concurrent Set is never lost.
func (m *Memory) dropExpired(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok && m.expired(entry) {
		delete(m.entries, key)
	}
}

func (m *Memory) Set(key string, value []byte) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
}

func (m *Memory) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Memory) Unset(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

func (m *Memory) UnsetAll(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) Purge() {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
}
