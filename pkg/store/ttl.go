// Package store provides the bot's in-process state store: a simple TTL map
// with background eviction.
package store

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// TTLMap is a concurrency-safe map whose entries expire after a per-entry
// TTL. Expired entries are dropped lazily on read and swept periodically by
// a janitor goroutine.
type TTLMap struct {
	mu       sync.RWMutex
	entries  map[string]entry
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTTLMap creates a TTL map and starts its janitor. Close must be called
// to stop the janitor.
func NewTTLMap(sweepInterval time.Duration) *TTLMap {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	m := &TTLMap{
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
	go m.janitor(sweepInterval)
	return m
}

// Set stores value under key for the given TTL
func (m *TTLMap) Set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get returns the value for key if present and not expired
func (m *TTLMap) Get(key string) (any, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		m.Delete(key)
		return nil, false
	}
	return e.value, true
}

// SetIfAbsent stores value under key only when no live entry exists.
// Returns true when the value was stored.
func (m *TTLMap) SetIfAbsent(key string, value any, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return false
	}
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	return true
}

// Delete removes key
func (m *TTLMap) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Len returns the number of live entries
func (m *TTLMap) Len() int {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.entries {
		if now.Before(e.expiresAt) {
			count++
		}
	}
	return count
}

// Close stops the janitor. Safe to call more than once.
func (m *TTLMap) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}

func (m *TTLMap) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *TTLMap) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}
