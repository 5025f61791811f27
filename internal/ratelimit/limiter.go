// Package ratelimit provides bounded per-key request counters with a
// sliding reset window, used for the public verification page. The
// counter store is injectable so multi-process deployments can swap in
// a shared store without touching call sites.
package ratelimit

import (
	"sync"
	"time"
)

// CounterStore counts requests per key within a window
type CounterStore interface {
	// Incr increments the counter for key and returns its value within
	// the current window
	Incr(key string, now time.Time, window time.Duration) int
}

// MemoryStore is an in-process CounterStore for single-process
// deployments. Key count is bounded; when the cap is reached, expired
// windows are evicted and, failing that, new keys are admitted with a
// fresh counter in place of the oldest expired slot.
type MemoryStore struct {
	mu      sync.Mutex
	maxKeys int
	entries map[string]*counterWindow
}

type counterWindow struct {
	count       int
	windowStart time.Time
}

// NewMemoryStore creates a memory store bounded to maxKeys tracked keys
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryStore{
		maxKeys: maxKeys,
		entries: make(map[string]*counterWindow),
	}
}

// Incr implements CounterStore
func (s *MemoryStore) Incr(key string, now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && now.Sub(entry.windowStart) < window {
		entry.count++
		return entry.count
	}

	if !ok && len(s.entries) >= s.maxKeys {
		s.evictExpired(now, window)
		if len(s.entries) >= s.maxKeys {
			// Still full of live windows; count the request against a
			// shared overflow key rather than growing without bound
			key = "_overflow"
			if overflow, exists := s.entries[key]; exists && now.Sub(overflow.windowStart) < window {
				overflow.count++
				return overflow.count
			}
		}
	}

	s.entries[key] = &counterWindow{count: 1, windowStart: now}
	return 1
}

func (s *MemoryStore) evictExpired(now time.Time, window time.Duration) {
	for key, entry := range s.entries {
		if now.Sub(entry.windowStart) >= window {
			delete(s.entries, key)
		}
	}
}

// Limiter enforces a request limit per key per window
type Limiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewLimiter creates a limiter allowing limit requests per window
func NewLimiter(store CounterStore, limit int, window time.Duration) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether a request for key is within the limit
func (l *Limiter) Allow(key string) bool {
	return l.store.Incr(key, l.now(), l.window) <= l.limit
}
