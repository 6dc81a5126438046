// Package memory provides an in-memory key-value store with per-key expiry.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a mutex-guarded map. Expired entries are dropped lazily on access.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]entry), now: time.Now}
}

// Get returns the value for key and whether it was present and unexpired.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. A non-positive ttl never expires.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// Incr atomically increments the integer stored at key and returns the new
// value. A missing, expired or non-numeric entry starts again from zero, and
// ttl applies only when the entry is created.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	var n int64
	if ok && !e.expired(now) {
		n, _ = strconv.ParseInt(e.value, 10, 64)
	} else {
		e = entry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}
