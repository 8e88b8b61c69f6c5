package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps rows in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]Entry)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key Key, now time.Time) ([]byte, time.Duration, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, 0, false, nil
	}
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	return payload, entry.ExpiresAt.Sub(now), true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)
	entry.Payload = payload

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.entries {
		if filter.Matches(key) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// DeleteExpired implements Store.
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, entry := range s.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored rows, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
