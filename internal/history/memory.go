package history

import (
	"context"
	"sync"
)

// MemoryStore keeps the last capacity entries in a ring buffer
type MemoryStore struct {
	entries []Entry
	next    int
	full    bool

	mu sync.RWMutex
}

// NewMemoryStore creates a ring buffer store
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 200
	}
	return &MemoryStore{entries: make([]Entry, capacity)}
}

// Record appends an entry, overwriting the oldest when full
func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	entry = normalize(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.next
	if s.full {
		size = len(s.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	result := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (s.next - 1 - i + len(s.entries)) % len(s.entries)
		result = append(result, s.entries[idx])
	}
	return result, nil
}

// Len returns the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.entries)
	}
	return s.next
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
