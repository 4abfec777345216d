package audit

import (
	"context"
	"sync"
)

// MemoryStorage keeps entries in memory for tests and local development.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Store(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a snapshot of all recorded entries in insertion order.
func (s *MemoryStorage) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
