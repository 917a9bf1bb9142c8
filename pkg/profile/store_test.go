package profile

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (s *MemoryStore) Put(userID string, p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = p
}

func (s *MemoryStore) Profile(_ context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}
