package prefs

import (
	"context"
	"sync"
)

// StaticStore is an in-memory preference store for tests and embedded setups.
type StaticStore struct {
	mu    sync.RWMutex
	users map[string]*Preferences
}

// NewStaticStore creates a StaticStore.
func NewStaticStore() *StaticStore {
	return &StaticStore{users: make(map[string]*Preferences)}
}

// Put sets a user's preferences.
func (s *StaticStore) Put(p *Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.UserID] = p
}

// Get returns a user's preferences, or Defaults for an unknown user.
func (s *StaticStore) Get(ctx context.Context, userID string) (*Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[userID]
	if !ok {
		return Defaults(userID), nil
	}
	cp := *p
	return &cp, nil
}
