package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory transition log used by file-backed deployments
// and tests. Entries are kept newest-last; Cap bounds memory.
type MemStore struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

// NewMemStore creates a MemStore holding at most cap entries (0 = 10000).
func NewMemStore(cap int) *MemStore {
	if cap <= 0 {
		cap = 10000
	}
	return &MemStore{cap: cap}
}

// Append records a transition.
func (s *MemStore) Append(ctx context.Context, instanceID, userID, from, to string, detail map[string]any) (*Entry, error) {
	if detail == nil {
		detail = map[string]any{}
	}
	e := Entry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		InstanceID: instanceID,
		UserID:     userID,
		From:       from,
		To:         to,
		Detail:     detail,
		Timestamp:  time.Now().Truncate(time.Microsecond),
	}
	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
	s.mu.Unlock()
	return &e, nil
}

// Recent returns the latest transitions, newest first.
func (s *MemStore) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if userID == "" || s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// ByInstance returns an instance's transitions in chronological order.
func (s *MemStore) ByInstance(ctx context.Context, instanceID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count returns the number of retained transitions.
func (s *MemStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

// EnsureTable is a no-op for the in-memory log.
func (s *MemStore) EnsureTable(ctx context.Context) error { return nil }
