package history

import (
	"context"
	"time"
)

// Entry is one recorded lifecycle transition. The log is append-only and
// feeds the dashboard activity view; losing an entry never affects the
// transition that produced it.
type Entry struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	UserID     string         `json:"user_id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Detail     map[string]any `json:"detail"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Store is the contract for transition-log persistence.
type Store interface {
	Append(ctx context.Context, instanceID, userID, from, to string, detail map[string]any) (*Entry, error)
	Recent(ctx context.Context, userID string, limit int) ([]Entry, error)
	ByInstance(ctx context.Context, instanceID string) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	EnsureTable(ctx context.Context) error
}
