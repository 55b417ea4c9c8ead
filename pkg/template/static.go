package template

import (
	"context"
	"fmt"
	"sync"
)

// StaticRegistry is an in-memory Registry for tests and embedded setups.
type StaticRegistry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewStaticRegistry creates a StaticRegistry seeded with the given templates.
func NewStaticRegistry(ts ...*Template) *StaticRegistry {
	r := &StaticRegistry{templates: make(map[string]*Template, len(ts))}
	for _, t := range ts {
		r.templates[t.ID] = t
	}
	return r
}

// Put adds or replaces a template.
func (r *StaticRegistry) Put(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
}

// Get returns a template by ID.
func (r *StaticRegistry) Get(ctx context.Context, id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("get template %s: %w", id, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// List returns all templates.
func (r *StaticRegistry) List(ctx context.Context) ([]Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, *t)
	}
	return out, nil
}
