package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry tracks the open sessions of a server by ID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[string]*Session{}}
}

// Add registers s under its ID.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove unregisters and returns the session with the given ID.
func (r *Registry) Remove(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(r.sessions, id)
	return s, nil
}

// List returns the open sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].resource.CreationTimestamp, out[j].resource.CreationTimestamp
		if a.Equal(b.Time) {
			return out[i].ID() < out[j].ID()
		}
		return a.Before(b.Time)
	})
	return out
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes and removes every session. Used on server shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.List() {
		if _, err := r.Remove(s.ID()); err != nil {
			continue
		}
		err := s.Serialize(func() error { return s.Close(ctx) })
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
