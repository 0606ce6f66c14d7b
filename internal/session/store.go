// Package session holds per-connection protocol state, keyed by the
// connection identifier. The store is pluggable so an embedder can keep
// state in its own backing store; the engine only relies on per-key
// atomicity of Get/Set/Destroy.
package session

import (
	"context"
	"sync"

	"kestrel/internal/models"
)

// Store is the pluggable session-state store consumed by the engine.
type Store interface {
	// Get returns the state for id; the bool is false when absent.
	Get(ctx context.Context, id string) (models.SessionState, bool, error)
	Set(ctx context.Context, id string, state models.SessionState) error
	Destroy(ctx context.Context, id string) error
	// List enumerates every live session.
	List(ctx context.Context) (map[string]models.SessionState, error)
}

// MemoryStore is the default in-memory implementation. No persistence is
// promised across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.SessionState)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (models.SessionState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	return state, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, id string, state models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = state
	return nil
}

func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) (map[string]models.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.SessionState, len(s.sessions))
	for id, state := range s.sessions {
		out[id] = state
	}
	return out, nil
}
