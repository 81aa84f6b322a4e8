package store

import (
	"encoding/json"
	"sync"

	"context-sync-server/internal/domain"
)

// Store holds the live ContextState for every known state id. Versions
// never move backwards; remote states that would regress are re-stamped
// above the current version.
type Store struct {
	mu     sync.RWMutex
	states map[string]*domain.ContextState
}

func New() *Store {
	return &Store{
		states: make(map[string]*domain.ContextState),
	}
}

func (s *Store) Get(id string) (domain.ContextState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return domain.ContextState{}, false
	}
	return *st, true
}

// Apply records a local mutation. A new state starts at version 1, an
// existing one is bumped by exactly one.
func (s *Store) Apply(id string, data json.RawMessage, metadata map[string]string) domain.ContextState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[id]; ok {
		st.Apply(data, metadata)
		return *st
	}

	st := domain.NewContextState(id, data, metadata)
	s.states[id] = &st
	return st
}

// ApplyRemote installs a state produced elsewhere (peer update, conflict
// resolution, snapshot restore). If the incoming version does not exceed
// the stored one it is lifted just above it, keeping versions monotonic.
func (s *Store) ApplyRemote(state domain.ContextState) domain.ContextState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.states[state.ID]; ok && cur.Version >= state.Version {
		state.Version = cur.Version + 1
	}
	cp := state
	s.states[state.ID] = &cp
	return state
}

func (s *Store) MarkSynchronized(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.states[id]; ok {
		st.MarkSynchronized()
	}
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[id]; !ok {
		return false
	}
	delete(s.states, id)
	return true
}

func (s *Store) List() []domain.ContextState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ContextState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
