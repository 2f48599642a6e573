package store

import (
	"context"
	"sort"
	"sync"

	"kgchat/backend/internal/state"
	apperrors "kgchat/backend/pkg/errors"
)

// MemoryStore keeps sessions in process memory. States are cloned on the way
// in and out so callers never share slices or maps with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]state.ChatState
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]state.ChatState)}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (state.ChatState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[sessionID]
	if !ok {
		return state.ChatState{}, apperrors.NewSessionNotFound(sessionID)
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, st state.ChatState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[st.SessionID] = st.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
