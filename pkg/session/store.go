package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store persists session records. Implementations must make Transition an
// atomic compare-and-swap on the state column.
type Store interface {
	// Create inserts a new session. The id must not exist.
	Create(ctx context.Context, s *Session) error

	// Get returns a copy of the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Transition moves a session from one state to another. It returns
	// ErrStateConflict if the current state is not from, and ErrNotFound
	// for unknown ids. Moving to a final state records at and reason.
	Transition(ctx context.Context, id string, from, to State, at time.Time, reason string) (*Session, error)

	// Purge deletes sessions that ended, or whose lifetime ran out, before
	// the cutoff. It returns the number of deleted records.
	Purge(ctx context.Context, before time.Time) (int, error)

	// Count returns the number of stored sessions per state.
	Count(ctx context.Context) (map[State]int, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources. It is safe to call more than once.
	Close() error
}

// MemoryStore keeps sessions in a map. All data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Create inserts a new session.
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Transition performs a compare-and-swap on the session state.
func (m *MemoryStore) Transition(_ context.Context, id string, from, to State, at time.Time, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.State != from {
		return s.Clone(), ErrStateConflict
	}

	s.State = to
	if to.Final() {
		s.EndedAt = at
		s.EndReason = reason
	}
	return s.Clone(), nil
}

// Purge deletes finished or long-expired sessions.
func (m *MemoryStore) Purge(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, s := range m.sessions {
		ended := s.State.Final() && s.EndedAt.Before(before)
		if ended || s.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of sessions per state.
func (m *MemoryStore) Count(_ context.Context) (map[State]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[State]int)
	for _, s := range m.sessions {
		counts[s.State]++
	}
	return counts, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
