package service

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joeblew999/plat-ows/internal/metrics"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// SessionManager holds the live sessions of a process.
type SessionManager struct {
	deps     *Deps
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager whose sessions share deps.
func NewSessionManager(deps *Deps) *SessionManager {
	return &SessionManager{deps: deps, sessions: make(map[string]*Session)}
}

// Create starts a new session.
func (m *SessionManager) Create() *Session {
	s := newSession(uuid.NewString(), m.deps)
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	logging.Info("Server", "session %s created", s.ID)
	return s
}

// Get returns a session by id.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// List returns all sessions, oldest first.
func (m *SessionManager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Delete closes and removes a session.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	metrics.ActiveSessions.Set(float64(n))
	s.Close()
	return nil
}

// Close closes every session.
func (m *SessionManager) Close() {
	for _, s := range m.List() {
		_ = m.Delete(s.ID)
	}
}
