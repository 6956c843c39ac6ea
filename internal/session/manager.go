package session

import (
	"context"
	"errors"
	"sync"
)

// Manager holds at most one simulation session at a time.
type Manager struct {
	mu      sync.Mutex
	current *Session
	deps    Deps
}

// NewManager returns a manager that builds sessions with deps.
func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps}
}

// Start replaces any stopped session with a new one built from params and starts it.
func (m *Manager) Start(ctx context.Context, params Params) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Running() {
		return nil, ErrRunning
	}
	s, err := New(params, m.deps)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	m.current = s
	return s, nil
}

// Resume builds a session from params, restores the stored snapshot for
// sessionID and starts it.
func (m *Manager) Resume(ctx context.Context, params Params, sessionID string) (*Session, error) {
	if m.deps.Store == nil {
		return nil, errors.New("resume: no snapshot store configured")
	}
	snap, err := m.deps.Store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Running() {
		return nil, ErrRunning
	}
	s, err := New(params, m.deps)
	if err != nil {
		return nil, err
	}
	if err := s.Restore(snap); err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	m.current = s
	return s, nil
}

// Stop stops the running session, keeping its state.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNotRunning
	}
	return m.current.Stop()
}

// Reset clears the current stopped session's portfolio and trades.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoSession
	}
	return m.current.Reset()
}

// Current returns the latest session, running or not.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Shutdown stops the current session if it is running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Running() {
		_ = m.current.Stop()
	}
}
