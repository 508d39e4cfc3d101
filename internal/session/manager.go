// Package session ties a viewport observer to its own box store, reducer
// and fetch orchestrator, and keeps the registry of live sessions.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"viewfetch/internal/config"
	"viewfetch/internal/fetch"
	"viewfetch/internal/viewport"
)

var (
	// ErrSessionNotFound is returned when no session has the requested id
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached
	ErrTooManySessions = errors.New("too many sessions")
	// ErrSessionClosed is returned when starting a closed session
	ErrSessionClosed = errors.New("session closed")
)

// Manager manages all viewport sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	cfg      *config.Config
	fetcher  fetch.Fetcher
	logger   zerolog.Logger
}

// NewManager creates a new session Manager. The fetcher is shared by all sessions.
func NewManager(cfg *config.Config, fetcher fetch.Fetcher, logger zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		fetcher:  fetcher,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// Create registers a new session for observer. The session is not started.
func (m *Manager) Create(observer viewport.Observer) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.Must(uuid.NewV7()).String()
	s, err := New(id, m.cfg, observer, m.fetcher, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.sessions[id] = s
	m.logger.Debug().Str("session", id).Int("sessions", len(m.sessions)).Msg("created new session")
	return s, nil
}

// Get returns the session with the given id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove removes and closes a session
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if s != nil {
		s.Close()
		m.logger.Debug().Str("session", id).Msg("removed session")
	}
}

// List returns the ids of all sessions in ascending order
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes all sessions
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.logger.Info().Int("sessions", len(sessions)).Msg("closed all sessions")
}
