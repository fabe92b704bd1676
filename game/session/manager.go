package session

import (
	"errors"
	"sync"
	"time"

	"github.com/wricardo/tictactoe/game/engine"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidUserName = errors.New("invalid user name")
)

// TokenVerifier resolves a session token to a user name
type TokenVerifier interface {
	VerifyUser(token string) (string, error)
}

// Manager keeps one shared session per user name
type Manager struct {
	sessions map[string]*Session
	tokens   TokenVerifier
	mu       sync.RWMutex
}

// NewManager creates a new session manager
func NewManager(tokens TokenVerifier) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		tokens:   tokens,
	}
}

// FindOrStore returns the session of u, creating it on first use
func (m *Manager) FindOrStore(u engine.User) (*Session, error) {
	if u.UserName == "" {
		return nil, ErrInvalidUserName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[u.UserName]; ok {
		s.Touch()
		return s, nil
	}
	s := NewForUser(u)
	m.sessions[u.UserName] = s
	return s, nil
}

// UseToken verifies a session token and returns the shared session of its user
func (m *Manager) UseToken(token string) (*Session, error) {
	userName, err := m.tokens.VerifyUser(token)
	if err != nil {
		if engine.IsKind(err, engine.KindToken) {
			return nil, err
		}
		return nil, engine.TokenError(err)
	}
	return m.FindOrStore(engine.User{UserName: userName})
}

// Get retrieves the session of userName
func (m *Manager) Get(userName string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userName]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes the session of userName
func (m *Manager) Delete(userName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[userName]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, userName)
	return nil
}

// CleanupExpiredSessions removes sessions that haven't been accessed in the
// given duration and are not bound to a match
func (m *Manager) CleanupExpiredSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for name, s := range m.sessions {
		if s.LastAccessedAt().Before(cutoff) && s.MatchID() == "" {
			delete(m.sessions, name)
			removed++
		}
	}

	return removed
}

// Count returns the number of stored sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
