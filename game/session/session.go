package session

import (
	"sync"
	"time"

	"github.com/wricardo/tictactoe/game/engine"
)

// Session is the state of one principal: its user once authenticated and the
// match it currently plays. Connections restoring the same token share it.
type Session struct {
	mu             sync.RWMutex
	user           *engine.User
	matchID        string
	createdAt      time.Time
	lastAccessedAt time.Time
}

// New creates an anonymous session
func New() *Session {
	now := time.Now()
	return &Session{
		createdAt:      now,
		lastAccessedAt: now,
	}
}

// NewForUser creates a session already bound to u
func NewForUser(u engine.User) *Session {
	s := New()
	s.SetUser(u)
	return s
}

// User returns the authenticated user, if any
func (s *Session) User() (engine.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return engine.User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a user is attached
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// RequireUser returns the user or ErrAuthenticationRequired
func (s *Session) RequireUser() (engine.User, error) {
	if s == nil {
		return engine.User{}, engine.ErrAuthenticationRequired
	}
	u, ok := s.User()
	if !ok {
		return engine.User{}, engine.ErrAuthenticationRequired
	}
	return u, nil
}

// SetUser attaches u and marks the session authenticated
func (s *Session) SetUser(u engine.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	s.lastAccessedAt = time.Now()
}

// MatchID returns the id of the current match, empty when none
func (s *Session) MatchID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matchID
}

// SetMatchID records the current match
func (s *Session) SetMatchID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchID = id
}

// Touch refreshes the last access time
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccessedAt = time.Now()
}

// CreatedAt returns the creation time
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastAccessedAt returns the last time the session was used
func (s *Session) LastAccessedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccessedAt
}
