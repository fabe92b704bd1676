package matchmaker

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/session"
)

// Bus is the part of the event bus the match maker needs
type Bus interface {
	Publish(topic string, payload interface{})
	PublishWithAck(topic string, payload interface{}) bool
}

// Lobby is the part of the presence registry the match maker needs
type Lobby interface {
	engine.Lobby
	Entry(sess *session.Session) error
}

// Tokens signs and verifies invite tokens
type Tokens interface {
	SignInvite(data engine.InviteData) (string, error)
	VerifyInvite(token string) (engine.InviteData, error)
}

// MatchMaker owns every match of the process
type MatchMaker struct {
	lobby  Lobby
	bus    Bus
	tokens Tokens
	logger *slog.Logger
	newID  func() string

	mu      sync.RWMutex
	matches map[string]*engine.Match
}

// New creates an empty match maker
func New(lobby Lobby, bus Bus, tokens Tokens, logger *slog.Logger) *MatchMaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchMaker{
		lobby:   lobby,
		bus:     bus,
		tokens:  tokens,
		logger:  logger.With(slog.String("component", "matchmaker")),
		newID:   uuid.NewString,
		matches: make(map[string]*engine.Match),
	}
}

// Create starts a match with the caller as X. The caller leaves its previous
// match and the lobby.
func (mm *MatchMaker) Create(sess *session.Session) (*engine.Match, error) {
	u, err := sess.RequireUser()
	if err != nil {
		return nil, err
	}

	m := engine.NewMatch(mm.newID(), u, mm.lobby, mm.bus)
	mm.mu.Lock()
	mm.matches[m.ID()] = m
	mm.mu.Unlock()

	mm.leaveMatch(sess, u)
	mm.lobby.ExitUser(u, true)
	sess.SetMatchID(m.ID())

	mm.logger.Info("match created", slog.String("match", m.ID()), slog.String("user", u.UserName))
	return m, nil
}

// Lease returns the match recorded on the session, or nil
func (mm *MatchMaker) Lease(sess *session.Session) (*engine.Match, error) {
	if _, err := sess.RequireUser(); err != nil {
		return nil, err
	}
	return mm.Lookup(sess.MatchID()), nil
}

// Invite sends an invite for the caller's match to userName. It fails when
// nobody listens on the invitee inbox.
func (mm *MatchMaker) Invite(sess *session.Session, userName string, role engine.Role) (engine.Invite, error) {
	u, err := sess.RequireUser()
	if err != nil {
		return engine.Invite{}, err
	}
	if userName == u.UserName {
		return engine.Invite{}, engine.InvalidInput("You can't invite yourself")
	}
	m := mm.Lookup(sess.MatchID())
	if m == nil {
		return engine.Invite{}, engine.InvalidInput("You didn't started a match jet")
	}

	data := engine.InviteData{UserName: userName, MatchID: m.ID(), Role: role}
	tok, err := mm.tokens.SignInvite(data)
	if err != nil {
		return engine.Invite{}, err
	}
	invite := engine.Invite{From: u, MatchID: m.ID(), Role: role, Token: tok}
	if !mm.bus.PublishWithAck(engine.UserTopic(userName), invite) {
		return engine.Invite{}, engine.InvalidInput("Can't find the invited user")
	}
	return invite, nil
}

// Join redeems an invite token. A token addressed to someone else, or to a
// match that no longer exists, succeeds without changing anything.
func (mm *MatchMaker) Join(sess *session.Session, tok string) (bool, error) {
	u, err := sess.RequireUser()
	if err != nil {
		return false, err
	}
	data, err := mm.tokens.VerifyInvite(tok)
	if err != nil {
		return false, err
	}
	if data.UserName != u.UserName {
		return true, nil
	}
	m := mm.Lookup(data.MatchID)
	if m == nil {
		return true, nil
	}

	previous := sess.MatchID()
	join := m.Join
	if previous == m.ID() {
		join = m.Rejoin
	}
	if _, err := join(u, data.Role); err != nil {
		return false, err
	}
	if previous != m.ID() {
		mm.leaveMatch(sess, u)
	}
	sess.SetMatchID(m.ID())
	return true, nil
}

// Reject tells every Player of the invited match that the caller declined.
// Only the invited user can reject.
func (mm *MatchMaker) Reject(sess *session.Session, tok string) (bool, error) {
	u, err := sess.RequireUser()
	if err != nil {
		return false, err
	}
	data, err := mm.tokens.VerifyInvite(tok)
	if err != nil {
		return false, err
	}
	if data.UserName != u.UserName {
		return true, nil
	}
	m := mm.Lookup(data.MatchID)
	if m == nil {
		return true, nil
	}

	reject := engine.Reject{From: u, MatchID: data.MatchID, Role: data.Role}
	for _, p := range m.Snapshot().Players() {
		mm.bus.Publish(engine.UserTopic(p.User.UserName), reject)
	}
	return true, nil
}

// Leave drops the caller from its match and sends it back to the lobby
func (mm *MatchMaker) Leave(sess *session.Session) (bool, error) {
	u, err := sess.RequireUser()
	if err != nil {
		return false, err
	}
	mm.leaveMatch(sess, u)
	if err := mm.lobby.Entry(sess); err != nil {
		return false, err
	}
	return true, nil
}

// Lookup returns the match with id, or nil
func (mm *MatchMaker) Lookup(id string) *engine.Match {
	if id == "" {
		return nil
	}
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.matches[id]
}

// Count returns the number of registered matches
func (mm *MatchMaker) Count() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return len(mm.matches)
}

// leaveMatch removes u from the match recorded on sess and clears it
func (mm *MatchMaker) leaveMatch(sess *session.Session, u engine.User) {
	if m := mm.Lookup(sess.MatchID()); m != nil {
		m.Leave(u)
	}
	sess.SetMatchID("")
}
