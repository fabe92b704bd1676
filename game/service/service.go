package service

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/wricardo/tictactoe/game/auth"
	"github.com/wricardo/tictactoe/game/config"
	"github.com/wricardo/tictactoe/game/lobby"
	"github.com/wricardo/tictactoe/game/matchmaker"
	"github.com/wricardo/tictactoe/game/pubsub"
	"github.com/wricardo/tictactoe/game/session"
	"github.com/wricardo/tictactoe/game/token"
)

// Services bundles the process wide registries every connection works with
type Services struct {
	Bus        *pubsub.Bus
	Lobby      *lobby.Lobby
	MatchMaker *matchmaker.MatchMaker
	Sessions   *session.Manager
	Auth       *auth.Provider
	Tokens     *token.Signer
	Logger     *slog.Logger
}

// New wires the registries from cfg
func New(cfg config.Config, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	signer, err := token.NewSigner(token.Config{Secret: cfg.Secret, Expires: cfg.TokenExpires})
	if err != nil {
		return nil, fmt.Errorf("failed to create token signer: %w", err)
	}

	bus := pubsub.NewBus()
	sessions := session.NewManager(signer)
	l := lobby.New(bus, cfg.SweepInterval, logger)

	return &Services{
		Bus:        bus,
		Lobby:      l,
		MatchMaker: matchmaker.New(l, bus, signer, logger),
		Sessions:   sessions,
		Auth:       auth.NewProvider(signer, sessions, logger),
		Tokens:     signer,
		Logger:     logger,
	}, nil
}

// NewScope creates the context of a new connection with an anonymous session
func (s *Services) NewScope() *Scope {
	return &Scope{
		Services: s,
		session:  session.New(),
	}
}

// NewScopeWithToken creates a connection context restored from a session
// token. An empty token yields an anonymous scope.
func (s *Services) NewScopeWithToken(tok string) (*Scope, error) {
	scope := s.NewScope()
	if tok == "" {
		return scope, nil
	}
	sess, err := s.Sessions.UseToken(tok)
	if err != nil {
		return nil, err
	}
	scope.Bind(sess)
	return scope, nil
}

// Scope is the context of one connection: the shared registries plus the
// session currently bound to the connection
type Scope struct {
	*Services

	mu      sync.RWMutex
	session *session.Session
}

// Session returns the bound session
func (sc *Scope) Session() *session.Session {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.session
}

// Bind replaces the bound session, as login and signin do
func (sc *Scope) Bind(sess *session.Session) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.session = sess
}

// LobbyUsers returns the number of idle users
func (s *Services) LobbyUsers() int {
	return s.Lobby.Count()
}

// Matches returns the number of registered matches
func (s *Services) Matches() int {
	return s.MatchMaker.Count()
}

// SessionCount returns the number of stored user sessions
func (s *Services) SessionCount() int {
	return s.Sessions.Count()
}
