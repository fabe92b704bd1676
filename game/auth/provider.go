package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wricardo/tictactoe/game/engine"
	"github.com/wricardo/tictactoe/game/session"
	"github.com/wricardo/tictactoe/validate"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = engine.InvalidInput("User already registered")
	ErrInvalidCredentials = engine.InvalidInput("Unknown user or wrong password")
)

// Tokens issues session tokens
type Tokens interface {
	SignUser(userName string) (string, error)
}

// Sessions resolves users and tokens to shared sessions
type Sessions interface {
	FindOrStore(u engine.User) (*session.Session, error)
	UseToken(token string) (*session.Session, error)
}

// Provider keeps bcrypt password hashes in memory and issues session tokens
type Provider struct {
	tokens   Tokens
	sessions Sessions
	cost     int
	logger   *slog.Logger

	mu        sync.RWMutex
	passwords map[string][]byte
}

// NewProvider creates a provider hashing with bcrypt.DefaultCost
func NewProvider(tokens Tokens, sessions Sessions, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		tokens:    tokens,
		sessions:  sessions,
		cost:      bcrypt.DefaultCost,
		logger:    logger.With(slog.String("component", "auth")),
		passwords: make(map[string][]byte),
	}
}

// WithCost overrides the bcrypt cost
func (p *Provider) WithCost(cost int) *Provider {
	p.cost = cost
	return p
}

// Register creates an account and returns a session token for it
func (p *Provider) Register(userName, password1, password2 string) (string, error) {
	p.mu.RLock()
	_, exists := p.passwords[userName]
	p.mu.RUnlock()
	if exists {
		return "", ErrUserExists
	}
	if err := validate.Registration(userName, password1, password2); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password1), p.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.passwords[userName]; exists {
		p.mu.Unlock()
		return "", ErrUserExists
	}
	p.passwords[userName] = hash
	p.mu.Unlock()

	p.logger.Info("user registered", slog.String("user", userName))
	return p.tokens.SignUser(userName)
}

// Login checks the password and returns a token with the user's shared session
func (p *Provider) Login(userName, password string) (string, *session.Session, error) {
	if err := p.check(userName, password); err != nil {
		return "", nil, err
	}
	return p.issue(userName)
}

// Password replaces the password of userName after checking the old one
func (p *Provider) Password(userName, oldPassword, password1, password2 string) (string, *session.Session, error) {
	if err := p.check(userName, oldPassword); err != nil {
		return "", nil, err
	}
	if err := validate.PasswordChange(password1, password2); err != nil {
		return "", nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password1), p.cost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash password: %w", err)
	}
	p.mu.Lock()
	p.passwords[userName] = hash
	p.mu.Unlock()

	return p.issue(userName)
}

// Signin restores the shared session of a session token
func (p *Provider) Signin(token string) (*session.Session, error) {
	return p.sessions.UseToken(token)
}

// Authenticated returns the user of sess
func (p *Provider) Authenticated(sess *session.Session) (engine.User, error) {
	return sess.RequireUser()
}

// Registered reports whether userName has an account
func (p *Provider) Registered(userName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.passwords[userName]
	return ok
}

func (p *Provider) check(userName, password string) error {
	p.mu.RLock()
	hash, ok := p.passwords[userName]
	p.mu.RUnlock()
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			p.logger.Warn("password check failed", slog.String("user", userName), slog.Any("error", err))
		}
		return ErrInvalidCredentials
	}
	return nil
}

func (p *Provider) issue(userName string) (string, *session.Session, error) {
	sess, err := p.sessions.FindOrStore(engine.User{UserName: userName})
	if err != nil {
		return "", nil, err
	}
	tok, err := p.tokens.SignUser(userName)
	if err != nil {
		return "", nil, err
	}
	p.logger.Debug("token issued", slog.String("user", userName))
	return tok, sess, nil
}
