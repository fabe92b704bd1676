package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wricardo/tictactoe/game/engine"
)

const (
	subjectSession = "session"
	subjectInvite  = "invite"
)

var (
	ErrMissingSecret = errors.New("token secret is required")
	errWrongSubject  = errors.New("token subject mismatch")
	errMissingClaim  = errors.New("token is missing required claims")
)

// Config holds the signing parameters shared by every process of a deployment
type Config struct {
	Secret  string
	Expires time.Duration
	Now     func() time.Time
}

// Signer issues and verifies HS256 tokens for sessions and invites
type Signer struct {
	secret  []byte
	expires time.Duration
	now     func() time.Time
}

type sessionClaims struct {
	jwt.RegisteredClaims
	UserName string `json:"userName"`
}

type inviteClaims struct {
	jwt.RegisteredClaims
	UserName string `json:"userName"`
	MatchID  string `json:"matchId"`
	Role     string `json:"role"`
}

// NewSigner validates cfg and returns a Signer
func NewSigner(cfg Config) (*Signer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Expires <= 0 {
		return nil, fmt.Errorf("token expiry must be positive, got %s", cfg.Expires)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Signer{
		secret:  []byte(cfg.Secret),
		expires: cfg.Expires,
		now:     cfg.Now,
	}, nil
}

// SignUser issues a session token for userName
func (s *Signer) SignUser(userName string) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: s.registered(subjectSession),
		UserName:         userName,
	}
	return s.sign(claims)
}

// VerifyUser returns the user name carried by a session token
func (s *Signer) VerifyUser(tok string) (string, error) {
	var claims sessionClaims
	if err := s.parse(tok, &claims, subjectSession); err != nil {
		return "", err
	}
	if claims.UserName == "" {
		return "", engine.TokenError(errMissingClaim)
	}
	return claims.UserName, nil
}

// SignInvite issues an invite token for data
func (s *Signer) SignInvite(data engine.InviteData) (string, error) {
	claims := inviteClaims{
		RegisteredClaims: s.registered(subjectInvite),
		UserName:         data.UserName,
		MatchID:          data.MatchID,
		Role:             string(data.Role),
	}
	return s.sign(claims)
}

// VerifyInvite decodes an invite token. Unknown roles decode as Spectator.
func (s *Signer) VerifyInvite(tok string) (engine.InviteData, error) {
	var claims inviteClaims
	if err := s.parse(tok, &claims, subjectInvite); err != nil {
		return engine.InviteData{}, err
	}
	if claims.UserName == "" || claims.MatchID == "" {
		return engine.InviteData{}, engine.TokenError(errMissingClaim)
	}
	return engine.InviteData{
		UserName: claims.UserName,
		MatchID:  claims.MatchID,
		Role:     engine.ParseRole(claims.Role),
	}, nil
}

func (s *Signer) registered(subject string) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expires)),
	}
}

func (s *Signer) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *Signer) parse(tok string, claims jwt.Claims, subject string) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return engine.TokenError(errMissingClaim)
	}
	_, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return engine.TokenError(err)
	}
	if got, _ := claims.GetSubject(); got != subject {
		return engine.TokenError(errWrongSubject)
	}
	return nil
}
