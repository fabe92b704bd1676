package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/wricardo/tictactoe/validate"
)

// Config is the deployment configuration of the server
type Config struct {
	Secret       string        `env:"TTT_SECRET"`
	TokenExpires time.Duration `env:"TTT_TOKEN_EXPIRES" envDefault:"24h"`

	TCPAddr   string `env:"TTT_TCP_ADDR" envDefault:"0.0.0.0:4001"`
	HTTPAddr  string `env:"TTT_HTTP_ADDR" envDefault:"0.0.0.0:4000"`
	Delimiter string `env:"TTT_DELIMITER" envDefault:"."`
	StaticDir string `env:"TTT_STATIC_DIR"`

	SweepInterval          time.Duration `env:"TTT_SWEEP_INTERVAL" envDefault:"10s"`
	SessionMaxAge          time.Duration `env:"TTT_SESSION_MAX_AGE" envDefault:"24h"`
	SessionCleanupInterval time.Duration `env:"TTT_SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// RateLimit is the sustained number of HTTP GraphQL requests per second
	// allowed per client address
	RateLimit float64 `env:"TTT_RATE_LIMIT" envDefault:"20"`
	RateBurst int     `env:"TTT_RATE_BURST" envDefault:"40"`

	Debug bool `env:"TTT_DEBUG"`

	Ngrok Ngrok

	// GeneratedSecret is set when no secret was configured and a random one
	// was created for this process
	GeneratedSecret bool `env:"-"`
}

// Ngrok configures the optional public tunnel
type Ngrok struct {
	Enabled   bool   `env:"NGROK_ENABLED"`
	AuthToken string `env:"NGROK_AUTHTOKEN"`
	Domain    string `env:"NGROK_DOMAIN"`
}

// Load reads the configuration from the environment and validates it
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Ngrok.AuthToken == "" {
		// underscore spelling is accepted too
		var alt struct {
			AuthToken string `env:"NGROK_AUTH_TOKEN"`
		}
		if err := env.Parse(&alt); err == nil {
			cfg.Ngrok.AuthToken = alt.AuthToken
		}
	}
	if err := cfg.EnsureSecret(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureSecret fills an empty secret with random bytes. Tokens signed with a
// generated secret do not survive a restart.
func (c *Config) EnsureSecret() error {
	if c.Secret != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("failed to generate secret: %w", err)
	}
	c.Secret = hex.EncodeToString(buf)
	c.GeneratedSecret = true
	return nil
}

// Validate reports every invalid field at once
func (c Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("TTT_SECRET is required"))
	}
	if c.TokenExpires <= 0 {
		errs = append(errs, fmt.Errorf("TTT_TOKEN_EXPIRES must be positive, got %s", c.TokenExpires))
	}
	if c.TCPAddr == "" {
		errs = append(errs, errors.New("TTT_TCP_ADDR is required"))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("TTT_HTTP_ADDR is required"))
	}
	if err := validate.Delimiter(c.Delimiter); err != nil {
		errs = append(errs, fmt.Errorf("TTT_DELIMITER: %w", err))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("TTT_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.SessionCleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("TTT_SESSION_CLEANUP_INTERVAL must be positive, got %s", c.SessionCleanupInterval))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %v/%d", c.RateLimit, c.RateBurst))
	}
	return errors.Join(errs...)
}
