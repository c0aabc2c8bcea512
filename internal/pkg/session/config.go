package session

import (
	"errors"
	"time"

	"github.com/acastrillo/spotbuddy/internal/pkg/env"
)

const (
	DefaultCookieName = "spotbuddy_session"
	tokenIssuer       = "spotbuddy"
)

// Config holds session token and cookie settings
type Config struct {
	Secret     []byte
	CookieName string
	// CookieSecure should only be off for plain-HTTP local development.
	CookieSecure bool
	TTL          time.Duration
	// ReadTimeout bounds the account read behind Issue and Refresh.
	ReadTimeout time.Duration
	// MaxBytes is the hard ceiling for the serialized cookie; WarnBytes logs
	// and counts before the ceiling is reached.
	MaxBytes  int
	WarnBytes int
}

// LoadConfig loads session configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Secret:       []byte(env.GetEnv("SESSION_SECRET", "")),
		CookieName:   env.GetEnv("SESSION_COOKIE_NAME", DefaultCookieName),
		CookieSecure: env.GetEnvBool("SESSION_COOKIE_SECURE", !env.IsDev()),
		TTL:          time.Duration(env.GetEnvInt("SESSION_TTL_HOURS", 720)) * time.Hour,
		ReadTimeout:  time.Duration(env.GetEnvInt("SESSION_READ_TIMEOUT_MS", 2000)) * time.Millisecond,
		MaxBytes:     env.GetEnvInt("SESSION_MAX_TOKEN_BYTES", 4096),
		WarnBytes:    env.GetEnvInt("SESSION_WARN_TOKEN_BYTES", 3500),
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if len(c.Secret) < 32 {
		return errors.New("SESSION_SECRET must be at least 32 bytes")
	}
	if c.CookieName == "" {
		return errors.New("SESSION_COOKIE_NAME must not be empty")
	}
	if c.TTL <= 0 || c.ReadTimeout <= 0 {
		return errors.New("SESSION_TTL_HOURS and SESSION_READ_TIMEOUT_MS must be positive")
	}
	if c.MaxBytes <= 0 || c.WarnBytes <= 0 || c.WarnBytes >= c.MaxBytes {
		return errors.New("SESSION_WARN_TOKEN_BYTES must be positive and below SESSION_MAX_TOKEN_BYTES")
	}
	return nil
}
