package trackerapi

import (
	"fmt"

	"github.com/c360studio/aibenefits/config"
)

// Config holds configuration for the tracker-api component.
type Config struct {
	// SessionCookie is the name of the session cookie.
	SessionCookie string `json:"session_cookie"`

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool `json:"secure_cookie"`

	// CronSecret authorises the cron trigger endpoint without a session.
	// Empty disables secret-based access.
	CronSecret string `json:"cron_secret,omitempty"`

	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SessionCookie: "aibt_session",
		MaxBodyBytes:  1 << 20,
	}
}

// ConfigFrom builds the component config from the application config.
func ConfigFrom(c *config.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.Server.SessionCookie != "" {
		cfg.SessionCookie = c.Server.SessionCookie
	}
	cfg.SecureCookie = c.Server.SecureCookie
	cfg.CronSecret = c.Sync.CronSecret
	return cfg
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.SessionCookie == "" {
		return fmt.Errorf("session_cookie is required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	return nil
}
