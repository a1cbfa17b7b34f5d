package dashboard

import (
	"fmt"
	"strings"

	"github.com/c360studio/aibenefits/config"
)

// Config holds configuration for the dashboard component.
type Config struct {
	// SessionCookie is the name of the session cookie shared with the API.
	SessionCookie string `json:"session_cookie"`

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool `json:"secure_cookie"`

	// Title is shown in the page header and browser tab.
	Title string `json:"title"`

	// AlertLimit caps the alerts listed on the alerts page.
	AlertLimit int `json:"alert_limit"`

	// APIPrefix is where the JSON API is mounted. Attachment downloads
	// link into it.
	APIPrefix string `json:"api_prefix"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		SessionCookie: "aibt_session",
		Title:         "AI Benefits Tracker",
		AlertLimit:    100,
		APIPrefix:     "/api/",
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
	return cfg
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.SessionCookie == "" {
		return fmt.Errorf("session_cookie is required")
	}
	if !strings.HasPrefix(c.APIPrefix, "/") || !strings.HasSuffix(c.APIPrefix, "/") {
		return fmt.Errorf("api_prefix must start and end with /")
	}
	if c.AlertLimit <= 0 {
		return fmt.Errorf("alert_limit must be positive")
	}
	return nil
}
