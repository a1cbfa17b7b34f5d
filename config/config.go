// Package config provides configuration loading and management for the AI
// benefits tracker.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete tracker configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Mail     MailConfig     `yaml:"mail"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	NATS     NATSConfig     `yaml:"nats"`
}

// ServerConfig configures the HTTP listener and sessions
type ServerConfig struct {
	// ListenAddr is the HTTP listen address (default: :8080)
	ListenAddr string `yaml:"listen_addr"`
	// BaseURL is the externally visible URL, used in emails
	BaseURL string `yaml:"base_url"`
	// SessionCookie is the name of the session cookie
	SessionCookie string `yaml:"session_cookie"`
	// SessionTTL is how long a login stays valid
	SessionTTL time.Duration `yaml:"session_ttl"`
	// SecureCookie marks the session cookie Secure (HTTPS only)
	SecureCookie bool `yaml:"secure_cookie"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig configures the nightly roadmap sync
type SyncConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a standard five-field cron expression
	Schedule string `yaml:"schedule"`
	// Thresholds are the progress percentages that raise an alert when crossed
	Thresholds []int `yaml:"thresholds"`
	// CronSecret authorises external triggers of the sync endpoint
	CronSecret string `yaml:"cron_secret"`
}

// MailConfig configures outgoing email
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// UploadsConfig configures project attachments
type UploadsConfig struct {
	// Dir is where uploaded files are written
	Dir string `yaml:"dir"`
	// MaxBytes is the largest accepted upload
	MaxBytes int64 `yaml:"max_bytes"`
	// Allowed lists glob patterns a file name must match (e.g. "*.pdf")
	Allowed []string `yaml:"allowed"`
}

// NATSConfig configures alert event publishing
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// SubjectPrefix is prepended to every published subject
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:    ":8080",
			BaseURL:       "http://localhost:8080",
			SessionCookie: "aibt_session",
			SessionTTL:    7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path: "data/aibenefits.db",
		},
		Sync: SyncConfig{
			Enabled:    true,
			Schedule:   "0 2 * * *",
			Thresholds: []int{25, 50, 75, 100},
		},
		Mail: MailConfig{
			Port: 587,
			From: "ai-tracker@localhost",
		},
		Uploads: UploadsConfig{
			Dir:      "data/uploads",
			MaxBytes: 10 << 20,
			Allowed:  []string{"*.pdf", "*.png", "*.jpg", "*.jpeg", "*.csv", "*.xlsx", "*.docx", "*.md", "*.txt"},
		},
		NATS: NATSConfig{
			SubjectPrefix: "aibenefits",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("server.listen_addr is required"))
	}
	if c.Server.SessionCookie == "" {
		errs = append(errs, fmt.Errorf("server.session_cookie is required"))
	}
	if c.Server.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Sync.Enabled {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sync.schedule: %w", err))
		}
	}
	for _, t := range c.Sync.Thresholds {
		if t < 1 || t > 100 {
			errs = append(errs, fmt.Errorf("sync.thresholds: %d is outside 1-100", t))
		}
	}
	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			errs = append(errs, fmt.Errorf("mail.host is required when mail is enabled"))
		}
		if c.Mail.From == "" {
			errs = append(errs, fmt.Errorf("mail.from is required when mail is enabled"))
		}
	}
	if c.Uploads.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("uploads.max_bytes must be positive"))
	}
	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.overlayFile(path); err != nil {
		return nil, err
	}
	return config, nil
}

// overlayFile decodes a YAML file on top of c. Keys absent from the file keep
// their current values.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold SMTP and cron secrets.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// Booleans can only be switched on by a merge.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Server
	if other.Server.ListenAddr != "" {
		c.Server.ListenAddr = other.Server.ListenAddr
	}
	if other.Server.BaseURL != "" {
		c.Server.BaseURL = other.Server.BaseURL
	}
	if other.Server.SessionCookie != "" {
		c.Server.SessionCookie = other.Server.SessionCookie
	}
	if other.Server.SessionTTL != 0 {
		c.Server.SessionTTL = other.Server.SessionTTL
	}
	if other.Server.SecureCookie {
		c.Server.SecureCookie = true
	}

	// Database
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}

	// Sync
	if other.Sync.Schedule != "" {
		c.Sync.Schedule = other.Sync.Schedule
	}
	if len(other.Sync.Thresholds) > 0 {
		c.Sync.Thresholds = other.Sync.Thresholds
	}
	if other.Sync.CronSecret != "" {
		c.Sync.CronSecret = other.Sync.CronSecret
	}

	// Mail
	if other.Mail.Enabled {
		c.Mail.Enabled = true
	}
	if other.Mail.Host != "" {
		c.Mail.Host = other.Mail.Host
	}
	if other.Mail.Port != 0 {
		c.Mail.Port = other.Mail.Port
	}
	if other.Mail.Username != "" {
		c.Mail.Username = other.Mail.Username
	}
	if other.Mail.Password != "" {
		c.Mail.Password = other.Mail.Password
	}
	if other.Mail.From != "" {
		c.Mail.From = other.Mail.From
	}

	// Uploads
	if other.Uploads.Dir != "" {
		c.Uploads.Dir = other.Uploads.Dir
	}
	if other.Uploads.MaxBytes != 0 {
		c.Uploads.MaxBytes = other.Uploads.MaxBytes
	}
	if len(other.Uploads.Allowed) > 0 {
		c.Uploads.Allowed = other.Uploads.Allowed
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
}
