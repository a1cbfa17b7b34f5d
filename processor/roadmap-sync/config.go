package roadmapsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/aibenefits/config"
	"github.com/c360studio/aibenefits/tracker"
)

// Config holds configuration for the roadmap-sync component.
type Config struct {
	// Enabled turns the cron schedule on. Manual runs work either way.
	Enabled bool `json:"enabled"`

	// Schedule is a standard five-field cron expression.
	Schedule string `json:"schedule"`

	// Thresholds are the phase progress percentages that raise an alert.
	Thresholds []int `json:"thresholds"`

	// RunTimeout bounds a scheduled run.
	RunTimeout time.Duration `json:"run_timeout"`
}

// DefaultConfig returns the nightly schedule with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Schedule:   "0 2 * * *",
		Thresholds: append([]int(nil), tracker.DefaultThresholds...),
		RunTimeout: 10 * time.Minute,
	}
}

// ConfigFrom maps the application's sync section onto a component config.
func ConfigFrom(sc config.SyncConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = sc.Enabled
	if sc.Schedule != "" {
		cfg.Schedule = sc.Schedule
	}
	if len(sc.Thresholds) > 0 {
		cfg.Thresholds = append([]int(nil), sc.Thresholds...)
	}
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Enabled {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", c.Schedule, err))
		}
	}
	if err := validateThresholds(c.Thresholds); err != nil {
		errs = append(errs, err)
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("run_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func validateThresholds(ts []int) error {
	for _, t := range ts {
		if t < 1 || t > 100 {
			return fmt.Errorf("threshold %d must be between 1 and 100", t)
		}
	}
	return nil
}
