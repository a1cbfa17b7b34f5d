// Package trackerapi provides the JSON API of the AI benefits tracker:
// CRUD over projects and everything attached to them, the alert inbox,
// the prompt library, user administration and the cron trigger of the
// roadmap sync.
package trackerapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/notify"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/uploads"
)

// Component implements the tracker-api component.
type Component struct {
	name     string
	config   Config
	store    *storage.Store
	auth     *auth.Service
	uploads  *uploads.Store
	syncer   component.Syncer
	notifier notify.Notifier
	mailer   *notify.Mailer
	health   func() map[string]component.HealthStatus
	logger   *slog.Logger

	// Lifecycle state machine
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	serverErrors atomic.Int64
}

// NewComponent constructs a tracker-api Component from the shared deps.
func NewComponent(deps component.Dependencies) (component.Discoverable, error) {
	config := ConfigFrom(deps.Config)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service required")
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &Component{
		name:     "tracker-api",
		config:   config,
		store:    deps.Store,
		auth:     deps.Auth,
		uploads:  deps.Uploads,
		syncer:   deps.Syncer,
		notifier: notifier,
		mailer:   deps.Mailer,
		health:   deps.HealthReporter,
		logger:   deps.GetLogger(),
	}, nil
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized tracker-api",
		"session_cookie", c.config.SessionCookie,
		"cron_secret_set", c.config.CronSecret != "",
		"uploads", c.uploads != nil,
		"sync", c.syncer != nil)
	return nil
}

// Start marks the API as serving.
func (c *Component) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(component.StateStopped, component.StateStarting) {
		current := c.state.Load()
		if current == component.StateRunning || current == component.StateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	defer func() {
		if c.state.Load() == component.StateStarting {
			c.state.Store(component.StateStopped)
		}
	}()

	_, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(component.StateRunning)
	c.logger.Info("tracker-api started")
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	if !c.state.CompareAndSwap(component.StateRunning, component.StateStopping) {
		current := c.state.Load()
		if current == component.StateStopped || current == component.StateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.state.Store(component.StateStopped)
	c.logger.Info("tracker-api stopped", "server_errors", c.serverErrors.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: "JSON API over projects, KPIs, ROI, risks, roadmaps and alerts",
		Version:     "0.1.0",
	}
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	state := c.state.Load()

	c.mu.RLock()
	startTime := c.startTime
	c.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    state == component.StateRunning,
		LastCheck:  time.Now(),
		ErrorCount: int(c.serverErrors.Load()),
		Uptime:     time.Since(startTime),
		Status:     component.StatusName(state),
	}
}
