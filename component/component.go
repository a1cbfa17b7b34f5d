// Package component defines the lifecycle contract shared by the tracker's
// long-running parts (API, dashboard, roadmap sync) and a registry that
// builds them from a common set of dependencies.
package component

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/config"
	"github.com/c360studio/aibenefits/metrics"
	"github.com/c360studio/aibenefits/notify"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
	"github.com/c360studio/aibenefits/uploads"
)

// Metadata describes a component.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health report.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	Uptime     time.Duration `json:"uptime"`
	Status     string        `json:"status"`
}

// Discoverable is a component with a managed lifecycle.
type Discoverable interface {
	Meta() Metadata
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() HealthStatus
}

// HTTPHandler is implemented by components that serve HTTP routes.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// Syncer runs roadmap syncs on demand.
type Syncer interface {
	Sync(ctx context.Context) (*tracker.SyncSummary, error)
	RecomputeProject(ctx context.Context, projectID string) error
	LastRun() *tracker.SyncSummary
	NextRun() time.Time
}

// Dependencies are the shared services handed to every component factory.
// Optional fields may be nil.
type Dependencies struct {
	Config   *config.Config
	Store    *storage.Store
	Auth     *auth.Service
	Notifier notify.Notifier
	Mailer   *notify.Mailer
	Uploads  *uploads.Store
	Metrics  *metrics.Metrics
	Syncer   Syncer
	Logger   *slog.Logger

	// HealthReporter lists the health of every created component.
	HealthReporter func() map[string]HealthStatus
}

// GetLogger returns the configured logger or the process default.
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Lifecycle states shared by component implementations.
const (
	StateStopped  int32 = 0
	StateStarting int32 = 1
	StateRunning  int32 = 2
	StateStopping int32 = 3
)

// StatusName maps a lifecycle state to its health status string.
func StatusName(state int32) string {
	switch state {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "stopped"
}
