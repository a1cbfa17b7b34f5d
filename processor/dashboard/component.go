// Package dashboard serves the server-rendered pages of the AI benefits
// tracker. Pages are html/template files embedded in the binary and read
// the same store as the JSON API.
package dashboard

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/storage"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static
var staticFiles embed.FS

// Component implements the dashboard component.
type Component struct {
	name   string
	config Config
	store  *storage.Store
	auth   *auth.Service
	pages  map[string]*template.Template
	static fs.FS
	prefix string
	logger *slog.Logger

	// Lifecycle state machine
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex

	// Metrics
	pagesRendered atomic.Int64
	renderErrors  atomic.Int64
}

// NewComponent constructs a dashboard Component from the shared deps.
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

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("static files: %w", err)
	}

	return &Component{
		name:   "dashboard",
		config: config,
		store:  deps.Store,
		auth:   deps.Auth,
		pages:  pages,
		static: static,
		prefix: "/",
		logger: deps.GetLogger(),
	}, nil
}

// parsePages pairs every page template with the shared layout.
func parsePages() (map[string]*template.Template, error) {
	names, err := fs.Glob(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		base := strings.TrimSuffix(path.Base(name), ".html")
		if base == "layout" {
			continue
		}
		t, err := template.New("layout.html").Funcs(templateFuncs()).
			ParseFS(templateFiles, "templates/layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", base, err)
		}
		pages[base] = t
	}
	return pages, nil
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized dashboard", "pages", len(c.pages))
	return nil
}

// Start marks the dashboard as serving.
func (c *Component) Start(_ context.Context) error {
	if !c.state.CompareAndSwap(component.StateStopped, component.StateStarting) {
		current := c.state.Load()
		if current == component.StateRunning || current == component.StateStarting {
			return fmt.Errorf("component already running or starting")
		}
		return fmt.Errorf("component in invalid state: %d", current)
	}

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(component.StateRunning)
	c.logger.Info("dashboard started")
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
	c.state.Store(component.StateStopped)
	c.logger.Info("dashboard stopped",
		"pages_rendered", c.pagesRendered.Load(),
		"render_errors", c.renderErrors.Load())
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: "Server-rendered dashboard pages",
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
		ErrorCount: int(c.renderErrors.Load()),
		Uptime:     time.Since(startTime),
		Status:     component.StatusName(state),
	}
}
