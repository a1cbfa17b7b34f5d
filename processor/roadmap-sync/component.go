// Package roadmapsync provides the processor that keeps roadmap progress
// current: it recomputes phase and project progress from milestones and
// raises alerts when phases cross progress thresholds or fall behind.
package roadmapsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/metrics"
	"github.com/c360studio/aibenefits/notify"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

// ErrSyncRunning is returned when a sync is requested while one is in progress.
var ErrSyncRunning = errors.New("roadmap sync already running")

// Store is the persistence the sync needs.
type Store interface {
	ListProjects(ctx context.Context, f storage.ProjectFilter) ([]*tracker.Project, error)
	GetProject(ctx context.Context, id string) (*tracker.Project, error)
	ListPhases(ctx context.Context, projectID string) ([]*tracker.Phase, error)
	ListMilestones(ctx context.Context, phaseID string) ([]*tracker.Milestone, error)
	ApplyRoadmapSync(ctx context.Context, projectID string, changes []storage.PhaseChange,
		projectProgress int, alerts []*tracker.Alert) ([]*tracker.Alert, error)
}

// SessionPurger removes expired sign-in sessions; a sync run also sweeps them.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Component implements the roadmap-sync processor.
type Component struct {
	name     string
	config   Config
	store    Store
	notifier notify.Notifier
	sessions SessionPurger
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	thresholdsMu sync.RWMutex
	thresholds   []int

	// running rejects overlapping full runs; workMu serialises full runs
	// with single-project recomputes.
	running atomic.Bool
	workMu  sync.Mutex

	scheduler *cron.Cron

	// Lifecycle state machine
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	alertsCreated atomic.Int64
	lastRunMu     sync.RWMutex
	lastRun       *tracker.SyncSummary
}

// NewComponent constructs a roadmap-sync Component from the shared deps.
func NewComponent(deps component.Dependencies) (component.Discoverable, error) {
	cfg := DefaultConfig()
	if deps.Config != nil {
		cfg = ConfigFrom(deps.Config.Sync)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store required")
	}

	c := New(cfg, deps.Store, deps.Notifier, deps.GetLogger())
	if deps.Auth != nil {
		c.sessions = deps.Auth
	}
	c.metrics = deps.Metrics
	return c, nil
}

// New creates a component over an explicit store. A nil notifier drops alerts.
func New(cfg Config, store Store, notifier notify.Notifier, logger *slog.Logger) *Component {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Component{
		name:       "roadmap-sync",
		config:     cfg,
		store:      store,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		thresholds: append([]int(nil), cfg.Thresholds...),
	}
}

// SetClock overrides the time source.
func (c *Component) SetClock(now func() time.Time) {
	c.now = now
}

// SetMetrics attaches sync collectors.
func (c *Component) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// Thresholds returns the progress thresholds currently in effect.
func (c *Component) Thresholds() []int {
	c.thresholdsMu.RLock()
	defer c.thresholdsMu.RUnlock()
	return slices.Clone(c.thresholds)
}

// SetThresholds replaces the progress thresholds used by later runs.
func (c *Component) SetThresholds(ts []int) error {
	if err := validateThresholds(ts); err != nil {
		return err
	}
	sorted := slices.Clone(ts)
	slices.Sort(sorted)

	c.thresholdsMu.Lock()
	changed := !slices.Equal(c.thresholds, sorted)
	c.thresholds = sorted
	c.thresholdsMu.Unlock()

	if changed {
		c.logger.Info("Updated progress thresholds", "thresholds", sorted)
	}
	return nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized roadmap-sync",
		"enabled", c.config.Enabled,
		"schedule", c.config.Schedule,
		"thresholds", c.config.Thresholds)
	return nil
}

// Start installs the cron schedule when enabled.
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

	runCtx, cancel := context.WithCancel(ctx)

	var scheduler *cron.Cron
	if c.config.Enabled {
		logger := cronLogger{c.logger}
		scheduler = cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		)
		if _, err := scheduler.AddFunc(c.config.Schedule, func() { c.runScheduled(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %q: %w", c.config.Schedule, err)
		}
		scheduler.Start()
	}

	c.mu.Lock()
	c.cancel = cancel
	c.scheduler = scheduler
	c.startTime = time.Now()
	c.mu.Unlock()

	c.state.Store(component.StateRunning)
	c.logger.Info("roadmap-sync started",
		"enabled", c.config.Enabled,
		"schedule", c.config.Schedule,
		"next_run", c.NextRun())
	return nil
}

// runScheduled is the cron job body.
func (c *Component) runScheduled(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.config.RunTimeout)
	defer cancel()

	if _, err := c.run(ctx, "schedule"); err != nil {
		if errors.Is(err, ErrSyncRunning) {
			c.logger.Info("Skipped scheduled roadmap sync, a run is in progress")
			return
		}
		c.logger.Error("Scheduled roadmap sync failed", "error", err)
	}
}

// Stop removes the schedule and waits up to timeout for a running job.
func (c *Component) Stop(timeout time.Duration) error {
	if !c.state.CompareAndSwap(component.StateRunning, component.StateStopping) {
		current := c.state.Load()
		if current == component.StateStopped || current == component.StateStopping {
			return nil
		}
		return fmt.Errorf("component in unexpected state: %d", current)
	}

	c.mu.Lock()
	cancel := c.cancel
	scheduler := c.scheduler
	c.cancel = nil
	c.scheduler = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if scheduler != nil {
		done := scheduler.Stop()
		select {
		case <-done.Done():
		case <-time.After(timeout):
			err = fmt.Errorf("roadmap sync still running after %s", timeout)
		}
	}

	c.state.Store(component.StateStopped)
	c.logger.Info("roadmap-sync stopped",
		"runs_completed", c.runsCompleted.Load(),
		"runs_failed", c.runsFailed.Load(),
		"alerts_created", c.alertsCreated.Load())
	return err
}

// NextRun returns the next scheduled run, or the zero time when the
// schedule is off.
func (c *Component) NextRun() time.Time {
	c.mu.RLock()
	scheduler := c.scheduler
	c.mu.RUnlock()
	if scheduler == nil {
		return time.Time{}
	}
	entries := scheduler.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// LastRun returns the summary of the most recent run, or nil.
func (c *Component) LastRun() *tracker.SyncSummary {
	c.lastRunMu.RLock()
	defer c.lastRunMu.RUnlock()
	return c.lastRun
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        c.name,
		Type:        "processor",
		Description: "Recomputes roadmap progress and raises alerts on a schedule",
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
		ErrorCount: int(c.runsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     component.StatusName(state),
	}
}

// cronLogger routes robfig/cron's logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
