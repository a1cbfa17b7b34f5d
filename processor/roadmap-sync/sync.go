package roadmapsync

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/aibenefits/metrics"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

const dateLayout = "2006-01-02"

// Sync runs one full pass over every project that is not cancelled.
// A failing project is logged and counted; the run carries on.
func (c *Component) Sync(ctx context.Context) (*tracker.SyncSummary, error) {
	return c.run(ctx, "manual")
}

// RecomputeProject applies the sync to a single project immediately, for
// example after a milestone was completed.
func (c *Component) RecomputeProject(ctx context.Context, projectID string) error {
	c.workMu.Lock()
	defer c.workMu.Unlock()

	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}
	if p.Status == tracker.ProjectStatusCancelled {
		return nil
	}

	res, err := c.syncProject(ctx, p, c.now())
	if err != nil {
		return err
	}
	c.alertsCreated.Add(int64(len(res.alerts)))
	c.deliver(ctx, res.alerts)
	return nil
}

func (c *Component) run(ctx context.Context, trigger string) (*tracker.SyncSummary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrSyncRunning
	}
	defer c.running.Store(false)

	c.workMu.Lock()
	defer c.workMu.Unlock()

	now := c.now()
	sum := &tracker.SyncSummary{
		StartedAt:    now,
		Trigger:      trigger,
		AlertsByType: make(map[tracker.AlertType]int),
	}
	c.logger.Debug("Roadmap sync started", "trigger", trigger)

	projects, err := c.store.ListProjects(ctx, storage.ProjectFilter{})
	if err != nil {
		err = fmt.Errorf("list projects: %w", err)
		sum.Errors = append(sum.Errors, err.Error())
		c.finish(sum, err)
		return sum, err
	}

	var (
		created []*tracker.Alert
		runErr  error
	)
	for _, p := range projects {
		if p.Status == tracker.ProjectStatusCancelled {
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("sync interrupted: %w", err)
			sum.Errors = append(sum.Errors, runErr.Error())
			break
		}

		sum.ProjectsScanned++
		res, err := c.syncProject(ctx, p, now)
		if err != nil {
			sum.ProjectsFailed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("project %s: %v", p.ID, err))
			c.logger.Warn("Failed to sync project",
				"project_id", p.ID,
				"error", err)
			continue
		}
		sum.PhasesUpdated += res.phasesUpdated
		created = append(created, res.alerts...)
	}

	for _, a := range created {
		sum.AlertsByType[a.Type]++
	}
	sum.AlertsCreated = len(created)
	c.deliver(ctx, created)

	if c.sessions != nil {
		if n, err := c.sessions.PurgeExpired(ctx); err != nil {
			c.logger.Warn("Failed to purge expired sessions", "error", err)
		} else if n > 0 {
			c.logger.Debug("Purged expired sessions", "count", n)
		}
	}

	c.finish(sum, runErr)
	return sum, runErr
}

// finish records the run for LastRun, health and metrics.
func (c *Component) finish(sum *tracker.SyncSummary, err error) {
	sum.FinishedAt = c.now()

	c.lastRunMu.Lock()
	c.lastRun = sum
	c.lastRunMu.Unlock()

	if err != nil {
		c.runsFailed.Add(1)
	} else {
		c.runsCompleted.Add(1)
	}
	c.alertsCreated.Add(int64(sum.AlertsCreated))

	byType := make(map[string]int, len(sum.AlertsByType))
	for t, n := range sum.AlertsByType {
		byType[string(t)] = n
	}
	c.metrics.ObserveSync(metrics.SyncRun{
		Duration:      sum.Duration(),
		AlertsByType:  byType,
		ProjectErrors: sum.ProjectsFailed,
		Err:           err,
		FinishedAt:    sum.FinishedAt,
	})

	c.logger.Info("Roadmap sync finished",
		"trigger", sum.Trigger,
		"projects", sum.ProjectsScanned,
		"failed", sum.ProjectsFailed,
		"phases_updated", sum.PhasesUpdated,
		"alerts_created", sum.AlertsCreated,
		"duration", sum.Duration())
}

func (c *Component) deliver(ctx context.Context, alerts []*tracker.Alert) {
	if len(alerts) == 0 {
		return
	}
	if err := c.notifier.Notify(ctx, alerts); err != nil {
		c.logger.Warn("Failed to deliver alert notifications",
			"alerts", len(alerts),
			"error", err)
	}
}

type projectResult struct {
	phasesUpdated int
	alerts        []*tracker.Alert
}

// syncProject recomputes one project's roadmap and records new alerts.
func (c *Component) syncProject(ctx context.Context, p *tracker.Project, now time.Time) (projectResult, error) {
	phases, err := c.store.ListPhases(ctx, p.ID)
	if err != nil {
		return projectResult{}, fmt.Errorf("list phases: %w", err)
	}

	thresholds := c.Thresholds()
	closed := p.Status.Closed()

	var (
		changes    []storage.PhaseChange
		candidates []*tracker.Alert
		updated    = make([]tracker.Phase, 0, len(phases))
	)
	for _, ph := range phases {
		list, err := c.store.ListMilestones(ctx, ph.ID)
		if err != nil {
			return projectResult{}, fmt.Errorf("list milestones of phase %s: %w", ph.ID, err)
		}
		milestones := make([]tracker.Milestone, len(list))
		for i, m := range list {
			milestones[i] = *m
		}

		progress, ok := tracker.PhaseProgress(milestones)
		if !ok {
			progress = ph.Progress
		}
		status := tracker.NextPhaseStatus(*ph, progress, now)

		completedAt := ph.CompletedAt
		if status != tracker.PhaseCompleted {
			completedAt = nil
		} else if completedAt == nil {
			stamp := now
			completedAt = &stamp
		}

		if progress != ph.Progress || status != ph.Status || (completedAt == nil) != (ph.CompletedAt == nil) {
			changes = append(changes, storage.PhaseChange{
				PhaseID:     ph.ID,
				Progress:    progress,
				Status:      status,
				CompletedAt: completedAt,
			})
		}

		candidates = append(candidates, phaseAlerts(p, ph, progress, status, thresholds, closed)...)
		if !closed {
			for _, m := range milestones {
				if m.Overdue(now) {
					candidates = append(candidates, milestoneOverdueAlert(p, ph, m))
				}
			}
		}

		next := *ph
		next.Progress = progress
		next.Status = status
		updated = append(updated, next)
	}

	projectProgress := p.Progress
	if len(updated) > 0 {
		projectProgress = tracker.ProjectProgress(updated)
	}
	if p.Overdue(now) && projectProgress < 100 {
		candidates = append(candidates, projectOverdueAlert(p, projectProgress))
	}

	if len(changes) == 0 && projectProgress == p.Progress && len(candidates) == 0 {
		return projectResult{}, nil
	}
	for _, a := range candidates {
		a.CreatedAt = now
	}
	created, err := c.store.ApplyRoadmapSync(ctx, p.ID, changes, projectProgress, candidates)
	if err != nil {
		return projectResult{}, fmt.Errorf("apply roadmap sync: %w", err)
	}
	return projectResult{phasesUpdated: len(changes), alerts: created}, nil
}

// phaseAlerts covers threshold crossings, completion and lateness of a phase.
// Crossing 100 is reported as completion rather than as a threshold.
func phaseAlerts(p *tracker.Project, ph *tracker.Phase, progress int, status tracker.PhaseStatus,
	thresholds []int, closed bool) []*tracker.Alert {
	var out []*tracker.Alert
	for _, t := range tracker.CrossedThresholds(ph.Progress, progress, thresholds) {
		if t >= 100 {
			continue
		}
		out = append(out, &tracker.Alert{
			ProjectID: p.ID,
			Type:      tracker.AlertProgressThreshold,
			Severity:  tracker.AlertInfo,
			Title:     fmt.Sprintf("%s: phase %q reached %d%%", p.Name, ph.Name, t),
			Message:   fmt.Sprintf("Phase %q of %s is now %d%% complete.", ph.Name, p.Name, progress),
			DedupeKey: fmt.Sprintf("phase:%s:progress:%d", ph.ID, t),
		})
	}

	if status == tracker.PhaseCompleted && ph.Status != tracker.PhaseCompleted {
		out = append(out, &tracker.Alert{
			ProjectID: p.ID,
			Type:      tracker.AlertPhaseCompleted,
			Severity:  tracker.AlertInfo,
			Title:     fmt.Sprintf("%s: phase %q completed", p.Name, ph.Name),
			Message:   fmt.Sprintf("All milestones of phase %q of %s are complete.", ph.Name, p.Name),
			DedupeKey: fmt.Sprintf("phase:%s:completed", ph.ID),
		})
	}

	if !closed && status == tracker.PhaseDelayed && ph.Status != tracker.PhaseDelayed {
		out = append(out, &tracker.Alert{
			ProjectID: p.ID,
			Type:      tracker.AlertPhaseDelayed,
			Severity:  tracker.AlertWarning,
			Title:     fmt.Sprintf("%s: phase %q is delayed", p.Name, ph.Name),
			Message: fmt.Sprintf("Phase %q of %s passed its target date %s at %d%% progress.",
				ph.Name, p.Name, ph.TargetDate.Format(dateLayout), progress),
			// The target date is part of the key so a rescheduled phase can alert again.
			DedupeKey: fmt.Sprintf("phase:%s:delayed:%s", ph.ID, ph.TargetDate.Format(dateLayout)),
		})
	}
	return out
}

func milestoneOverdueAlert(p *tracker.Project, ph *tracker.Phase, m tracker.Milestone) *tracker.Alert {
	due := m.DueDate.Format(dateLayout)
	return &tracker.Alert{
		ProjectID: p.ID,
		Type:      tracker.AlertMilestoneOverdue,
		Severity:  tracker.AlertWarning,
		Title:     fmt.Sprintf("%s: milestone %q is overdue", p.Name, m.Title),
		Message:   fmt.Sprintf("Milestone %q in phase %q was due %s and is not complete.", m.Title, ph.Name, due),
		DedupeKey: fmt.Sprintf("milestone:%s:overdue:%s", m.ID, due),
	}
}

func projectOverdueAlert(p *tracker.Project, progress int) *tracker.Alert {
	target := p.TargetDate.Format(dateLayout)
	return &tracker.Alert{
		ProjectID: p.ID,
		Type:      tracker.AlertProjectOverdue,
		Severity:  tracker.AlertCritical,
		Title:     fmt.Sprintf("%s is past its target date", p.Name),
		Message:   fmt.Sprintf("%s was due %s and is %d%% complete.", p.Name, target, progress),
		DedupeKey: "project:overdue:" + target,
	}
}
