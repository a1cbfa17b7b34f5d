package roadmapsync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/config"
	"github.com/c360studio/aibenefits/metrics"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func day(d int) *time.Time {
	t := time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
	return &t
}

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]*tracker.Alert
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, alerts []*tracker.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, alerts)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, b := range n.batches {
		total += len(b)
	}
	return total
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "tracker.db"), nil)
	require.NoError(t, err)
	s.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestComponent(t *testing.T, s Store, n *recordingNotifier) *Component {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := New(cfg, s, n, nil)
	c.SetClock(func() time.Time { return testNow })
	return c
}

// roadmapFixture is an overdue project with one finished phase and one
// late phase that has an overdue milestone.
type roadmapFixture struct {
	project  *tracker.Project
	done     *tracker.Phase
	late     *tracker.Phase
	overdue  *tracker.Milestone
	upcoming *tracker.Milestone
}

func seedRoadmap(t *testing.T, s *storage.Store) roadmapFixture {
	t.Helper()
	ctx := context.Background()

	owner := &tracker.User{Email: "owner@example.com", Name: "Owner", Role: tracker.RoleMember}
	require.NoError(t, s.CreateUser(ctx, owner))

	f := roadmapFixture{}
	f.project = &tracker.Project{
		Name: "Invoice OCR", OwnerID: owner.ID, Status: tracker.ProjectStatusActive,
		StartDate: day(1), TargetDate: day(8),
	}
	require.NoError(t, s.CreateProject(ctx, f.project))

	f.done = &tracker.Phase{ProjectID: f.project.ID, Name: "Pilot"}
	require.NoError(t, s.CreatePhase(ctx, f.done))
	for _, title := range []string{"Collect samples", "Train model"} {
		require.NoError(t, s.CreateMilestone(ctx, &tracker.Milestone{PhaseID: f.done.ID, Title: title, Completed: true}))
	}

	f.late = &tracker.Phase{ProjectID: f.project.ID, Name: "Rollout", TargetDate: day(5)}
	require.NoError(t, s.CreatePhase(ctx, f.late))
	f.overdue = &tracker.Milestone{PhaseID: f.late.ID, Title: "Train staff", DueDate: day(1)}
	require.NoError(t, s.CreateMilestone(ctx, f.overdue))
	f.upcoming = &tracker.Milestone{PhaseID: f.late.ID, Title: "Go live", DueDate: day(20)}
	require.NoError(t, s.CreateMilestone(ctx, f.upcoming))
	require.NoError(t, s.CreateMilestone(ctx, &tracker.Milestone{PhaseID: f.late.ID, Title: "Announce", Completed: true}))
	require.NoError(t, s.CreateMilestone(ctx, &tracker.Milestone{PhaseID: f.late.ID, Title: "Retrospective"}))
	return f
}

func TestSyncRecomputesRoadmapAndRaisesAlerts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedRoadmap(t, s)
	n := &recordingNotifier{}
	c := newTestComponent(t, s, n)

	sum, err := c.Sync(ctx)
	require.NoError(t, err)

	assert.Equal(t, "manual", sum.Trigger)
	assert.Equal(t, 1, sum.ProjectsScanned)
	assert.Zero(t, sum.ProjectsFailed)
	assert.Equal(t, 2, sum.PhasesUpdated)
	assert.Equal(t, 8, sum.AlertsCreated)
	assert.Equal(t, map[tracker.AlertType]int{
		tracker.AlertProgressThreshold: 4, // 25/50/75 on Pilot, 25 on Rollout
		tracker.AlertPhaseCompleted:    1,
		tracker.AlertPhaseDelayed:      1,
		tracker.AlertMilestoneOverdue:  1,
		tracker.AlertProjectOverdue:    1,
	}, sum.AlertsByType)
	assert.Equal(t, 8, n.count())
	assert.Same(t, sum, c.LastRun())

	done, err := s.GetPhase(ctx, f.done.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, tracker.PhaseCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.True(t, done.CompletedAt.Equal(testNow))

	late, err := s.GetPhase(ctx, f.late.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, late.Progress)
	assert.Equal(t, tracker.PhaseDelayed, late.Status)
	assert.Nil(t, late.CompletedAt)

	p, err := s.GetProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 63, p.Progress)

	alerts, err := s.ListAlerts(ctx, storage.AlertFilter{ProjectID: f.project.ID})
	require.NoError(t, err)
	keys := make([]string, 0, len(alerts))
	for _, a := range alerts {
		keys = append(keys, a.DedupeKey)
	}
	assert.Contains(t, keys, "milestone:"+f.overdue.ID+":overdue:2026-03-01")
	assert.Contains(t, keys, "phase:"+f.late.ID+":delayed:2026-03-05")
	assert.Contains(t, keys, "project:overdue:2026-03-08")
	assert.NotContains(t, keys, "milestone:"+f.upcoming.ID+":overdue:2026-03-20")

	t.Run("second run is idempotent", func(t *testing.T) {
		again, err := c.Sync(ctx)
		require.NoError(t, err)
		assert.Zero(t, again.PhasesUpdated)
		assert.Zero(t, again.AlertsCreated)
		assert.Equal(t, 8, n.count())
	})
}

func TestSyncSkipsCancelledProjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedRoadmap(t, s)

	f.project.Status = tracker.ProjectStatusCancelled
	require.NoError(t, s.UpdateProject(ctx, f.project))

	c := newTestComponent(t, s, &recordingNotifier{})
	sum, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.ProjectsScanned)
	assert.Zero(t, sum.AlertsCreated)

	ph, err := s.GetPhase(ctx, f.done.ID)
	require.NoError(t, err)
	assert.Zero(t, ph.Progress)
}

func TestSyncCompletedProjectRaisesNoLatenessAlerts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedRoadmap(t, s)

	f.project.Status = tracker.ProjectStatusCompleted
	require.NoError(t, s.UpdateProject(ctx, f.project))

	c := newTestComponent(t, s, &recordingNotifier{})
	sum, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ProjectsScanned)
	assert.Zero(t, sum.AlertsByType[tracker.AlertPhaseDelayed])
	assert.Zero(t, sum.AlertsByType[tracker.AlertMilestoneOverdue])
	assert.Zero(t, sum.AlertsByType[tracker.AlertProjectOverdue])
	assert.Equal(t, 1, sum.AlertsByType[tracker.AlertPhaseCompleted])
}

func TestSyncKeepsManualProgressWithoutMilestones(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := &tracker.User{Email: "m@example.com", Name: "M", Role: tracker.RoleMember}
	require.NoError(t, s.CreateUser(ctx, owner))
	p := &tracker.Project{Name: "Chatbot", OwnerID: owner.ID, Status: tracker.ProjectStatusActive}
	require.NoError(t, s.CreateProject(ctx, p))
	ph := &tracker.Phase{ProjectID: p.ID, Name: "Discovery", Progress: 40, Status: tracker.PhaseInProgress}
	require.NoError(t, s.CreatePhase(ctx, ph))

	c := newTestComponent(t, s, &recordingNotifier{})
	sum, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.PhasesUpdated)
	assert.Zero(t, sum.AlertsCreated, "stored progress is the baseline, nothing was crossed")

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)
}

// flakyStore fails the phase listing of one project.
type flakyStore struct {
	*storage.Store
	failProject string
}

func (f *flakyStore) ListPhases(ctx context.Context, projectID string) ([]*tracker.Phase, error) {
	if projectID == f.failProject {
		return nil, errors.New("disk on fire")
	}
	return f.Store.ListPhases(ctx, projectID)
}

func TestSyncContinuesAfterProjectFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedRoadmap(t, s)

	other := &tracker.Project{Name: "Broken", OwnerID: f.project.OwnerID, Status: tracker.ProjectStatusActive}
	require.NoError(t, s.CreateProject(ctx, other))

	c := newTestComponent(t, &flakyStore{Store: s, failProject: other.ID}, &recordingNotifier{})
	sum, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.ProjectsScanned)
	assert.Equal(t, 1, sum.ProjectsFailed)
	require.Len(t, sum.Errors, 1)
	assert.Contains(t, sum.Errors[0], "disk on fire")
	assert.Equal(t, 8, sum.AlertsCreated)
	assert.Equal(t, 0, c.Health().ErrorCount, "a project failure does not fail the run")
}

// alertFailStore breaks the first roadmap write by adding an alert the
// store rejects, which aborts that write's transaction.
type alertFailStore struct {
	*storage.Store
	failed bool
}

func (a *alertFailStore) ApplyRoadmapSync(ctx context.Context, projectID string, changes []storage.PhaseChange,
	projectProgress int, alerts []*tracker.Alert) ([]*tracker.Alert, error) {
	if !a.failed {
		a.failed = true
		alerts = append(append([]*tracker.Alert(nil), alerts...), &tracker.Alert{ProjectID: projectID, Title: "unkeyed"})
	}
	return a.Store.ApplyRoadmapSync(ctx, projectID, changes, projectProgress, alerts)
}

func TestSyncRetriesAlertsAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedRoadmap(t, s)
	n := &recordingNotifier{}
	c := newTestComponent(t, &alertFailStore{Store: s}, n)

	sum, err := c.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ProjectsFailed)
	assert.Zero(t, sum.AlertsCreated)
	assert.Zero(t, n.count())

	ph, err := s.GetPhase(ctx, f.done.ID)
	require.NoError(t, err)
	assert.Zero(t, ph.Progress, "progress is not stored without its alerts")

	sum, err = c.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.ProjectsFailed)
	assert.Equal(t, 8, sum.AlertsCreated)
	assert.Equal(t, 4, sum.AlertsByType[tracker.AlertProgressThreshold])
	assert.Equal(t, 8, n.count())
}

func TestSyncNotifierFailureIsNotFatal(t *testing.T) {
	s := newTestStore(t)
	seedRoadmap(t, s)
	n := &recordingNotifier{err: errors.New("smtp down")}
	c := newTestComponent(t, s, n)

	sum, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, sum.AlertsCreated)
}

// blockingStore holds ListProjects until released.
type blockingStore struct {
	*storage.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) ListProjects(ctx context.Context, f storage.ProjectFilter) ([]*tracker.Project, error) {
	close(b.entered)
	<-b.release
	return b.Store.ListProjects(ctx, f)
}

func TestSyncRejectsOverlappingRuns(t *testing.T) {
	s := newTestStore(t)
	bs := &blockingStore{Store: s, entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestComponent(t, bs, &recordingNotifier{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Sync(context.Background())
		done <- err
	}()
	<-bs.entered

	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncRunning)

	close(bs.release)
	require.NoError(t, <-done)
}

func TestRecomputeProject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	f := seedRoadmap(t, s)
	n := &recordingNotifier{}
	c := newTestComponent(t, s, n)

	require.NoError(t, s.SetMilestoneCompleted(ctx, f.overdue.ID, true))
	require.NoError(t, c.RecomputeProject(ctx, f.project.ID))

	late, err := s.GetPhase(ctx, f.late.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, late.Progress)
	assert.Equal(t, tracker.PhaseDelayed, late.Status)
	assert.Positive(t, n.count())

	err = c.RecomputeProject(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSetThresholds(t *testing.T) {
	c := New(DefaultConfig(), nil, nil, nil)

	require.NoError(t, c.SetThresholds([]int{90, 10}))
	assert.Equal(t, []int{10, 90}, c.Thresholds())

	assert.Error(t, c.SetThresholds([]int{0}))
	assert.Error(t, c.SetThresholds([]int{101}))
	assert.Equal(t, []int{10, 90}, c.Thresholds())
}

func TestSyncRecordsMetrics(t *testing.T) {
	s := newTestStore(t)
	seedRoadmap(t, s)
	c := newTestComponent(t, s, &recordingNotifier{})
	m := metrics.New()
	c.SetMetrics(m)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(m.Registry(), "aibenefits_roadmap_sync_alerts_created_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count, "one series per alert type")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad schedule", func(c *Config) { c.Schedule = "every night" }, true},
		{"bad schedule ignored when disabled", func(c *Config) { c.Enabled = false; c.Schedule = "nope" }, false},
		{"threshold out of range", func(c *Config) { c.Thresholds = []int{0, 50} }, true},
		{"zero timeout", func(c *Config) { c.RunTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.SyncConfig{Enabled: true, Schedule: "30 1 * * *", Thresholds: []int{50}})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "30 1 * * *", cfg.Schedule)
	assert.Equal(t, []int{50}, cfg.Thresholds)
	assert.Equal(t, DefaultConfig().RunTimeout, cfg.RunTimeout)
}

func TestNewComponentRequiresStore(t *testing.T) {
	_, err := NewComponent(component.Dependencies{})
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := New(DefaultConfig(), nil, nil, nil)

	assert.Equal(t, "stopped", c.Health().Status)
	assert.True(t, c.NextRun().IsZero())

	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))

	h := c.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, "running", h.Status)
	assert.False(t, c.NextRun().IsZero())

	require.NoError(t, c.Stop(time.Second))
	require.NoError(t, c.Stop(time.Second))
	assert.Equal(t, "stopped", c.Health().Status)
}
