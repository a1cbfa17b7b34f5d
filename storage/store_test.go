package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aibenefits/tracker"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tracker.db"), nil)
	require.NoError(t, err)
	s.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, email string, role tracker.Role) *tracker.User {
	t.Helper()
	u := &tracker.User{Email: email, Name: "User " + email, Role: role}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func seedProject(t *testing.T, s *Store, owner *tracker.User, name string) *tracker.Project {
	t.Helper()
	p := &tracker.Project{Name: name, OwnerID: owner.ID, Budget: 1000}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tracker.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	hasTheme, err := s.columnExists(ctx, "users", "theme")
	require.NoError(t, err)
	assert.True(t, hasTheme)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u := seedUser(t, s, "ada@example.com", tracker.RoleAdmin)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, tracker.ThemeSystem, u.Theme)

	t.Run("email lookup is case insensitive", func(t *testing.T) {
		got, err := s.GetUserByEmail(ctx, "ADA@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		err := s.CreateUser(ctx, &tracker.User{Email: "Ada@Example.com", Name: "Again", Role: tracker.RoleGuest})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("invalid user is rejected", func(t *testing.T) {
		err := s.CreateUser(ctx, &tracker.User{Email: "nope", Role: "ROOT"})
		assert.ErrorIs(t, err, tracker.ErrValidation)
	})

	t.Run("update keeps password when hash empty", func(t *testing.T) {
		u.PasswordHash = "hash-1"
		require.NoError(t, s.UpdateUser(ctx, u))
		u.PasswordHash = ""
		u.Theme = tracker.ThemeDark
		require.NoError(t, s.UpdateUser(ctx, u))

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "hash-1", got.PasswordHash)
		assert.Equal(t, tracker.ThemeDark, got.Theme)
	})

	t.Run("owner of a project cannot be deleted", func(t *testing.T) {
		seedProject(t, s, u, "Chatbot")
		assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), ErrInUse)
	})

	t.Run("missing user", func(t *testing.T) {
		_, err := s.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteUser(ctx, "missing"), ErrNotFound)
	})
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	u := seedUser(t, s, "sam@example.com", tracker.RoleMember)

	require.NoError(t, s.CreateSession(ctx, &Session{TokenHash: "live", UserID: u.ID, ExpiresAt: testNow.Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, &Session{TokenHash: "old", UserID: u.ID, ExpiresAt: testNow.Add(-time.Hour)}))

	got, err := s.GetSession(ctx, "live")
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(testNow.Add(time.Hour)))

	n, err := s.DeleteExpiredSessions(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "live"))
	require.NoError(t, s.DeleteSession(ctx, "live"))
}

func TestProjectsFilterAndCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	owner := seedUser(t, s, "owner@example.com", tracker.RoleMember)

	dept := &tracker.Department{Name: "Finance"}
	require.NoError(t, s.CreateDepartment(ctx, dept))

	a := &tracker.Project{Name: "Invoice OCR", OwnerID: owner.ID, DepartmentID: dept.ID, Status: tracker.ProjectStatusActive}
	require.NoError(t, s.CreateProject(ctx, a))
	b := &tracker.Project{Name: "Support bot", OwnerID: owner.ID, Status: tracker.ProjectStatusCancelled}
	require.NoError(t, s.CreateProject(ctx, b))

	tests := []struct {
		name   string
		filter ProjectFilter
		want   []string
	}{
		{"all", ProjectFilter{}, []string{a.ID, b.ID}},
		{"by status", ProjectFilter{Status: tracker.ProjectStatusActive}, []string{a.ID}},
		{"by department", ProjectFilter{DepartmentID: dept.ID}, []string{a.ID}},
		{"search", ProjectFilter{Search: "bot"}, []string{b.ID}},
		{"open only", ProjectFilter{OpenOnly: true}, []string{a.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListProjects(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
		})
	}

	kpi := &tracker.KPI{ProjectID: a.ID, Name: "Hours saved", Target: 100}
	require.NoError(t, s.CreateKPI(ctx, kpi))
	phase := &tracker.Phase{ProjectID: a.ID, Name: "Pilot"}
	require.NoError(t, s.CreatePhase(ctx, phase))
	ms := &tracker.Milestone{PhaseID: phase.ID, Title: "Kickoff"}
	require.NoError(t, s.CreateMilestone(ctx, ms))

	require.NoError(t, s.DeleteDepartment(ctx, dept.ID))
	got, err := s.GetProject(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.DepartmentID, "department reference is cleared")

	require.NoError(t, s.DeleteProject(ctx, a.ID))
	_, err = s.GetKPI(ctx, kpi.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMilestone(ctx, ms.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateProjectMissingOwner(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateProject(context.Background(), &tracker.Project{Name: "Orphan", OwnerID: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordMeasurement(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, seedUser(t, s, "k@example.com", tracker.RoleMember), "KPI project")

	kpi := &tracker.KPI{ProjectID: p.ID, Name: "Tickets deflected", Baseline: 0, Target: 200}
	require.NoError(t, s.CreateKPI(ctx, kpi))
	assert.Equal(t, tracker.KPIIncrease, kpi.Direction)

	require.NoError(t, s.RecordMeasurement(ctx, &tracker.KPIMeasurement{KPIID: kpi.ID, Value: 50}))
	require.NoError(t, s.RecordMeasurement(ctx, &tracker.KPIMeasurement{KPIID: kpi.ID, Value: 120}))

	got, err := s.GetKPI(ctx, kpi.ID)
	require.NoError(t, err)
	assert.Equal(t, 120.0, got.Current)

	ms, err := s.ListMeasurements(ctx, kpi.ID)
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	err = s.RecordMeasurement(ctx, &tracker.KPIMeasurement{KPIID: "missing", Value: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestROIResultIsDerived(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, seedUser(t, s, "r@example.com", tracker.RoleMember), "ROI project")

	calc := &tracker.ROICalculation{
		ProjectID: p.ID,
		Name:      "Base case",
		Inputs: tracker.ROIInputs{
			ImplementationCost:  10000,
			AnnualOperatingCost: 2000,
			HoursSavedPerYear:   1000,
			HourlyRate:          50,
			Years:               2,
		},
	}
	require.NoError(t, s.CreateROI(ctx, calc))

	got, err := s.GetROI(ctx, calc.ID)
	require.NoError(t, err)
	assert.Equal(t, calc.Result, got.Result)
	assert.Equal(t, 50000.0, got.Result.AnnualBenefit)

	calc.Inputs.HourlyRate = 0
	require.NoError(t, s.UpdateROI(ctx, calc))
	got, err = s.GetROI(ctx, calc.ID)
	require.NoError(t, err)
	assert.Equal(t, -100.0, got.Result.ROIPercent)
}

func TestCreateAlertOnceDedupes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	owner := seedUser(t, s, "a@example.com", tracker.RoleMember)
	p1 := seedProject(t, s, owner, "One")
	p2 := seedProject(t, s, owner, "Two")

	newAlert := func(projectID string) *tracker.Alert {
		return &tracker.Alert{
			ProjectID: projectID,
			Type:      tracker.AlertProgressThreshold,
			Title:     "Reached 50%",
			DedupeKey: "progress:50",
		}
	}

	created, err := s.CreateAlertOnce(ctx, newAlert(p1.ID))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateAlertOnce(ctx, newAlert(p1.ID))
	require.NoError(t, err)
	assert.False(t, created, "same project and key is ignored")

	created, err = s.CreateAlertOnce(ctx, newAlert(p2.ID))
	require.NoError(t, err)
	assert.True(t, created, "key is scoped per project")

	_, err = s.CreateAlertOnce(ctx, &tracker.Alert{ProjectID: p1.ID, Title: "no key"})
	assert.Error(t, err)

	unread, err := s.CountUnreadAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	n, err := s.MarkAllAlertsRead(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := s.ListAlerts(ctx, AlertFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p2.ID, list[0].ProjectID)

	require.NoError(t, s.ResolveAlert(ctx, list[0].ID))
	list, err = s.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1, "resolved alerts are hidden by default")

	list, err = s.ListAlerts(ctx, AlertFilter{IncludeResolved: true, ProjectIDs: []string{p1.ID, p2.ID}})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPhasesAndMilestones(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, seedUser(t, s, "m@example.com", tracker.RoleMember), "Roadmap")

	first := &tracker.Phase{ProjectID: p.ID, Name: "Discovery"}
	second := &tracker.Phase{ProjectID: p.ID, Name: "Pilot"}
	require.NoError(t, s.CreatePhase(ctx, first))
	require.NoError(t, s.CreatePhase(ctx, second))
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, tracker.PhaseNotStarted, first.Status)

	require.NoError(t, s.ReorderPhases(ctx, p.ID, []string{second.ID, first.ID}))
	phases, err := s.ListPhases(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, second.ID, phases[0].ID)

	assert.ErrorIs(t, s.ReorderPhases(ctx, p.ID, []string{"missing"}), ErrNotFound)

	due := testNow.Add(48 * time.Hour)
	dated := &tracker.Milestone{PhaseID: first.ID, Title: "Dated", DueDate: &due}
	undated := &tracker.Milestone{PhaseID: first.ID, Title: "Undated"}
	require.NoError(t, s.CreateMilestone(ctx, undated))
	require.NoError(t, s.CreateMilestone(ctx, dated))

	ms, err := s.ListMilestones(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, dated.ID, ms[0].ID, "undated milestones sort last")

	require.NoError(t, s.SetMilestoneCompleted(ctx, dated.ID, true))
	got, err := s.GetMilestone(ctx, dated.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	require.NotNil(t, got.CompletedAt)

	projectID, err := s.ProjectIDForMilestone(ctx, dated.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, projectID)

	created, err := s.ApplyRoadmapSync(ctx, p.ID, []PhaseChange{
		{PhaseID: first.ID, Progress: 50, Status: tracker.PhaseInProgress},
	}, 25, nil)
	require.NoError(t, err)
	assert.Empty(t, created)
	gotPhase, err := s.GetPhase(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, gotPhase.Progress)
	assert.Equal(t, tracker.PhaseInProgress, gotPhase.Status)
	gotProject, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, gotProject.Progress)
}

func TestApplyRoadmapSyncIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s, seedUser(t, s, "m@example.com", tracker.RoleMember), "Roadmap")
	ph := &tracker.Phase{ProjectID: p.ID, Name: "Discovery"}
	require.NoError(t, s.CreatePhase(ctx, ph))

	changes := []PhaseChange{{PhaseID: ph.ID, Progress: 50, Status: tracker.PhaseInProgress}}
	threshold := func() *tracker.Alert {
		return &tracker.Alert{ProjectID: p.ID, Type: tracker.AlertProgressThreshold,
			Title: "Discovery reached 50%", DedupeKey: "phase:" + ph.ID + ":progress:50"}
	}

	_, err := s.ApplyRoadmapSync(ctx, p.ID, changes, 50, []*tracker.Alert{
		threshold(),
		{ProjectID: p.ID, Type: tracker.AlertPhaseDelayed, Title: "no key"},
	})
	require.Error(t, err)

	got, err := s.GetPhase(ctx, ph.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Progress, "progress rolled back with the failed alert")
	alerts, err := s.ListAlerts(ctx, AlertFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	created, err := s.ApplyRoadmapSync(ctx, p.ID, changes, 50, []*tracker.Alert{threshold()})
	require.NoError(t, err)
	assert.Len(t, created, 1)

	created, err = s.ApplyRoadmapSync(ctx, p.ID, nil, 50, []*tracker.Alert{threshold()})
	require.NoError(t, err)
	assert.Empty(t, created, "deduped inside the transaction")

	got, err = s.GetPhase(ctx, ph.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}

func TestPrompts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	summarise := &tracker.Prompt{Title: "Summarise", Content: "Summarise the text", Category: "writing", Tags: []string{"summary"}}
	classify := &tracker.Prompt{Title: "Classify", Content: "Classify the ticket", Category: "support"}
	require.NoError(t, s.CreatePrompt(ctx, summarise))
	require.NoError(t, s.CreatePrompt(ctx, classify))
	require.NoError(t, s.IncrementPromptUsage(ctx, classify.ID))

	all, err := s.ListPrompts(ctx, PromptFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, classify.ID, all[0].ID, "most used first")
	assert.Equal(t, []string{}, all[0].Tags)

	tagged, err := s.ListPrompts(ctx, PromptFilter{Search: "summary"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, []string{"summary"}, tagged[0].Tags)

	assert.ErrorIs(t, s.IncrementPromptUsage(ctx, "missing"), ErrNotFound)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	owner := seedUser(t, s, "s@example.com", tracker.RoleMember)

	a := &tracker.Project{Name: "Alpha", OwnerID: owner.ID, Budget: 1000, Progress: 40, Status: tracker.ProjectStatusActive}
	b := &tracker.Project{Name: "Beta", OwnerID: owner.ID, Budget: 500, Progress: 80}
	require.NoError(t, s.CreateProject(ctx, a))
	require.NoError(t, s.CreateProject(ctx, b))

	require.NoError(t, s.CreateROI(ctx, &tracker.ROICalculation{ProjectID: a.ID, Name: "A",
		Inputs: tracker.ROIInputs{ImplementationCost: 1000, AnnualRevenueGain: 3000, Years: 1}}))
	require.NoError(t, s.CreateROI(ctx, &tracker.ROICalculation{ProjectID: b.ID, Name: "B",
		Inputs: tracker.ROIInputs{ImplementationCost: 1000, AnnualRevenueGain: 1500, Years: 1}}))

	require.NoError(t, s.CreateRisk(ctx, &tracker.Risk{ProjectID: a.ID, Title: "Drift",
		Severity: tracker.SeverityHigh, Likelihood: tracker.LikelihoodMedium}))
	require.NoError(t, s.CreateRisk(ctx, &tracker.Risk{ProjectID: a.ID, Title: "Done",
		Severity: tracker.SeverityLow, Likelihood: tracker.LikelihoodLow, Status: tracker.RiskClosed}))
	_, err := s.CreateAlertOnce(ctx, &tracker.Alert{ProjectID: b.ID, Type: tracker.AlertProjectOverdue,
		Title: "Overdue", DedupeKey: "project-overdue"})
	require.NoError(t, err)

	sum, err := s.Summary(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalProjects)
	assert.Equal(t, 1, sum.ProjectsByStatus[tracker.ProjectStatusActive])
	assert.Equal(t, 1, sum.ProjectsByStatus[tracker.ProjectStatusPlanning])
	assert.Equal(t, 1500.0, sum.TotalBudget)
	assert.Equal(t, 60, sum.AverageProgress)
	assert.Equal(t, 4500.0, sum.TotalAnnualBenefit)
	assert.Equal(t, 125.0, sum.AverageROIPercent)
	assert.Equal(t, 1, sum.OpenRisks)
	assert.Equal(t, 1, sum.OpenRisksBySeverity[tracker.SeverityHigh])
	assert.Equal(t, 1, sum.UnreadAlerts)
	require.Len(t, sum.TopProjects, 2)
	assert.Equal(t, "Alpha", sum.TopProjects[0].Name)

	scoped, err := s.Summary(ctx, []string{b.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, scoped.TotalProjects)
	assert.Equal(t, 0, scoped.OpenRisks)
	assert.Equal(t, 50.0, scoped.AverageROIPercent)
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))
	assert.ErrorIs(t, mapError(errors.New("UNIQUE constraint failed: users.email")), ErrConflict)
	assert.ErrorIs(t, mapError(errors.New("FOREIGN KEY constraint failed")), ErrNotFound)
	assert.ErrorIs(t, mapDeleteError(errors.New("FOREIGN KEY constraint failed")), ErrInUse)
	other := errors.New("disk I/O error")
	assert.Equal(t, other, mapError(other))
}
