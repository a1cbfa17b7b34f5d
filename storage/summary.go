package storage

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/c360studio/aibenefits/tracker"
)

// topProjectsLimit bounds DashboardSummary.TopProjects.
const topProjectsLimit = 5

// Summary aggregates the portfolio for the dashboard. When projectIDs is
// non-nil only those projects contribute.
func (s *Store) Summary(ctx context.Context, projectIDs []string) (*tracker.DashboardSummary, error) {
	projects, err := s.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		return nil, err
	}
	if projectIDs != nil {
		projects = slices.DeleteFunc(projects, func(p *tracker.Project) bool {
			return !slices.Contains(projectIDs, p.ID)
		})
	}

	sum := &tracker.DashboardSummary{
		ProjectsByStatus:    make(map[tracker.ProjectStatus]int),
		OpenRisksBySeverity: make(map[tracker.RiskSeverity]int),
		TopProjects:         make([]tracker.ProjectROI, 0),
	}
	included := make(map[string]*tracker.Project, len(projects))
	progressTotal := 0
	for _, p := range projects {
		included[p.ID] = p
		sum.TotalProjects++
		sum.ProjectsByStatus[p.Status]++
		sum.TotalBudget += p.Budget
		progressTotal += p.Progress
	}
	if sum.TotalProjects > 0 {
		sum.AverageProgress = int(math.Round(float64(progressTotal) / float64(sum.TotalProjects)))
	}

	// ListROI is newest first, so the first calculation seen per project is its latest.
	calcs, err := s.ListROI(ctx, "")
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*tracker.ROICalculation)
	for _, c := range calcs {
		if _, ok := included[c.ProjectID]; !ok {
			continue
		}
		if _, seen := latest[c.ProjectID]; !seen {
			latest[c.ProjectID] = c
		}
	}
	roiTotal := 0.0
	for id, c := range latest {
		p := included[id]
		sum.TotalAnnualBenefit += c.Result.AnnualBenefit
		roiTotal += c.Result.ROIPercent
		sum.TopProjects = append(sum.TopProjects, tracker.ProjectROI{
			ProjectID:     p.ID,
			Name:          p.Name,
			Status:        p.Status,
			Progress:      p.Progress,
			ROIPercent:    c.Result.ROIPercent,
			AnnualBenefit: c.Result.AnnualBenefit,
		})
	}
	if len(latest) > 0 {
		sum.AverageROIPercent = math.Round(roiTotal/float64(len(latest))*100) / 100
	}
	slices.SortFunc(sum.TopProjects, func(a, b tracker.ProjectROI) int {
		if c := cmp.Compare(b.ROIPercent, a.ROIPercent); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(sum.TopProjects) > topProjectsLimit {
		sum.TopProjects = sum.TopProjects[:topProjectsLimit]
	}

	if err := s.countOpenRisks(ctx, included, sum); err != nil {
		return nil, err
	}
	if err := s.countDashboardFlags(ctx, included, sum); err != nil {
		return nil, err
	}
	return sum, nil
}

func (s *Store) countOpenRisks(ctx context.Context, included map[string]*tracker.Project, sum *tracker.DashboardSummary) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, severity FROM risks WHERE status <> ?`, string(tracker.RiskClosed))
	if err != nil {
		return fmt.Errorf("count open risks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var projectID, severity string
		if err := rows.Scan(&projectID, &severity); err != nil {
			return err
		}
		if _, ok := included[projectID]; !ok {
			continue
		}
		sum.OpenRisks++
		sum.OpenRisksBySeverity[tracker.RiskSeverity(severity)]++
	}
	return rows.Err()
}

func (s *Store) countDashboardFlags(ctx context.Context, included map[string]*tracker.Project, sum *tracker.DashboardSummary) error {
	alerts, err := s.ListAlerts(ctx, AlertFilter{UnreadOnly: true})
	if err != nil {
		return err
	}
	for _, a := range alerts {
		if _, ok := included[a.ProjectID]; ok {
			sum.UnreadAlerts++
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT project_id FROM phases WHERE status = ?`, string(tracker.PhaseDelayed))
	if err != nil {
		return fmt.Errorf("count delayed phases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var projectID string
		if err := rows.Scan(&projectID); err != nil {
			return err
		}
		if _, ok := included[projectID]; ok {
			sum.DelayedPhases++
		}
	}
	return rows.Err()
}
