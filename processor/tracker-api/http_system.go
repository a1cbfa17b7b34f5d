package trackerapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

// SyncStatusHTTPResponse describes the roadmap sync schedule.
type SyncStatusHTTPResponse struct {
	LastRun *tracker.SyncSummary `json:"last_run,omitempty"`
	NextRun *time.Time           `json:"next_run,omitempty"`
}

// HealthHTTPResponse is the body of GET /health.
type HealthHTTPResponse struct {
	Status     string                            `json:"status"`
	Database   string                            `json:"database"`
	Components map[string]component.HealthStatus `json:"components,omitempty"`
}

// handleDashboardSummary aggregates the portfolio, optionally narrowed to
// one department or owner.
func (c *Component) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	q := r.URL.Query()
	var projectIDs []string
	if dept, owner := q.Get("department_id"), q.Get("owner_id"); dept != "" || owner != "" {
		projects, err := c.store.ListProjects(r.Context(), storage.ProjectFilter{DepartmentID: dept, OwnerID: owner})
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		projectIDs = make([]string, 0, len(projects))
		for _, p := range projects {
			projectIDs = append(projectIDs, p.ID)
		}
	}

	sum, err := c.store.Summary(r.Context(), projectIDs)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// cronAuthorized accepts either the configured cron secret as a bearer
// token or a session allowed to run the sync.
func (c *Component) cronAuthorized(w http.ResponseWriter, r *http.Request) bool {
	if c.config.CronSecret != "" {
		if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(c.config.CronSecret)) == 1 {
				return true
			}
		}
	}
	_, ok := c.authorize(w, r, auth.ActionRunSync, "")
	return ok
}

func (c *Component) syncEnabled(w http.ResponseWriter) bool {
	if c.syncer == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "roadmap sync is not running"})
		return false
	}
	return true
}

func (c *Component) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !c.cronAuthorized(w, r) || !c.syncEnabled(w) {
		return
	}
	resp := SyncStatusHTTPResponse{LastRun: c.syncer.LastRun()}
	if next := c.syncer.NextRun(); !next.IsZero() {
		resp.NextRun = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerSync runs the roadmap sync to completion and returns its
// summary. The run is detached from the request so a dropped connection
// does not abort it halfway.
func (c *Component) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if !c.cronAuthorized(w, r) || !c.syncEnabled(w) {
		return
	}
	sum, err := c.syncer.Sync(context.WithoutCancel(r.Context()))
	if err != nil && sum == nil {
		c.writeError(w, r, err)
		return
	}
	if err != nil {
		c.logger.Warn("Roadmap sync finished with errors", "error", err)
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleHealth reports the database and component health. It needs no
// session so load balancers can check it.
func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthHTTPResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := c.store.Ping(ctx); err != nil {
		c.logger.Warn("Database health check failed", "error", err)
		resp.Database = "unreachable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	if c.health != nil {
		resp.Components = c.health()
		for _, h := range resp.Components {
			if !h.Healthy {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, status, resp)
}
