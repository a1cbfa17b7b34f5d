package trackerapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/tracker"
)

// PhaseHTTPRequest is the body for creating or updating a roadmap phase.
// Progress only sticks on phases without milestones; otherwise the next
// recompute derives it from milestone completion.
type PhaseHTTPRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Sequence    *int                 `json:"sequence,omitempty"`
	Status      *tracker.PhaseStatus `json:"status,omitempty"`
	Progress    *int                 `json:"progress,omitempty"`
	StartDate   *date                `json:"start_date,omitempty"`
	TargetDate  *date                `json:"target_date,omitempty"`
}

func (req PhaseHTTPRequest) apply(p *tracker.Phase) {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Sequence != nil {
		p.Sequence = *req.Sequence
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.Progress != nil {
		p.Progress = *req.Progress
	}
	if req.StartDate != nil {
		p.StartDate = req.StartDate.t
	}
	if req.TargetDate != nil {
		p.TargetDate = req.TargetDate.t
	}
}

// ReorderPhasesHTTPRequest lists every phase of a project in its new order.
type ReorderPhasesHTTPRequest struct {
	PhaseIDs []string `json:"phase_ids"`
}

// MilestoneHTTPRequest is the body for creating or updating a milestone.
type MilestoneHTTPRequest struct {
	Title     *string `json:"title,omitempty"`
	DueDate   *date   `json:"due_date,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

func (req MilestoneHTTPRequest) apply(m *tracker.Milestone) {
	if req.Title != nil {
		m.Title = strings.TrimSpace(*req.Title)
	}
	if req.DueDate != nil {
		m.DueDate = req.DueDate.t
	}
	if req.Completed != nil {
		m.Completed = *req.Completed
	}
}

// CompleteMilestoneHTTPRequest is the optional body of
// POST /milestones/{id}/complete; an empty body marks it completed.
type CompleteMilestoneHTTPRequest struct {
	Completed *bool `json:"completed,omitempty"`
}

// phaseView is a phase with its milestones.
type phaseView struct {
	*tracker.Phase
	Milestones []*tracker.Milestone `json:"milestones"`
}

// recompute refreshes the project's roadmap progress after a write. The
// write has already succeeded, so a failure is only logged.
func (c *Component) recompute(ctx context.Context, projectID string) {
	if c.syncer == nil {
		return
	}
	if err := c.syncer.RecomputeProject(ctx, projectID); err != nil {
		c.logger.Warn("Failed to recompute roadmap", "project_id", projectID, "error", err)
	}
}

// phaseAccess loads the phase named by the {id} path value and checks
// action against the owner of its project.
func (c *Component) phaseAccess(w http.ResponseWriter, r *http.Request, action auth.Action) (*tracker.Phase, bool) {
	if _, ok := c.currentUser(w, r); !ok {
		return nil, false
	}
	phase, err := c.store.GetPhase(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return nil, false
	}
	if _, _, ok := c.projectAccess(w, r, phase.ProjectID, action); !ok {
		return nil, false
	}
	return phase, true
}

func (c *Component) milestoneAccess(w http.ResponseWriter, r *http.Request, action auth.Action) (*tracker.Milestone, string, bool) {
	if _, ok := c.currentUser(w, r); !ok {
		return nil, "", false
	}
	m, err := c.store.GetMilestone(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return nil, "", false
	}
	projectID, err := c.store.ProjectIDForMilestone(r.Context(), m.ID)
	if err != nil {
		c.writeError(w, r, err)
		return nil, "", false
	}
	if _, _, ok := c.projectAccess(w, r, projectID, action); !ok {
		return nil, "", false
	}
	return m, projectID, true
}

func (c *Component) handleListPhases(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	phases, err := c.store.ListPhases(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	out := make([]phaseView, 0, len(phases))
	for _, phase := range phases {
		ms, err := c.store.ListMilestones(r.Context(), phase.ID)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		out = append(out, phaseView{Phase: phase, Milestones: ms})
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Component) handleCreatePhase(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionCreate)
	if !ok {
		return
	}
	var req PhaseHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	phase := tracker.Phase{ProjectID: p.ID}
	req.apply(&phase)
	if err := c.store.CreatePhase(r.Context(), &phase); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), p.ID)
	c.writePhase(w, r, phase.ID, http.StatusCreated)
}

func (c *Component) handleReorderPhases(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionUpdate)
	if !ok {
		return
	}
	var req ReorderPhasesHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	if len(req.PhaseIDs) == 0 {
		c.writeError(w, r, badRequest("phase_ids is required"))
		return
	}
	if err := c.store.ReorderPhases(r.Context(), p.ID, req.PhaseIDs); err != nil {
		c.writeError(w, r, err)
		return
	}
	phases, err := c.store.ListPhases(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

func (c *Component) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	phase, ok := c.phaseAccess(w, r, auth.ActionRead)
	if !ok {
		return
	}
	c.writePhase(w, r, phase.ID, http.StatusOK)
}

func (c *Component) handleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	phase, ok := c.phaseAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req PhaseHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	req.apply(phase)
	if err := c.store.UpdatePhase(r.Context(), phase); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), phase.ProjectID)
	c.writePhase(w, r, phase.ID, http.StatusOK)
}

func (c *Component) handleDeletePhase(w http.ResponseWriter, r *http.Request) {
	phase, ok := c.phaseAccess(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := c.store.DeletePhase(r.Context(), phase.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), phase.ProjectID)
	w.WriteHeader(http.StatusNoContent)
}

// writePhase re-reads a phase so the response reflects any recompute.
func (c *Component) writePhase(w http.ResponseWriter, r *http.Request, id string, status int) {
	phase, err := c.store.GetPhase(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	ms, err := c.store.ListMilestones(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, status, phaseView{Phase: phase, Milestones: ms})
}

func (c *Component) handleListMilestones(w http.ResponseWriter, r *http.Request) {
	phase, ok := c.phaseAccess(w, r, auth.ActionRead)
	if !ok {
		return
	}
	ms, err := c.store.ListMilestones(r.Context(), phase.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (c *Component) handleCreateMilestone(w http.ResponseWriter, r *http.Request) {
	phase, ok := c.phaseAccess(w, r, auth.ActionCreate)
	if !ok {
		return
	}
	var req MilestoneHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	m := tracker.Milestone{PhaseID: phase.ID}
	req.apply(&m)
	if err := c.store.CreateMilestone(r.Context(), &m); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), phase.ProjectID)
	writeJSON(w, http.StatusCreated, &m)
}

func (c *Component) handleUpdateMilestone(w http.ResponseWriter, r *http.Request) {
	m, projectID, ok := c.milestoneAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req MilestoneHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	req.apply(m)
	if err := c.store.UpdateMilestone(r.Context(), m); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), projectID)
	writeJSON(w, http.StatusOK, m)
}

func (c *Component) handleDeleteMilestone(w http.ResponseWriter, r *http.Request) {
	m, projectID, ok := c.milestoneAccess(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := c.store.DeleteMilestone(r.Context(), m.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), projectID)
	w.WriteHeader(http.StatusNoContent)
}

// handleCompleteMilestone toggles completion and recomputes the roadmap at
// once, so phase and project progress reflect the change without waiting
// for the nightly run.
func (c *Component) handleCompleteMilestone(w http.ResponseWriter, r *http.Request) {
	m, projectID, ok := c.milestoneAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	req := CompleteMilestoneHTTPRequest{}
	if r.ContentLength != 0 {
		if err := c.decode(w, r, &req); err != nil {
			c.writeError(w, r, err)
			return
		}
	}
	completed := true
	if req.Completed != nil {
		completed = *req.Completed
	}
	if err := c.store.SetMilestoneCompleted(r.Context(), m.ID, completed); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.recompute(r.Context(), projectID)

	updated, err := c.store.GetMilestone(r.Context(), m.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
