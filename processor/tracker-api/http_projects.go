package trackerapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

// ProjectHTTPRequest is the body for creating or updating a project. Absent
// fields are left unchanged on update.
type ProjectHTTPRequest struct {
	Name         *string                `json:"name,omitempty"`
	Description  *string                `json:"description,omitempty"`
	Status       *tracker.ProjectStatus `json:"status,omitempty"`
	OwnerID      *string                `json:"owner_id,omitempty"`
	DepartmentID *string                `json:"department_id,omitempty"`
	Budget       *float64               `json:"budget,omitempty"`
	Progress     *int                   `json:"progress,omitempty"`
	StartDate    *date                  `json:"start_date,omitempty"`
	TargetDate   *date                  `json:"target_date,omitempty"`
}

func (req ProjectHTTPRequest) apply(p *tracker.Project) {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Status != nil {
		p.Status = *req.Status
	}
	if req.OwnerID != nil {
		p.OwnerID = *req.OwnerID
	}
	if req.DepartmentID != nil {
		p.DepartmentID = *req.DepartmentID
	}
	if req.Budget != nil {
		p.Budget = *req.Budget
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

func (c *Component) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	q := r.URL.Query()
	filter := storage.ProjectFilter{
		Status:       tracker.ProjectStatus(strings.ToUpper(q.Get("status"))),
		DepartmentID: q.Get("department_id"),
		OwnerID:      q.Get("owner_id"),
		Search:       strings.TrimSpace(q.Get("q")),
		OpenOnly:     queryBool(r, "open"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		c.writeError(w, r, badRequest("unknown project status %q", filter.Status))
		return
	}

	projects, err := c.store.ListProjects(r.Context(), filter)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (c *Component) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	user, ok := c.authorize(w, r, auth.ActionCreate, "")
	if !ok {
		return
	}
	var req ProjectHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}

	p := tracker.Project{OwnerID: user.ID}
	req.apply(&p)
	if err := c.store.CreateProject(r.Context(), &p); err != nil {
		c.writeError(w, r, err)
		return
	}
	c.logger.Info("Project created", "project_id", p.ID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, &p)
}

func (c *Component) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *Component) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	p, user, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionUpdate)
	if !ok {
		return
	}
	var req ProjectHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	if req.OwnerID != nil && *req.OwnerID != p.OwnerID {
		if err := c.checkOwnerTransfer(r.Context(), user, p, *req.OwnerID); err != nil {
			c.writeError(w, r, err)
			return
		}
	}
	req.apply(p)
	if err := c.store.UpdateProject(r.Context(), p); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// checkOwnerTransfer allows handing a project over only to those who could
// delete it, since ownership grants delete rights.
func (c *Component) checkOwnerTransfer(ctx context.Context, user *tracker.User, p *tracker.Project, ownerID string) error {
	if !auth.Can(user, auth.ActionDelete, p.OwnerID) {
		return fmt.Errorf("%w: only the owner or an admin can change the owner", auth.ErrForbidden)
	}
	if _, err := c.store.GetUser(ctx, ownerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return badRequest("owner %q does not exist", ownerID)
		}
		return err
	}
	return nil
}

// handleDeleteProject removes the project, its dependent rows and the
// files uploaded to it.
func (c *Component) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	p, user, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionDelete)
	if !ok {
		return
	}
	stored, err := c.store.ListStoredNames(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if err := c.store.DeleteProject(r.Context(), p.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	if c.uploads != nil {
		for _, name := range stored {
			if err := c.uploads.Remove(name); err != nil {
				c.logger.Warn("Failed to remove attachment file", "project_id", p.ID, "file", name, "error", err)
			}
		}
	}
	c.logger.Info("Project deleted", "project_id", p.ID, "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------------------------------------------------------
// KPIs
// ----------------------------------------------------------------------------

// KPIHTTPRequest is the body for creating or updating a KPI.
type KPIHTTPRequest struct {
	Name      *string               `json:"name,omitempty"`
	Unit      *string               `json:"unit,omitempty"`
	Direction *tracker.KPIDirection `json:"direction,omitempty"`
	Baseline  *float64              `json:"baseline,omitempty"`
	Target    *float64              `json:"target,omitempty"`
	Current   *float64              `json:"current,omitempty"`
}

func (req KPIHTTPRequest) apply(k *tracker.KPI) {
	if req.Name != nil {
		k.Name = strings.TrimSpace(*req.Name)
	}
	if req.Unit != nil {
		k.Unit = *req.Unit
	}
	if req.Direction != nil {
		k.Direction = *req.Direction
	}
	if req.Baseline != nil {
		k.Baseline = *req.Baseline
	}
	if req.Target != nil {
		k.Target = *req.Target
	}
	if req.Current != nil {
		k.Current = *req.Current
	}
}

// kpiView adds the derived achievement to a KPI.
type kpiView struct {
	*tracker.KPI
	Achievement float64 `json:"achievement"`
}

func newKPIView(k *tracker.KPI) kpiView {
	return kpiView{KPI: k, Achievement: k.Achievement()}
}

// MeasurementHTTPRequest is the body of POST /kpis/{id}/measurements.
type MeasurementHTTPRequest struct {
	Value float64 `json:"value"`
	Note  string  `json:"note,omitempty"`
}

// kpiAccess loads the KPI named by the {id} path value and checks action
// against the owner of its project.
func (c *Component) kpiAccess(w http.ResponseWriter, r *http.Request, action auth.Action) (*tracker.KPI, *tracker.User, bool) {
	if _, ok := c.currentUser(w, r); !ok {
		return nil, nil, false
	}
	k, err := c.store.GetKPI(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return nil, nil, false
	}
	_, user, ok := c.projectAccess(w, r, k.ProjectID, action)
	if !ok {
		return nil, nil, false
	}
	return k, user, true
}

func (c *Component) handleListKPIs(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	kpis, err := c.store.ListKPIs(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	out := make([]kpiView, 0, len(kpis))
	for _, k := range kpis {
		out = append(out, newKPIView(k))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Component) handleCreateKPI(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionCreate)
	if !ok {
		return
	}
	var req KPIHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	k := tracker.KPI{ProjectID: p.ID}
	req.apply(&k)
	if req.Current == nil {
		k.Current = k.Baseline
	}
	if err := c.store.CreateKPI(r.Context(), &k); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newKPIView(&k))
}

func (c *Component) handleGetKPI(w http.ResponseWriter, r *http.Request) {
	k, _, ok := c.kpiAccess(w, r, auth.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newKPIView(k))
}

func (c *Component) handleUpdateKPI(w http.ResponseWriter, r *http.Request) {
	k, _, ok := c.kpiAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req KPIHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	req.apply(k)
	if err := c.store.UpdateKPI(r.Context(), k); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newKPIView(k))
}

func (c *Component) handleDeleteKPI(w http.ResponseWriter, r *http.Request) {
	k, _, ok := c.kpiAccess(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := c.store.DeleteKPI(r.Context(), k.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Component) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	k, _, ok := c.kpiAccess(w, r, auth.ActionRead)
	if !ok {
		return
	}
	ms, err := c.store.ListMeasurements(r.Context(), k.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// handleRecordMeasurement appends a value to the KPI's history and returns
// the KPI with its new current value.
func (c *Component) handleRecordMeasurement(w http.ResponseWriter, r *http.Request) {
	k, user, ok := c.kpiAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req MeasurementHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	m := tracker.KPIMeasurement{KPIID: k.ID, Value: req.Value, Note: req.Note, RecordedBy: user.ID}
	if err := c.store.RecordMeasurement(r.Context(), &m); err != nil {
		c.writeError(w, r, err)
		return
	}
	k.Current = m.Value
	writeJSON(w, http.StatusCreated, newKPIView(k))
}

// ----------------------------------------------------------------------------
// ROI
// ----------------------------------------------------------------------------

// ROIHTTPRequest is the body for creating or updating an ROI calculation.
// Inputs replace the stored inputs as a whole.
type ROIHTTPRequest struct {
	Name   *string            `json:"name,omitempty"`
	Inputs *tracker.ROIInputs `json:"inputs,omitempty"`
}

func (req ROIHTTPRequest) apply(calc *tracker.ROICalculation) {
	if req.Name != nil {
		calc.Name = strings.TrimSpace(*req.Name)
	}
	if req.Inputs != nil {
		calc.Inputs = *req.Inputs
	}
}

func (c *Component) roiAccess(w http.ResponseWriter, r *http.Request, action auth.Action) (*tracker.ROICalculation, bool) {
	if _, ok := c.currentUser(w, r); !ok {
		return nil, false
	}
	calc, err := c.store.GetROI(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return nil, false
	}
	if _, _, ok := c.projectAccess(w, r, calc.ProjectID, action); !ok {
		return nil, false
	}
	return calc, true
}

func (c *Component) handleListROI(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	calcs, err := c.store.ListROI(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calcs)
}

func (c *Component) handleCreateROI(w http.ResponseWriter, r *http.Request) {
	p, user, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionCreate)
	if !ok {
		return
	}
	var req ROIHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	calc := tracker.ROICalculation{ProjectID: p.ID, CreatedBy: user.ID}
	req.apply(&calc)
	if err := c.store.CreateROI(r.Context(), &calc); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &calc)
}

// handlePreviewROI computes ROI figures without saving them.
func (c *Component) handlePreviewROI(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	var in tracker.ROIInputs
	if err := c.decode(w, r, &in); err != nil {
		c.writeError(w, r, err)
		return
	}
	calc := tracker.ROICalculation{ProjectID: "preview", Name: "preview", Inputs: in}
	if err := calc.Validate(); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracker.ComputeROI(in))
}

func (c *Component) handleGetROI(w http.ResponseWriter, r *http.Request) {
	calc, ok := c.roiAccess(w, r, auth.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (c *Component) handleUpdateROI(w http.ResponseWriter, r *http.Request) {
	calc, ok := c.roiAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req ROIHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	req.apply(calc)
	if err := c.store.UpdateROI(r.Context(), calc); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (c *Component) handleDeleteROI(w http.ResponseWriter, r *http.Request) {
	calc, ok := c.roiAccess(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := c.store.DeleteROI(r.Context(), calc.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----------------------------------------------------------------------------
// Risks
// ----------------------------------------------------------------------------

// RiskHTTPRequest is the body for creating or updating a risk.
type RiskHTTPRequest struct {
	Title       *string                 `json:"title,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Severity    *tracker.RiskSeverity   `json:"severity,omitempty"`
	Likelihood  *tracker.RiskLikelihood `json:"likelihood,omitempty"`
	Status      *tracker.RiskStatus     `json:"status,omitempty"`
	Mitigation  *string                 `json:"mitigation,omitempty"`
	OwnerID     *string                 `json:"owner_id,omitempty"`
}

func (req RiskHTTPRequest) apply(risk *tracker.Risk) {
	if req.Title != nil {
		risk.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		risk.Description = *req.Description
	}
	if req.Severity != nil {
		risk.Severity = *req.Severity
	}
	if req.Likelihood != nil {
		risk.Likelihood = *req.Likelihood
	}
	if req.Status != nil {
		risk.Status = *req.Status
	}
	if req.Mitigation != nil {
		risk.Mitigation = *req.Mitigation
	}
	if req.OwnerID != nil {
		risk.OwnerID = *req.OwnerID
	}
}

// riskView adds the derived score to a risk.
type riskView struct {
	*tracker.Risk
	Score int `json:"score"`
}

func newRiskView(risk *tracker.Risk) riskView {
	return riskView{Risk: risk, Score: risk.Score()}
}

func (c *Component) riskAccess(w http.ResponseWriter, r *http.Request, action auth.Action) (*tracker.Risk, *tracker.Project, bool) {
	if _, ok := c.currentUser(w, r); !ok {
		return nil, nil, false
	}
	risk, err := c.store.GetRisk(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return nil, nil, false
	}
	p, _, ok := c.projectAccess(w, r, risk.ProjectID, action)
	if !ok {
		return nil, nil, false
	}
	return risk, p, true
}

func (c *Component) handleListRisks(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	q := r.URL.Query()
	risks, err := c.store.ListRisks(r.Context(), storage.RiskFilter{
		ProjectID: p.ID,
		Status:    tracker.RiskStatus(strings.ToUpper(q.Get("status"))),
		Severity:  tracker.RiskSeverity(strings.ToUpper(q.Get("severity"))),
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	out := make([]riskView, 0, len(risks))
	for _, risk := range risks {
		out = append(out, newRiskView(risk))
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *Component) handleCreateRisk(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionCreate)
	if !ok {
		return
	}
	var req RiskHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	risk := tracker.Risk{ProjectID: p.ID}
	req.apply(&risk)
	if err := c.store.CreateRisk(r.Context(), &risk); err != nil {
		c.writeError(w, r, err)
		return
	}
	if escalated(nil, &risk) {
		c.raiseRiskAlert(r.Context(), p, &risk)
	}
	writeJSON(w, http.StatusCreated, newRiskView(&risk))
}

func (c *Component) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	risk, _, ok := c.riskAccess(w, r, auth.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRiskView(risk))
}

func (c *Component) handleUpdateRisk(w http.ResponseWriter, r *http.Request) {
	risk, p, ok := c.riskAccess(w, r, auth.ActionUpdate)
	if !ok {
		return
	}
	var req RiskHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	before := *risk
	req.apply(risk)
	if err := c.store.UpdateRisk(r.Context(), risk); err != nil {
		c.writeError(w, r, err)
		return
	}
	if escalated(&before, risk) {
		c.raiseRiskAlert(r.Context(), p, risk)
	}
	writeJSON(w, http.StatusOK, newRiskView(risk))
}

func (c *Component) handleDeleteRisk(w http.ResponseWriter, r *http.Request) {
	risk, _, ok := c.riskAccess(w, r, auth.ActionDelete)
	if !ok {
		return
	}
	if err := c.store.DeleteRisk(r.Context(), risk.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// escalated reports whether an open risk has just become critical. before
// is nil for a new risk.
func escalated(before, after *tracker.Risk) bool {
	if after.Severity != tracker.SeverityCritical || after.Status == tracker.RiskClosed {
		return false
	}
	return before == nil || before.Severity != tracker.SeverityCritical || before.Status == tracker.RiskClosed
}

// raiseRiskAlert records a RISK_ESCALATED alert and hands it to the
// notifier. Failures are logged; the risk itself is already saved.
func (c *Component) raiseRiskAlert(ctx context.Context, p *tracker.Project, risk *tracker.Risk) {
	alert := &tracker.Alert{
		ProjectID: p.ID,
		Type:      tracker.AlertRiskEscalated,
		Severity:  tracker.AlertCritical,
		Title:     "Critical risk on " + p.Name,
		Message:   risk.Title + " is now critical",
	}
	if err := c.store.CreateAlert(ctx, alert); err != nil {
		c.logger.Error("Failed to record risk alert", "project_id", p.ID, "risk_id", risk.ID, "error", err)
		return
	}
	if err := c.notifier.Notify(ctx, []*tracker.Alert{alert}); err != nil {
		c.logger.Warn("Failed to deliver risk alert", "project_id", p.ID, "alert_id", alert.ID, "error", err)
	}
}

// ----------------------------------------------------------------------------
// Feedback
// ----------------------------------------------------------------------------

// FeedbackHTTPRequest is the body of POST /projects/{id}/feedback.
type FeedbackHTTPRequest struct {
	Rating   int    `json:"rating"`
	Category string `json:"category,omitempty"`
	Comment  string `json:"comment,omitempty"`
}

func (c *Component) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	entries, err := c.store.ListFeedback(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (c *Component) handleCreateFeedback(w http.ResponseWriter, r *http.Request) {
	p, user, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionCreate)
	if !ok {
		return
	}
	var req FeedbackHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	f := tracker.Feedback{
		ProjectID: p.ID,
		UserID:    user.ID,
		Rating:    req.Rating,
		Category:  strings.TrimSpace(req.Category),
		Comment:   req.Comment,
	}
	if err := c.store.CreateFeedback(r.Context(), &f); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &f)
}

func (c *Component) handleGetFeedback(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	f, err := c.store.GetFeedback(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (c *Component) handleDeleteFeedback(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.currentUser(w, r); !ok {
		return
	}
	f, err := c.store.GetFeedback(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if _, ok := c.authorize(w, r, auth.ActionDelete, f.UserID); !ok {
		return
	}
	if err := c.store.DeleteFeedback(r.Context(), f.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
