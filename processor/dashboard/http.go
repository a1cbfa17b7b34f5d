package dashboard

import (
	"bytes"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

// maxFormBytes caps the login and action forms.
const maxFormBytes = 64 << 10

// RegisterHTTPHandlers registers the dashboard pages under the given
// prefix (usually "/"). The session middleware must wrap the mux.
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	c.prefix = prefix
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+prefix+path, h)
	}

	route("GET", "login", c.handleLoginPage)
	route("POST", "login", c.handleLoginForm)
	route("POST", "logout", c.handleLogout)

	route("GET", "{$}", c.requireUser(c.handleDashboard))
	route("GET", "projects", c.requireUser(c.handleProjects))
	route("GET", "projects/{id}", c.requireUser(c.handleProject))
	route("GET", "alerts", c.requireUser(c.handleAlerts))
	route("POST", "alerts/read-all", c.requireUser(c.handleReadAll))
	route("POST", "alerts/{id}/read", c.requireUser(c.handleReadAlert))
	route("GET", "prompts", c.requireUser(c.handlePrompts))

	mux.Handle("GET "+prefix+"static/",
		http.StripPrefix(prefix+"static/", http.FileServerFS(c.static)))
}

// pageData is the root value every page template executes against.
type pageData struct {
	AppTitle  string
	Title     string
	Prefix    string
	APIPrefix string
	User      *tracker.User
	CanEdit   bool
	Unread    int
	Active    string
	Error     string
	Data      any
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *tracker.User)

// requireUser sends visitors without a session to the login page and
// remembers where they were going.
func (c *Component) requireUser(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFrom(r.Context())
		if !ok {
			target := c.prefix + "login?next=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		h(w, r, user)
	}
}

// render executes a page into a buffer first so a template error never
// leaves a half-written page.
func (c *Component) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	t, ok := c.pages[page]
	if !ok {
		c.renderErrors.Add(1)
		c.logger.Error("Unknown page template", "page", page)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	data.AppTitle = c.config.Title
	data.Prefix = c.prefix
	data.APIPrefix = c.config.APIPrefix
	if data.User != nil {
		data.CanEdit = auth.CanEdit(data.User)
		if n, err := c.store.CountUnreadAlerts(r.Context()); err == nil {
			data.Unread = n
		}
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		c.renderErrors.Add(1)
		c.logger.Error("Render page failed", "page", page, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	c.pagesRendered.Add(1)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError shows the error page, mapping store errors to a status.
func (c *Component) renderError(w http.ResponseWriter, r *http.Request, user *tracker.User, err error) {
	status := http.StatusInternalServerError
	msg := "Something went wrong."
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status, msg = http.StatusNotFound, "That page does not exist."
	case errors.Is(err, auth.ErrForbidden):
		status, msg = http.StatusForbidden, "You do not have permission to do that."
	default:
		c.logger.Error("Page request failed", "path", r.URL.Path, "error", err)
	}
	c.render(w, r, status, "error", pageData{Title: http.StatusText(status), User: user, Error: msg})
}

// safeNext keeps post-login redirects on this site.
func (c *Component) safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return c.prefix
	}
	u, err := url.Parse(next)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return c.prefix
	}
	return next
}

type loginView struct {
	Email string
	Next  string
}

func (c *Component) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := c.safeNext(r.URL.Query().Get("next"))
	if _, ok := auth.UserFrom(r.Context()); ok {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	c.render(w, r, http.StatusOK, "login", pageData{Title: "Sign in", Data: loginView{Next: next}})
}

func (c *Component) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("email"))
	next := c.safeNext(r.PostForm.Get("next"))

	login, err := c.auth.Login(r.Context(), email, r.PostForm.Get("password"))
	if err != nil {
		status, msg := http.StatusUnauthorized, "Invalid email or password."
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			c.logger.Error("Dashboard login failed", "error", err)
			status, msg = http.StatusInternalServerError, "Sign in is unavailable right now."
		}
		c.render(w, r, status, "login", pageData{
			Title: "Sign in",
			Error: msg,
			Data:  loginView{Email: email, Next: next},
		})
		return
	}

	auth.SetSessionCookie(w, c.config.SessionCookie, login.Token, login.ExpiresAt, c.config.SecureCookie)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (c *Component) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r, c.config.SessionCookie); token != "" {
		if err := c.auth.Logout(r.Context(), token); err != nil {
			c.logger.Warn("Dashboard logout failed", "error", err)
		}
	}
	auth.ClearSessionCookie(w, c.config.SessionCookie, c.config.SecureCookie)
	http.Redirect(w, r, c.prefix+"login", http.StatusSeeOther)
}

type dashboardView struct {
	Summary  *tracker.DashboardSummary
	Statuses []statusCount
	Recent   []*tracker.Alert
}

type statusCount struct {
	Status tracker.ProjectStatus
	Count  int
}

var projectStatuses = []tracker.ProjectStatus{
	tracker.ProjectStatusPlanning,
	tracker.ProjectStatusActive,
	tracker.ProjectStatusOnHold,
	tracker.ProjectStatusCompleted,
	tracker.ProjectStatusCancelled,
}

func (c *Component) handleDashboard(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	sum, err := c.store.Summary(r.Context(), nil)
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	recent, err := c.store.ListAlerts(r.Context(), storage.AlertFilter{Limit: 5})
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}

	view := dashboardView{Summary: sum, Recent: recent}
	for _, s := range projectStatuses {
		view.Statuses = append(view.Statuses, statusCount{Status: s, Count: sum.ProjectsByStatus[s]})
	}
	c.render(w, r, http.StatusOK, "dashboard", pageData{Title: "Overview", User: user, Active: "dashboard", Data: view})
}

type projectRow struct {
	*tracker.Project
	OwnerName string
}

type projectsView struct {
	Projects []projectRow
	Status   string
	Query    string
	Statuses []tracker.ProjectStatus
}

// userNames maps user ids to display names.
func (c *Component) userNames(r *http.Request) (map[string]string, error) {
	users, err := c.store.ListUsers(r.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

func (c *Component) handleProjects(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	q := r.URL.Query()
	view := projectsView{
		Status:   q.Get("status"),
		Query:    strings.TrimSpace(q.Get("q")),
		Statuses: projectStatuses,
	}
	filter := storage.ProjectFilter{Search: view.Query}
	if s := tracker.ProjectStatus(view.Status); s.Valid() {
		filter.Status = s
	} else {
		view.Status = ""
	}

	projects, err := c.store.ListProjects(r.Context(), filter)
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	names, err := c.userNames(r)
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	for _, p := range projects {
		view.Projects = append(view.Projects, projectRow{Project: p, OwnerName: names[p.OwnerID]})
	}
	c.render(w, r, http.StatusOK, "projects", pageData{Title: "Projects", User: user, Active: "projects", Data: view})
}

type kpiRow struct {
	*tracker.KPI
	Achievement float64
}

type riskRow struct {
	*tracker.Risk
	Score int
}

type phaseRow struct {
	*tracker.Phase
	Milestones []*tracker.Milestone
}

type projectView struct {
	Project       *tracker.Project
	OwnerName     string
	Department    string
	KPIs          []kpiRow
	ROI           []*tracker.ROICalculation
	Risks         []riskRow
	Phases        []phaseRow
	Alerts        []*tracker.Alert
	Attachments   []*tracker.Attachment
	Feedback      []*tracker.Feedback
	AverageRating float64
}

func (c *Component) handleProject(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	view, err := c.loadProject(r, r.PathValue("id"))
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	c.render(w, r, http.StatusOK, "project", pageData{Title: view.Project.Name, User: user, Active: "projects", Data: view})
}

func (c *Component) loadProject(r *http.Request, id string) (*projectView, error) {
	ctx := r.Context()
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &projectView{Project: p}

	if owner, err := c.store.GetUser(ctx, p.OwnerID); err == nil {
		view.OwnerName = owner.Name
	}
	if p.DepartmentID != "" {
		if d, err := c.store.GetDepartment(ctx, p.DepartmentID); err == nil {
			view.Department = d.Name
		}
	}

	kpis, err := c.store.ListKPIs(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, k := range kpis {
		view.KPIs = append(view.KPIs, kpiRow{KPI: k, Achievement: k.Achievement()})
	}

	if view.ROI, err = c.store.ListROI(ctx, id); err != nil {
		return nil, err
	}

	risks, err := c.store.ListRisks(ctx, storage.RiskFilter{ProjectID: id})
	if err != nil {
		return nil, err
	}
	for _, rk := range risks {
		view.Risks = append(view.Risks, riskRow{Risk: rk, Score: rk.Score()})
	}

	phases, err := c.store.ListPhases(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, ph := range phases {
		ms, err := c.store.ListMilestones(ctx, ph.ID)
		if err != nil {
			return nil, err
		}
		view.Phases = append(view.Phases, phaseRow{Phase: ph, Milestones: ms})
	}

	if view.Alerts, err = c.store.ListAlerts(ctx, storage.AlertFilter{ProjectID: id, Limit: 20}); err != nil {
		return nil, err
	}
	if view.Attachments, err = c.store.ListAttachments(ctx, id); err != nil {
		return nil, err
	}
	if view.Feedback, err = c.store.ListFeedback(ctx, id); err != nil {
		return nil, err
	}
	if n := len(view.Feedback); n > 0 {
		total := 0
		for _, f := range view.Feedback {
			total += f.Rating
		}
		view.AverageRating = float64(total) / float64(n)
	}
	return view, nil
}

type alertRow struct {
	*tracker.Alert
	ProjectName string
}

type alertsView struct {
	Alerts     []alertRow
	UnreadOnly bool
}

func (c *Component) handleAlerts(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	view := alertsView{UnreadOnly: r.URL.Query().Get("unread") == "true"}
	alerts, err := c.store.ListAlerts(r.Context(), storage.AlertFilter{
		UnreadOnly: view.UnreadOnly,
		Limit:      c.config.AlertLimit,
	})
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}

	projects, err := c.store.ListProjects(r.Context(), storage.ProjectFilter{})
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	for _, a := range alerts {
		view.Alerts = append(view.Alerts, alertRow{Alert: a, ProjectName: names[a.ProjectID]})
	}
	c.render(w, r, http.StatusOK, "alerts", pageData{Title: "Alerts", User: user, Active: "alerts", Data: view})
}

func (c *Component) handleReadAll(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	if !auth.Can(user, auth.ActionUpdate, "") {
		c.renderError(w, r, user, auth.ErrForbidden)
		return
	}
	n, err := c.store.MarkAllAlertsRead(r.Context(), "")
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	c.logger.Debug("Marked alerts read", "count", n, "user_id", user.ID)
	http.Redirect(w, r, c.prefix+"alerts", http.StatusSeeOther)
}

func (c *Component) handleReadAlert(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	if !auth.Can(user, auth.ActionUpdate, "") {
		c.renderError(w, r, user, auth.ErrForbidden)
		return
	}
	if err := c.store.MarkAlertRead(r.Context(), r.PathValue("id")); err != nil {
		c.renderError(w, r, user, err)
		return
	}
	http.Redirect(w, r, c.prefix+"alerts", http.StatusSeeOther)
}

type promptsView struct {
	Prompts    []*tracker.Prompt
	Query      string
	Category   string
	Categories []string
}

func (c *Component) handlePrompts(w http.ResponseWriter, r *http.Request, user *tracker.User) {
	q := r.URL.Query()
	view := promptsView{
		Query:    strings.TrimSpace(q.Get("q")),
		Category: strings.TrimSpace(q.Get("category")),
	}

	all, err := c.store.ListPrompts(r.Context(), storage.PromptFilter{})
	if err != nil {
		c.renderError(w, r, user, err)
		return
	}
	for _, p := range all {
		if p.Category != "" && !slices.Contains(view.Categories, p.Category) {
			view.Categories = append(view.Categories, p.Category)
		}
	}
	slices.Sort(view.Categories)

	if view.Query == "" && view.Category == "" {
		view.Prompts = all
	} else {
		view.Prompts, err = c.store.ListPrompts(r.Context(), storage.PromptFilter{
			Category: view.Category,
			Search:   view.Query,
		})
		if err != nil {
			c.renderError(w, r, user, err)
			return
		}
	}
	c.render(w, r, http.StatusOK, "prompts", pageData{Title: "Prompt library", User: user, Active: "prompts", Data: view})
}
