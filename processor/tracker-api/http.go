package trackerapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/aibenefits/auth"
	roadmapsync "github.com/c360studio/aibenefits/processor/roadmap-sync"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
	"github.com/c360studio/aibenefits/uploads"
)

// RegisterHTTPHandlers registers all tracker-api handlers under the given
// prefix (e.g. "api"). The session middleware must wrap the mux so handlers
// can see the signed-in user.
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+prefix+path, h)
	}

	route("POST", "auth/login", c.handleLogin)
	route("POST", "auth/logout", c.handleLogout)
	route("GET", "auth/me", c.handleMe)
	route("PUT", "auth/preferences", c.handlePreferences)
	route("PUT", "auth/password", c.handleChangePassword)

	route("GET", "departments", c.handleListDepartments)
	route("POST", "departments", c.handleCreateDepartment)
	route("GET", "departments/{id}", c.handleGetDepartment)
	route("PUT", "departments/{id}", c.handleUpdateDepartment)
	route("DELETE", "departments/{id}", c.handleDeleteDepartment)

	route("GET", "users", c.handleListUsers)
	route("POST", "users", c.handleCreateUser)
	route("GET", "users/{id}", c.handleGetUser)
	route("PUT", "users/{id}", c.handleUpdateUser)
	route("DELETE", "users/{id}", c.handleDeleteUser)

	route("GET", "projects", c.handleListProjects)
	route("POST", "projects", c.handleCreateProject)
	route("GET", "projects/{id}", c.handleGetProject)
	route("PUT", "projects/{id}", c.handleUpdateProject)
	route("DELETE", "projects/{id}", c.handleDeleteProject)
	route("GET", "projects/{id}/kpis", c.handleListKPIs)
	route("POST", "projects/{id}/kpis", c.handleCreateKPI)
	route("GET", "projects/{id}/roi", c.handleListROI)
	route("POST", "projects/{id}/roi", c.handleCreateROI)
	route("GET", "projects/{id}/risks", c.handleListRisks)
	route("POST", "projects/{id}/risks", c.handleCreateRisk)
	route("GET", "projects/{id}/phases", c.handleListPhases)
	route("POST", "projects/{id}/phases", c.handleCreatePhase)
	route("PUT", "projects/{id}/phases/order", c.handleReorderPhases)
	route("GET", "projects/{id}/feedback", c.handleListFeedback)
	route("POST", "projects/{id}/feedback", c.handleCreateFeedback)
	route("GET", "projects/{id}/attachments", c.handleListAttachments)
	route("POST", "projects/{id}/attachments", c.handleUploadAttachment)
	route("GET", "projects/{id}/alerts", c.handleListProjectAlerts)

	route("GET", "kpis/{id}", c.handleGetKPI)
	route("PUT", "kpis/{id}", c.handleUpdateKPI)
	route("DELETE", "kpis/{id}", c.handleDeleteKPI)
	route("GET", "kpis/{id}/measurements", c.handleListMeasurements)
	route("POST", "kpis/{id}/measurements", c.handleRecordMeasurement)

	route("POST", "roi/preview", c.handlePreviewROI)
	route("GET", "roi/{id}", c.handleGetROI)
	route("PUT", "roi/{id}", c.handleUpdateROI)
	route("DELETE", "roi/{id}", c.handleDeleteROI)

	route("GET", "risks/{id}", c.handleGetRisk)
	route("PUT", "risks/{id}", c.handleUpdateRisk)
	route("DELETE", "risks/{id}", c.handleDeleteRisk)

	route("GET", "phases/{id}", c.handleGetPhase)
	route("PUT", "phases/{id}", c.handleUpdatePhase)
	route("DELETE", "phases/{id}", c.handleDeletePhase)
	route("GET", "phases/{id}/milestones", c.handleListMilestones)
	route("POST", "phases/{id}/milestones", c.handleCreateMilestone)

	route("PUT", "milestones/{id}", c.handleUpdateMilestone)
	route("DELETE", "milestones/{id}", c.handleDeleteMilestone)
	route("POST", "milestones/{id}/complete", c.handleCompleteMilestone)

	route("GET", "alerts", c.handleListAlerts)
	route("POST", "alerts/read-all", c.handleReadAllAlerts)
	route("POST", "alerts/{id}/read", c.handleReadAlert)
	route("POST", "alerts/{id}/resolve", c.handleResolveAlert)

	route("GET", "feedback/{id}", c.handleGetFeedback)
	route("DELETE", "feedback/{id}", c.handleDeleteFeedback)

	route("GET", "prompts", c.handleListPrompts)
	route("POST", "prompts", c.handleCreatePrompt)
	route("GET", "prompts/{id}", c.handleGetPrompt)
	route("PUT", "prompts/{id}", c.handleUpdatePrompt)
	route("DELETE", "prompts/{id}", c.handleDeletePrompt)
	route("POST", "prompts/{id}/use", c.handleUsePrompt)

	route("GET", "attachments/{id}", c.handleDownloadAttachment)
	route("DELETE", "attachments/{id}", c.handleDeleteAttachment)

	route("GET", "dashboard/summary", c.handleDashboardSummary)
	route("GET", "cron/roadmap-sync", c.handleSyncStatus)
	route("POST", "cron/roadmap-sync", c.handleTriggerSync)
	route("GET", "health", c.handleHealth)
}

// errBadRequest marks malformed input that is not an entity validation error.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, tracker.ErrValidation), errors.Is(err, errBadRequest),
		errors.Is(err, auth.ErrWeakPassword), errors.Is(err, uploads.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, uploads.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrInUse),
		errors.Is(err, roadmapsync.ErrSyncRunning):
		return http.StatusConflict
	case errors.Is(err, uploads.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, uploads.ErrTypeNotAllowed):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

// writeError writes err as a JSON error. Server errors are logged and their
// detail withheld from the client.
func (c *Component) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var verr *tracker.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		c.serverErrors.Add(1)
		c.logger.Error("Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into v, capped at MaxBodyBytes.
func (c *Component) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, c.config.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// currentUser returns the signed-in user or writes 401.
func (c *Component) currentUser(w http.ResponseWriter, r *http.Request) (*tracker.User, bool) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		c.writeError(w, r, auth.ErrUnauthenticated)
		return nil, false
	}
	return user, true
}

// authorize returns the signed-in user if they may perform action on a
// record owned by ownerID, writing 401 or 403 otherwise.
func (c *Component) authorize(w http.ResponseWriter, r *http.Request, action auth.Action, ownerID string) (*tracker.User, bool) {
	user, ok := c.currentUser(w, r)
	if !ok {
		return nil, false
	}
	if !auth.Can(user, action, ownerID) {
		c.writeError(w, r, fmt.Errorf("%w: %s requires a different role", auth.ErrForbidden, action))
		return nil, false
	}
	return user, true
}

// projectAccess loads the project named by the {id} path value, or the
// given projectID, and checks action against its owner.
func (c *Component) projectAccess(w http.ResponseWriter, r *http.Request, projectID string, action auth.Action) (*tracker.Project, *tracker.User, bool) {
	if _, ok := c.currentUser(w, r); !ok {
		return nil, nil, false
	}
	p, err := c.store.GetProject(r.Context(), projectID)
	if err != nil {
		c.writeError(w, r, err)
		return nil, nil, false
	}
	user, ok := c.authorize(w, r, action, p.OwnerID)
	if !ok {
		return nil, nil, false
	}
	return p, user, true
}

// date accepts "2006-01-02" or RFC 3339 in request bodies. An empty string
// clears the field.
type date struct {
	t *time.Time
}

func (d *date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		d.t = nil
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("date %q must be YYYY-MM-DD or RFC 3339", s)
		}
	}
	t = t.UTC()
	d.t = &t
	return nil
}

// queryBool reads a boolean query parameter; absent or malformed is false.
func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("%s must be a non-negative integer", name)
	}
	return n, nil
}
