package trackerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/component"
	"github.com/c360studio/aibenefits/config"
	roadmapsync "github.com/c360studio/aibenefits/processor/roadmap-sync"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
	"github.com/c360studio/aibenefits/uploads"
)

const testCronSecret = "s3cret-cron-token"

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*tracker.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alerts []*tracker.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alerts...)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// testEnv is a tracker-api served over httptest with one signed-in user per
// role.
type testEnv struct {
	srv      *httptest.Server
	store    *storage.Store
	notifier *recordingNotifier
	users    map[tracker.Role]*tracker.User
	tokens   map[tracker.Role]string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "tracker.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	files, err := uploads.NewStore(t.TempDir(), 1024, []string{"*.txt", "*.pdf"}, nil)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Sync.CronSecret = testCronSecret

	syncCfg := roadmapsync.DefaultConfig()
	syncCfg.Enabled = false
	notifier := &recordingNotifier{}
	syncer := roadmapsync.New(syncCfg, store, notifier, nil)

	authSvc := auth.NewService(store, cfg.Server.SessionTTL, nil)
	d, err := NewComponent(component.Dependencies{
		Config:   cfg,
		Store:    store,
		Auth:     authSvc,
		Notifier: notifier,
		Uploads:  files,
		Syncer:   syncer,
	})
	require.NoError(t, err)
	c := d.(*Component)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api", mux)
	srv := httptest.NewServer(authSvc.Middleware(cfg.Server.SessionCookie)(mux))
	t.Cleanup(srv.Close)

	env := &testEnv{
		srv:      srv,
		store:    store,
		notifier: notifier,
		users:    make(map[tracker.Role]*tracker.User),
		tokens:   make(map[tracker.Role]string),
	}
	for _, role := range []tracker.Role{tracker.RoleAdmin, tracker.RoleMember, tracker.RoleGuest} {
		hash, err := auth.HashPassword("password-" + string(role))
		require.NoError(t, err)
		u := &tracker.User{
			Email:        strings.ToLower(string(role)) + "@example.com",
			Name:         string(role),
			Role:         role,
			PasswordHash: hash,
		}
		require.NoError(t, store.CreateUser(ctx, u))
		login, err := authSvc.Login(ctx, u.Email, "password-"+string(role))
		require.NoError(t, err)
		env.users[role] = u
		env.tokens[role] = login.Token
	}
	return env
}

// do sends a request as the given role; an empty role is anonymous. body is
// sent as JSON unless it is already a string.
func (e *testEnv) do(t *testing.T, role tracker.Role, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createProject(t *testing.T, role tracker.Role, name string) *tracker.Project {
	t.Helper()
	resp := e.do(t, role, "POST", "/api/projects", map[string]any{"name": name, "budget": 1000})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[*tracker.Project](t, resp)
}

func TestLoginLogout(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, "", "POST", "/api/auth/login", LoginHTTPRequest{Email: "member@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, "", "POST", "/api/auth/login", LoginHTTPRequest{Email: "member@example.com", Password: "password-MEMBER"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decodeBody[LoginHTTPResponse](t, resp)
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, tracker.RoleMember, login.User.Role)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == "aibt_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "login should set the session cookie")
	assert.True(t, cookie.HttpOnly)

	req, err := http.NewRequest("GET", env.srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	meResp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer meResp.Body.Close()
	require.Equal(t, http.StatusOK, meResp.StatusCode)
	me := decodeBody[MeHTTPResponse](t, meResp)
	assert.True(t, me.CanEdit)
	assert.False(t, me.IsAdmin)

	req, err = http.NewRequest("POST", env.srv.URL+"/api/auth/logout", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	outResp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer outResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, outResp.StatusCode)

	req, err = http.NewRequest("GET", env.srv.URL+"/api/auth/me", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	afterResp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer afterResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, afterResp.StatusCode)
}

func TestPreferencesAndPassword(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, tracker.RoleGuest, "PUT", "/api/auth/preferences", map[string]any{"theme": "dark"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	u := decodeBody[*tracker.User](t, resp)
	assert.Equal(t, tracker.ThemeDark, u.Theme)

	resp = env.do(t, tracker.RoleGuest, "PUT", "/api/auth/preferences", map[string]any{"theme": "neon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "PUT", "/api/auth/password",
		ChangePasswordHTTPRequest{CurrentPassword: "nope", NewPassword: "long-enough-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "PUT", "/api/auth/password",
		ChangePasswordHTTPRequest{CurrentPassword: "password-GUEST", NewPassword: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "PUT", "/api/auth/password",
		ChangePasswordHTTPRequest{CurrentPassword: "password-GUEST", NewPassword: strings.Repeat("p", 73)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "PUT", "/api/auth/password",
		ChangePasswordHTTPRequest{CurrentPassword: "password-GUEST", NewPassword: "long-enough-password"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := env.store.GetUser(context.Background(), env.users[tracker.RoleGuest].ID)
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword(stored.PasswordHash, "long-enough-password"))
}

func TestProjectPermissions(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		role   tracker.Role
		method string
		want   int
	}{
		{"anonymous list", "", "GET", http.StatusUnauthorized},
		{"guest list", tracker.RoleGuest, "GET", http.StatusOK},
		{"guest create", tracker.RoleGuest, "POST", http.StatusForbidden},
		{"member create", tracker.RoleMember, "POST", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if tt.method == "POST" {
				body = map[string]any{"name": "Support chatbot"}
			}
			resp := env.do(t, tt.role, tt.method, "/api/projects", body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	adminProject := env.createProject(t, tracker.RoleAdmin, "Invoice OCR")
	memberProject := env.createProject(t, tracker.RoleMember, "Code review bot")
	assert.Equal(t, env.users[tracker.RoleMember].ID, memberProject.OwnerID)

	resp := env.do(t, tracker.RoleMember, "PUT", "/api/projects/"+adminProject.ID, map[string]any{"status": "ACTIVE"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, tracker.ProjectStatusActive, decodeBody[*tracker.Project](t, resp).Status)

	resp = env.do(t, tracker.RoleMember, "DELETE", "/api/projects/"+adminProject.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Taking over someone else's project would grant its delete rights.
	resp = env.do(t, tracker.RoleMember, "PUT", "/api/projects/"+adminProject.ID,
		map[string]any{"owner_id": env.users[tracker.RoleMember].ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = env.do(t, tracker.RoleMember, "DELETE", "/api/projects/"+adminProject.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, tracker.RoleMember, "PUT", "/api/projects/"+memberProject.ID,
		map[string]any{"owner_id": "missing-user"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, tracker.RoleAdmin, "PUT", "/api/projects/"+adminProject.ID,
		map[string]any{"owner_id": env.users[tracker.RoleMember].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, env.users[tracker.RoleMember].ID, decodeBody[*tracker.Project](t, resp).OwnerID)

	resp = env.do(t, tracker.RoleMember, "DELETE", "/api/projects/"+memberProject.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/projects/"+memberProject.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProjectValidation(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, tracker.RoleAdmin, "POST", "/api/projects", map[string]any{"name": "  ", "budget": -5})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decodeBody[ErrorResponse](t, resp)
	assert.Contains(t, errResp.Fields, "name")
	assert.Contains(t, errResp.Fields, "budget")

	resp = env.do(t, tracker.RoleAdmin, "POST", "/api/projects", `{"name": "x", "colour": "red"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, tracker.RoleAdmin, "POST", "/api/projects",
		map[string]any{"name": "Dated", "start_date": "2026-05-01", "target_date": "2026-04-01"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeBody[ErrorResponse](t, resp).Fields, "target_date")

	resp = env.do(t, tracker.RoleAdmin, "GET", "/api/projects?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProjectListFilters(t *testing.T) {
	env := setupTestEnv(t)
	env.createProject(t, tracker.RoleAdmin, "Contract summariser")
	env.createProject(t, tracker.RoleMember, "Sales forecast model")

	resp := env.do(t, tracker.RoleGuest, "GET", "/api/projects?q=forecast", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	projects := decodeBody[[]*tracker.Project](t, resp)
	require.Len(t, projects, 1)
	assert.Equal(t, "Sales forecast model", projects[0].Name)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/projects?owner_id="+env.users[tracker.RoleAdmin].ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*tracker.Project](t, resp), 1)
}

func TestKPIMeasurements(t *testing.T) {
	env := setupTestEnv(t)
	p := env.createProject(t, tracker.RoleMember, "Ticket triage")

	resp := env.do(t, tracker.RoleMember, "POST", "/api/projects/"+p.ID+"/kpis",
		map[string]any{"name": "Tickets auto-resolved", "baseline": 0, "target": 200})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	kpi := decodeBody[kpiResponse](t, resp)
	assert.Equal(t, 0.0, kpi.Achievement)

	resp = env.do(t, tracker.RoleMember, "POST", "/api/kpis/"+kpi.ID+"/measurements", MeasurementHTTPRequest{Value: 50})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	kpi = decodeBody[kpiResponse](t, resp)
	assert.Equal(t, 50.0, kpi.Current)
	assert.Equal(t, 25.0, kpi.Achievement)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/kpis/"+kpi.ID+"/measurements", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ms := decodeBody[[]*tracker.KPIMeasurement](t, resp)
	require.Len(t, ms, 1)
	assert.Equal(t, env.users[tracker.RoleMember].ID, ms[0].RecordedBy)

	resp = env.do(t, tracker.RoleGuest, "POST", "/api/kpis/"+kpi.ID+"/measurements", MeasurementHTTPRequest{Value: 60})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// kpiResponse mirrors kpiView for decoding.
type kpiResponse struct {
	tracker.KPI
	Achievement float64 `json:"achievement"`
}

func TestROI(t *testing.T) {
	env := setupTestEnv(t)
	p := env.createProject(t, tracker.RoleMember, "Invoice OCR")

	inputs := tracker.ROIInputs{ImplementationCost: 10000, HoursSavedPerYear: 1000, HourlyRate: 50, Years: 1}

	resp := env.do(t, tracker.RoleGuest, "POST", "/api/roi/preview", inputs)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preview := decodeBody[tracker.ROIResult](t, resp)
	assert.Equal(t, 400.0, preview.ROIPercent)
	require.NotNil(t, preview.PaybackMonths)
	assert.Equal(t, 2.4, *preview.PaybackMonths)

	resp = env.do(t, tracker.RoleMember, "POST", "/api/projects/"+p.ID+"/roi",
		map[string]any{"name": "Year one", "inputs": inputs})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	calc := decodeBody[*tracker.ROICalculation](t, resp)
	assert.Equal(t, 50000.0, calc.Result.AnnualBenefit)

	inputs.Years = 2
	resp = env.do(t, tracker.RoleMember, "PUT", "/api/roi/"+calc.ID, map[string]any{"inputs": inputs})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 900.0, decodeBody[*tracker.ROICalculation](t, resp).Result.ROIPercent)

	resp = env.do(t, tracker.RoleMember, "POST", "/api/roi/preview", map[string]any{"hourly_rate": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRiskEscalationRaisesAlert(t *testing.T) {
	env := setupTestEnv(t)
	p := env.createProject(t, tracker.RoleMember, "Fraud scoring")

	resp := env.do(t, tracker.RoleMember, "POST", "/api/projects/"+p.ID+"/risks",
		map[string]any{"title": "Model drift", "severity": "HIGH", "likelihood": "MEDIUM"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	risk := decodeBody[riskResponse](t, resp)
	assert.Equal(t, 6, risk.Score)
	assert.Equal(t, 0, env.notifier.count())

	resp = env.do(t, tracker.RoleMember, "PUT", "/api/risks/"+risk.ID, map[string]any{"severity": "CRITICAL"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 8, decodeBody[riskResponse](t, resp).Score)

	// Already critical: a further edit raises nothing new.
	resp = env.do(t, tracker.RoleMember, "PUT", "/api/risks/"+risk.ID, map[string]any{"mitigation": "Weekly retrain"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/projects/"+p.ID+"/alerts", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alerts := decodeBody[AlertsHTTPResponse](t, resp)
	require.Len(t, alerts.Alerts, 1)
	assert.Equal(t, tracker.AlertRiskEscalated, alerts.Alerts[0].Type)
	assert.Equal(t, tracker.AlertCritical, alerts.Alerts[0].Severity)
	assert.Equal(t, 1, alerts.Unread)
	assert.Equal(t, 1, env.notifier.count())

	resp = env.do(t, tracker.RoleMember, "POST", "/api/alerts/"+alerts.Alerts[0].ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[*tracker.Alert](t, resp)
	assert.True(t, resolved.Resolved)
	assert.True(t, resolved.Read)
}

// riskResponse mirrors riskView for decoding.
type riskResponse struct {
	tracker.Risk
	Score int `json:"score"`
}

func TestMilestoneCompletionRecomputesProgress(t *testing.T) {
	env := setupTestEnv(t)
	p := env.createProject(t, tracker.RoleMember, "Knowledge base search")

	resp := env.do(t, tracker.RoleMember, "POST", "/api/projects/"+p.ID+"/phases", map[string]any{"name": "Pilot"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	phase := decodeBody[phaseResponse](t, resp)
	assert.Equal(t, 1, phase.Sequence)

	var milestoneIDs []string
	for _, title := range []string{"Index corpus", "User test"} {
		resp = env.do(t, tracker.RoleMember, "POST", "/api/phases/"+phase.ID+"/milestones", map[string]any{"title": title})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		milestoneIDs = append(milestoneIDs, decodeBody[*tracker.Milestone](t, resp).ID)
	}

	resp = env.do(t, tracker.RoleMember, "POST", "/api/milestones/"+milestoneIDs[0]+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[*tracker.Milestone](t, resp).Completed)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/phases/"+phase.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	phase = decodeBody[phaseResponse](t, resp)
	assert.Equal(t, 50, phase.Progress)
	assert.Equal(t, tracker.PhaseInProgress, phase.Status)
	assert.Len(t, phase.Milestones, 2)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, decodeBody[*tracker.Project](t, resp).Progress)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/alerts?project_id="+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alerts := decodeBody[AlertsHTTPResponse](t, resp)
	assert.Len(t, alerts.Alerts, 2, "crossing 25 and 50 raises one alert each")

	// Undo the completion with an explicit body.
	resp = env.do(t, tracker.RoleMember, "POST", "/api/milestones/"+milestoneIDs[0]+"/complete", map[string]any{"completed": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeBody[*tracker.Milestone](t, resp).Completed)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decodeBody[*tracker.Project](t, resp).Progress)
}

// phaseResponse mirrors phaseView for decoding.
type phaseResponse struct {
	tracker.Phase
	Milestones []*tracker.Milestone `json:"milestones"`
}

func TestReorderPhases(t *testing.T) {
	env := setupTestEnv(t)
	p := env.createProject(t, tracker.RoleMember, "Forecasting")

	var ids []string
	for _, name := range []string{"Discovery", "Build", "Rollout"} {
		resp := env.do(t, tracker.RoleMember, "POST", "/api/projects/"+p.ID+"/phases", map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, decodeBody[phaseResponse](t, resp).ID)
	}

	resp := env.do(t, tracker.RoleMember, "PUT", "/api/projects/"+p.ID+"/phases/order",
		ReorderPhasesHTTPRequest{PhaseIDs: []string{ids[2], ids[0], ids[1]}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	phases := decodeBody[[]*tracker.Phase](t, resp)
	require.Len(t, phases, 3)
	assert.Equal(t, "Rollout", phases[0].Name)
	assert.Equal(t, "Build", phases[2].Name)

	resp = env.do(t, tracker.RoleMember, "PUT", "/api/projects/"+p.ID+"/phases/order",
		ReorderPhasesHTTPRequest{PhaseIDs: []string{"not-a-phase"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCronTrigger(t *testing.T) {
	env := setupTestEnv(t)
	env.createProject(t, tracker.RoleAdmin, "Contract summariser")

	resp := env.do(t, "", "POST", "/api/cron/roadmap-sync", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, tracker.RoleMember, "POST", "/api/cron/roadmap-sync", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest("POST", env.srv.URL+"/api/cron/roadmap-sync", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testCronSecret)
	secretResp, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer secretResp.Body.Close()
	require.Equal(t, http.StatusOK, secretResp.StatusCode)
	sum := decodeBody[tracker.SyncSummary](t, secretResp)
	assert.Equal(t, 1, sum.ProjectsScanned)
	assert.Equal(t, "manual", sum.Trigger)

	resp = env.do(t, tracker.RoleAdmin, "GET", "/api/cron/roadmap-sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody[SyncStatusHTTPResponse](t, resp)
	require.NotNil(t, status.LastRun)
	assert.Nil(t, status.NextRun, "scheduler is not running")
}

func TestAttachments(t *testing.T) {
	env := setupTestEnv(t)
	p := env.createProject(t, tracker.RoleMember, "Meeting notes bot")

	upload := func(t *testing.T, name, content string) *http.Response {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest("POST", env.srv.URL+"/api/projects/"+p.ID+"/attachments", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+env.tokens[tracker.RoleMember])
		resp, err := env.srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := upload(t, "notes.txt", "hello tracker")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	att := decodeBody[*tracker.Attachment](t, resp)
	assert.Equal(t, "notes.txt", att.FileName)
	assert.Equal(t, int64(len("hello tracker")), att.Size)

	assert.Equal(t, http.StatusUnsupportedMediaType, upload(t, "payload.exe", "MZ").StatusCode)
	assert.Equal(t, http.StatusRequestEntityTooLarge, upload(t, "big.txt", strings.Repeat("x", 2048)).StatusCode)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/attachments/"+att.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "notes.txt")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello tracker", string(data))

	resp = env.do(t, tracker.RoleGuest, "DELETE", "/api/attachments/"+att.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, tracker.RoleMember, "DELETE", "/api/attachments/"+att.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, tracker.RoleMember, "GET", "/api/attachments/"+att.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUserAdministration(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.users[tracker.RoleAdmin]

	resp := env.do(t, tracker.RoleMember, "POST", "/api/users",
		map[string]any{"email": "new@example.com", "name": "New", "password": "long-enough-password"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, tracker.RoleAdmin, "POST", "/api/users",
		map[string]any{"email": "new@example.com", "name": "New", "password": "long-enough-password"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[*tracker.User](t, resp)
	assert.Equal(t, tracker.RoleMember, created.Role)

	resp = env.do(t, tracker.RoleAdmin, "POST", "/api/users",
		map[string]any{"email": "NEW@example.com", "name": "Dup", "password": "long-enough-password"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, tracker.RoleAdmin, "DELETE", "/api/users/"+admin.ID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, tracker.RoleAdmin, "DELETE", "/api/users/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestDepartments(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, tracker.RoleMember, "POST", "/api/departments", map[string]any{"name": "Finance"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, tracker.RoleAdmin, "POST", "/api/departments", map[string]any{"name": "Finance"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dept := decodeBody[*tracker.Department](t, resp)

	resp = env.do(t, tracker.RoleAdmin, "POST", "/api/projects", map[string]any{"name": "Spend analysis", "department_id": dept.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	project := decodeBody[*tracker.Project](t, resp)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/dashboard/summary?department_id="+dept.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[*tracker.DashboardSummary](t, resp).TotalProjects)

	resp = env.do(t, tracker.RoleAdmin, "DELETE", "/api/departments/"+dept.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/projects/"+project.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[*tracker.Project](t, resp).DepartmentID)
}

func TestPromptLibrary(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, tracker.RoleMember, "POST", "/api/prompts",
		map[string]any{"title": "Summarise a contract", "content": "Summarise {{doc}}", "category": "legal", "tags": []string{"summary", " "}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	prompt := decodeBody[*tracker.Prompt](t, resp)
	assert.Equal(t, []string{"summary"}, prompt.Tags)

	resp = env.do(t, tracker.RoleGuest, "POST", "/api/prompts/"+prompt.ID+"/use", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[*tracker.Prompt](t, resp).UsageCount)

	resp = env.do(t, tracker.RoleGuest, "GET", "/api/prompts?category=legal", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*tracker.Prompt](t, resp), 1)

	resp = env.do(t, tracker.RoleMember, "DELETE", "/api/prompts/"+prompt.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.do(t, "", "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[HealthHTTPResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Database)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&tracker.ValidationError{Fields: map[string]string{"name": "is required"}}, http.StatusBadRequest},
		{badRequest("bad"), http.StatusBadRequest},
		{auth.ErrUnauthenticated, http.StatusUnauthorized},
		{auth.ErrForbidden, http.StatusForbidden},
		{storage.ErrNotFound, http.StatusNotFound},
		{storage.ErrConflict, http.StatusConflict},
		{roadmapsync.ErrSyncRunning, http.StatusConflict},
		{uploads.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{uploads.ErrTypeNotAllowed, http.StatusUnsupportedMediaType},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
