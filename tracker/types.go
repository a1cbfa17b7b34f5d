// Package tracker holds the domain model of the AI benefits tracker: projects,
// their KPIs, ROI calculations, risks, roadmap phases and the alerts raised
// about them, plus the arithmetic that derives progress and ROI figures.
package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Role is the permission level of a user.
type Role string

// Roles in descending order of privilege.
const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleGuest  Role = "GUEST"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// Theme is a user's display preference for the dashboard.
type Theme string

// Supported themes.
const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	switch t {
	case ThemeSystem, ThemeLight, ThemeDark:
		return true
	}
	return false
}

// Department groups users and projects.
type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is an account that can sign in to the tracker.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	DepartmentID string    `json:"department_id,omitempty"`
	Theme        Theme     `json:"theme"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProjectStatus is the lifecycle state of an AI initiative.
type ProjectStatus string

// Project statuses.
const (
	ProjectStatusPlanning  ProjectStatus = "PLANNING"
	ProjectStatusActive    ProjectStatus = "ACTIVE"
	ProjectStatusOnHold    ProjectStatus = "ON_HOLD"
	ProjectStatusCompleted ProjectStatus = "COMPLETED"
	ProjectStatusCancelled ProjectStatus = "CANCELLED"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusPlanning, ProjectStatusActive, ProjectStatusOnHold,
		ProjectStatusCompleted, ProjectStatusCancelled:
		return true
	}
	return false
}

// Closed reports whether the project no longer needs roadmap tracking.
func (s ProjectStatus) Closed() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusCancelled
}

// Project is a tracked AI initiative.
type Project struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Status       ProjectStatus `json:"status"`
	OwnerID      string        `json:"owner_id"`
	DepartmentID string        `json:"department_id,omitempty"`
	Budget       float64       `json:"budget"`
	Progress     int           `json:"progress"`
	StartDate    *time.Time    `json:"start_date,omitempty"`
	TargetDate   *time.Time    `json:"target_date,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// KPIDirection tells whether a KPI improves by going up or down.
type KPIDirection string

// KPI directions.
const (
	KPIIncrease KPIDirection = "INCREASE"
	KPIDecrease KPIDirection = "DECREASE"
)

// KPI is a measurable indicator attached to a project.
type KPI struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	Name      string       `json:"name"`
	Unit      string       `json:"unit,omitempty"`
	Direction KPIDirection `json:"direction"`
	Baseline  float64      `json:"baseline"`
	Target    float64      `json:"target"`
	Current   float64      `json:"current"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// KPIMeasurement is one recorded value of a KPI.
type KPIMeasurement struct {
	ID         string    `json:"id"`
	KPIID      string    `json:"kpi_id"`
	Value      float64   `json:"value"`
	Note       string    `json:"note,omitempty"`
	RecordedBy string    `json:"recorded_by,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ROICalculation stores the inputs of an ROI estimate together with the
// derived figures computed by ComputeROI at save time.
type ROICalculation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Inputs    ROIInputs `json:"inputs"`
	Result    ROIResult `json:"result"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RiskSeverity is the impact of a risk if it materialises.
type RiskSeverity string

// Risk severities.
const (
	SeverityLow      RiskSeverity = "LOW"
	SeverityMedium   RiskSeverity = "MEDIUM"
	SeverityHigh     RiskSeverity = "HIGH"
	SeverityCritical RiskSeverity = "CRITICAL"
)

// RiskLikelihood is how probable a risk is.
type RiskLikelihood string

// Risk likelihoods.
const (
	LikelihoodLow    RiskLikelihood = "LOW"
	LikelihoodMedium RiskLikelihood = "MEDIUM"
	LikelihoodHigh   RiskLikelihood = "HIGH"
)

// RiskStatus is the handling state of a risk.
type RiskStatus string

// Risk statuses.
const (
	RiskOpen       RiskStatus = "OPEN"
	RiskMitigating RiskStatus = "MITIGATING"
	RiskClosed     RiskStatus = "CLOSED"
)

// Risk is a tracked project risk.
type Risk struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Severity    RiskSeverity   `json:"severity"`
	Likelihood  RiskLikelihood `json:"likelihood"`
	Status      RiskStatus     `json:"status"`
	Mitigation  string         `json:"mitigation,omitempty"`
	OwnerID     string         `json:"owner_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AlertType classifies why an alert was raised.
type AlertType string

// Alert types.
const (
	AlertPhaseDelayed      AlertType = "PHASE_DELAYED"
	AlertMilestoneOverdue  AlertType = "MILESTONE_OVERDUE"
	AlertProgressThreshold AlertType = "PROGRESS_THRESHOLD"
	AlertPhaseCompleted    AlertType = "PHASE_COMPLETED"
	AlertProjectOverdue    AlertType = "PROJECT_OVERDUE"
	AlertRiskEscalated     AlertType = "RISK_ESCALATED"
)

// AlertSeverity ranks alerts for display and notification.
type AlertSeverity string

// Alert severities.
const (
	AlertInfo     AlertSeverity = "INFO"
	AlertWarning  AlertSeverity = "WARNING"
	AlertCritical AlertSeverity = "CRITICAL"
)

// Alert is a notification about a project.
// DedupeKey is unique per project; the sync job relies on it to raise each
// condition only once.
type Alert struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id"`
	Type       AlertType     `json:"type"`
	Severity   AlertSeverity `json:"severity"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	DedupeKey  string        `json:"dedupe_key,omitempty"`
	Read       bool          `json:"read"`
	Resolved   bool          `json:"resolved"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Feedback is a user's rating of a project.
type Feedback struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Rating    int       `json:"rating"`
	Category  string    `json:"category,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt is an entry in the shared prompt library.
type Prompt struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Category   string    `json:"category,omitempty"`
	Tags       []string  `json:"tags"`
	AuthorID   string    `json:"author_id,omitempty"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PhaseStatus is the state of a roadmap phase.
type PhaseStatus string

// Phase statuses.
const (
	PhaseNotStarted PhaseStatus = "NOT_STARTED"
	PhaseInProgress PhaseStatus = "IN_PROGRESS"
	PhaseCompleted  PhaseStatus = "COMPLETED"
	PhaseDelayed    PhaseStatus = "DELAYED"
)

// Phase is a step of a project's roadmap.
type Phase struct {
	ID          string      `json:"id"`
	ProjectID   string      `json:"project_id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Sequence    int         `json:"sequence"`
	Status      PhaseStatus `json:"status"`
	Progress    int         `json:"progress"`
	StartDate   *time.Time  `json:"start_date,omitempty"`
	TargetDate  *time.Time  `json:"target_date,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Milestone is a checkpoint within a phase.
type Milestone struct {
	ID          string     `json:"id"`
	PhaseID     string     `json:"phase_id"`
	Title       string     `json:"title"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Attachment is metadata for an uploaded project file.
type Attachment struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	FileName    string    `json:"file_name"`
	StoredName  string    `json:"-"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.New().String()
}

// DashboardSummary aggregates the portfolio for the dashboard home page.
type DashboardSummary struct {
	TotalProjects       int                   `json:"total_projects"`
	ProjectsByStatus    map[ProjectStatus]int `json:"projects_by_status"`
	TotalBudget         float64               `json:"total_budget"`
	AverageProgress     int                   `json:"average_progress"`
	TotalAnnualBenefit  float64               `json:"total_annual_benefit"`
	AverageROIPercent   float64               `json:"average_roi_percent"`
	OpenRisks           int                   `json:"open_risks"`
	OpenRisksBySeverity map[RiskSeverity]int  `json:"open_risks_by_severity"`
	UnreadAlerts        int                   `json:"unread_alerts"`
	DelayedPhases       int                   `json:"delayed_phases"`
	TopProjects         []ProjectROI          `json:"top_projects"`
}

// ProjectROI pairs a project with the ROI of its latest calculation.
type ProjectROI struct {
	ProjectID     string        `json:"project_id"`
	Name          string        `json:"name"`
	Status        ProjectStatus `json:"status"`
	Progress      int           `json:"progress"`
	ROIPercent    float64       `json:"roi_percent"`
	AnnualBenefit float64       `json:"annual_benefit"`
}
