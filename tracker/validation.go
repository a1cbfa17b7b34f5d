package tracker

import (
	"errors"
	"fmt"
	"maps"
	"net/mail"
	"slices"
	"strings"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError lists the invalid fields of an entity.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, name := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type validator map[string]string

func (v validator) check(ok bool, field, msg string) {
	if !ok {
		if _, exists := v[field]; !exists {
			v[field] = msg
		}
	}
}

func (v validator) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: v}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// Validate checks a department before it is saved.
func (d *Department) Validate() error {
	v := validator{}
	v.check(!blank(d.Name), "name", "is required")
	return v.err()
}

// Validate checks a user before it is saved.
func (u *User) Validate() error {
	v := validator{}
	_, err := mail.ParseAddress(u.Email)
	v.check(err == nil, "email", "must be a valid address")
	v.check(!blank(u.Name), "name", "is required")
	v.check(u.Role.Valid(), "role", "must be ADMIN, MEMBER or GUEST")
	v.check(u.Theme == "" || u.Theme.Valid(), "theme", "must be system, light or dark")
	return v.err()
}

// Validate checks a project before it is saved.
func (p *Project) Validate() error {
	v := validator{}
	v.check(!blank(p.Name), "name", "is required")
	v.check(p.Status.Valid(), "status", "is not a known project status")
	v.check(!blank(p.OwnerID), "owner_id", "is required")
	v.check(p.Budget >= 0, "budget", "must not be negative")
	v.check(p.Progress >= 0 && p.Progress <= 100, "progress", "must be between 0 and 100")
	if p.StartDate != nil && p.TargetDate != nil {
		v.check(!p.TargetDate.Before(*p.StartDate), "target_date", "must not be before start_date")
	}
	return v.err()
}

// Validate checks a KPI before it is saved.
func (k *KPI) Validate() error {
	v := validator{}
	v.check(!blank(k.ProjectID), "project_id", "is required")
	v.check(!blank(k.Name), "name", "is required")
	v.check(k.Direction == KPIIncrease || k.Direction == KPIDecrease, "direction", "must be INCREASE or DECREASE")
	return v.err()
}

// Validate checks an ROI calculation before it is saved.
func (r *ROICalculation) Validate() error {
	v := validator{}
	in := r.Inputs
	v.check(!blank(r.ProjectID), "project_id", "is required")
	v.check(!blank(r.Name), "name", "is required")
	v.check(in.ImplementationCost >= 0, "implementation_cost", "must not be negative")
	v.check(in.AnnualOperatingCost >= 0, "annual_operating_cost", "must not be negative")
	v.check(in.HoursSavedPerYear >= 0, "hours_saved_per_year", "must not be negative")
	v.check(in.HourlyRate >= 0, "hourly_rate", "must not be negative")
	v.check(in.Years >= 0, "years", "must not be negative")
	return v.err()
}

// Validate checks a risk before it is saved.
func (r *Risk) Validate() error {
	v := validator{}
	v.check(!blank(r.ProjectID), "project_id", "is required")
	v.check(!blank(r.Title), "title", "is required")
	_, okSev := severityWeight[r.Severity]
	v.check(okSev, "severity", "must be LOW, MEDIUM, HIGH or CRITICAL")
	_, okLik := likelihoodWeight[r.Likelihood]
	v.check(okLik, "likelihood", "must be LOW, MEDIUM or HIGH")
	v.check(r.Status == RiskOpen || r.Status == RiskMitigating || r.Status == RiskClosed,
		"status", "must be OPEN, MITIGATING or CLOSED")
	return v.err()
}

// Validate checks feedback before it is saved.
func (f *Feedback) Validate() error {
	v := validator{}
	v.check(!blank(f.ProjectID), "project_id", "is required")
	v.check(!blank(f.UserID), "user_id", "is required")
	v.check(f.Rating >= 1 && f.Rating <= 5, "rating", "must be between 1 and 5")
	return v.err()
}

// Validate checks a prompt before it is saved.
func (p *Prompt) Validate() error {
	v := validator{}
	v.check(!blank(p.Title), "title", "is required")
	v.check(!blank(p.Content), "content", "is required")
	return v.err()
}

// Validate checks a phase before it is saved.
func (p *Phase) Validate() error {
	v := validator{}
	v.check(!blank(p.ProjectID), "project_id", "is required")
	v.check(!blank(p.Name), "name", "is required")
	v.check(p.Progress >= 0 && p.Progress <= 100, "progress", "must be between 0 and 100")
	switch p.Status {
	case PhaseNotStarted, PhaseInProgress, PhaseCompleted, PhaseDelayed:
	default:
		v.check(false, "status", "is not a known phase status")
	}
	if p.StartDate != nil && p.TargetDate != nil {
		v.check(!p.TargetDate.Before(*p.StartDate), "target_date", "must not be before start_date")
	}
	return v.err()
}

// Validate checks a milestone before it is saved.
func (m *Milestone) Validate() error {
	v := validator{}
	v.check(!blank(m.PhaseID), "phase_id", "is required")
	v.check(!blank(m.Title), "title", "is required")
	return v.err()
}
