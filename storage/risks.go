package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/aibenefits/tracker"
)

const riskColumns = `id, project_id, title, description, severity, likelihood, status, mitigation, owner_id,
	created_at, updated_at`

func scanRisk(row scanner) (*tracker.Risk, error) {
	var (
		r                            tracker.Risk
		severity, likelihood, status string
		createdAt, updatedAt         string
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Title, &r.Description, &severity, &likelihood, &status,
		&r.Mitigation, &r.OwnerID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Severity = tracker.RiskSeverity(severity)
	r.Likelihood = tracker.RiskLikelihood(likelihood)
	r.Status = tracker.RiskStatus(status)
	r.CreatedAt = decodeTime(createdAt)
	r.UpdatedAt = decodeTime(updatedAt)
	return &r, nil
}

// RiskFilter narrows ListRisks. Empty fields match everything.
type RiskFilter struct {
	ProjectID string
	Status    tracker.RiskStatus
	Severity  tracker.RiskSeverity
}

// CreateRisk inserts a risk. Status defaults to OPEN.
func (s *Store) CreateRisk(ctx context.Context, r *tracker.Risk) error {
	if r.Status == "" {
		r.Status = tracker.RiskOpen
	}
	if err := r.Validate(); err != nil {
		return err
	}
	r.ID = tracker.NewID()
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risks (`+riskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Title, r.Description, string(r.Severity), string(r.Likelihood), string(r.Status),
		r.Mitigation, r.OwnerID, encodeTime(r.CreatedAt), encodeTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert risk: %w", mapError(err))
	}
	return nil
}

// GetRisk retrieves a risk by ID.
func (s *Store) GetRisk(ctx context.Context, id string) (*tracker.Risk, error) {
	r, err := scanRisk(s.db.QueryRowContext(ctx, `SELECT `+riskColumns+` FROM risks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk: %w", err)
	}
	return r, nil
}

// ListRisks returns risks matching the filter, newest first.
func (s *Store) ListRisks(ctx context.Context, f RiskFilter) ([]*tracker.Risk, error) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	query := `SELECT ` + riskColumns + ` FROM risks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list risks: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Risk, 0)
	for rows.Next() {
		r, err := scanRisk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRisk saves changes to an existing risk.
func (s *Store) UpdateRisk(ctx context.Context, r *tracker.Risk) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = s.now()
	return s.execOne(ctx,
		`UPDATE risks SET title = ?, description = ?, severity = ?, likelihood = ?, status = ?,
		 mitigation = ?, owner_id = ?, updated_at = ? WHERE id = ?`,
		r.Title, r.Description, string(r.Severity), string(r.Likelihood), string(r.Status),
		r.Mitigation, r.OwnerID, encodeTime(r.UpdatedAt), r.ID)
}

// DeleteRisk removes a risk.
func (s *Store) DeleteRisk(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM risks WHERE id = ?`, id)
}
