package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/aibenefits/tracker"
)

const projectColumns = `id, name, description, status, owner_id, department_id, budget, progress,
	start_date, target_date, created_at, updated_at`

func scanProject(row scanner) (*tracker.Project, error) {
	var (
		p                    tracker.Project
		status               string
		dept                 sql.NullString
		start, target        sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &status, &p.OwnerID, &dept, &p.Budget, &p.Progress,
		&start, &target, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = tracker.ProjectStatus(status)
	p.DepartmentID = dept.String
	p.StartDate = decodeTimePtr(start)
	p.TargetDate = decodeTimePtr(target)
	p.CreatedAt = decodeTime(createdAt)
	p.UpdatedAt = decodeTime(updatedAt)
	return &p, nil
}

// ProjectFilter narrows ListProjects. Empty fields match everything.
type ProjectFilter struct {
	Status       tracker.ProjectStatus
	DepartmentID string
	OwnerID      string
	Search       string
	// OpenOnly excludes completed and cancelled projects.
	OpenOnly bool
}

// CreateProject inserts a project. Status defaults to PLANNING.
func (s *Store) CreateProject(ctx context.Context, p *tracker.Project) error {
	if p.Status == "" {
		p.Status = tracker.ProjectStatusPlanning
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.ID = tracker.NewID()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, string(p.Status), p.OwnerID, nullable(p.DepartmentID), p.Budget, p.Progress,
		encodeTimePtr(p.StartDate), encodeTimePtr(p.TargetDate), encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert project: %w", mapError(err))
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*tracker.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns projects matching the filter, newest first.
func (s *Store) ListProjects(ctx context.Context, f ProjectFilter) ([]*tracker.Project, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.DepartmentID != "" {
		where = append(where, "department_id = ?")
		args = append(args, f.DepartmentID)
	}
	if f.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.Search != "" {
		where = append(where, "(name LIKE ? OR description LIKE ?)")
		like := "%" + f.Search + "%"
		args = append(args, like, like)
	}
	if f.OpenOnly {
		where = append(where, "status NOT IN (?, ?)")
		args = append(args, string(tracker.ProjectStatusCompleted), string(tracker.ProjectStatusCancelled))
	}

	query := `SELECT ` + projectColumns + ` FROM projects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProject saves changes to an existing project.
func (s *Store) UpdateProject(ctx context.Context, p *tracker.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.now()
	return s.execOne(ctx,
		`UPDATE projects SET name = ?, description = ?, status = ?, owner_id = ?, department_id = ?,
		 budget = ?, progress = ?, start_date = ?, target_date = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, string(p.Status), p.OwnerID, nullable(p.DepartmentID),
		p.Budget, p.Progress, encodeTimePtr(p.StartDate), encodeTimePtr(p.TargetDate), encodeTime(p.UpdatedAt), p.ID)
}

// SetProjectProgress stores a recomputed progress percentage.
func (s *Store) SetProjectProgress(ctx context.Context, id string, progress int) error {
	return s.execOne(ctx, `UPDATE projects SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, encodeTime(s.now()), id)
}

// DeleteProject removes a project and everything attached to it.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM projects WHERE id = ?`, id)
}
