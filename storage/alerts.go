package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/aibenefits/tracker"
)

const alertColumns = `id, project_id, type, severity, title, message, dedupe_key, is_read, resolved,
	created_at, resolved_at`

func scanAlert(row scanner) (*tracker.Alert, error) {
	var (
		a              tracker.Alert
		typ, severity  string
		read, resolved int
		createdAt      string
		resolvedAt     sql.NullString
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &typ, &severity, &a.Title, &a.Message, &a.DedupeKey,
		&read, &resolved, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	a.Type = tracker.AlertType(typ)
	a.Severity = tracker.AlertSeverity(severity)
	a.Read = read != 0
	a.Resolved = resolved != 0
	a.CreatedAt = decodeTime(createdAt)
	a.ResolvedAt = decodeTimePtr(resolvedAt)
	return &a, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	ProjectID string
	// ProjectIDs restricts results to any of the given projects.
	ProjectIDs      []string
	UnreadOnly      bool
	IncludeResolved bool
	Limit           int
}

// CreateAlert inserts an alert unconditionally.
func (s *Store) CreateAlert(ctx context.Context, a *tracker.Alert) error {
	s.prepareAlert(a)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.alertArgs(a)...)
	if err != nil {
		return fmt.Errorf("insert alert: %w", mapError(err))
	}
	return nil
}

// CreateAlertOnce inserts the alert unless one with the same project and
// dedupe key already exists. It reports whether a row was written.
func (s *Store) CreateAlertOnce(ctx context.Context, a *tracker.Alert) (bool, error) {
	return s.insertAlertOnce(ctx, s.db, a)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertAlertOnce(ctx context.Context, db execer, a *tracker.Alert) (bool, error) {
	if a.DedupeKey == "" {
		return false, fmt.Errorf("create alert once: dedupe key required")
	}
	s.prepareAlert(a)
	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.alertArgs(a)...)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) prepareAlert(a *tracker.Alert) {
	a.ID = tracker.NewID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	if a.Severity == "" {
		a.Severity = tracker.AlertInfo
	}
}

func (s *Store) alertArgs(a *tracker.Alert) []any {
	return []any{
		a.ID, a.ProjectID, string(a.Type), string(a.Severity), a.Title, a.Message, a.DedupeKey,
		boolInt(a.Read), boolInt(a.Resolved), encodeTime(a.CreatedAt), encodeTimePtr(a.ResolvedAt),
	}
}

// GetAlert retrieves an alert by ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*tracker.Alert, error) {
	a, err := scanAlert(s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns alerts matching the filter, newest first. Resolved
// alerts are excluded unless IncludeResolved is set.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]*tracker.Alert, error) {
	where, args := alertWhere(f)
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountUnreadAlerts counts unresolved unread alerts.
func (s *Store) CountUnreadAlerts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE is_read = 0 AND resolved = 0`).Scan(&n)
	return n, err
}

func alertWhere(f AlertFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if f.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if len(f.ProjectIDs) > 0 {
		where = append(where, "project_id IN (?"+strings.Repeat(", ?", len(f.ProjectIDs)-1)+")")
		for _, id := range f.ProjectIDs {
			args = append(args, id)
		}
	}
	if f.UnreadOnly {
		where = append(where, "is_read = 0")
	}
	if !f.IncludeResolved {
		where = append(where, "resolved = 0")
	}
	return where, args
}

// MarkAlertRead flags an alert as read.
func (s *Store) MarkAlertRead(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE alerts SET is_read = 1 WHERE id = ?`, id)
}

// MarkAllAlertsRead flags every unread alert as read, optionally limited to
// one project, and returns how many changed.
func (s *Store) MarkAllAlertsRead(ctx context.Context, projectID string) (int64, error) {
	query := `UPDATE alerts SET is_read = 1 WHERE is_read = 0`
	var args []any
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark alerts read: %w", err)
	}
	return res.RowsAffected()
}

// ResolveAlert marks an alert resolved (and read).
func (s *Store) ResolveAlert(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE alerts SET resolved = 1, is_read = 1, resolved_at = ? WHERE id = ?`,
		encodeTime(s.now()), id)
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM alerts WHERE id = ?`, id)
}
