package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/aibenefits/tracker"
)

// --- Phases ---

const phaseColumns = `id, project_id, name, description, sequence, status, progress, start_date, target_date,
	completed_at, created_at, updated_at`

func scanPhase(row scanner) (*tracker.Phase, error) {
	var (
		p                          tracker.Phase
		status                     string
		start, target, completedAt sql.NullString
		createdAt, updatedAt       string
	)
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.Sequence, &status, &p.Progress,
		&start, &target, &completedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Status = tracker.PhaseStatus(status)
	p.StartDate = decodeTimePtr(start)
	p.TargetDate = decodeTimePtr(target)
	p.CompletedAt = decodeTimePtr(completedAt)
	p.CreatedAt = decodeTime(createdAt)
	p.UpdatedAt = decodeTime(updatedAt)
	return &p, nil
}

// CreatePhase inserts a phase. A zero Sequence appends it after the
// project's last phase; status defaults to NOT_STARTED.
func (s *Store) CreatePhase(ctx context.Context, p *tracker.Phase) error {
	if p.Status == "" {
		p.Status = tracker.PhaseNotStarted
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.ID = tracker.NewID()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if p.Sequence == 0 {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(sequence), 0) + 1 FROM phases WHERE project_id = ?`, p.ProjectID).
				Scan(&p.Sequence); err != nil {
				return fmt.Errorf("next phase sequence: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO phases (`+phaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ProjectID, p.Name, p.Description, p.Sequence, string(p.Status), p.Progress,
			encodeTimePtr(p.StartDate), encodeTimePtr(p.TargetDate), encodeTimePtr(p.CompletedAt),
			encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert phase: %w", mapError(err))
		}
		return nil
	})
}

// GetPhase retrieves a phase by ID.
func (s *Store) GetPhase(ctx context.Context, id string) (*tracker.Phase, error) {
	p, err := scanPhase(s.db.QueryRowContext(ctx, `SELECT `+phaseColumns+` FROM phases WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get phase: %w", err)
	}
	return p, nil
}

// ListPhases returns a project's phases in roadmap order.
func (s *Store) ListPhases(ctx context.Context, projectID string) ([]*tracker.Phase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE project_id = ? ORDER BY sequence, created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Phase, 0)
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePhase saves changes to an existing phase.
func (s *Store) UpdatePhase(ctx context.Context, p *tracker.Phase) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.now()
	return s.execOne(ctx,
		`UPDATE phases SET name = ?, description = ?, sequence = ?, status = ?, progress = ?, start_date = ?,
		 target_date = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.Sequence, string(p.Status), p.Progress, encodeTimePtr(p.StartDate),
		encodeTimePtr(p.TargetDate), encodeTimePtr(p.CompletedAt), encodeTime(p.UpdatedAt), p.ID)
}

// ReorderPhases assigns sequence 1..n to the given phase IDs, which must
// all belong to the project.
func (s *Store) ReorderPhases(ctx context.Context, projectID string, phaseIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := encodeTime(s.now())
		for i, id := range phaseIDs {
			res, err := tx.ExecContext(ctx,
				`UPDATE phases SET sequence = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
				i+1, now, id, projectID)
			if err != nil {
				return fmt.Errorf("reorder phase %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("phase %s: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// DeletePhase removes a phase and its milestones.
func (s *Store) DeletePhase(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM phases WHERE id = ?`, id)
}

// --- Milestones ---

const milestoneColumns = `id, phase_id, title, due_date, completed, completed_at, created_at`

func scanMilestone(row scanner) (*tracker.Milestone, error) {
	var (
		m                tracker.Milestone
		due, completedAt sql.NullString
		completed        int
		createdAt        string
	)
	if err := row.Scan(&m.ID, &m.PhaseID, &m.Title, &due, &completed, &completedAt, &createdAt); err != nil {
		return nil, err
	}
	m.DueDate = decodeTimePtr(due)
	m.Completed = completed != 0
	m.CompletedAt = decodeTimePtr(completedAt)
	m.CreatedAt = decodeTime(createdAt)
	return &m, nil
}

// CreateMilestone inserts a milestone.
func (s *Store) CreateMilestone(ctx context.Context, m *tracker.Milestone) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.ID = tracker.NewID()
	m.CreatedAt = s.now()
	if m.Completed && m.CompletedAt == nil {
		m.CompletedAt = &m.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO milestones (`+milestoneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PhaseID, m.Title, encodeTimePtr(m.DueDate), boolInt(m.Completed), encodeTimePtr(m.CompletedAt),
		encodeTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert milestone: %w", mapError(err))
	}
	return nil
}

// GetMilestone retrieves a milestone by ID.
func (s *Store) GetMilestone(ctx context.Context, id string) (*tracker.Milestone, error) {
	m, err := scanMilestone(s.db.QueryRowContext(ctx, `SELECT `+milestoneColumns+` FROM milestones WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get milestone: %w", err)
	}
	return m, nil
}

// ListMilestones returns a phase's milestones ordered by due date, undated last.
func (s *Store) ListMilestones(ctx context.Context, phaseID string) ([]*tracker.Milestone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+milestoneColumns+` FROM milestones WHERE phase_id = ?
		 ORDER BY due_date IS NULL, due_date, created_at`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Milestone, 0)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMilestone saves title, due date and completion of a milestone.
func (s *Store) UpdateMilestone(ctx context.Context, m *tracker.Milestone) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if !m.Completed {
		m.CompletedAt = nil
	} else if m.CompletedAt == nil {
		now := s.now()
		m.CompletedAt = &now
	}
	return s.execOne(ctx,
		`UPDATE milestones SET title = ?, due_date = ?, completed = ?, completed_at = ? WHERE id = ?`,
		m.Title, encodeTimePtr(m.DueDate), boolInt(m.Completed), encodeTimePtr(m.CompletedAt), m.ID)
}

// SetMilestoneCompleted toggles completion, stamping or clearing completed_at.
func (s *Store) SetMilestoneCompleted(ctx context.Context, id string, completed bool) error {
	var completedAt any
	if completed {
		completedAt = encodeTime(s.now())
	}
	return s.execOne(ctx, `UPDATE milestones SET completed = ?, completed_at = ? WHERE id = ?`,
		boolInt(completed), completedAt, id)
}

// DeleteMilestone removes a milestone.
func (s *Store) DeleteMilestone(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM milestones WHERE id = ?`, id)
}

// ProjectIDForPhase resolves the project that owns a phase.
func (s *Store) ProjectIDForPhase(ctx context.Context, phaseID string) (string, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx, `SELECT project_id FROM phases WHERE id = ?`, phaseID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return projectID, err
}

// ProjectIDForMilestone resolves the project that owns a milestone.
func (s *Store) ProjectIDForMilestone(ctx context.Context, milestoneID string) (string, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx,
		`SELECT p.project_id FROM milestones m JOIN phases p ON p.id = m.phase_id WHERE m.id = ?`, milestoneID).
		Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return projectID, err
}

// PhaseChange is the outcome of recomputing one phase during a sync.
type PhaseChange struct {
	PhaseID     string
	Progress    int
	Status      tracker.PhaseStatus
	CompletedAt *time.Time
}

// ApplyRoadmapSync writes recomputed phase values, the project's aggregate
// progress and the alerts they raise in one transaction, so a failed alert
// insert leaves the stored progress as it was and the next run sees the same
// crossings again. It returns the alerts that were new.
func (s *Store) ApplyRoadmapSync(ctx context.Context, projectID string, changes []PhaseChange,
	projectProgress int, alerts []*tracker.Alert) ([]*tracker.Alert, error) {
	var created []*tracker.Alert
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		created = created[:0]
		now := encodeTime(s.now())
		for _, c := range changes {
			if _, err := tx.ExecContext(ctx,
				`UPDATE phases SET progress = ?, status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
				c.Progress, string(c.Status), encodeTimePtr(c.CompletedAt), now, c.PhaseID); err != nil {
				return fmt.Errorf("update phase %s: %w", c.PhaseID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE projects SET progress = ?, updated_at = ? WHERE id = ? AND progress != ?`,
			projectProgress, now, projectID, projectProgress); err != nil {
			return fmt.Errorf("update project progress: %w", err)
		}
		for _, a := range alerts {
			ok, err := s.insertAlertOnce(ctx, tx, a)
			if err != nil {
				return fmt.Errorf("create %s alert: %w", a.Type, err)
			}
			if ok {
				created = append(created, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
