package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c360studio/aibenefits/tracker"
)

// --- KPIs ---

const kpiColumns = `id, project_id, name, unit, direction, baseline, target, current_value, created_at, updated_at`

func scanKPI(row scanner) (*tracker.KPI, error) {
	var (
		k                    tracker.KPI
		direction            string
		createdAt, updatedAt string
	)
	if err := row.Scan(&k.ID, &k.ProjectID, &k.Name, &k.Unit, &direction, &k.Baseline, &k.Target, &k.Current,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	k.Direction = tracker.KPIDirection(direction)
	k.CreatedAt = decodeTime(createdAt)
	k.UpdatedAt = decodeTime(updatedAt)
	return &k, nil
}

// CreateKPI inserts a KPI. Direction defaults to INCREASE.
func (s *Store) CreateKPI(ctx context.Context, k *tracker.KPI) error {
	if k.Direction == "" {
		k.Direction = tracker.KPIIncrease
	}
	if err := k.Validate(); err != nil {
		return err
	}
	k.ID = tracker.NewID()
	k.CreatedAt = s.now()
	k.UpdatedAt = k.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kpis (`+kpiColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.ProjectID, k.Name, k.Unit, string(k.Direction), k.Baseline, k.Target, k.Current,
		encodeTime(k.CreatedAt), encodeTime(k.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert kpi: %w", mapError(err))
	}
	return nil
}

// GetKPI retrieves a KPI by ID.
func (s *Store) GetKPI(ctx context.Context, id string) (*tracker.KPI, error) {
	k, err := scanKPI(s.db.QueryRowContext(ctx, `SELECT `+kpiColumns+` FROM kpis WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get kpi: %w", err)
	}
	return k, nil
}

// ListKPIs returns the KPIs of a project.
func (s *Store) ListKPIs(ctx context.Context, projectID string) ([]*tracker.KPI, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+kpiColumns+` FROM kpis WHERE project_id = ? ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list kpis: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.KPI, 0)
	for rows.Next() {
		k, err := scanKPI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// UpdateKPI saves changes to an existing KPI.
func (s *Store) UpdateKPI(ctx context.Context, k *tracker.KPI) error {
	if err := k.Validate(); err != nil {
		return err
	}
	k.UpdatedAt = s.now()
	return s.execOne(ctx,
		`UPDATE kpis SET name = ?, unit = ?, direction = ?, baseline = ?, target = ?, current_value = ?, updated_at = ?
		 WHERE id = ?`,
		k.Name, k.Unit, string(k.Direction), k.Baseline, k.Target, k.Current, encodeTime(k.UpdatedAt), k.ID)
}

// DeleteKPI removes a KPI and its measurement history.
func (s *Store) DeleteKPI(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM kpis WHERE id = ?`, id)
}

// RecordMeasurement appends a measurement and makes it the KPI's current value.
func (s *Store) RecordMeasurement(ctx context.Context, m *tracker.KPIMeasurement) error {
	m.ID = tracker.NewID()
	if m.RecordedAt.IsZero() {
		m.RecordedAt = s.now()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE kpis SET current_value = ?, updated_at = ? WHERE id = ?`,
			m.Value, encodeTime(s.now()), m.KPIID)
		if err != nil {
			return fmt.Errorf("update kpi value: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO kpi_measurements (id, kpi_id, value, note, recorded_by, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.KPIID, m.Value, m.Note, m.RecordedBy, encodeTime(m.RecordedAt))
		if err != nil {
			return fmt.Errorf("insert measurement: %w", mapError(err))
		}
		return nil
	})
}

// ListMeasurements returns the measurement history of a KPI, oldest first.
func (s *Store) ListMeasurements(ctx context.Context, kpiID string) ([]*tracker.KPIMeasurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kpi_id, value, note, recorded_by, recorded_at FROM kpi_measurements
		 WHERE kpi_id = ? ORDER BY recorded_at`, kpiID)
	if err != nil {
		return nil, fmt.Errorf("list measurements: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.KPIMeasurement, 0)
	for rows.Next() {
		var (
			m          tracker.KPIMeasurement
			recordedAt string
		)
		if err := rows.Scan(&m.ID, &m.KPIID, &m.Value, &m.Note, &m.RecordedBy, &recordedAt); err != nil {
			return nil, err
		}
		m.RecordedAt = decodeTime(recordedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- ROI calculations ---

const roiColumns = `id, project_id, name, implementation_cost, annual_operating_cost, hours_saved_per_year,
	hourly_rate, annual_revenue_gain, annual_cost_reduction, years, created_by, created_at, updated_at`

// scanROI reads the stored inputs and derives the result from them, so the
// figures always follow the current formula.
func scanROI(row scanner) (*tracker.ROICalculation, error) {
	var (
		r                    tracker.ROICalculation
		in                   = &r.Inputs
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &in.ImplementationCost, &in.AnnualOperatingCost,
		&in.HoursSavedPerYear, &in.HourlyRate, &in.AnnualRevenueGain, &in.AnnualCostReduction, &in.Years,
		&r.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Result = tracker.ComputeROI(r.Inputs)
	r.CreatedAt = decodeTime(createdAt)
	r.UpdatedAt = decodeTime(updatedAt)
	return &r, nil
}

// CreateROI inserts an ROI calculation and fills in its computed result.
func (s *Store) CreateROI(ctx context.Context, r *tracker.ROICalculation) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.ID = tracker.NewID()
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	r.Result = tracker.ComputeROI(r.Inputs)

	in := r.Inputs
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO roi_calculations (`+roiColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectID, r.Name, in.ImplementationCost, in.AnnualOperatingCost, in.HoursSavedPerYear,
		in.HourlyRate, in.AnnualRevenueGain, in.AnnualCostReduction, in.Years, r.CreatedBy,
		encodeTime(r.CreatedAt), encodeTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert roi calculation: %w", mapError(err))
	}
	return nil
}

// GetROI retrieves an ROI calculation by ID.
func (s *Store) GetROI(ctx context.Context, id string) (*tracker.ROICalculation, error) {
	r, err := scanROI(s.db.QueryRowContext(ctx, `SELECT `+roiColumns+` FROM roi_calculations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get roi calculation: %w", err)
	}
	return r, nil
}

// ListROI returns the ROI calculations of a project, newest first. An empty
// projectID lists every calculation.
func (s *Store) ListROI(ctx context.Context, projectID string) ([]*tracker.ROICalculation, error) {
	query := `SELECT ` + roiColumns + ` FROM roi_calculations`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list roi calculations: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.ROICalculation, 0)
	for rows.Next() {
		r, err := scanROI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateROI saves changed inputs and recomputes the result.
func (s *Store) UpdateROI(ctx context.Context, r *tracker.ROICalculation) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = s.now()
	r.Result = tracker.ComputeROI(r.Inputs)
	in := r.Inputs
	return s.execOne(ctx,
		`UPDATE roi_calculations SET name = ?, implementation_cost = ?, annual_operating_cost = ?,
		 hours_saved_per_year = ?, hourly_rate = ?, annual_revenue_gain = ?, annual_cost_reduction = ?,
		 years = ?, updated_at = ? WHERE id = ?`,
		r.Name, in.ImplementationCost, in.AnnualOperatingCost, in.HoursSavedPerYear, in.HourlyRate,
		in.AnnualRevenueGain, in.AnnualCostReduction, in.Years, encodeTime(r.UpdatedAt), r.ID)
}

// DeleteROI removes an ROI calculation.
func (s *Store) DeleteROI(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM roi_calculations WHERE id = ?`, id)
}
