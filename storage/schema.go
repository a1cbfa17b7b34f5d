package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is bumped whenever schema or columnMigrations change.
const SchemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS departments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE COLLATE NOCASE,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	token_hash TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	owner_id TEXT NOT NULL REFERENCES users(id),
	department_id TEXT REFERENCES departments(id) ON DELETE SET NULL,
	budget REAL NOT NULL DEFAULT 0,
	progress INTEGER NOT NULL DEFAULT 0,
	start_date TEXT,
	target_date TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
CREATE INDEX IF NOT EXISTS idx_projects_department ON projects(department_id);

CREATE TABLE IF NOT EXISTS kpis (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	direction TEXT NOT NULL,
	baseline REAL NOT NULL DEFAULT 0,
	target REAL NOT NULL DEFAULT 0,
	current_value REAL NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kpis_project ON kpis(project_id);

CREATE TABLE IF NOT EXISTS kpi_measurements (
	id TEXT PRIMARY KEY,
	kpi_id TEXT NOT NULL REFERENCES kpis(id) ON DELETE CASCADE,
	value REAL NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	recorded_by TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_measurements_kpi ON kpi_measurements(kpi_id, recorded_at);

CREATE TABLE IF NOT EXISTS roi_calculations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	implementation_cost REAL NOT NULL DEFAULT 0,
	annual_operating_cost REAL NOT NULL DEFAULT 0,
	hours_saved_per_year REAL NOT NULL DEFAULT 0,
	hourly_rate REAL NOT NULL DEFAULT 0,
	annual_revenue_gain REAL NOT NULL DEFAULT 0,
	annual_cost_reduction REAL NOT NULL DEFAULT 0,
	years REAL NOT NULL DEFAULT 1,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_roi_project ON roi_calculations(project_id);

CREATE TABLE IF NOT EXISTS risks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	likelihood TEXT NOT NULL,
	status TEXT NOT NULL,
	mitigation TEXT NOT NULL DEFAULT '',
	owner_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_risks_project ON risks(project_id);

CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	dedupe_key TEXT NOT NULL DEFAULT '',
	is_read INTEGER NOT NULL DEFAULT 0,
	resolved INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_alerts_project ON alerts(project_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_dedupe ON alerts(project_id, dedupe_key) WHERE dedupe_key <> '';

CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	rating INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	comment TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_project ON feedback(project_id);

CREATE TABLE IF NOT EXISTS prompts (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]',
	author_id TEXT NOT NULL DEFAULT '',
	usage_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS phases (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	sequence INTEGER NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	start_date TEXT,
	target_date TEXT,
	completed_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_phases_project ON phases(project_id, sequence);

CREATE TABLE IF NOT EXISTS milestones (
	id TEXT PRIMARY KEY,
	phase_id TEXT NOT NULL REFERENCES phases(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	due_date TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	completed_at TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_milestones_phase ON milestones(phase_id);

CREATE TABLE IF NOT EXISTS attachments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	file_name TEXT NOT NULL,
	stored_name TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	uploaded_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attachments_project ON attachments(project_id);

CREATE TABLE IF NOT EXISTS schema_info (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);
`

// columnMigration adds a column to a table created by an older schema.
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

// columnMigrations lists columns added after the first release.
var columnMigrations = []columnMigration{
	// v2: per-user dashboard theme
	{"users", "theme", "TEXT NOT NULL DEFAULT 'system'"},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	for _, m := range columnMigrations {
		exists, err := s.columnExists(ctx, m.Table, m.Column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", m.Table, m.Column, err)
		}
		s.logger.Info("Applied column migration", "table", m.Table, "column", m.Column)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_info (id, version) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version`, SchemaVersion)
	return err
}

// columnExists reports whether table has the named column.
func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Version returns the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_info WHERE id = 1`).Scan(&v)
	return v, err
}
