package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/aibenefits/tracker"
)

// --- Departments ---

const departmentColumns = `id, name, description, created_at, updated_at`

func scanDepartment(row scanner) (*tracker.Department, error) {
	var (
		d                    tracker.Department
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Description, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.CreatedAt = decodeTime(createdAt)
	d.UpdatedAt = decodeTime(updatedAt)
	return &d, nil
}

// CreateDepartment inserts a department, assigning its ID and timestamps.
func (s *Store) CreateDepartment(ctx context.Context, d *tracker.Department) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.ID = tracker.NewID()
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO departments (`+departmentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Description, encodeTime(d.CreatedAt), encodeTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert department: %w", mapError(err))
	}
	return nil
}

// GetDepartment retrieves a department by ID.
func (s *Store) GetDepartment(ctx context.Context, id string) (*tracker.Department, error) {
	d, err := scanDepartment(s.db.QueryRowContext(ctx,
		`SELECT `+departmentColumns+` FROM departments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get department: %w", err)
	}
	return d, nil
}

// ListDepartments returns all departments ordered by name.
func (s *Store) ListDepartments(ctx context.Context) ([]*tracker.Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+departmentColumns+` FROM departments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Department, 0)
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDepartment saves changes to an existing department.
func (s *Store) UpdateDepartment(ctx context.Context, d *tracker.Department) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.UpdatedAt = s.now()
	return s.execOne(ctx,
		`UPDATE departments SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		d.Name, d.Description, encodeTime(d.UpdatedAt), d.ID)
}

// DeleteDepartment removes a department. Users and projects keep existing
// with no department.
func (s *Store) DeleteDepartment(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM departments WHERE id = ?`, id)
}

// --- Users ---

const userColumns = `id, email, name, role, department_id, theme, password_hash, created_at, updated_at`

func scanUser(row scanner) (*tracker.User, error) {
	var (
		u                    tracker.User
		dept                 sql.NullString
		role, theme          string
		createdAt, updatedAt string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &dept, &theme, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Role = tracker.Role(role)
	u.Theme = tracker.Theme(theme)
	u.DepartmentID = dept.String
	u.CreatedAt = decodeTime(createdAt)
	u.UpdatedAt = decodeTime(updatedAt)
	return &u, nil
}

// CreateUser inserts a user. The email must be unique (case-insensitive).
func (s *Store) CreateUser(ctx context.Context, u *tracker.User) error {
	if u.Theme == "" {
		u.Theme = tracker.ThemeSystem
	}
	if err := u.Validate(); err != nil {
		return err
	}
	u.ID = tracker.NewID()
	u.CreatedAt = s.now()
	u.UpdatedAt = u.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, string(u.Role), nullable(u.DepartmentID), string(u.Theme),
		u.PasswordHash, encodeTime(u.CreatedAt), encodeTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", mapError(err))
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*tracker.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*tracker.User, error) {
	return s.getUser(ctx, `email = ?`, email)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*tracker.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by name.
func (s *Store) ListUsers(ctx context.Context) ([]*tracker.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUsers returns the number of user accounts.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// UpdateUser saves profile changes. The password hash is only written when
// non-empty.
func (s *Store) UpdateUser(ctx context.Context, u *tracker.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	u.UpdatedAt = s.now()
	err := s.execOne(ctx,
		`UPDATE users SET email = ?, name = ?, role = ?, department_id = ?, theme = ?,
		 password_hash = CASE WHEN ? = '' THEN password_hash ELSE ? END, updated_at = ?
		 WHERE id = ?`,
		u.Email, u.Name, string(u.Role), nullable(u.DepartmentID), string(u.Theme),
		u.PasswordHash, u.PasswordHash, encodeTime(u.UpdatedAt), u.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("update user: %w", err)
	}
	return err
}

// DeleteUser removes a user and their sessions. A user who still owns
// projects cannot be deleted (ErrInUse).
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", mapDeleteError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sessions ---

// Session is a signed-in browser or API client. Only the SHA-256 of the
// token is stored.
type Session struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// CreateSession stores a new session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		sess.TokenHash, sess.UserID, encodeTime(sess.ExpiresAt), encodeTime(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", mapError(err))
	}
	return nil
}

// GetSession retrieves a session by token hash.
func (s *Store) GetSession(ctx context.Context, tokenHash string) (*Session, error) {
	var (
		sess                 Session
		expiresAt, createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash, user_id, expires_at, created_at FROM sessions WHERE token_hash = ?`, tokenHash).
		Scan(&sess.TokenHash, &sess.UserID, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.ExpiresAt = decodeTime(expiresAt)
	sess.CreatedAt = decodeTime(createdAt)
	return &sess, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *Store) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteExpiredSessions removes sessions that expired before now and returns
// how many were removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, encodeTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
