package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/c360studio/aibenefits/tracker"
)

const attachmentColumns = `id, project_id, file_name, stored_name, content_type, size, uploaded_by, created_at`

func scanAttachment(row scanner) (*tracker.Attachment, error) {
	var (
		a         tracker.Attachment
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.FileName, &a.StoredName, &a.ContentType, &a.Size,
		&a.UploadedBy, &createdAt); err != nil {
		return nil, err
	}
	a.CreatedAt = decodeTime(createdAt)
	return &a, nil
}

// CreateAttachment records metadata for a file already written by the uploads store.
func (s *Store) CreateAttachment(ctx context.Context, a *tracker.Attachment) error {
	if a.ProjectID == "" || a.StoredName == "" {
		return &tracker.ValidationError{Fields: map[string]string{"file": "project and stored name are required"}}
	}
	if a.ID == "" {
		a.ID = tracker.NewID()
	}
	a.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (`+attachmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.FileName, a.StoredName, a.ContentType, a.Size, a.UploadedBy, encodeTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert attachment: %w", mapError(err))
	}
	return nil
}

// GetAttachment retrieves attachment metadata by ID.
func (s *Store) GetAttachment(ctx context.Context, id string) (*tracker.Attachment, error) {
	a, err := scanAttachment(s.db.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

// ListAttachments returns a project's attachments, newest first.
func (s *Store) ListAttachments(ctx context.Context, projectID string) ([]*tracker.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStoredNames returns the stored file names of every attachment of a
// project, so the files can be removed before the project row is deleted.
func (s *Store) ListStoredNames(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stored_name FROM attachments WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stored names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteAttachment removes attachment metadata. The caller removes the file.
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM attachments WHERE id = ?`, id)
}
