package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/aibenefits/tracker"
)

// --- Feedback ---

const feedbackColumns = `id, project_id, user_id, rating, category, comment, created_at`

func scanFeedback(row scanner) (*tracker.Feedback, error) {
	var (
		f         tracker.Feedback
		createdAt string
	)
	if err := row.Scan(&f.ID, &f.ProjectID, &f.UserID, &f.Rating, &f.Category, &f.Comment, &createdAt); err != nil {
		return nil, err
	}
	f.CreatedAt = decodeTime(createdAt)
	return &f, nil
}

// CreateFeedback inserts a feedback entry.
func (s *Store) CreateFeedback(ctx context.Context, f *tracker.Feedback) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f.ID = tracker.NewID()
	f.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (`+feedbackColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ProjectID, f.UserID, f.Rating, f.Category, f.Comment, encodeTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert feedback: %w", mapError(err))
	}
	return nil
}

// GetFeedback retrieves a feedback entry by ID.
func (s *Store) GetFeedback(ctx context.Context, id string) (*tracker.Feedback, error) {
	f, err := scanFeedback(s.db.QueryRowContext(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback: %w", err)
	}
	return f, nil
}

// ListFeedback returns a project's feedback, newest first.
func (s *Store) ListFeedback(ctx context.Context, projectID string) ([]*tracker.Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Feedback, 0)
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFeedback removes a feedback entry.
func (s *Store) DeleteFeedback(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM feedback WHERE id = ?`, id)
}

// --- Prompts ---

const promptColumns = `id, title, content, category, tags_json, author_id, usage_count, created_at, updated_at`

func scanPrompt(row scanner) (*tracker.Prompt, error) {
	var (
		p                    tracker.Prompt
		tagsJSON             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Content, &p.Category, &tagsJSON, &p.AuthorID, &p.UsageCount,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil || p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt = decodeTime(createdAt)
	p.UpdatedAt = decodeTime(updatedAt)
	return &p, nil
}

func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	data, _ := json.Marshal(tags)
	return string(data)
}

// PromptFilter narrows ListPrompts.
type PromptFilter struct {
	Category string
	// Search matches title, content or tags.
	Search string
}

// CreatePrompt inserts a prompt into the library.
func (s *Store) CreatePrompt(ctx context.Context, p *tracker.Prompt) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.ID = tracker.NewID()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	if p.Tags == nil {
		p.Tags = []string{}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (`+promptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content, p.Category, encodeTags(p.Tags), p.AuthorID, p.UsageCount,
		encodeTime(p.CreatedAt), encodeTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert prompt: %w", mapError(err))
	}
	return nil
}

// GetPrompt retrieves a prompt by ID.
func (s *Store) GetPrompt(ctx context.Context, id string) (*tracker.Prompt, error) {
	p, err := scanPrompt(s.db.QueryRowContext(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

// ListPrompts returns prompts matching the filter, most used first.
func (s *Store) ListPrompts(ctx context.Context, f PromptFilter) ([]*tracker.Prompt, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(title LIKE ? OR content LIKE ? OR tags_json LIKE ?)")
		args = append(args, like, like, like)
	}
	query := `SELECT ` + promptColumns + ` FROM prompts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY usage_count DESC, title"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := make([]*tracker.Prompt, 0)
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePrompt saves changes to a prompt. The usage count is not touched.
func (s *Store) UpdatePrompt(ctx context.Context, p *tracker.Prompt) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.now()
	return s.execOne(ctx,
		`UPDATE prompts SET title = ?, content = ?, category = ?, tags_json = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.Content, p.Category, encodeTags(p.Tags), encodeTime(p.UpdatedAt), p.ID)
}

// IncrementPromptUsage bumps the usage counter of a prompt.
func (s *Store) IncrementPromptUsage(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE prompts SET usage_count = usage_count + 1 WHERE id = ?`, id)
}

// DeletePrompt removes a prompt.
func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM prompts WHERE id = ?`, id)
}
