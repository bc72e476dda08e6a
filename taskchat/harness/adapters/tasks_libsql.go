package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

const taskColumns = `id, user_id, title, description, completed, created_at, updated_at`

// LibSQLTaskStore implements TaskStore over database/sql. Every statement is
// scoped by user_id; a foreign task is indistinguishable from a missing one.
type LibSQLTaskStore struct {
	conn *sql.DB
	now  func() time.Time
}

func NewLibSQLTaskStore(conn *sql.DB) *LibSQLTaskStore {
	return &LibSQLTaskStore{conn: conn, now: time.Now}
}

func (s *LibSQLTaskStore) CreateTask(ctx context.Context, userID, title string, description *string) (ports.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return ports.Task{}, fmt.Errorf("%w: title is required", ports.ErrInvalidTask)
	}

	now := s.now().UnixMicro()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO tasks (user_id, title, description, completed, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
	`, userID, title, nullString(description), now, now)
	if err != nil {
		return ports.Task{}, fmt.Errorf("failed to insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ports.Task{}, fmt.Errorf("failed to read task id: %w", err)
	}
	return s.get(ctx, s.conn, userID, id)
}

// ListTasks pages through the user's tasks, newest first.
func (s *LibSQLTaskStore) ListTasks(ctx context.Context, userID, filter string, limit, offset int) (ports.TaskPage, error) {
	where := `user_id = ?`
	switch filter {
	case ports.FilterPending:
		where += ` AND completed = 0`
	case ports.FilterCompleted:
		where += ` AND completed = 1`
	case ports.FilterAll, "":
	default:
		return ports.TaskPage{}, fmt.Errorf("%w: unknown filter %q", ports.ErrInvalidTask, filter)
	}

	page := ports.TaskPage{Tasks: []ports.Task{}}
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where, userID).Scan(&page.Total); err != nil {
		return ports.TaskPage{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return ports.TaskPage{}, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return ports.TaskPage{}, err
		}
		page.Tasks = append(page.Tasks, t)
	}
	if err := rows.Err(); err != nil {
		return ports.TaskPage{}, fmt.Errorf("error iterating tasks: %w", err)
	}

	page.HasMore = offset+len(page.Tasks) < page.Total
	return page, nil
}

// CompleteTask marks a task done. Completing a completed task changes nothing.
func (s *LibSQLTaskStore) CompleteTask(ctx context.Context, userID string, taskID int64) (ports.Task, error) {
	done := true
	return s.UpdateTask(ctx, userID, taskID, ports.TaskPatch{Completed: &done})
}

func (s *LibSQLTaskStore) UpdateTask(ctx context.Context, userID string, taskID int64, patch ports.TaskPatch) (ports.Task, error) {
	var updated ports.Task
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		current, err := s.get(ctx, tx, userID, taskID)
		if err != nil {
			return err
		}

		next := current
		if patch.Title != nil {
			next.Title = strings.TrimSpace(*patch.Title)
			if next.Title == "" {
				return fmt.Errorf("%w: title is required", ports.ErrInvalidTask)
			}
		}
		if patch.Description != nil {
			next.Description = patch.Description
			if *patch.Description == "" {
				next.Description = nil
			}
		}
		if patch.Completed != nil {
			next.Completed = *patch.Completed
		}

		if sameTask(current, next) {
			updated = current
			return nil
		}

		next.UpdatedAt = s.now()
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, completed = ?, updated_at = ?
			WHERE id = ? AND user_id = ?
		`, next.Title, nullString(next.Description), boolInt(next.Completed), next.UpdatedAt.UnixMicro(), taskID, userID)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		updated = next
		return nil
	})
	if err != nil {
		return ports.Task{}, err
	}
	return updated, nil
}

// DeleteTask removes a task and returns it as it was.
func (s *LibSQLTaskStore) DeleteTask(ctx context.Context, userID string, taskID int64) (ports.Task, error) {
	var deleted ports.Task
	err := db.WithTx(ctx, s.conn, func(tx *sql.Tx) error {
		t, err := s.get(ctx, tx, userID, taskID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		deleted = t
		return nil
	})
	if err != nil {
		return ports.Task{}, err
	}
	return deleted, nil
}

func (s *LibSQLTaskStore) get(ctx context.Context, q db.Querier, userID string, taskID int64) (ports.Task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Task{}, fmt.Errorf("%w: %d", ports.ErrTaskNotFound, taskID)
	}
	return t, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (ports.Task, error) {
	var (
		t                    ports.Task
		desc                 sql.NullString
		completed            int
		createdAt, updatedAt int64
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.Title, &desc, &completed, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ports.Task{}, err
		}
		return ports.Task{}, fmt.Errorf("failed to scan task: %w", err)
	}
	if desc.Valid {
		t.Description = &desc.String
	}
	t.Completed = completed != 0
	t.CreatedAt = time.UnixMicro(createdAt)
	t.UpdatedAt = time.UnixMicro(updatedAt)
	return t, nil
}

func sameTask(a, b ports.Task) bool {
	if a.Title != b.Title || a.Completed != b.Completed {
		return false
	}
	switch {
	case a.Description == nil && b.Description == nil:
		return true
	case a.Description == nil || b.Description == nil:
		return false
	default:
		return *a.Description == *b.Description
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ ports.TaskStore = (*LibSQLTaskStore)(nil)
