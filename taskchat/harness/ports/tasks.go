package harnessports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTaskNotFound covers both missing tasks and tasks owned by someone else.
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

const (
	FilterAll       = "all"
	FilterPending   = "pending"
	FilterCompleted = "completed"
)

// Task is the task-operations collaborator's entity.
type Task struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"-"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskPatch carries optional field updates.
type TaskPatch struct {
	Title       *string
	Description *string
	Completed   *bool
}

// TaskPage is one page of a task listing.
type TaskPage struct {
	Tasks   []Task `json:"tasks"`
	Total   int    `json:"total"`
	HasMore bool   `json:"has_more"`
}

// TaskStore is the task-operations collaborator. Every call is scoped to userID.
type TaskStore interface {
	CreateTask(ctx context.Context, userID, title string, description *string) (Task, error)
	ListTasks(ctx context.Context, userID, filter string, limit, offset int) (TaskPage, error)
	CompleteTask(ctx context.Context, userID string, taskID int64) (Task, error)
	UpdateTask(ctx context.Context, userID string, taskID int64, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, userID string, taskID int64) (Task, error)
}
