// Package tools holds the task operations exposed to the decider.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
	DefaultListLimit     = 50
	MaxListLimit         = 200
)

// AddTaskSchema defines the JSON schema for add_task parameters.
const AddTaskSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "title": {
      "type": "string",
      "description": "Short task title",
      "minLength": 1,
      "maxLength": 200
    },
    "description": {
      "type": "string",
      "description": "Optional details",
      "maxLength": 1000
    }
  },
  "required": ["user_id", "title"],
  "additionalProperties": false
}`

// ListTasksSchema defines the JSON schema for list_tasks parameters.
const ListTasksSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "filter": {
      "type": "string",
      "enum": ["all", "pending", "completed"],
      "description": "Which tasks to return (default pending)"
    },
    "limit": {
      "type": "integer",
      "minimum": 1,
      "maximum": 200,
      "description": "Maximum number of tasks (default 50)"
    },
    "offset": {
      "type": "integer",
      "minimum": 0,
      "description": "Number of tasks to skip"
    }
  },
  "required": ["user_id"],
  "additionalProperties": false
}`

// CompleteTaskSchema defines the JSON schema for complete_task parameters.
const CompleteTaskSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "integer", "minimum": 1, "description": "Id of the task to mark done"}
  },
  "required": ["user_id", "task_id"],
  "additionalProperties": false
}`

// UpdateTaskSchema defines the JSON schema for update_task parameters.
const UpdateTaskSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "integer", "minimum": 1, "description": "Id of the task to change"},
    "title": {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string", "maxLength": 1000, "description": "Empty string clears it"},
    "completed": {"type": "boolean"}
  },
  "required": ["user_id", "task_id"],
  "additionalProperties": false
}`

// DeleteTaskSchema defines the JSON schema for delete_task parameters.
const DeleteTaskSchema = `{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "integer", "minimum": 1, "description": "Id of the task to delete"}
  },
  "required": ["user_id", "task_id"],
  "additionalProperties": false
}`

// All returns the five task operations bound to store.
func All(store ports.TaskStore) []ports.Tool {
	return []ports.Tool{
		NewAddTaskTool(store),
		NewListTasksTool(store),
		NewCompleteTaskTool(store),
		NewUpdateTaskTool(store),
		NewDeleteTaskTool(store),
	}
}

// TaskResult wraps a single task in operation output.
type TaskResult struct {
	Task ports.Task `json:"task"`
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	TaskID  int64  `json:"task_id"`
	Title   string `json:"title"`
}

// AddTaskTool creates a task.
type AddTaskTool struct{ store ports.TaskStore }

func NewAddTaskTool(store ports.TaskStore) *AddTaskTool { return &AddTaskTool{store: store} }

func (t *AddTaskTool) Name() string { return "add_task" }
func (t *AddTaskTool) Description() string {
	return "Create a new task for the user with a title and optional description."
}
func (t *AddTaskTool) Schema() []byte { return []byte(AddTaskSchema) }

func (t *AddTaskTool) Invoke(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var params struct {
		Title       string  `json:"title"`
		Description *string `json:"description"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}

	title, err := cleanTitle(params.Title)
	if err != nil {
		return nil, err
	}
	desc, err := cleanDescription(params.Description)
	if err != nil {
		return nil, err
	}

	task, err := t.store.CreateTask(ctx, userID, title, desc)
	if err != nil {
		return nil, err
	}
	return TaskResult{Task: task}, nil
}

// ListTasksTool pages through the user's tasks.
type ListTasksTool struct{ store ports.TaskStore }

func NewListTasksTool(store ports.TaskStore) *ListTasksTool { return &ListTasksTool{store: store} }

func (t *ListTasksTool) Name() string { return "list_tasks" }
func (t *ListTasksTool) Description() string {
	return "List the user's tasks, newest first. Filter by all, pending (default) or completed."
}
func (t *ListTasksTool) Schema() []byte { return []byte(ListTasksSchema) }

func (t *ListTasksTool) Invoke(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var params struct {
		Filter string `json:"filter"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}

	if params.Filter == "" {
		params.Filter = ports.FilterPending
	}
	if params.Limit <= 0 {
		params.Limit = DefaultListLimit
	}
	if params.Limit > MaxListLimit {
		params.Limit = MaxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	return t.store.ListTasks(ctx, userID, params.Filter, params.Limit, params.Offset)
}

// CompleteTaskTool marks a task done. Repeating it is harmless.
type CompleteTaskTool struct{ store ports.TaskStore }

func NewCompleteTaskTool(store ports.TaskStore) *CompleteTaskTool {
	return &CompleteTaskTool{store: store}
}

func (t *CompleteTaskTool) Name() string        { return "complete_task" }
func (t *CompleteTaskTool) Description() string { return "Mark one of the user's tasks as completed." }
func (t *CompleteTaskTool) Schema() []byte      { return []byte(CompleteTaskSchema) }

func (t *CompleteTaskTool) Invoke(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var params struct {
		TaskID int64 `json:"task_id"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	task, err := t.store.CompleteTask(ctx, userID, params.TaskID)
	if err != nil {
		return nil, err
	}
	return TaskResult{Task: task}, nil
}

// UpdateTaskTool changes a task's title, description or completion.
type UpdateTaskTool struct{ store ports.TaskStore }

func NewUpdateTaskTool(store ports.TaskStore) *UpdateTaskTool { return &UpdateTaskTool{store: store} }

func (t *UpdateTaskTool) Name() string { return "update_task" }
func (t *UpdateTaskTool) Description() string {
	return "Change the title, description or completion status of one of the user's tasks."
}
func (t *UpdateTaskTool) Schema() []byte { return []byte(UpdateTaskSchema) }

func (t *UpdateTaskTool) Invoke(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var params struct {
		TaskID      int64   `json:"task_id"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Completed   *bool   `json:"completed"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	if params.Title == nil && params.Description == nil && params.Completed == nil {
		return nil, fmt.Errorf("%w: nothing to update, provide title, description or completed", ports.ErrInvalidTask)
	}

	patch := ports.TaskPatch{Completed: params.Completed}
	if params.Title != nil {
		title, err := cleanTitle(*params.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if params.Description != nil {
		desc, err := cleanDescription(params.Description)
		if err != nil {
			return nil, err
		}
		if desc == nil {
			empty := ""
			desc = &empty
		}
		patch.Description = desc
	}

	task, err := t.store.UpdateTask(ctx, userID, params.TaskID, patch)
	if err != nil {
		return nil, err
	}
	return TaskResult{Task: task}, nil
}

// DeleteTaskTool removes a task.
type DeleteTaskTool struct{ store ports.TaskStore }

func NewDeleteTaskTool(store ports.TaskStore) *DeleteTaskTool { return &DeleteTaskTool{store: store} }

func (t *DeleteTaskTool) Name() string        { return "delete_task" }
func (t *DeleteTaskTool) Description() string { return "Permanently delete one of the user's tasks." }
func (t *DeleteTaskTool) Schema() []byte      { return []byte(DeleteTaskSchema) }

func (t *DeleteTaskTool) Invoke(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var params struct {
		TaskID int64 `json:"task_id"`
	}
	if err := decode(args, &params); err != nil {
		return nil, err
	}
	task, err := t.store.DeleteTask(ctx, userID, params.TaskID)
	if err != nil {
		return nil, err
	}
	return DeleteResult{Deleted: true, TaskID: task.ID, Title: task.Title}, nil
}

func decode(args json.RawMessage, v any) error {
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: invalid arguments: %v", ports.ErrInvalidTask, err)
	}
	return nil
}

func cleanTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return "", fmt.Errorf("%w: title cannot be empty", ports.ErrInvalidTask)
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return "", fmt.Errorf("%w: title is longer than %d characters", ports.ErrInvalidTask, MaxTitleLength)
	case strings.ContainsRune(title, 0):
		return "", fmt.Errorf("%w: title contains invalid characters", ports.ErrInvalidTask)
	}
	return title, nil
}

// cleanDescription trims the description; blank becomes nil.
func cleanDescription(desc *string) (*string, error) {
	if desc == nil {
		return nil, nil
	}
	d := strings.TrimSpace(*desc)
	if d == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(d) > MaxDescriptionLength {
		return nil, fmt.Errorf("%w: description is longer than %d characters", ports.ErrInvalidTask, MaxDescriptionLength)
	}
	if strings.ContainsRune(d, 0) {
		return nil, fmt.Errorf("%w: description contains invalid characters", ports.ErrInvalidTask)
	}
	return &d, nil
}

var (
	_ ports.Tool = (*AddTaskTool)(nil)
	_ ports.Tool = (*ListTasksTool)(nil)
	_ ports.Tool = (*CompleteTaskTool)(nil)
	_ ports.Tool = (*UpdateTaskTool)(nil)
	_ ports.Tool = (*DeleteTaskTool)(nil)
)
