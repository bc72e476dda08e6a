package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness/adapters"
	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

func newTestStore(t *testing.T) ports.TaskStore {
	t.Helper()
	conn, err := db.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return adapters.NewLibSQLTaskStore(conn)
}

func invoke(t *testing.T, tool ports.Tool, userID, args string) (any, error) {
	t.Helper()
	return tool.Invoke(context.Background(), userID, json.RawMessage(args))
}

func TestAll_SchemasDeclareUserID(t *testing.T) {
	tools := All(newTestStore(t))
	require.Len(t, tools, 5)

	seen := map[string]bool{}
	for _, tool := range tools {
		assert.False(t, seen[tool.Name()], "duplicate %s", tool.Name())
		seen[tool.Name()] = true
		assert.NotEmpty(t, tool.Description())

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.Schema()))
		require.NoError(t, err, tool.Name())

		res, err := schema.Validate(gojsonschema.NewStringLoader(`{"task_id": 1, "title": "x"}`))
		require.NoError(t, err)
		assert.False(t, res.Valid(), "%s must require user_id", tool.Name())
	}
}

func TestAddTaskTool(t *testing.T) {
	tool := NewAddTaskTool(newTestStore(t))

	out, err := invoke(t, tool, "alice", `{"title": "  buy milk ", "description": "  "}`)
	require.NoError(t, err)
	res := out.(TaskResult)
	assert.Equal(t, "buy milk", res.Task.Title)
	assert.Nil(t, res.Task.Description)

	out, err = invoke(t, tool, "alice", `{"title": "call mom", "description": " sunday "}`)
	require.NoError(t, err)
	assert.Equal(t, "sunday", *out.(TaskResult).Task.Description)

	for _, args := range []string{
		`{"title": ""}`,
		`{"title": "` + strings.Repeat("x", MaxTitleLength+1) + `"}`,
		`{"title": "a\u0000b"}`,
		`{"title": "ok", "description": "` + strings.Repeat("d", MaxDescriptionLength+1) + `"}`,
		`{"title": 5}`,
	} {
		_, err := invoke(t, tool, "alice", args)
		assert.ErrorIs(t, err, ports.ErrInvalidTask, args)
	}

	// Length is counted in characters.
	_, err = invoke(t, tool, "alice", `{"title": "`+strings.Repeat("é", MaxTitleLength)+`"}`)
	assert.NoError(t, err)
}

func TestListTasksTool(t *testing.T) {
	store := newTestStore(t)
	add := NewAddTaskTool(store)
	for _, title := range []string{"a", "b", "c"} {
		_, err := invoke(t, add, "alice", `{"title": "`+title+`"}`)
		require.NoError(t, err)
	}
	_, err := invoke(t, NewCompleteTaskTool(store), "alice", `{"task_id": 1}`)
	require.NoError(t, err)

	list := NewListTasksTool(store)

	out, err := invoke(t, list, "alice", `{}`)
	require.NoError(t, err)
	page := out.(ports.TaskPage)
	assert.Equal(t, 2, page.Total, "pending by default")

	out, err = invoke(t, list, "alice", `{"filter": "all", "limit": 1}`)
	require.NoError(t, err)
	page = out.(ports.TaskPage)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Tasks, 1)
	assert.True(t, page.HasMore)

	out, err = invoke(t, list, "bob", `{"filter": "all"}`)
	require.NoError(t, err)
	assert.Zero(t, out.(ports.TaskPage).Total)
}

func TestUpdateTaskTool(t *testing.T) {
	store := newTestStore(t)
	_, err := invoke(t, NewAddTaskTool(store), "alice", `{"title": "walk dog", "description": "park"}`)
	require.NoError(t, err)
	update := NewUpdateTaskTool(store)

	_, err = invoke(t, update, "alice", `{"task_id": 1}`)
	assert.ErrorIs(t, err, ports.ErrInvalidTask)

	out, err := invoke(t, update, "alice", `{"task_id": 1, "title": "walk the dog", "completed": true}`)
	require.NoError(t, err)
	task := out.(TaskResult).Task
	assert.Equal(t, "walk the dog", task.Title)
	assert.True(t, task.Completed)
	assert.Equal(t, "park", *task.Description)

	out, err = invoke(t, update, "alice", `{"task_id": 1, "description": ""}`)
	require.NoError(t, err)
	assert.Nil(t, out.(TaskResult).Task.Description)

	_, err = invoke(t, update, "alice", `{"task_id": 1, "title": "  "}`)
	assert.ErrorIs(t, err, ports.ErrInvalidTask)

	_, err = invoke(t, update, "bob", `{"task_id": 1, "title": "mine"}`)
	assert.ErrorIs(t, err, ports.ErrTaskNotFound)
}

func TestCompleteAndDeleteTaskTools(t *testing.T) {
	store := newTestStore(t)
	_, err := invoke(t, NewAddTaskTool(store), "alice", `{"title": "file taxes"}`)
	require.NoError(t, err)

	complete := NewCompleteTaskTool(store)
	out, err := invoke(t, complete, "alice", `{"task_id": 1}`)
	require.NoError(t, err)
	assert.True(t, out.(TaskResult).Task.Completed)

	_, err = invoke(t, complete, "alice", `{"task_id": 999}`)
	assert.ErrorIs(t, err, ports.ErrTaskNotFound)

	del := NewDeleteTaskTool(store)
	_, err = invoke(t, del, "bob", `{"task_id": 1}`)
	assert.ErrorIs(t, err, ports.ErrTaskNotFound)

	out, err = invoke(t, del, "alice", `{"task_id": 1}`)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Deleted: true, TaskID: 1, Title: "file taxes"}, out)

	body, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": true, "task_id": 1, "title": "file taxes"}`, string(body))
}
