package adapters

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestZerologTracer_Spans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finishTurn := tracer.StartSpan(context.Background(), "turn", map[string]any{"conversation_id": "c1"})
	inner, finishTool := tracer.StartSpan(ctx, "tool_invoke", map[string]any{"operation": "add_task"})
	tracer.Event(inner, "rounds_exhausted", map[string]any{"rounds": 5})
	finishTool(errors.New("boom"))
	finishTurn(nil)

	lines := logLines(t, &buf)
	require.Len(t, lines, 5)

	assert.Equal(t, "span_start", lines[0]["event"])
	assert.Equal(t, "turn", lines[0]["span"])

	// Child spans inherit the parent's fields.
	assert.Equal(t, "c1", lines[1]["conversation_id"])
	assert.Equal(t, "add_task", lines[1]["operation"])

	assert.Equal(t, "rounds_exhausted", lines[2]["event"])
	assert.Equal(t, "info", lines[2]["level"])
	assert.Equal(t, float64(5), lines[2]["rounds"])

	assert.Equal(t, "span_end", lines[3]["event"])
	assert.Equal(t, "error", lines[3]["level"])
	assert.Equal(t, "boom", lines[3]["error"])

	assert.Equal(t, "span_end", lines[4]["event"])
	assert.Equal(t, "debug", lines[4]["level"])
	assert.Contains(t, lines[4], "duration")
}

func TestZerologTracer_EventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "startup", nil)

	lines := logLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "startup", lines[0]["event"])
	assert.NotContains(t, lines[0], "span")
}
