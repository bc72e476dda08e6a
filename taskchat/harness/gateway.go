package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Tool error kinds fed back to the decider.
const (
	ToolErrUnknownOperation = "unknown_operation"
	ToolErrValidation       = "validation"
	ToolErrNotFound         = "not_found"
	ToolErrTimeout          = "timeout"
	ToolErrInternal         = "internal"
)

const userIDField = "user_id"

// ToolError is the structured failure of one operation.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ToolError) Error() string { return e.Kind + ": " + e.Message }

// ToolInvocationRecord is the audit entry for one requested operation.
type ToolInvocationRecord struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ToolError      `json:"error,omitempty"`
	Round     int             `json:"round"`
	Duration  time.Duration   `json:"-"`
}

// Failed reports whether the invocation produced a ToolError.
func (r ToolInvocationRecord) Failed() bool { return r.Error != nil }

type registeredTool struct {
	tool   ports.Tool
	schema *gojsonschema.Schema
	spec   ports.ToolSpec
}

// ToolGateway enforces the operation allow-list, pins user_id to the caller and
// validates parameters before dispatch.
type ToolGateway struct {
	allowlist map[string]*registeredTool
	order     []string
	timeout   time.Duration
	tracer    ports.Tracer
	logger    zerolog.Logger
}

// NewToolGateway creates an empty gateway. A zero timeout disables the per-call deadline.
func NewToolGateway(timeout time.Duration, tracer ports.Tracer, logger zerolog.Logger) *ToolGateway {
	return &ToolGateway{
		allowlist: make(map[string]*registeredTool),
		timeout:   timeout,
		tracer:    tracer,
		logger:    logger,
	}
}

// Register adds a tool to the allow-list. Its schema must compile and declare user_id.
func (g *ToolGateway) Register(tool ports.Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := g.allowlist[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(tool.Schema()))
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}

	public, err := stripUserID(tool.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}

	g.allowlist[name] = &registeredTool{
		tool:   tool,
		schema: schema,
		spec:   ports.ToolSpec{Name: name, Description: tool.Description(), JSONSchema: public},
	}
	g.order = append(g.order, name)
	return nil
}

// Specs returns the operation catalogue exposed to the decider, in registration order.
func (g *ToolGateway) Specs() []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(g.order))
	for _, name := range g.order {
		specs = append(specs, g.allowlist[name].spec)
	}
	return specs
}

// Allowed reports whether name is on the allow-list.
func (g *ToolGateway) Allowed(name string) bool {
	_, ok := g.allowlist[name]
	return ok
}

// Invoke validates and dispatches one operation for userID. The returned params
// are the effective parameters (user_id pinned) when they could be decoded.
func (g *ToolGateway) Invoke(ctx context.Context, userID, name string, params json.RawMessage) (result json.RawMessage, effective json.RawMessage, terr *ToolError) {
	rt, ok := g.allowlist[name]
	if !ok {
		return nil, params, &ToolError{Kind: ToolErrUnknownOperation, Message: fmt.Sprintf("operation %q is not available", name)}
	}

	effective, err := injectUserID(params, userID)
	if err != nil {
		return nil, params, &ToolError{Kind: ToolErrValidation, Message: err.Error()}
	}

	if err := validate(rt.schema, effective); err != nil {
		return nil, effective, &ToolError{Kind: ToolErrValidation, Message: err.Error()}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.dispatch(callCtx, rt.tool, userID, effective)
	if err != nil {
		return nil, effective, g.classify(ctx, callCtx, name, err)
	}

	if str, ok := out.(string); ok {
		out = map[string]string{"message": str}
	}
	result, err = json.Marshal(out)
	if err != nil {
		g.logger.Warn().Err(err).Str("operation", name).Msg("tool output marshaling failed")
		return nil, effective, &ToolError{Kind: ToolErrInternal, Message: "operation failed"}
	}
	return result, effective, nil
}

// Execute runs one decider-requested call and captures it as an audit record.
func (g *ToolGateway) Execute(ctx context.Context, userID string, call ports.ToolCall) ToolInvocationRecord {
	ctx, finish := g.tracer.StartSpan(ctx, "tool_invoke", map[string]any{
		"operation": call.Name,
		"call_id":   call.ID,
	})

	start := time.Now()
	result, effective, terr := g.Invoke(ctx, userID, call.Name, call.Args)

	rec := ToolInvocationRecord{
		ID:        call.ID,
		Operation: call.Name,
		Params:    auditParams(effective),
		Result:    result,
		Duration:  time.Since(start),
	}
	if terr != nil {
		rec.Error = terr
		finish(terr)
		return rec
	}
	finish(nil)
	return rec
}

func (g *ToolGateway) dispatch(ctx context.Context, tool ports.Tool, userID string, args json.RawMessage) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Invoke(ctx, userID, args)
}

func (g *ToolGateway) classify(parent, callCtx context.Context, name string, err error) *ToolError {
	switch {
	case errors.Is(err, ports.ErrTaskNotFound):
		return &ToolError{Kind: ToolErrNotFound, Message: err.Error()}
	case errors.Is(err, ports.ErrInvalidTask):
		return &ToolError{Kind: ToolErrValidation, Message: err.Error()}
	case callCtx.Err() == context.DeadlineExceeded && parent.Err() == nil:
		g.logger.Warn().Str("operation", name).Dur("timeout", g.timeout).Msg("tool timed out")
		return &ToolError{Kind: ToolErrTimeout, Message: "operation timed out"}
	default:
		g.logger.Warn().Err(err).Str("operation", name).Msg("tool failed")
		return &ToolError{Kind: ToolErrInternal, Message: "operation failed"}
	}
}

// injectUserID decodes params as an object and overwrites user_id.
func injectUserID(params json.RawMessage, userID string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	trimmed := strings.TrimSpace(string(params))
	if trimmed != "" && trimmed != "null" {
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil || fields == nil {
			return nil, fmt.Errorf("parameters must be a JSON object")
		}
	}

	id, err := json.Marshal(userID)
	if err != nil {
		return nil, err
	}
	fields[userIDField] = id

	return json.Marshal(fields)
}

func validate(schema *gojsonschema.Schema, doc json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// stripUserID removes user_id from a schema's properties and required list.
func stripUserID(schema []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("schema is not a JSON object: %w", err)
	}

	props, _ := doc["properties"].(map[string]any)
	if _, ok := props[userIDField]; !ok {
		return nil, fmt.Errorf("schema must declare %s", userIDField)
	}
	delete(props, userIDField)

	if req, ok := doc["required"].([]any); ok {
		kept := make([]any, 0, len(req))
		for _, r := range req {
			if r != userIDField {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(doc, "required")
		} else {
			doc["required"] = kept
		}
	}

	return json.Marshal(doc)
}

func auditParams(params json.RawMessage) json.RawMessage {
	if len(params) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(params) {
		return params
	}
	quoted, _ := json.Marshal(string(params))
	return quoted
}
