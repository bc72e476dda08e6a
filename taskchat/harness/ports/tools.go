package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable operation exposed to the decider.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args, without user_id
}

// ToolCall represents a decider-requested operation with JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Args      json.RawMessage
	DependsOn []string // ids of sibling calls in the same step that must finish first
}

// Tool defines the runtime that executes an operation for one user.
// Schema must declare user_id; the gateway injects it before validation.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte
	Invoke(ctx context.Context, userID string, args json.RawMessage) (any, error)
}
