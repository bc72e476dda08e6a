package harnessports

import (
	"context"
	"errors"
)

// Decider failure classes. Adapters wrap one of these so the harness can tell
// a retryable outage from an operator problem or unusable output.
var (
	ErrDecisionUnavailable   = errors.New("decision service unavailable")
	ErrDecisionMisconfigured = errors.New("decision service misconfigured")
	ErrDecisionMalformed     = errors.New("decision output malformed")
)

// PromptMessage represents a single chat message sent to the decider.
type PromptMessage struct {
	Role    string // "user" | "assistant"
	Content string
}

// Step is one completed ExecuteOperations round: the calls the decider asked
// for and what came back.
type Step struct {
	Calls   []ToolCall
	Results []ToolResult
}

// ToolResult is the decider-facing view of one invocation outcome.
type ToolResult struct {
	CallID  string
	Name    string
	Content string // JSON result or JSON error object
	IsError bool
}

// DecisionInput aggregates everything a decider needs for one decision step.
type DecisionInput struct {
	System   string          // fixed system prompt
	Messages []PromptMessage // ordered history ending with the new user message
	Tools    []ToolSpec      // operation catalogue
	Steps    []Step          // pending results from earlier rounds of this turn
}

// Usage captures token accounting for telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Decision is either a reply (Text) or a non-empty set of operation requests.
type Decision struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
}

// IsReply reports whether the decision is a final natural-language reply.
func (d Decision) IsReply() bool { return len(d.ToolCalls) == 0 }

// Decider is the opaque language-model decision capability.
type Decider interface {
	Decide(ctx context.Context, in DecisionInput) (Decision, error)
}
