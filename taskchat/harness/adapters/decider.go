package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

// DeciderConfig configures a language-model decider.
type DeciderConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int64
	Temperature float64

	// Anthropic only.
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
}

// classifyStatus maps a provider HTTP status onto the decision sentinels.
// Credentials, unknown models and rejected requests need an operator; rate
// limits and server errors are transient.
func classifyStatus(provider string, status int, err error) error {
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusBadRequest,
		status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s returned %d: %v", ports.ErrDecisionMisconfigured, provider, status, err)
	default:
		return fmt.Errorf("%w: %s returned %d: %v", ports.ErrDecisionUnavailable, provider, status, err)
	}
}

// classifyTransport handles failures that never produced a response.
func classifyTransport(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ports.ErrDecisionUnavailable, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ports.ErrDecisionUnavailable, provider, err)
}

// schemaParts splits a JSON object schema into its properties and required list.
func schemaParts(schema []byte) (map[string]any, []string, error) {
	var s struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, nil, err
	}
	if s.Properties == nil {
		s.Properties = map[string]any{}
	}
	return s.Properties, s.Required, nil
}

// argsOrEmpty returns a JSON object for empty tool arguments.
func argsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage(`{}`)
	}
	return args
}
