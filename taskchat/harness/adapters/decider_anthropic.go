package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

const anthropicProvider = "anthropic"

// AnthropicDecider implements Decider with the Anthropic Messages API, either
// directly or through AWS Bedrock.
type AnthropicDecider struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicDecider creates a decider. SDK retries are disabled; the
// decision adapter owns the retry policy.
func NewAnthropicDecider(ctx context.Context, cfg DeciderConfig) (*AnthropicDecider, error) {
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ports.ErrDecisionMisconfigured)
		}
		opts = append(opts, option.WithAPIKey(apiKey))
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.UseBedrock {
		model = bedrockModel(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicDecider{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// bedrockModel converts Anthropic model names to Bedrock cross-region inference profiles.
func bedrockModel(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Decide sends the conversation plus this turn's tool rounds and returns either
// text or tool requests.
func (d *AnthropicDecider) Decide(ctx context.Context, in ports.DecisionInput) (ports.Decision, error) {
	tools, err := anthropicTools(in.Tools)
	if err != nil {
		return ports.Decision{}, fmt.Errorf("%w: %v", ports.ErrDecisionMisconfigured, err)
	}

	params := anthropic.MessageNewParams{
		Model:       d.model,
		MaxTokens:   d.maxTokens,
		Messages:    anthropicMessages(in),
		Tools:       tools,
		Temperature: anthropic.Float(d.temperature),
	}
	if in.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: in.System}}
	}

	resp, err := d.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return ports.Decision{}, classifyStatus(anthropicProvider, apiErr.StatusCode, err)
		}
		return ports.Decision{}, classifyTransport(anthropicProvider, err)
	}

	var decision ports.Decision
	var text []string
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, variant.Text)
		case anthropic.ToolUseBlock:
			decision.ToolCalls = append(decision.ToolCalls, ports.ToolCall{
				ID:   variant.ID,
				Name: variant.Name,
				Args: argsOrEmpty(variant.Input),
			})
		}
	}
	decision.Text = strings.TrimSpace(strings.Join(text, "\n"))
	decision.Usage = &ports.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return decision, nil
}

// anthropicMessages flattens history and tool rounds into alternating turns.
// Consecutive same-role history entries are merged and leading assistant
// entries dropped, since the API requires a user turn first.
func anthropicMessages(in ports.DecisionInput) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	var role string
	var blocks []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == ports.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, m := range in.Messages {
		if m.Content == "" || (len(messages) == 0 && len(blocks) == 0 && m.Role == ports.RoleAssistant) {
			continue
		}
		if m.Role != role {
			flush()
			role = m.Role
		}
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	flush()

	for _, step := range in.Steps {
		calls := make([]anthropic.ContentBlockParamUnion, 0, len(step.Calls))
		for _, c := range step.Calls {
			calls = append(calls, anthropic.NewToolUseBlock(c.ID, argsOrEmpty(c.Args), c.Name))
		}
		results := make([]anthropic.ContentBlockParamUnion, 0, len(step.Results))
		for _, r := range step.Results {
			results = append(results, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
		}
		messages = append(messages,
			anthropic.NewAssistantMessage(calls...),
			anthropic.NewUserMessage(results...),
		)
	}
	return messages
}

func anthropicTools(specs []ports.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		props, required, err := schemaParts(spec.JSONSchema)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", spec.Name, err)
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		})
	}
	return tools, nil
}

var _ ports.Decider = (*AnthropicDecider)(nil)
