package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIProvider = "openai"

// OpenAIDecider implements Decider with the chat completions API. Any
// OpenAI-compatible endpoint works through BaseURL.
type OpenAIDecider struct {
	client      *openai.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewOpenAIDecider creates a decider with SDK retries disabled.
func NewOpenAIDecider(cfg DeciderConfig) (*OpenAIDecider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ports.ErrDecisionMisconfigured)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &OpenAIDecider{
		client:      openai.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (d *OpenAIDecider) Decide(ctx context.Context, in ports.DecisionInput) (ports.Decision, error) {
	tools, err := openAITools(in.Tools)
	if err != nil {
		return ports.Decision{}, fmt.Errorf("%w: %v", ports.ErrDecisionMisconfigured, err)
	}

	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(openAIMessages(in)),
		Model:       openai.F(openai.ChatModel(d.model)),
		MaxTokens:   openai.F(d.maxTokens),
		Temperature: openai.F(d.temperature),
	}
	if len(tools) > 0 {
		params.Tools = openai.F(tools)
	}

	completion, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return ports.Decision{}, classifyStatus(openAIProvider, apiErr.StatusCode, err)
		}
		return ports.Decision{}, classifyTransport(openAIProvider, err)
	}
	if len(completion.Choices) == 0 {
		return ports.Decision{}, fmt.Errorf("%w: %s returned no choices", ports.ErrDecisionMalformed, openAIProvider)
	}

	msg := completion.Choices[0].Message
	decision := ports.Decision{
		Text: strings.TrimSpace(msg.Content),
		Usage: &ports.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		decision.ToolCalls = append(decision.ToolCalls, ports.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return decision, nil
}

func openAIMessages(in ports.DecisionInput) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages)+2*len(in.Steps)+1)
	if in.System != "" {
		messages = append(messages, openai.SystemMessage(in.System))
	}

	for _, m := range in.Messages {
		if m.Content == "" {
			continue
		}
		if m.Role == ports.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	for _, step := range in.Steps {
		calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(step.Calls))
		for _, c := range step.Calls {
			calls = append(calls, openai.ChatCompletionMessageToolCallParam{
				ID:   openai.F(c.ID),
				Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
				Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      openai.F(c.Name),
					Arguments: openai.F(string(argsOrEmpty(c.Args))),
				}),
			})
		}
		messages = append(messages, openai.ChatCompletionAssistantMessageParam{
			Role:      openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
			ToolCalls: openai.F(calls),
		})
		for _, r := range step.Results {
			messages = append(messages, openai.ToolMessage(r.CallID, r.Content))
		}
	}
	return messages
}

func openAITools(specs []ports.ToolSpec) ([]openai.ChatCompletionToolParam, error) {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		var params map[string]any
		if err := json.Unmarshal(spec.JSONSchema, &params); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", spec.Name, err)
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.F(spec.Name),
				Description: openai.F(spec.Description),
				Parameters:  openai.F(openai.FunctionParameters(params)),
			}),
		})
	}
	return tools, nil
}

var _ ports.Decider = (*OpenAIDecider)(nil)
