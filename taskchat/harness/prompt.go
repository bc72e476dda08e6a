package harness

import (
	"strings"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

// SystemPrompt is the fixed instruction block for every decision step.
const SystemPrompt = `You are a task management assistant. You help the user add, list, complete, update and delete their tasks.

Use the available operations to act on the user's tasks. Never invent task ids; list tasks first when you need one.
When several independent operations are needed, request them together.
Operations always act on the current user's tasks; you never need to supply a user id.

If an operation fails, explain the problem in plain language and ask a clarifying question when that helps.
Never repeat raw error text, ids of internal records or parameter dumps to the user.
Keep replies short and friendly. When listing tasks, show each title and whether it is done.`

// PromptBuilder assembles decider inputs from the system text, history and tool catalogue.
type PromptBuilder struct {
	system string
}

func NewPromptBuilder(system string) *PromptBuilder {
	if system == "" {
		system = SystemPrompt
	}
	return &PromptBuilder{system: system}
}

// Build flattens history plus the new user message into a DecisionInput.
func (b *PromptBuilder) Build(history []ports.Message, userMessage string, tools []ports.ToolSpec) ports.DecisionInput {
	// Normalize newlines and trim whitespace to keep prompts stable across clients
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	messages := make([]ports.PromptMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, ports.PromptMessage{Role: m.Role, Content: norm(m.Content)})
	}
	messages = append(messages, ports.PromptMessage{Role: ports.RoleUser, Content: norm(userMessage)})

	return ports.DecisionInput{
		System:   norm(b.system),
		Messages: messages,
		Tools:    tools,
	}
}
