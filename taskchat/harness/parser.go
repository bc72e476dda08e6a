package harness

import (
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/taskchat/taskchat/harness/ports"
)

// OutputParser normalizes raw decider output into a well-formed Decision.
type OutputParser struct{}

// NewOutputParser creates a parser.
func NewOutputParser() *OutputParser {
	return &OutputParser{}
}

// Normalize checks a decision and repairs what it safely can. Anything left
// unusable is reported wrapped in ports.ErrDecisionMalformed.
func (p *OutputParser) Normalize(d ports.Decision) (ports.Decision, error) {
	if len(d.ToolCalls) == 0 {
		d.Text = strings.TrimSpace(d.Text)
		if d.Text == "" {
			return ports.Decision{}, fmt.Errorf("%w: neither reply text nor operation requests", ports.ErrDecisionMalformed)
		}
		return d, nil
	}

	seen := make(map[string]bool, len(d.ToolCalls))
	calls := make([]ports.ToolCall, 0, len(d.ToolCalls))
	for i, call := range d.ToolCalls {
		if err := p.ValidateToolCall(&call); err != nil {
			return ports.Decision{}, fmt.Errorf("%w: call %d: %v", ports.ErrDecisionMalformed, i, err)
		}
		if call.ID == "" || seen[call.ID] {
			call.ID = fmt.Sprintf("call_%d", i+1)
		}
		seen[call.ID] = true
		calls = append(calls, call)
	}

	// Requests take precedence; any narration alongside them is not a reply.
	d.Text = ""
	d.ToolCalls = calls
	return d, nil
}

// ValidateToolCall checks that a tool call is well-formed, repairing its arguments in place.
func (p *OutputParser) ValidateToolCall(call *ports.ToolCall) error {
	call.Name = strings.TrimSpace(call.Name)
	if call.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	args := strings.TrimSpace(string(call.Args))
	if args == "" || args == "null" {
		call.Args = json.RawMessage(`{}`)
		return nil
	}
	if json.Valid([]byte(args)) {
		call.Args = json.RawMessage(args)
		return nil
	}

	fixed := p.fixJSON(args)
	if !json.Valid([]byte(fixed)) {
		return fmt.Errorf("tool arguments are not valid JSON")
	}
	call.Args = json.RawMessage(fixed)
	return nil
}

// fixJSON repairs trailing commas, unquoted keys and single-quoted strings.
// It only rewrites text outside string literals, so values keep their
// apostrophes, commas and colons.
func (p *OutputParser) fixJSON(in string) string {
	var b strings.Builder
	b.Grow(len(in) + 8)

	var quote byte  // 0 outside a string, else the opening delimiter
	last := byte(0) // last structural byte written outside strings
	for i := 0; i < len(in); i++ {
		ch := in[i]

		if quote != 0 {
			switch {
			case ch == '\\' && i+1 < len(in):
				next := in[i+1]
				i++
				if quote == '\'' && next == '\'' {
					b.WriteByte('\'')
					continue
				}
				b.WriteByte(ch)
				b.WriteByte(next)
			case ch == quote:
				b.WriteByte('"')
				quote = 0
				last = '"'
			case ch == '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(ch)
			}
			continue
		}

		switch {
		case ch == '"' || ch == '\'':
			quote = ch
			b.WriteByte('"')
		case ch == ',' && closesNext(in, i+1):
			// dropped
		case isIdentStart(ch) && (last == '{' || last == ','):
			end := i
			for end < len(in) && isIdentPart(in[end]) {
				end++
			}
			if colon := skipSpace(in, end); colon < len(in) && in[colon] == ':' {
				b.WriteByte('"')
				b.WriteString(in[i:end])
				b.WriteByte('"')
			} else {
				b.WriteString(in[i:end])
			}
			i = end - 1
			last = 'a'
		default:
			b.WriteByte(ch)
			if !isSpace(ch) {
				last = ch
			}
		}
	}
	return b.String()
}

func closesNext(s string, i int) bool {
	i = skipSpace(s, i)
	return i < len(s) && (s[i] == '}' || s[i] == ']')
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}
