package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gramloop/gramloop/grammar"
	"github.com/gramloop/gramloop/wire"
)

// TextCodec targets grammar-only model families with no tool-call API at
// all: tool documentation is inlined into a leading instruction message,
// prior assistant calls are replayed in the rendered tagged syntax, and
// tool results are serialized as name/response pairs.
type TextCodec struct {
	preamble string
}

// TextOption configures a TextCodec.
type TextOption func(*TextCodec)

// WithPreamble sets the instruction text placed ahead of the generated tool
// documentation in the synthetic system message.
func WithPreamble(text string) TextOption {
	return func(tc *TextCodec) { tc.preamble = text }
}

// NewTextCodec creates a codec for text-completion model families.
func NewTextCodec(opts ...TextOption) *TextCodec {
	c := &TextCodec{preamble: defaultTextPreamble}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FormatRequest renders the whole conversation textually. When the history
// carries no leading system or developer message, a synthetic instruction
// message is injected; tool schemas are documented inline rather than sent
// as first-class descriptors.
func (c *TextCodec) FormatRequest(history []wire.Message, tools []wire.ToolSchema, artifact *grammar.Artifact) (wire.Request, error) {
	messages := make([]wire.Message, 0, len(history)+1)

	if !hasLeadingInstruction(history) {
		messages = append(messages, wire.SystemMessage(c.instructionMessage(tools)))
	}

	for i, msg := range history {
		switch msg.Role {
		case wire.RoleSystem, wire.RoleDeveloper:
			content := msg.Content
			if i == 0 {
				// Fold the tool documentation into the caller's own
				// instruction message.
				content = content + "\n\n" + c.toolDocumentation(tools)
			}
			messages = append(messages, wire.SystemMessage(content))
		case wire.RoleAssistant:
			content := msg.Content
			if len(msg.ToolCalls) > 0 {
				rendered := grammar.RenderCalls(msg.ToolCalls)
				if content != "" {
					content += "\n"
				}
				content += rendered
			}
			messages = append(messages, wire.AssistantMessage(content))
		case wire.RoleTool:
			messages = append(messages, wire.Message{
				Role:     wire.RoleTool,
				Content:  msg.Content,
				ToolName: msg.ToolName,
			})
		default:
			messages = append(messages, msg)
		}
	}

	req := wire.Request{Messages: messages}
	if artifact != nil {
		constraint := artifact.Constraint
		req.Constraint = &constraint
	}
	return req, nil
}

// ParseResponse parses constrained text via the artifact's strategy, or
// falls back to the rendered tagged syntax, which is this family's native
// call format.
func (c *TextCodec) ParseResponse(resp *wire.Response, artifact *grammar.Artifact) (wire.Message, []grammar.Parsed) {
	var parsed []grammar.Parsed
	if artifact != nil {
		parsed = grammar.Parse(artifact, resp.Text)
	} else {
		parsed = grammar.ParseRendered(resp.Text)
	}
	return assistantFromParsed(resp.Text, parsed), parsed
}

func hasLeadingInstruction(history []wire.Message) bool {
	if len(history) == 0 {
		return false
	}
	return history[0].Role == wire.RoleSystem || history[0].Role == wire.RoleDeveloper
}

func (c *TextCodec) instructionMessage(tools []wire.ToolSchema) string {
	return c.preamble + "\n\n" + c.toolDocumentation(tools)
}

// toolDocumentation renders inline textual tool docs for grammar-only
// models that cannot accept first-class descriptors.
func (c *TextCodec) toolDocumentation(tools []wire.ToolSchema) string {
	var sb strings.Builder
	sb.WriteString("# Available Tools\n")
	for _, tool := range tools {
		fmt.Fprintf(&sb, "\n## %s\n%s\n", tool.Name, tool.Description)
		if params, err := json.Marshal(tool.Parameters); err == nil {
			fmt.Fprintf(&sb, "Arguments schema: %s\n", params)
		}
	}
	return sb.String()
}

const defaultTextPreamble = `You are an assistant that can invoke tools. To invoke a tool, emit the call marker followed by the quoted tool name and a JSON object of arguments, one invocation per line. Emit nothing else when invoking tools.`
