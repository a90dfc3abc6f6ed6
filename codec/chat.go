package codec

import (
	"fmt"

	"github.com/gramloop/gramloop/grammar"
	"github.com/gramloop/gramloop/wire"
)

// ChatCodec targets model families with a first-class chat/tool API:
// tool descriptors ride the request, assistant tool calls are structured,
// and tool results correlate by call ID (or by name, per family option).
type ChatCodec struct {
	correlation  Correlation
	keepsDevRole bool
}

// ChatOption configures a ChatCodec.
type ChatOption func(*ChatCodec)

// WithCorrelation overrides the tool-result correlation convention.
func WithCorrelation(c Correlation) ChatOption {
	return func(cc *ChatCodec) { cc.correlation = c }
}

// WithDeveloperRole keeps developer-role messages as-is instead of
// downgrading them to system.
func WithDeveloperRole() ChatOption {
	return func(cc *ChatCodec) { cc.keepsDevRole = true }
}

// NewChatCodec creates a codec for chat-native model families. The default
// correlation is by call ID.
func NewChatCodec(opts ...ChatOption) *ChatCodec {
	c := &ChatCodec{correlation: CorrelateByCallID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FormatRequest passes messages through with role normalization, attaches
// tool descriptors first-class, and forwards the constraint payload.
func (c *ChatCodec) FormatRequest(history []wire.Message, tools []wire.ToolSchema, artifact *grammar.Artifact) (wire.Request, error) {
	messages := make([]wire.Message, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case wire.RoleDeveloper:
			if !c.keepsDevRole {
				msg.Role = wire.RoleSystem
			}
			messages = append(messages, msg)
		case wire.RoleTool:
			if c.correlation == CorrelateByName {
				messages = append(messages, wire.UserMessage(renderNamePair(msg)))
				continue
			}
			messages = append(messages, msg)
		default:
			messages = append(messages, msg)
		}
	}

	req := wire.Request{Messages: messages, Tools: tools}
	if artifact != nil {
		constraint := artifact.Constraint
		req.Constraint = &constraint
	}
	return req, nil
}

// ParseResponse selects the strategy parser, or reads the family's native
// already-structured call list when no artifact is in play.
func (c *ChatCodec) ParseResponse(resp *wire.Response, artifact *grammar.Artifact) (wire.Message, []grammar.Parsed) {
	if artifact == nil {
		parsed := make([]grammar.Parsed, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			parsed = append(parsed, grammar.Parsed{Call: call})
		}
		return wire.AssistantMessage(resp.Text, resp.ToolCalls...), parsed
	}

	parsed := grammar.Parse(artifact, resp.Text)
	return assistantFromParsed(resp.Text, parsed), parsed
}

// renderNamePair renders a tool-role message as a name/response pair.
func renderNamePair(msg wire.Message) string {
	return fmt.Sprintf("Tool %s returned:\n%s", msg.ToolName, msg.Content)
}
