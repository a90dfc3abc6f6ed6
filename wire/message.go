// Package wire defines the conversation data model shared by the kernel,
// codec, and grammar packages, together with the ModelClient contract and
// the adapters that implement it against real inference backends.
package wire

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the fundamental unit of conversation history. Messages are
// append-only: once created they are never mutated.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Tool-result correlation. Set only on tool-role messages, and must
	// reference a call that appeared in a preceding assistant message.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// DeveloperMessage creates a developer Message.
func DeveloperMessage(text string) Message {
	return Message{Role: RoleDeveloper, Content: text}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage creates an assistant Message carrying optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// ToolResultMessage creates a tool-role Message correlated to a prior call.
func ToolResultMessage(result ToolResult, toolName string) Message {
	return Message{
		Role:       RoleTool,
		Content:    result.OutputText(),
		ToolCallID: result.CallID,
		ToolName:   toolName,
	}
}

// ToolCall is a model-initiated tool invocation extracted from a response.
// Immutable once created; IDs are unique within a run.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// Raw preserves the argument bytes exactly as the model produced them.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ToolSchema describes a tool to the model. Parameters is a JSON-Schema
// shaped object owned by the tool source; the kernel treats it read-only.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolResult is produced exactly once per dispatched ToolCall.
type ToolResult struct {
	CallID   string        `json:"call_id"`
	Output   any           `json:"output,omitempty"`
	IsError  bool          `json:"is_error"`
	Duration time.Duration `json:"duration"`
}

// OutputText renders the result output as a string for message content.
func (r ToolResult) OutputText() string {
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Usage tracks token consumption reported by the model client.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}
