package wire

import (
	"context"
	"time"
)

// ConstraintKind discriminates the wire shape of a decoding constraint.
type ConstraintKind string

const (
	// ConstraintGrammar carries a textual grammar (tagged-text strategy).
	ConstraintGrammar ConstraintKind = "grammar"
	// ConstraintStructural carries trigger/schema/end tuples.
	ConstraintStructural ConstraintKind = "structural"
	// ConstraintJSONSchema carries a single JSON-Schema document.
	ConstraintJSONSchema ConstraintKind = "json_schema"
)

// Trigger is one structural-constraint tuple: the serving endpoint starts
// schema enforcement at Begin and releases it after End.
type Trigger struct {
	Begin  string         `json:"begin"`
	Schema map[string]any `json:"schema"`
	End    string         `json:"end"`
}

// Constraint is the raw constrained-decoding payload attached to a request.
// It is a pure function of (tool set, strategy) and is scoped to one request.
type Constraint struct {
	Kind       ConstraintKind `json:"kind"`
	Grammar    string         `json:"grammar,omitempty"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
	Triggers   []Trigger      `json:"triggers,omitempty"`
}

// Request is the input to ModelClient.Complete.
type Request struct {
	Model       string        `json:"model,omitempty"`
	Messages    []Message     `json:"messages"`
	Tools       []ToolSchema  `json:"tools,omitempty"`
	Constraint  *Constraint   `json:"constraint,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"-"`
}

// Response is the output of ModelClient.Complete. ToolCalls holds calls the
// backend returned in its native already-structured form; constrained text
// output is parsed downstream by the grammar pipeline.
type Response struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Usage      Usage      `json:"usage"`
	Model      string     `json:"model,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

// ModelClient is the inference-endpoint collaborator. Implementations must
// be safe for concurrent use, honor context cancellation, and report
// failures through the TransportError taxonomy.
type ModelClient interface {
	// Name returns the backend identifier (e.g. "openai", "anthropic").
	Name() string

	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)
}
