// Package grammar implements the constraint pipeline: for each decoding
// strategy it builds the constraint artifact attached to an outgoing model
// request, and parses responses produced under that artifact. Builder and
// parser are maintained as one symmetric pair per strategy, so whatever the
// builder promises the parser can consume.
package grammar

import (
	"fmt"

	"github.com/gramloop/gramloop/wire"
	"github.com/xeipuuv/gojsonschema"
)

// Strategy selects how tool-call output is constrained and parsed.
type Strategy string

const (
	// StrategyTagged constrains output to a textual grammar of marker-tagged
	// tool invocations.
	StrategyTagged Strategy = "tagged-text"
	// StrategyStructural constrains output with per-tool
	// begin-literal/schema/end-literal tuples enforced by the endpoint.
	StrategyStructural Strategy = "structural"
	// StrategyJSONSchema constrains output to a single discriminated-union
	// JSON document via the endpoint's structured-output support.
	StrategyJSONSchema Strategy = "json-schema"
	// StrategyNone attaches no constraint; the model family's native
	// tool-call format is relied upon and parsed by the codec.
	StrategyNone Strategy = "none"
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyTagged, StrategyStructural, StrategyJSONSchema, StrategyNone:
		return Strategy(s), nil
	default:
		return "", &wire.ConfigError{KernelError: wire.KernelError{
			Message: fmt.Sprintf("unknown grammar strategy %q", s),
		}}
	}
}

// Artifact is a compiled constraint plus the metadata needed to parse a
// response produced under it. Artifacts are built fresh per turn from the
// current tool set and are scoped to one outgoing request.
type Artifact struct {
	Strategy   Strategy
	Constraint wire.Constraint

	// Parse-side metadata, keyed by tool name.
	tools    map[string]wire.ToolSchema
	compiled map[string]*gojsonschema.Schema
}

// Tools returns the tool set snapshot the artifact was built from.
func (a *Artifact) Tools() []wire.ToolSchema {
	out := make([]wire.ToolSchema, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, t)
	}
	return out
}

// Parsed is one entry of a parse outcome: either a well-formed tool call or
// a per-call parse error. When Err is set, Call still carries the call ID
// and, when recoverable, the tool name, so the kernel can correlate an
// error result.
type Parsed struct {
	Call wire.ToolCall
	Err  error
}

// Build compiles a constraint artifact for the tool set under the given
// strategy. It returns (nil, nil) for StrategyNone. A SchemaError is
// returned when a tool's parameter schema uses a construct the strategy
// cannot express; callers are expected to fall back to StrategyJSONSchema
// or StrategyNone.
func Build(tools []wire.ToolSchema, strategy Strategy) (*Artifact, error) {
	switch strategy {
	case StrategyNone:
		return nil, nil
	case StrategyTagged:
		return buildTagged(tools)
	case StrategyStructural:
		return buildStructural(tools)
	case StrategyJSONSchema:
		return buildJSONSchema(tools)
	default:
		return nil, &wire.ConfigError{KernelError: wire.KernelError{
			Message: fmt.Sprintf("unknown grammar strategy %q", strategy),
		}}
	}
}

// Parse interprets raw response text produced under the artifact. The
// result preserves emission order; a parse error for one call never
// discards calls parsed successfully before or after it.
func Parse(artifact *Artifact, raw string) []Parsed {
	if artifact == nil {
		return nil
	}
	switch artifact.Strategy {
	case StrategyTagged:
		return parseTagged(raw)
	case StrategyStructural:
		return artifact.parseStructural(raw)
	case StrategyJSONSchema:
		return artifact.parseJSONSchema(raw)
	default:
		return nil
	}
}

func indexTools(tools []wire.ToolSchema) map[string]wire.ToolSchema {
	m := make(map[string]wire.ToolSchema, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	return m
}
