package grammar

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gramloop/gramloop/wire"
)

// buildJSONSchema compiles a single discriminated-union schema keyed by tool
// name and relies on the endpoint's native structured-output enforcement.
// The document accepts one call object or an array of them, so parallel
// calls remain representable in a single completion.
func buildJSONSchema(tools []wire.ToolSchema) (*Artifact, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	sorted := make([]wire.ToolSchema, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	variants := make([]any, 0, len(sorted))
	for _, tool := range sorted {
		variants = append(variants, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":      map[string]any{"const": tool.Name},
				"arguments": tool.Parameters,
			},
			"required":             []string{"name", "arguments"},
			"additionalProperties": false,
		})
	}
	callSchema := map[string]any{"oneOf": variants}

	return &Artifact{
		Strategy: StrategyJSONSchema,
		Constraint: wire.Constraint{
			Kind: wire.ConstraintJSONSchema,
			JSONSchema: map[string]any{
				"oneOf": []any{
					callSchema,
					map[string]any{"type": "array", "minItems": 1, "items": callSchema},
				},
			},
		},
		tools: indexTools(tools),
	}, nil
}

// envelope is the shape of one constrained call object.
type envelope struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// parseJSONSchema reads the single JSON value the constraint produced and
// fans it out into tool calls.
func (a *Artifact) parseJSONSchema(raw string) []Parsed {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	var envelopes []envelope
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &envelopes); err != nil {
			return []Parsed{failedCall("", "response is not a valid JSON call array")}
		}
	} else {
		var one envelope
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return []Parsed{failedCall("", "response is not a valid JSON call object")}
		}
		envelopes = []envelope{one}
	}

	out := make([]Parsed, 0, len(envelopes))
	for _, env := range envelopes {
		if _, known := a.tools[env.Name]; !known {
			out = append(out, failedCall(env.Name, fmt.Sprintf("call names unknown tool %q", env.Name)))
			continue
		}
		var args map[string]any
		if err := json.Unmarshal(env.Arguments, &args); err != nil {
			out = append(out, failedCall(env.Name, "arguments are not a JSON object"))
			continue
		}
		out = append(out, Parsed{Call: wire.ToolCall{
			ID:        newCallID(),
			Name:      env.Name,
			Arguments: args,
			Raw:       env.Arguments,
		}})
	}
	return out
}
