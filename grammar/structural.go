package grammar

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gramloop/gramloop/wire"
)

// structuralBegin and structuralEnd render the per-tool trigger literals.
func structuralBegin(name string) string { return "<tool:" + name + ">" }
func structuralEnd(name string) string   { return "</tool:" + name + ">" }

// unionKeywords are JSON-Schema constructs the structural strategy cannot
// express: the serving endpoint enforces one schema per trigger and has no
// way to branch.
var unionKeywords = []string{"oneOf", "anyOf", "not"}

// buildStructural compiles one begin-literal/schema/end-literal tuple per
// tool. Each tool's parameter schema is compiled eagerly so the paired
// parser can validate enclosed argument text, and so inexpressible schemas
// fail at build time rather than mid-run.
func buildStructural(tools []wire.ToolSchema) (*Artifact, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	sorted := make([]wire.ToolSchema, len(tools))
	copy(sorted, tools)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	triggers := make([]wire.Trigger, 0, len(sorted))
	compiled := make(map[string]*gojsonschema.Schema, len(sorted))
	for _, tool := range sorted {
		if keyword := findUnionKeyword(tool.Parameters); keyword != "" {
			return nil, &wire.SchemaError{
				KernelError: wire.KernelError{Message: fmt.Sprintf("schema uses %q", keyword)},
				Tool:        tool.Name,
				Strategy:    string(StrategyStructural),
			}
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Parameters))
		if err != nil {
			return nil, &wire.SchemaError{
				KernelError: wire.KernelError{Message: "parameter schema does not compile", Cause: err},
				Tool:        tool.Name,
				Strategy:    string(StrategyStructural),
			}
		}
		compiled[tool.Name] = schema
		triggers = append(triggers, wire.Trigger{
			Begin:  structuralBegin(tool.Name),
			Schema: tool.Parameters,
			End:    structuralEnd(tool.Name),
		})
	}

	return &Artifact{
		Strategy: StrategyStructural,
		Constraint: wire.Constraint{
			Kind:     wire.ConstraintStructural,
			Triggers: triggers,
		},
		tools:    indexTools(tools),
		compiled: compiled,
	}, nil
}

// findUnionKeyword walks a schema document and returns the first union
// construct it encounters, or "" when the schema is expressible.
func findUnionKeyword(schema map[string]any) string {
	for _, keyword := range unionKeywords {
		if _, ok := schema[keyword]; ok {
			return keyword
		}
	}
	for _, v := range schema {
		switch nested := v.(type) {
		case map[string]any:
			if k := findUnionKeyword(nested); k != "" {
				return k
			}
		case []any:
			for _, item := range nested {
				if m, ok := item.(map[string]any); ok {
					if k := findUnionKeyword(m); k != "" {
						return k
					}
				}
			}
		}
	}
	return ""
}

// parseStructural scans for trigger occurrences in emission order, matches
// each to its end literal, and decodes the enclosed text against the
// owning tool's schema.
func (a *Artifact) parseStructural(raw string) []Parsed {
	var out []Parsed
	rest := raw
	for {
		name, at := a.earliestTrigger(rest)
		if at < 0 {
			return out
		}
		begin := structuralBegin(name)
		end := structuralEnd(name)
		rest = rest[at+len(begin):]

		closing := strings.Index(rest, end)
		if closing < 0 {
			out = append(out, failedCall(name, "missing end literal "+end))
			return out
		}
		enclosed := rest[:closing]
		rest = rest[closing+len(end):]

		out = append(out, a.decodeStructuralCall(name, enclosed))
	}
}

// earliestTrigger finds the begin literal that occurs first in s.
func (a *Artifact) earliestTrigger(s string) (name string, at int) {
	at = -1
	for toolName := range a.tools {
		idx := strings.Index(s, structuralBegin(toolName))
		if idx < 0 {
			continue
		}
		if at < 0 || idx < at || (idx == at && toolName < name) {
			name, at = toolName, idx
		}
	}
	return name, at
}

func (a *Artifact) decodeStructuralCall(name, enclosed string) Parsed {
	var args map[string]any
	trimmed := strings.TrimSpace(enclosed)
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return failedCall(name, "argument body is not valid JSON")
	}

	if schema, ok := a.compiled[name]; ok {
		result, err := schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return failedCall(name, "argument validation failed: "+err.Error())
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return failedCall(name, "arguments violate schema: "+strings.Join(msgs, "; "))
		}
	}

	return Parsed{Call: wire.ToolCall{
		ID:        newCallID(),
		Name:      name,
		Arguments: args,
		Raw:       json.RawMessage(trimmed),
	}}
}
