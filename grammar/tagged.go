package grammar

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/gramloop/gramloop/wire"
)

// CallMarker is the literal that opens every tool invocation under the
// tagged-text strategy. The builder embeds it in the grammar and the parser
// scans for the same literal.
const CallMarker = "<<call>>"

// buildTagged compiles a GBNF-style grammar whose root is one-or-more tool
// invocations: the call marker, a quoted tool-name alternation, and a full
// JSON object body so nested braces and quoted strings inside argument
// values are representable.
func buildTagged(tools []wire.ToolSchema) (*Artifact, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	alternatives := make([]string, 0, len(names))
	for _, name := range names {
		// Escape control characters in the name, then escape again for
		// embedding as a grammar literal. The parser reverses both layers.
		alternatives = append(alternatives, gbnfLiteral(`"`+EscapeToolName(name)+`"`))
	}

	var sb strings.Builder
	sb.WriteString("root ::= call+\n")
	fmt.Fprintf(&sb, "call ::= %s ws name ws object nl\n", gbnfLiteral(CallMarker))
	fmt.Fprintf(&sb, "name ::= %s\n", strings.Join(alternatives, " | "))
	sb.WriteString(taggedJSONRules)

	return &Artifact{
		Strategy: StrategyTagged,
		Constraint: wire.Constraint{
			Kind:    wire.ConstraintGrammar,
			Grammar: sb.String(),
		},
		tools: indexTools(tools),
	}, nil
}

// taggedJSONRules is the argument-body grammar: a standard JSON object
// accepting arbitrarily nested containers and escaped strings. A naive
// "any non-brace character" body rule would reject nested objects.
const taggedJSONRules = `object ::= "{" ws (member (ws "," ws member)*)? ws "}"
member ::= string ws ":" ws value
value ::= object | array | string | number | "true" | "false" | "null"
array ::= "[" ws (value (ws "," ws value)*)? ws "]"
string ::= "\"" schar* "\""
schar ::= [^"\\] | "\\" (["\\/bfnrt] | "u" [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F] [0-9a-fA-F])
number ::= "-"? [0-9]+ ("." [0-9]+)? ([eE] [+-]? [0-9]+)?
ws ::= [ \t\n]*
nl ::= [ \t]* "\n"?
`

// RenderCalls emits tool calls in the exact textual form the tagged grammar
// constrains the model to produce. It is the builder half's canonical
// rendering, used by text codecs to replay prior assistant calls and by
// round-trip tests.
func RenderCalls(calls []wire.ToolCall) string {
	var sb strings.Builder
	for _, call := range calls {
		body := call.Raw
		if body == nil && call.Arguments != nil {
			if b, err := json.Marshal(call.Arguments); err == nil {
				body = b
			}
		}
		if body == nil {
			body = json.RawMessage("{}")
		}
		fmt.Fprintf(&sb, "%s \"%s\" %s\n", CallMarker, EscapeToolName(call.Name), body)
	}
	return sb.String()
}

// ParseRendered scans text in the rendered tagged format without an
// artifact. Text codecs use it as the native parser for model families
// whose only tool-call surface is the tagged syntax itself.
func ParseRendered(raw string) []Parsed {
	return parseTagged(raw)
}

// parseTagged scans for call markers and decodes each invocation. Argument
// bodies that fail to decode become a per-call parse error; scanning
// resumes at the next marker so sibling calls survive.
func parseTagged(raw string) []Parsed {
	var out []Parsed
	rest := raw
	for {
		idx := strings.Index(rest, CallMarker)
		if idx < 0 {
			return out
		}
		rest = skipSpace(rest[idx+len(CallMarker):])

		name, nameLen, ok := scanQuotedString(rest)
		if !ok {
			out = append(out, Parsed{
				Call: wire.ToolCall{ID: newCallID()},
				Err: &wire.ParseError{KernelError: wire.KernelError{
					Message: "missing quoted tool name after call marker",
				}},
			})
			continue
		}
		rest = skipSpace(rest[nameLen:])

		body, bodyLen, ok := extractJSONObject(rest)
		if !ok {
			out = append(out, failedCall(name, "unterminated argument object"))
			continue
		}
		rest = rest[bodyLen:]

		var args map[string]any
		if err := json.Unmarshal([]byte(body), &args); err != nil {
			out = append(out, failedCall(name, "argument body is not valid JSON"))
			continue
		}

		out = append(out, Parsed{Call: wire.ToolCall{
			ID:        newCallID(),
			Name:      name,
			Arguments: args,
			Raw:       json.RawMessage(body),
		}})
	}
}

func failedCall(name, msg string) Parsed {
	id := newCallID()
	return Parsed{
		Call: wire.ToolCall{ID: id, Name: name},
		Err: &wire.ParseError{
			KernelError: wire.KernelError{Message: msg},
			CallID:      id,
			Tool:        name,
		},
	}
}

// EscapeToolName escapes quote and backslash characters so a tool name can
// be embedded in the grammar and in rendered call text.
func EscapeToolName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// UnescapeToolName reverses EscapeToolName.
func UnescapeToolName(escaped string) string {
	var sb strings.Builder
	for i := 0; i < len(escaped); {
		r, size := utf8.DecodeRuneInString(escaped[i:])
		if r == '\\' && i+size < len(escaped) {
			next, nextSize := utf8.DecodeRuneInString(escaped[i+size:])
			if next == '"' || next == '\\' {
				sb.WriteRune(next)
				i += size + nextSize
				continue
			}
		}
		sb.WriteRune(r)
		i += size
	}
	return sb.String()
}

// gbnfLiteral renders s as a double-quoted grammar literal.
func gbnfLiteral(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// scanQuotedString reads a leading double-quoted, backslash-escaped string
// and returns the unescaped content and the number of input bytes consumed.
func scanQuotedString(s string) (content string, consumed int, ok bool) {
	if len(s) == 0 || s[0] != '"' {
		return "", 0, false
	}
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // skip the escaped character
		case '"':
			return UnescapeToolName(s[1:i]), i + 1, true
		}
	}
	return "", 0, false
}

// extractJSONObject returns the leading balanced JSON object of s, counting
// braces outside of strings and honoring string escapes.
func extractJSONObject(s string) (body string, consumed int, ok bool) {
	if len(s) == 0 || s[0] != '{' {
		return "", 0, false
	}
	depth := 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], i + 1, true
			}
		}
	}
	return "", 0, false
}

func skipSpace(s string) string {
	return strings.TrimLeft(s, " \t\r\n")
}

func newCallID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "call_unknown"
	}
	return "call_" + id
}
