// Package codec translates between the kernel's internal conversation model
// and the wire shape a given model family expects, in both directions. Each
// family is a Codec implementation selected at construction; the kernel
// never branches on family names.
package codec

import (
	"github.com/gramloop/gramloop/grammar"
	"github.com/gramloop/gramloop/wire"
)

// Correlation selects how prior tool results are serialized for the model.
type Correlation string

const (
	// CorrelateByCallID serializes tool results as call-id-correlated
	// tool-role messages (OpenAI convention).
	CorrelateByCallID Correlation = "call_id"
	// CorrelateByName serializes tool results as name/response pairs
	// rendered into user-visible text.
	CorrelateByName Correlation = "name"
)

// Codec converts between internal Messages/ToolCalls and a model family's
// request/response shapes, and normalizes tool-result correlation.
type Codec interface {
	// FormatRequest maps history and tool descriptors into a model request,
	// attaching the grammar artifact's payload when present.
	FormatRequest(history []wire.Message, tools []wire.ToolSchema, artifact *grammar.Artifact) (wire.Request, error)

	// ParseResponse extracts the assistant message and ordered tool calls
	// from a response, selecting the parser matching the artifact's
	// strategy, or the family's native parser when the artifact is nil.
	// A response with zero well-formed calls yields an empty parse list,
	// not an error.
	ParseResponse(resp *wire.Response, artifact *grammar.Artifact) (wire.Message, []grammar.Parsed)
}

// assistantFromParsed builds the assistant history message for a parsed
// response. When calls were extracted from constrained text, the raw call
// syntax does not belong in Content: codecs re-render calls from ToolCalls
// when formatting the next request. Parse-failed calls are kept too, so the
// error result appended for them references a call id that exists in this
// message; a tool-role message must always correlate to a preceding
// assistant call.
func assistantFromParsed(text string, parsed []grammar.Parsed) wire.Message {
	calls := make([]wire.ToolCall, 0, len(parsed))
	for _, p := range parsed {
		calls = append(calls, p.Call)
	}
	content := text
	if len(parsed) > 0 {
		content = ""
	}
	return wire.AssistantMessage(content, calls...)
}
