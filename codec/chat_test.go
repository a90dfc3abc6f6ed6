package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramloop/gramloop/grammar"
	"github.com/gramloop/gramloop/wire"
)

func testTools() []wire.ToolSchema {
	return []wire.ToolSchema{{
		Name:        "add",
		Description: "Adds two integers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "integer"},
				"y": map[string]any{"type": "integer"},
			},
			"required": []string{"x", "y"},
		},
	}}
}

func TestChatCodecFormatRequest(t *testing.T) {
	codec := NewChatCodec()
	history := []wire.Message{
		wire.DeveloperMessage("be terse"),
		wire.UserMessage("add 2 and 3"),
	}

	req, err := codec.FormatRequest(history, testTools(), nil)
	require.NoError(t, err)

	require.Len(t, req.Messages, 2)
	// Developer role downgrades to system by default.
	assert.Equal(t, wire.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content)
	assert.Equal(t, wire.RoleUser, req.Messages[1].Role)

	require.Len(t, req.Tools, 1)
	assert.Nil(t, req.Constraint)
}

func TestChatCodecKeepsDeveloperRole(t *testing.T) {
	codec := NewChatCodec(WithDeveloperRole())
	req, err := codec.FormatRequest([]wire.Message{wire.DeveloperMessage("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, wire.RoleDeveloper, req.Messages[0].Role)
}

func TestChatCodecAttachesConstraint(t *testing.T) {
	artifact, err := grammar.Build(testTools(), grammar.StrategyTagged)
	require.NoError(t, err)

	codec := NewChatCodec()
	req, err := codec.FormatRequest([]wire.Message{wire.UserMessage("go")}, testTools(), artifact)
	require.NoError(t, err)

	require.NotNil(t, req.Constraint)
	assert.Equal(t, wire.ConstraintGrammar, req.Constraint.Kind)
	assert.NotEmpty(t, req.Constraint.Grammar)
}

func TestChatCodecCorrelation(t *testing.T) {
	result := wire.ToolResult{CallID: "call_1", Output: "5"}
	history := []wire.Message{
		wire.UserMessage("add 2 and 3"),
		wire.AssistantMessage("", wire.ToolCall{ID: "call_1", Name: "add"}),
		wire.ToolResultMessage(result, "add"),
	}

	t.Run("by call id", func(t *testing.T) {
		req, err := NewChatCodec().FormatRequest(history, nil, nil)
		require.NoError(t, err)
		require.Len(t, req.Messages, 3)
		assert.Equal(t, wire.RoleTool, req.Messages[2].Role)
		assert.Equal(t, "call_1", req.Messages[2].ToolCallID)
	})

	t.Run("by name", func(t *testing.T) {
		req, err := NewChatCodec(WithCorrelation(CorrelateByName)).FormatRequest(history, nil, nil)
		require.NoError(t, err)
		require.Len(t, req.Messages, 3)
		assert.Equal(t, wire.RoleUser, req.Messages[2].Role)
		assert.Contains(t, req.Messages[2].Content, "add")
		assert.Contains(t, req.Messages[2].Content, "5")
	})
}

func TestChatCodecParseResponseNative(t *testing.T) {
	codec := NewChatCodec()
	resp := &wire.Response{
		Text: "let me add those",
		ToolCalls: []wire.ToolCall{
			{ID: "call_1", Name: "add", Arguments: map[string]any{"x": float64(2), "y": float64(3)}},
		},
	}

	assistant, parsed := codec.ParseResponse(resp, nil)
	require.Len(t, parsed, 1)
	assert.NoError(t, parsed[0].Err)
	assert.Equal(t, "add", parsed[0].Call.Name)

	assert.Equal(t, wire.RoleAssistant, assistant.Role)
	assert.Equal(t, "let me add those", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
}

func TestChatCodecParseResponseNativeNoCalls(t *testing.T) {
	codec := NewChatCodec()
	assistant, parsed := codec.ParseResponse(&wire.Response{Text: "the answer is 5"}, nil)
	assert.Empty(t, parsed)
	assert.Equal(t, "the answer is 5", assistant.Content)
}

func TestChatCodecParseResponseConstrained(t *testing.T) {
	artifact, err := grammar.Build(testTools(), grammar.StrategyTagged)
	require.NoError(t, err)

	codec := NewChatCodec()
	resp := &wire.Response{Text: `<<call>> "add" {"x": 2, "y": 3}`}

	assistant, parsed := codec.ParseResponse(resp, artifact)
	require.Len(t, parsed, 1)
	require.NoError(t, parsed[0].Err)

	// Raw call syntax does not leak into the assistant message.
	assert.Empty(t, assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "add", assistant.ToolCalls[0].Name)
}

func TestChatCodecKeepsFailedParsesInAssistantMessage(t *testing.T) {
	artifact, err := grammar.Build(testTools(), grammar.StrategyTagged)
	require.NoError(t, err)

	codec := NewChatCodec()
	resp := &wire.Response{Text: "<<call>> \"add\" {\"x\": 1, \"y\": 2}\n<<call>> \"add\" {broken"}

	assistant, parsed := codec.ParseResponse(resp, artifact)
	require.Len(t, parsed, 2)
	require.Error(t, parsed[1].Err)

	// The failed call stays in the assistant message so the error result
	// appended for it references a known call id.
	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, parsed[1].Call.ID, assistant.ToolCalls[1].ID)
	assert.Equal(t, "add", assistant.ToolCalls[1].Name)
}
