package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramloop/gramloop/wire"
)

func TestBuildStructural(t *testing.T) {
	artifact, err := Build([]wire.ToolSchema{searchTool(), addTool()}, StrategyStructural)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, wire.ConstraintStructural, artifact.Constraint.Kind)
	require.Len(t, artifact.Constraint.Triggers, 2)

	// Triggers are sorted by tool name.
	assert.Equal(t, "<tool:add>", artifact.Constraint.Triggers[0].Begin)
	assert.Equal(t, "</tool:add>", artifact.Constraint.Triggers[0].End)
	assert.Equal(t, "<tool:search>", artifact.Constraint.Triggers[1].Begin)
	assert.NotNil(t, artifact.Constraint.Triggers[0].Schema)
}

func TestBuildStructuralRejectsUnionSchemas(t *testing.T) {
	for _, keyword := range []string{"oneOf", "anyOf", "not"} {
		t.Run(keyword, func(t *testing.T) {
			tool := wire.ToolSchema{
				Name: "flexible",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"value": map[string]any{
							keyword: []any{
								map[string]any{"type": "string"},
								map[string]any{"type": "integer"},
							},
						},
					},
				},
			}

			artifact, err := Build([]wire.ToolSchema{tool}, StrategyStructural)
			assert.Nil(t, artifact)
			var se *wire.SchemaError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "flexible", se.Tool)
			assert.Equal(t, string(StrategyStructural), se.Strategy)
		})
	}
}

func TestParseStructural(t *testing.T) {
	artifact, err := Build([]wire.ToolSchema{addTool(), searchTool()}, StrategyStructural)
	require.NoError(t, err)

	raw := `<tool:add>{"x": 2, "y": 3}</tool:add><tool:search>{"query": "go"}</tool:search>`
	parsed := Parse(artifact, raw)
	require.Len(t, parsed, 2)

	require.NoError(t, parsed[0].Err)
	assert.Equal(t, "add", parsed[0].Call.Name)
	assert.Equal(t, float64(2), parsed[0].Call.Arguments["x"])

	require.NoError(t, parsed[1].Err)
	assert.Equal(t, "search", parsed[1].Call.Name)
}

func TestParseStructuralValidatesArguments(t *testing.T) {
	artifact, err := Build([]wire.ToolSchema{addTool()}, StrategyStructural)
	require.NoError(t, err)

	// x is a string; the schema requires an integer.
	parsed := Parse(artifact, `<tool:add>{"x": "two", "y": 3}</tool:add>`)
	require.Len(t, parsed, 1)
	require.Error(t, parsed[0].Err)
	assert.Equal(t, "add", parsed[0].Call.Name)
}

func TestParseStructuralMissingEndLiteral(t *testing.T) {
	artifact, err := Build([]wire.ToolSchema{addTool()}, StrategyStructural)
	require.NoError(t, err)

	parsed := Parse(artifact, `<tool:add>{"x": 1, "y": 2}`)
	require.Len(t, parsed, 1)
	require.Error(t, parsed[0].Err)
	assert.Contains(t, parsed[0].Err.Error(), "</tool:add>")
}

func TestParseStructuralErrorIsolation(t *testing.T) {
	artifact, err := Build([]wire.ToolSchema{addTool(), searchTool()}, StrategyStructural)
	require.NoError(t, err)

	raw := `<tool:add>not json</tool:add><tool:search>{"query": "ok"}</tool:search>`
	parsed := Parse(artifact, raw)
	require.Len(t, parsed, 2)
	assert.Error(t, parsed[0].Err)
	assert.NoError(t, parsed[1].Err)
	assert.Equal(t, "search", parsed[1].Call.Name)
}
