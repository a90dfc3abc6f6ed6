package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements ModelClient against an OpenAI-compatible chat
// completions endpoint. Decoding constraints ride the vLLM-style guided
// decoding extension fields, which OpenAI-compatible inference servers
// accept as extra request body members.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a client for the given model. Extra request
// options (base URL, API key) are passed through to the underlying SDK.
func NewOpenAIClient(model string, opts ...option.RequestOption) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Name returns the backend identifier.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	messages, err := c.buildMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	callOpts := constraintOptions(req.Constraint)
	if req.Timeout > 0 {
		callOpts = append(callOpts, option.WithRequestTimeout(req.Timeout))
	}

	response, err := c.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		return nil, c.translateError(ctx, err)
	}
	if len(response.Choices) == 0 {
		return nil, NewTransportError(c.Name(), "no response choices returned", nil, true)
	}

	choice := response.Choices[0]

	var calls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, NewTransportError(c.Name(),
				fmt.Sprintf("malformed native tool call arguments for %s", tc.Function.Name), err, false)
		}
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
			Raw:       json.RawMessage(tc.Function.Arguments),
		})
	}

	return &Response{
		Text:       choice.Message.Content,
		ToolCalls:  calls,
		Model:      response.Model,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
			TotalTokens:  int(response.Usage.TotalTokens),
		},
	}, nil
}

// buildMessages converts internal messages into the SDK's union params.
func (c *OpenAIClient) buildMessages(history []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				argsJSON := []byte("{}")
				if tc.Arguments != nil {
					b, err := json.Marshal(tc.Arguments)
					if err != nil {
						return nil, NewTransportError(c.Name(), "marshal tool call arguments", err, false)
					}
					argsJSON = b
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}
	return messages, nil
}

// constraintOptions maps a Constraint onto guided-decoding request body
// extensions understood by vLLM-style OpenAI-compatible servers.
func constraintOptions(c *Constraint) []option.RequestOption {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case ConstraintGrammar:
		return []option.RequestOption{option.WithJSONSet("guided_grammar", c.Grammar)}
	case ConstraintJSONSchema:
		return []option.RequestOption{option.WithJSONSet("guided_json", c.JSONSchema)}
	case ConstraintStructural:
		structures := make([]map[string]any, 0, len(c.Triggers))
		triggers := make([]string, 0, len(c.Triggers))
		for _, t := range c.Triggers {
			structures = append(structures, map[string]any{
				"begin":  t.Begin,
				"schema": t.Schema,
				"end":    t.End,
			})
			triggers = append(triggers, t.Begin)
		}
		return []option.RequestOption{option.WithJSONSet("structural_tag", map[string]any{
			"type":       "structural_tag",
			"structures": structures,
			"triggers":   triggers,
		})}
	default:
		return nil
	}
}

// translateError converts SDK failures into the transport taxonomy.
func (c *OpenAIClient) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewCancellationError(ctx.Err())
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(c.Name(), apiErr.StatusCode, apiErr.Error(), nil)
	}
	return NewTransportError(c.Name(), "chat completion failed", err, true)
}
