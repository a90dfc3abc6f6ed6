package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements ModelClient against the Anthropic messages API.
// The backend has no grammar-constrained decoding surface, so this client
// serves the "none" strategy: tool calls arrive as native tool_use blocks.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClient creates a client for the given model.
func NewAnthropicClient(model string, opts ...option.RequestOption) *AnthropicClient {
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 4096,
	}
}

// Name returns the backend identifier.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Complete sends one messages request. Requests carrying a decoding
// constraint are rejected: this backend cannot enforce one, and silently
// dropping it would break builder/parser symmetry downstream.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Constraint != nil {
		return nil, &ConfigError{KernelError: KernelError{
			Message: fmt.Sprintf("anthropic backend cannot enforce %s constraints; use the none strategy", req.Constraint.Kind),
		}}
	}

	var system string
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			}
			if required, ok := tool.Parameters["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			} else if required, ok := tool.Parameters["required"].([]any); ok {
				names := make([]string, 0, len(required))
				for _, v := range required {
					if s, ok := v.(string); ok {
						names = append(names, s)
					}
				}
				toolParam.InputSchema.Required = names
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	var callOpts []option.RequestOption
	if req.Timeout > 0 {
		callOpts = append(callOpts, option.WithRequestTimeout(req.Timeout))
	}

	response, err := c.client.Messages.New(ctx, params, callOpts...)
	if err != nil {
		return nil, c.translateError(ctx, err)
	}

	text := ""
	var calls []ToolCall
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += b.Text
		case anthropic.ToolUseBlock:
			raw := json.RawMessage(b.JSON.Input.Raw())
			var args map[string]any
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, NewTransportError(c.Name(),
					fmt.Sprintf("malformed tool_use input for %s", b.Name), err, false)
			}
			calls = append(calls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
				Raw:       raw,
			})
		}
	}

	return &Response{
		Text:       text,
		ToolCalls:  calls,
		Model:      string(response.Model),
		StopReason: string(response.StopReason),
		Usage: Usage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
			TotalTokens:  int(response.Usage.InputTokens + response.Usage.OutputTokens),
		},
	}, nil
}

func (c *AnthropicClient) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewCancellationError(ctx.Err())
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(c.Name(), apiErr.StatusCode, apiErr.Error(), nil)
	}
	return NewTransportError(c.Name(), "messages request failed", err, true)
}
