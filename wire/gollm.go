package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
)

// GollmClient implements ModelClient over a gollm.LLM instance. It targets
// plain text-completion backends with no first-class tool-call surface:
// tool documentation and prior results must be rendered into the prompt by
// the codec, and tool calls come back as constrained text for the grammar
// pipeline to parse.
//
// gollm exposes no server-side grammar hook, so constraints are delivered
// in instruction mode: the payload is appended to the system prompt and the
// parser is expected to tolerate the occasional stray token.
type GollmClient struct {
	backend string
	llm     gollm.LLM
}

// NewGollmClient creates a client for the named backend ("openai",
// "anthropic", "ollama", ...). If apiKey is empty, gollm reads it from the
// environment.
func NewGollmClient(backend, model, apiKey string, extra ...gollm.ConfigOption) (*GollmClient, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(backend),
		gollm.SetModel(model),
		gollm.SetMaxRetries(0), // the kernel owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(apiKey))
	}
	opts = append(opts, extra...)

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, &ConfigError{KernelError: KernelError{
			Message: fmt.Sprintf("create gollm backend %s", backend), Cause: err,
		}}
	}
	return &GollmClient{backend: backend, llm: llm}, nil
}

// NewGollmClientFromLLM wraps an existing gollm.LLM instance.
func NewGollmClientFromLLM(backend string, llm gollm.LLM) *GollmClient {
	return &GollmClient{backend: backend, llm: llm}
}

// Name returns the backend identifier.
func (c *GollmClient) Name() string {
	return c.backend
}

// Complete renders the request into a gollm prompt and generates.
func (c *GollmClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	system, prompt := renderPrompt(req.Messages)
	if constraint := constraintInstruction(req.Constraint); constraint != "" {
		if system != "" {
			system += "\n\n"
		}
		system += constraint
	}

	promptOpts := []gollm.PromptOption{}
	if system != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	text, err := c.llm.Generate(ctx, gollm.NewPrompt(prompt, promptOpts...))
	if err != nil {
		return nil, c.translateError(ctx, err)
	}

	return &Response{
		Text:       text,
		Model:      req.Model,
		StopReason: "stop",
		Usage: Usage{
			// gollm does not expose usage; estimate at four chars per token.
			InputTokens:  (len(system) + len(prompt)) / 4,
			OutputTokens: len(text) / 4,
			TotalTokens:  (len(system) + len(prompt) + len(text)) / 4,
		},
	}, nil
}

// renderPrompt flattens the conversation into a system prompt and a single
// user prompt, labeling assistant and tool turns.
func renderPrompt(history []Message) (system, prompt string) {
	var sys, parts []string
	for _, msg := range history {
		switch msg.Role {
		case RoleSystem, RoleDeveloper:
			sys = append(sys, msg.Content)
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.ToolName != "" {
				prefix = fmt.Sprintf("[Tool Result %s]", msg.ToolName)
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}
	p := strings.Join(parts, "\n")
	if p == "" {
		p = "Hello"
	}
	return strings.TrimSpace(strings.Join(sys, "\n")), p
}

// constraintInstruction renders a constraint as a prompt instruction.
func constraintInstruction(c *Constraint) string {
	if c == nil {
		return ""
	}
	switch c.Kind {
	case ConstraintGrammar:
		return "When invoking tools, your entire reply must conform to this grammar:\n\n" + c.Grammar
	case ConstraintJSONSchema:
		schema, err := json.MarshalIndent(c.JSONSchema, "", "  ")
		if err != nil {
			return ""
		}
		return "When invoking tools, reply with a single JSON value conforming to this schema:\n\n" + string(schema)
	case ConstraintStructural:
		var sb strings.Builder
		sb.WriteString("When invoking tools, wrap each invocation in its markers:\n")
		for _, t := range c.Triggers {
			schema, err := json.Marshal(t.Schema)
			if err != nil {
				continue
			}
			fmt.Fprintf(&sb, "\n%s<json arguments matching %s>%s\n", t.Begin, schema, t.End)
		}
		return sb.String()
	default:
		return ""
	}
}

// translateError classifies gollm failures, which surface as flat error
// strings, into the transport taxonomy.
func (c *GollmClient) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return NewCancellationError(ctx.Err())
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"):
		return ErrorFromStatusCode(c.backend, 401, err.Error(), nil)
	case strings.Contains(msg, "403"), strings.Contains(msg, "forbidden"):
		return ErrorFromStatusCode(c.backend, 403, err.Error(), nil)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return ErrorFromStatusCode(c.backend, 404, err.Error(), nil)
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"):
		return ErrorFromStatusCode(c.backend, 429, err.Error(), nil)
	case strings.Contains(msg, "context length"), strings.Contains(msg, "too many tokens"):
		return ErrorFromStatusCode(c.backend, 413, err.Error(), nil)
	case strings.Contains(msg, "500"), strings.Contains(msg, "internal server"):
		return ErrorFromStatusCode(c.backend, 500, err.Error(), nil)
	case strings.Contains(msg, "timeout"):
		return ErrorFromStatusCode(c.backend, 408, err.Error(), nil)
	default:
		return NewTransportError(c.backend, err.Error(), err, true)
	}
}
