package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gramloop/gramloop/wire"
)

// ToolSource is the collaborator that owns tool schema resolution and
// execution. Implementations must be safe for concurrent invocation: the
// dispatcher executes calls from multiple goroutines.
type ToolSource interface {
	// Resolve returns the schema for a tool name, or false when unknown.
	Resolve(name string) (*wire.ToolSchema, bool)

	// Execute runs one call and returns its output. Errors are converted
	// to error results by the dispatcher, never propagated.
	Execute(ctx context.Context, call wire.ToolCall) (any, error)

	// Schemas returns a snapshot of the active tool set.
	Schemas() []wire.ToolSchema
}

// Handler is the function signature for in-process tool execution.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// registeredTool pairs a schema with its handler and compiled validator.
type registeredTool struct {
	schema    wire.ToolSchema
	handler   Handler
	validator *gojsonschema.Schema
}

// Registry is an in-process ToolSource. Arguments are validated against the
// tool's parameter schema before the handler runs, and oversized outputs
// are truncated to MaxOutputChars.
type Registry struct {
	tools          map[string]*registeredTool
	maxOutputChars int
	mu             sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxOutputChars caps tool output size; zero disables truncation.
func WithMaxOutputChars(n int) RegistryOption {
	return func(r *Registry) { r.maxOutputChars = n }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:          make(map[string]*registeredTool),
		maxOutputChars: 30000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a tool. The parameter schema is compiled once
// at registration so malformed schemas fail early.
func (r *Registry) Register(schema wire.ToolSchema, handler Handler) error {
	if schema.Name == "" {
		return &wire.ConfigError{KernelError: wire.KernelError{Message: "tool name is required"}}
	}
	if handler == nil {
		return &wire.ConfigError{KernelError: wire.KernelError{
			Message: fmt.Sprintf("tool %q has no handler", schema.Name),
		}}
	}

	var validator *gojsonschema.Schema
	if schema.Parameters != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema.Parameters))
		if err != nil {
			return &wire.ConfigError{KernelError: wire.KernelError{
				Message: fmt.Sprintf("tool %q parameter schema does not compile", schema.Name), Cause: err,
			}}
		}
		validator = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[schema.Name] = &registeredTool{schema: schema, handler: handler, validator: validator}
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Resolve returns the schema for a registered tool.
func (r *Registry) Resolve(name string) (*wire.ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	schema := tool.schema
	return &schema, true
}

// Schemas returns a snapshot of all registered tool schemas.
func (r *Registry) Schemas() []wire.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]wire.ToolSchema, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool.schema)
	}
	return out
}

// Execute validates the call's arguments and runs the handler.
func (r *Registry) Execute(ctx context.Context, call wire.ToolCall) (any, error) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &wire.ToolExecutionError{
			KernelError: wire.KernelError{Message: "unknown tool"},
			CallID:      call.ID,
			Tool:        call.Name,
		}
	}

	if tool.validator != nil {
		result, err := tool.validator.Validate(gojsonschema.NewGoLoader(call.Arguments))
		if err != nil {
			return nil, &wire.ToolExecutionError{
				KernelError: wire.KernelError{Message: "argument validation failed", Cause: err},
				CallID:      call.ID,
				Tool:        call.Name,
			}
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return nil, &wire.ToolExecutionError{
				KernelError: wire.KernelError{Message: "invalid arguments: " + strings.Join(msgs, "; ")},
				CallID:      call.ID,
				Tool:        call.Name,
			}
		}
	}

	output, err := tool.handler(ctx, call.Arguments)
	if err != nil {
		return nil, err
	}

	if s, ok := output.(string); ok && r.maxOutputChars > 0 {
		output = TruncateOutput(s, r.maxOutputChars)
	}
	return output, nil
}
