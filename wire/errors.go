package wire

import (
	"context"
	"errors"
	"fmt"
)

// KernelError is the base error type shared by the taxonomy below.
type KernelError struct {
	Message string
	Cause   error
}

func (e *KernelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *KernelError) Unwrap() error {
	return e.Cause
}

// SchemaError reports that a tool's parameter schema uses a construct the
// chosen grammar strategy cannot express. Surfaced to the caller, never
// retried; callers are expected to fall back to a more permissive strategy.
type SchemaError struct {
	KernelError
	Tool     string
	Strategy string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %q: schema not expressible under %s strategy: %s", e.Tool, e.Strategy, e.Message)
}

// ParseError reports a single malformed tool call in a model response. It is
// recovered locally: the affected call becomes an error result and the turn
// continues.
type ParseError struct {
	KernelError
	CallID string
	Tool   string
}

func (e *ParseError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("tool call %q: %s", e.Tool, e.KernelError.Error())
	}
	return "tool call parse: " + e.KernelError.Error()
}

// ToolExecutionError reports that a tool raised during execution. Recovered
// locally into ToolResult{IsError: true}.
type ToolExecutionError struct {
	KernelError
	CallID string
	Tool   string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q execution: %s", e.Tool, e.KernelError.Error())
}

// TransportError reports a model-client failure. Retried per the configured
// policy; exhaustion terminates the run as fatal.
type TransportError struct {
	KernelError
	Backend    string
	StatusCode int
	Retryable  bool
	RetryAfter *float64 // seconds, from Retry-After when present
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Backend, e.Message, e.StatusCode, e.Retryable)
}

// CancellationError reports run-level cancellation or timeout. In-flight
// work is converted to error results, never left dangling.
type CancellationError struct {
	KernelError
}

// ConfigError reports an invalid construction-time configuration. This is
// the only error class that surfaces before a RunResult exists.
type ConfigError struct {
	KernelError
}

// NewTransportError wraps an underlying client failure.
func NewTransportError(backend, message string, cause error, retryable bool) *TransportError {
	return &TransportError{
		KernelError: KernelError{Message: message, Cause: cause},
		Backend:     backend,
		Retryable:   retryable,
	}
}

// NewCancellationError wraps a context error into the taxonomy.
func NewCancellationError(cause error) *CancellationError {
	msg := "run cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		msg = "run timed out"
	}
	return &CancellationError{KernelError: KernelError{Message: msg, Cause: cause}}
}

// ErrorFromStatusCode maps an HTTP status code to a TransportError with the
// appropriate retryability.
func ErrorFromStatusCode(backend string, statusCode int, message string, retryAfter *float64) error {
	te := &TransportError{
		KernelError: KernelError{Message: message},
		Backend:     backend,
		StatusCode:  statusCode,
		RetryAfter:  retryAfter,
	}
	switch statusCode {
	case 400, 401, 403, 404, 413, 422:
		te.Retryable = false
	case 408, 429, 500, 502, 503, 504:
		te.Retryable = true
	default:
		// Unknown status codes default to retryable.
		te.Retryable = true
	}
	return te
}

// IsRetryable returns true if the error is safe to retry against the model
// client. Cancellation, schema, parse, and config errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	var ce *CancellationError
	if errors.As(err, &ce) {
		return false
	}
	var se *SchemaError
	if errors.As(err, &se) {
		return false
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return false
	}
	var cfg *ConfigError
	if errors.As(err, &cfg) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Unknown transport-level failures default to retryable.
	return true
}
