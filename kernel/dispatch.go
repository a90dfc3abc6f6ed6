package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gramloop/gramloop/wire"
)

// Dispatcher executes a batch of tool calls against a ToolSource with
// bounded concurrency and per-call failure isolation. The returned slice
// always has one result per input call, in input order, regardless of
// completion order.
type Dispatcher struct {
	source   ToolSource
	limit    int
	observer Observer
	logger   zerolog.Logger
}

// NewDispatcher creates a Dispatcher. The concurrency limit must be at
// least one; sequential execution is the degenerate case limit = 1.
func NewDispatcher(source ToolSource, limit int, observer Observer, logger zerolog.Logger) (*Dispatcher, error) {
	if source == nil {
		return nil, &wire.ConfigError{KernelError: wire.KernelError{Message: "tool source is required"}}
	}
	if limit < 1 {
		return nil, &wire.ConfigError{KernelError: wire.KernelError{
			Message: fmt.Sprintf("tool concurrency limit must be >= 1, got %d", limit),
		}}
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Dispatcher{source: source, limit: limit, observer: observer, logger: logger}, nil
}

// Dispatch executes the batch. Call events are emitted in issuance order
// before execution begins; result events follow completion order. A call
// that fails, panics, or is cancelled becomes an error result and never
// aborts its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []wire.ToolCall, runID string, turn int) []wire.ToolResult {
	results := make([]wire.ToolResult, len(calls))

	for _, call := range calls {
		d.observer.OnEvent(Event{
			Kind:      EventToolCallIssued,
			Timestamp: time.Now(),
			RunID:     runID,
			Turn:      turn,
			Data:      map[string]any{"call_id": call.ID, "tool": call.Name},
		})
	}

	sem := make(chan struct{}, d.limit)
	var wg sync.WaitGroup
	for i, call := range calls {
		// Unresolvable names short-circuit without touching the executor.
		if _, ok := d.source.Resolve(call.Name); !ok {
			results[i] = wire.ToolResult{
				CallID:  call.ID,
				Output:  fmt.Sprintf("unknown tool: %s", call.Name),
				IsError: true,
			}
			d.emitResult(results[i], call, runID, turn)
			continue
		}

		wg.Add(1)
		go func(idx int, tc wire.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = cancelledResult(tc)
				d.emitResult(results[idx], tc, runID, turn)
				return
			}
			results[idx] = d.executeOne(ctx, tc)
			d.emitResult(results[idx], tc, runID, turn)
		}(i, call)
	}
	wg.Wait()

	return results
}

// executeOne runs a single call, converting errors, panics, and
// cancellation into error results.
func (d *Dispatcher) executeOne(ctx context.Context, call wire.ToolCall) wire.ToolResult {
	start := time.Now()

	type outcome struct {
		output any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := d.source.Execute(ctx, call)
		done <- outcome{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		// The in-flight call is resolved as cancelled rather than left
		// dangling; the executor goroutine unwinds on its own.
		result := cancelledResult(call)
		result.Duration = time.Since(start)
		return result
	case o := <-done:
		result := wire.ToolResult{
			CallID:   call.ID,
			Output:   o.output,
			Duration: time.Since(start),
		}
		if o.err != nil {
			result.IsError = true
			result.Output = o.err.Error()
			d.logger.Debug().
				Str("tool", call.Name).
				Str("call_id", call.ID).
				Err(o.err).
				Msg("tool execution failed")
		}
		return result
	}
}

func (d *Dispatcher) emitResult(result wire.ToolResult, call wire.ToolCall, runID string, turn int) {
	d.observer.OnEvent(Event{
		Kind:      EventToolResultReceived,
		Timestamp: time.Now(),
		RunID:     runID,
		Turn:      turn,
		Data: map[string]any{
			"call_id":  result.CallID,
			"tool":     call.Name,
			"is_error": result.IsError,
			"duration": result.Duration.String(),
		},
	})
}

func cancelledResult(call wire.ToolCall) wire.ToolResult {
	return wire.ToolResult{
		CallID:  call.ID,
		Output:  "cancelled",
		IsError: true,
	}
}
