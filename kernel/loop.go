package kernel

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gramloop/gramloop/grammar"
	"github.com/gramloop/gramloop/wire"
)

// Loop drives a multi-turn conversation: it issues model requests, parses
// tool calls out of constrained responses, dispatches them, folds results
// back into history, and repeats until the model stops calling tools or a
// budget is hit. A Loop is safe for concurrent Run invocations; each run
// owns its own history.
type Loop struct {
	cfg        Config
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// New validates the config, applies defaults, and assembles a Loop.
func New(cfg Config) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	dispatcher, err := NewDispatcher(cfg.Tools, cfg.ToolConcurrency, cfg.Observer, *cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Loop{cfg: cfg, dispatcher: dispatcher, logger: *cfg.Logger}, nil
}

// Run executes the turn loop starting from the given messages. The initial
// slice is copied; callers keep ownership of their own copy. Run always
// returns a RunResult, with Err set when termination was fatal.
func (l *Loop) Run(ctx context.Context, initial []wire.Message) *RunResult {
	runID := uuid.NewString()
	start := time.Now()

	if l.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.RunTimeout)
		defer cancel()
	}

	history := append([]wire.Message(nil), initial...)
	var usage wire.Usage
	turns := 0

	finish := func(reason TerminationReason, err error) *RunResult {
		result := &RunResult{
			RunID:       runID,
			Turns:       turns,
			History:     history,
			Usage:       usage,
			Elapsed:     time.Since(start),
			Termination: reason,
			Err:         err,
		}
		data := map[string]any{"termination": string(reason), "turns": turns}
		if err != nil {
			data["error"] = err.Error()
		}
		l.emit(EventRunEnded, runID, turns, data)
		l.logger.Info().
			Str("run_id", runID).
			Int("turns", turns).
			Str("termination", string(reason)).
			Dur("elapsed", result.Elapsed).
			Msg("run ended")
		return result
	}
	fatal := func(err error) *RunResult {
		l.emit(EventError, runID, turns, map[string]any{"error": err.Error()})
		return finish(TerminationFatal, err)
	}

	for turns < l.cfg.MaxTurns {
		if err := ctx.Err(); err != nil {
			return fatal(wire.NewCancellationError(err))
		}
		turn := turns + 1

		// The tool set and its constraint artifact are snapshotted per
		// turn, so registry mutations between turns take effect cleanly.
		tools := l.cfg.Tools.Schemas()
		artifact, err := grammar.Build(tools, l.cfg.Strategy)
		if err != nil {
			return fatal(err)
		}

		req, err := l.cfg.Codec.FormatRequest(history, tools, artifact)
		if err != nil {
			return fatal(err)
		}
		if l.cfg.Model != "" {
			req.Model = l.cfg.Model
		}
		if l.cfg.MaxTokens != nil {
			req.MaxTokens = l.cfg.MaxTokens
		}
		if l.cfg.Temperature != nil {
			req.Temperature = l.cfg.Temperature
		}
		if l.cfg.RequestTimeout > 0 {
			req.Timeout = l.cfg.RequestTimeout
		}

		l.emit(EventRequestIssued, runID, turn, map[string]any{
			"model":    req.Model,
			"messages": len(req.Messages),
			"tools":    len(req.Tools),
			"strategy": string(l.cfg.Strategy),
		})

		resp, err := wire.Retry(ctx, *l.cfg.Retry, func(ctx context.Context) (*wire.Response, error) {
			return l.cfg.Client.Complete(ctx, req)
		})
		if err != nil {
			return fatal(coerceCancellation(err))
		}
		usage = usage.Add(resp.Usage)

		l.emit(EventResponseReceived, runID, turn, map[string]any{
			"stop_reason":   resp.StopReason,
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		})

		assistant, parsed := l.cfg.Codec.ParseResponse(resp, artifact)
		history = append(history, assistant)
		turns = turn

		if len(parsed) == 0 {
			return finish(TerminationNoToolCalls, nil)
		}

		results := l.runTools(ctx, parsed, runID, turn)
		errCount := 0
		for i, result := range results {
			if result.IsError {
				errCount++
			}
			history = append(history, wire.ToolResultMessage(result, parsed[i].Call.Name))
		}

		l.emit(EventTurnComplete, runID, turn, map[string]any{
			"tool_calls": len(parsed),
			"errors":     errCount,
		})

		history = l.cfg.History.Trim(history)
	}

	return finish(TerminationMaxTurns, nil)
}

// runTools executes the well-formed calls of a parse batch and merges them
// with the malformed ones, preserving issuance order. A call that failed to
// parse never reaches the executor; its result carries the parse failure.
func (l *Loop) runTools(ctx context.Context, parsed []grammar.Parsed, runID string, turn int) []wire.ToolResult {
	results := make([]wire.ToolResult, len(parsed))
	calls := make([]wire.ToolCall, 0, len(parsed))
	indices := make([]int, 0, len(parsed))
	for i, p := range parsed {
		if p.Err != nil {
			results[i] = wire.ToolResult{
				CallID:  p.Call.ID,
				Output:  p.Err.Error(),
				IsError: true,
			}
			l.emit(EventError, runID, turn, map[string]any{
				"call_id": p.Call.ID,
				"tool":    p.Call.Name,
				"error":   p.Err.Error(),
			})
			continue
		}
		calls = append(calls, p.Call)
		indices = append(indices, i)
	}

	dispatched := l.dispatcher.Dispatch(ctx, calls, runID, turn)
	for j, result := range dispatched {
		results[indices[j]] = result
	}
	return results
}

// coerceCancellation normalizes bare context errors leaking out of a
// caller-supplied ModelClient into the cancellation taxonomy.
func coerceCancellation(err error) error {
	var ce *wire.CancellationError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wire.NewCancellationError(err)
	}
	return err
}

func (l *Loop) emit(kind EventKind, runID string, turn int, data map[string]any) {
	emit(l.cfg.Observer, Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     runID,
		Turn:      turn,
		Data:      data,
	})
}
