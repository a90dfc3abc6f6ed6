package kernel

import (
	"time"

	"github.com/gramloop/gramloop/wire"
)

// TerminationReason records why a run's turn loop stopped.
type TerminationReason string

const (
	// TerminationNoToolCalls: the model produced a response with zero
	// well-formed tool calls.
	TerminationNoToolCalls TerminationReason = "no_tool_calls"
	// TerminationMaxTurns: the configured turn budget was exhausted.
	TerminationMaxTurns TerminationReason = "max_turns"
	// TerminationFatal: transport exhaustion, schema incompatibility, or
	// cancellation ended the run.
	TerminationFatal TerminationReason = "fatal_error"
)

// RunResult is produced exactly once, at loop termination. Callers always
// receive one, even on fatal errors.
type RunResult struct {
	RunID       string            `json:"run_id"`
	Turns       int               `json:"turns"`
	History     []wire.Message    `json:"history"`
	Usage       wire.Usage        `json:"usage"`
	Elapsed     time.Duration     `json:"elapsed"`
	Termination TerminationReason `json:"termination_reason"`
	Err         error             `json:"-"`
}
