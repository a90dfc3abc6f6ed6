// Package kernel implements the agent turn loop.
//
// The Loop pairs a language model with a set of executable tools and
// drives the conversation until the model stops calling tools, the turn
// budget is exhausted, or a fatal error ends the run. History is owned by
// the loop and is append-only inside a turn; callers observe progress
// through the Observer interface and receive the final transcript in the
// RunResult.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Loop: The orchestrator. Snapshots the tool set, builds the
//     constraint artifact, issues the model request with retries, parses
//     tool calls, dispatches them, and folds results back into history.
//   - Dispatcher: Bounded-concurrency tool execution with per-call
//     failure isolation and input-order results.
//   - Registry: The default ToolSource, with JSON Schema validation of
//     arguments and output truncation.
//   - HistoryStrategy: Transcript trimming between turns, preserving
//     tool-call correlation.
//   - Observer: Fire-and-forget event delivery for instrumentation.
//
// Model families plug in through the codec package; transports through
// the wire.ModelClient interface; constraint strategies through the
// grammar package.
package kernel
