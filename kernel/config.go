package kernel

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gramloop/gramloop/codec"
	"github.com/gramloop/gramloop/grammar"
	"github.com/gramloop/gramloop/wire"
)

// Default limits applied when Config leaves the corresponding field zero.
const (
	DefaultMaxTurns        = 10
	DefaultToolConcurrency = 4
)

// Config assembles a Loop. Client, Codec, and Tools are required; the
// remaining fields have working defaults.
type Config struct {
	// Client issues model requests. Required.
	Client wire.ModelClient

	// Codec translates between kernel history and the model family's
	// request and response shapes. Required.
	Codec codec.Codec

	// Tools resolves and executes tool calls. Required.
	Tools ToolSource

	// Strategy selects the constraint mechanism used to force tool-call
	// syntax. Defaults to StrategyNone.
	Strategy grammar.Strategy

	// MaxTurns caps the number of request/response cycles in a run.
	MaxTurns int

	// ToolConcurrency bounds parallel tool execution within a turn.
	// Values below 1 are rejected; zero selects the default.
	ToolConcurrency int

	// RunTimeout bounds the whole run. Zero means no run-level deadline.
	RunTimeout time.Duration

	// RequestTimeout bounds each individual model call. Zero defers to
	// the client's own defaults.
	RequestTimeout time.Duration

	// History trims the transcript between turns. Defaults to KeepAllHistory.
	History HistoryStrategy

	// Observer receives run events. Defaults to NopObserver.
	Observer Observer

	// Retry governs model-call retries. Defaults to DefaultRetryPolicy.
	Retry *wire.RetryPolicy

	// Logger receives structured diagnostics. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// Model overrides the client's default model identifier when set.
	Model string

	// MaxTokens and Temperature are forwarded on every request when set.
	MaxTokens   *int
	Temperature *float64
}

// Validate checks required fields and rejects out-of-range limits.
func (c *Config) Validate() error {
	if c.Client == nil {
		return &wire.ConfigError{KernelError: wire.KernelError{Message: "model client is required"}}
	}
	if c.Codec == nil {
		return &wire.ConfigError{KernelError: wire.KernelError{Message: "codec is required"}}
	}
	if c.Tools == nil {
		return &wire.ConfigError{KernelError: wire.KernelError{Message: "tool source is required"}}
	}
	if c.ToolConcurrency < 0 {
		return &wire.ConfigError{KernelError: wire.KernelError{
			Message: fmt.Sprintf("tool concurrency must be >= 1, got %d", c.ToolConcurrency),
		}}
	}
	if c.MaxTurns < 0 {
		return &wire.ConfigError{KernelError: wire.KernelError{
			Message: fmt.Sprintf("max turns must be >= 1, got %d", c.MaxTurns),
		}}
	}
	if c.Strategy != "" {
		if _, err := grammar.ParseStrategy(string(c.Strategy)); err != nil {
			return err
		}
	}
	return nil
}

// withDefaults returns a copy with zero-valued optional fields filled in.
func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = grammar.StrategyNone
	}
	if c.MaxTurns == 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.ToolConcurrency == 0 {
		c.ToolConcurrency = DefaultToolConcurrency
	}
	if c.History == nil {
		c.History = KeepAllHistory{}
	}
	if c.Observer == nil {
		c.Observer = NopObserver{}
	}
	if c.Retry == nil {
		def := wire.DefaultRetryPolicy()
		c.Retry = &def
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
