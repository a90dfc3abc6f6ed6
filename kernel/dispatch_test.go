package kernel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramloop/gramloop/wire"
)

func addSchema() wire.ToolSchema {
	return wire.ToolSchema{
		Name:        "add",
		Description: "Adds two integers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "integer"},
				"y": map[string]any{"type": "integer"},
			},
			"required": []string{"x", "y"},
		},
	}
}

func newTestRegistry(t *testing.T, handlers map[string]Handler) *Registry {
	t.Helper()
	reg := NewRegistry()
	for name, h := range handlers {
		require.NoError(t, reg.Register(wire.ToolSchema{Name: name}, h))
	}
	return reg
}

func newTestDispatcher(t *testing.T, source ToolSource, limit int, observer Observer) *Dispatcher {
	t.Helper()
	if observer == nil {
		observer = NopObserver{}
	}
	d, err := NewDispatcher(source, limit, observer, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestDispatcherResultsInInputOrder(t *testing.T) {
	// slow completes last but must come back first.
	reg := newTestRegistry(t, map[string]Handler{
		"slow": func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow done", nil
		},
		"fast": func(ctx context.Context, args map[string]any) (any, error) {
			return "fast done", nil
		},
	})

	d := newTestDispatcher(t, reg, 4, nil)
	results := d.Dispatch(context.Background(), []wire.ToolCall{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
	}, "run", 1)

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].CallID)
	assert.Equal(t, "slow done", results[0].Output)
	assert.Equal(t, "c2", results[1].CallID)
	assert.Equal(t, "fast done", results[1].Output)
}

func TestDispatcherBoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	handler := func(ctx context.Context, args map[string]any) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}
	reg := newTestRegistry(t, map[string]Handler{"work": handler})

	d := newTestDispatcher(t, reg, 2, nil)
	calls := make([]wire.ToolCall, 6)
	for i := range calls {
		calls[i] = wire.ToolCall{ID: "c", Name: "work"}
	}
	results := d.Dispatch(context.Background(), calls, "run", 1)

	require.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcherUnknownTool(t *testing.T) {
	executed := false
	reg := newTestRegistry(t, map[string]Handler{
		"known": func(ctx context.Context, args map[string]any) (any, error) {
			executed = true
			return "ok", nil
		},
	})

	d := newTestDispatcher(t, reg, 2, nil)
	results := d.Dispatch(context.Background(), []wire.ToolCall{
		{ID: "c1", Name: "missing"},
		{ID: "c2", Name: "known"},
	}, "run", 1)

	require.Len(t, results, 2)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].OutputText(), "unknown tool")
	assert.False(t, results[1].IsError)
	assert.True(t, executed)
}

func TestDispatcherFailureIsolation(t *testing.T) {
	reg := newTestRegistry(t, map[string]Handler{
		"boom": func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		},
		"panics": func(ctx context.Context, args map[string]any) (any, error) {
			panic("lost my mind")
		},
		"fine": func(ctx context.Context, args map[string]any) (any, error) {
			return "all good", nil
		},
	})

	d := newTestDispatcher(t, reg, 4, nil)
	results := d.Dispatch(context.Background(), []wire.ToolCall{
		{ID: "c1", Name: "boom"},
		{ID: "c2", Name: "panics"},
		{ID: "c3", Name: "fine"},
	}, "run", 1)

	require.Len(t, results, 3)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].OutputText(), "disk on fire")
	assert.True(t, results[1].IsError)
	assert.Contains(t, results[1].OutputText(), "panicked")
	assert.False(t, results[2].IsError)
	assert.Equal(t, "all good", results[2].Output)
}

func TestDispatcherCancellation(t *testing.T) {
	started := make(chan struct{})
	block := make(chan struct{})
	reg := newTestRegistry(t, map[string]Handler{
		"hang": func(ctx context.Context, args map[string]any) (any, error) {
			close(started)
			<-block
			return "never", nil
		},
	})
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	d := newTestDispatcher(t, reg, 2, nil)
	results := d.Dispatch(ctx, []wire.ToolCall{{ID: "c1", Name: "hang"}}, "run", 1)

	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "cancelled", results[0].Output)
}

func TestDispatcherEvents(t *testing.T) {
	reg := newTestRegistry(t, map[string]Handler{
		"a": func(ctx context.Context, args map[string]any) (any, error) { return "1", nil },
		"b": func(ctx context.Context, args map[string]any) (any, error) { return "2", nil },
	})

	observer := NewChannelObserver(16)
	d := newTestDispatcher(t, reg, 1, observer)
	d.Dispatch(context.Background(), []wire.ToolCall{
		{ID: "c1", Name: "a"},
		{ID: "c2", Name: "b"},
	}, "run-42", 3)
	observer.Close()

	var issued, received []string
	for event := range observer.Events() {
		assert.Equal(t, "run-42", event.RunID)
		assert.Equal(t, 3, event.Turn)
		switch event.Kind {
		case EventToolCallIssued:
			issued = append(issued, event.Data["call_id"].(string))
		case EventToolResultReceived:
			received = append(received, event.Data["call_id"].(string))
		}
	}

	// Call events follow issuance order.
	assert.Equal(t, []string{"c1", "c2"}, issued)
	assert.Len(t, received, 2)
}
