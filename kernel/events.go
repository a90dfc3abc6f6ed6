package kernel

import (
	"sync"
	"time"
)

// EventKind identifies the type of kernel event.
type EventKind string

const (
	EventRequestIssued      EventKind = "request_issued"
	EventResponseReceived   EventKind = "response_received"
	EventToolCallIssued     EventKind = "tool_call_issued"
	EventToolResultReceived EventKind = "tool_result_received"
	EventTurnComplete       EventKind = "turn_complete"
	EventRunEnded           EventKind = "run_ended"
	EventError              EventKind = "error"
)

// Event is an immutable record emitted at well-defined points of a run.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Turn      int            `json:"turn"`
	Data      map[string]any `json:"data,omitempty"`
}

// Observer consumes kernel events. Implementations must be fire-and-forget:
// they may not block, and their failures never abort the loop.
type Observer interface {
	OnEvent(event Event)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnEvent(Event) {}

// MultiObserver broadcasts each event to every registered listener. A
// panicking listener is isolated from the loop and from its siblings.
type MultiObserver struct {
	listeners []Observer
}

// NewMultiObserver creates a broadcast observer over the given listeners.
func NewMultiObserver(listeners ...Observer) *MultiObserver {
	return &MultiObserver{listeners: listeners}
}

// OnEvent fans the event out to all listeners.
func (m *MultiObserver) OnEvent(event Event) {
	for _, l := range m.listeners {
		emit(l, event)
	}
}

func emit(l Observer, event Event) {
	defer func() {
		// A listener failure must never reach the loop.
		_ = recover()
	}()
	l.OnEvent(event)
}

// ChannelObserver delivers events to the host application via a buffered
// channel. Emission never blocks: when the buffer is full the event is
// dropped rather than stalling the loop.
type ChannelObserver struct {
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewChannelObserver creates a ChannelObserver with the given buffer size.
func NewChannelObserver(bufferSize int) *ChannelObserver {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelObserver{ch: make(chan Event, bufferSize)}
}

// OnEvent enqueues the event, dropping it if the observer is closed or the
// buffer is full.
func (o *ChannelObserver) OnEvent(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	select {
	case o.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (o *ChannelObserver) Events() <-chan Event {
	return o.ch
}

// Close closes the event channel. Safe to call multiple times.
func (o *ChannelObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
