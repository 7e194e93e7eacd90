package graph

import (
	"context"
	"time"

	"github.com/smallnest/capiflow/state"
)

// EventType enumerates the wire event kinds.
type EventType string

const (
	EventAgentStart     EventType = "agent_start"
	EventAgentEnd       EventType = "agent_end"
	EventNodeTransition EventType = "node_transition"
	EventStateSnapshot  EventType = "state_snapshot"
	// EventDroppedEvents is the synthetic counter event the Event Gateway
	// injects when a subscriber's bounded queue overflows and the oldest
	// entry is dropped.
	EventDroppedEvents EventType = "dropped_events"
)

// Event is the payload the interpreter hands to an EventSink. Each field
// maps to one snake_case key of the wire frame wireEvent produces.
type Event struct {
	Type      EventType
	SessionID string
	TraceID   string
	FromNode  string
	ToNode    string
	Action    string
	Data      map[string]any
	Meta      map[string]any
	EmittedAt time.Time
}

// EventSink receives interpreter events for fan-out to subscribers. The
// Event Gateway (package gateway) implements this; the interpreter itself
// is agnostic to how events ultimately reach a client.
type EventSink interface {
	Emit(ctx context.Context, sessionID string, event Event)
}

// NoOpEventSink discards every event; used by tests and by Invoke callers
// that don't care about the stream.
type NoOpEventSink struct{}

func (NoOpEventSink) Emit(context.Context, string, Event) {}

// StreamMode selects which event kinds Stream yields: updates (per-node
// output) or values (full merged state).
type StreamMode string

const (
	StreamModeUpdates StreamMode = "updates"
	StreamModeValues  StreamMode = "values"
)

// StreamChunk is one yielded (mode, payload) pair from Stream.
type StreamChunk struct {
	Mode    StreamMode
	Node    string            // set for StreamModeUpdates
	Updates *state.GraphState // set for StreamModeUpdates: this node's output state
	Full    *state.GraphState // set for StreamModeValues: full merged state
}
