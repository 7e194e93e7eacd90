// Package graph implements the directed-graph state-machine interpreter:
// node/edge topology construction, step-by-step execution with
// checkpointing, conditional routing with parallel fan-out,
// human-in-the-loop interrupts, retries, and event streaming.
//
// The interpreter is fixed to the concrete state.GraphState rather than
// an arbitrary map state, and to a single compiled-graph shape.
package graph

import (
	"errors"
	"fmt"

	"github.com/smallnest/capiflow/state"
)

// END is the sentinel destination name meaning "terminate the turn".
const END = "__end__"

// Sentinel errors surfaced by the builder and interpreter.
var (
	ErrNodeNotFound       = errors.New("graph: node not found")
	ErrNoOutgoingEdge     = errors.New("graph: no outgoing edge for node")
	ErrEntryPointRequired = errors.New("graph: entry point not set")
	ErrDuplicateNode      = errors.New("graph: duplicate node name")
)

// NodeFunc is the run(state) -> state contract.
type NodeFunc func(ctx *RunContext, s *state.GraphState) (*state.GraphState, error)

// Node is a processing unit: a name, a run function, and whether it wraps
// a domain agent; the interpreter emits agent_start/agent_end events
// only for agent nodes.
type Node struct {
	Name        string
	Description string
	Run         NodeFunc
	IsAgentNode bool
	Retry       *RetryConfig
	NoTimeout   bool // opt out of the per-node timeout, which applies by default
}

// Resolver decides the successor(s) of a conditional edge given the
// current state. Returning more than one name means parallel fan-out.
// Any name not present in the edge's PathMap is replaced by "assemble"
// when the interpreter resolves successors.
type Resolver func(s *state.GraphState) []string

// Edge is either unconditional (Resolver nil) or conditional.
type Edge struct {
	From     string
	To       string   // used when Resolver is nil
	Resolver Resolver // used when non-nil
	PathMap  map[string]string
}

// Config carries the per-invocation tunables: which nodes pause
// before/after execution, the node to resume from, and an open
// Configurable bag for anything else.
type Config struct {
	Configurable    map[string]any
	InterruptBefore []string
	InterruptAfter  []string
	ResumeFrom      string
}

func (c *Config) interruptsBefore(node string) bool {
	if c == nil {
		return false
	}
	for _, n := range c.InterruptBefore {
		if n == node {
			return true
		}
	}
	return false
}

func (c *Config) interruptsAfter(node string) bool {
	if c == nil {
		return false
	}
	for _, n := range c.InterruptAfter {
		if n == node {
			return true
		}
	}
	return false
}

// NodeInterrupt is raised by a node to request a human-in-the-loop
// pause. It is returned as an ordinary error from a Node.Run; the
// interpreter recognizes it via errors.As.
type NodeInterrupt struct {
	Node                  string
	Reason                string
	Payload               map[string]any
	RequiresHumanApproval bool
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %q: %s", e.Node, e.Reason)
}

// GraphInterrupt is what the interpreter returns to the caller of Invoke
// when a NodeInterrupt (or a configured InterruptBefore) pauses the turn.
type GraphInterrupt struct {
	Node           string
	State          *state.GraphState
	NextNodes      []string
	InterruptValue *NodeInterrupt
}

func (e *GraphInterrupt) Error() string {
	return fmt.Sprintf("graph interrupted before/at node %q", e.Node)
}

// Interrupt is a convenience constructor for a NodeInterrupt error.
func Interrupt(node, reason string, payload map[string]any, requiresApproval bool) error {
	return &NodeInterrupt{Node: node, Reason: reason, Payload: payload, RequiresHumanApproval: requiresApproval}
}

func isInterrupt(err error, target **NodeInterrupt) bool {
	return errors.As(err, target)
}
