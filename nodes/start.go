// Package nodes implements the named orchestration processing units:
// Start, Intent, ReAct, Reasoning, Supervisor, LoopController,
// Router, HumanGate, Assemble, Finalize. The eight domain-agent
// specialists live in the nodes/agents subpackage; CoreNodes and
// AgentFactories in factories.go assemble both into the graph.NodeFactory
// table the registry package builds a CompiledGraph from.
package nodes

import (
	"time"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewStart returns the Start node: marks the turn processing,
// appends itself to completed_nodes, and seeds processing_metrics with a
// turn-start timestamp used later to compute latencies.
func NewStart(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "start",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			next := state.UpdateField(s, "status", state.StatusProcessing)
			next = state.UpdateField(next, "current_node", "start")
			next = state.MergeDict(next, state.FieldProcessingMetrics, map[string]any{
				"turn_started_unix_ms": float64(time.Now().UnixMilli()),
				"loop_count":           0.0,
			})
			next = state.AppendToList(next, state.FieldCompletedNodes, "start")
			return next, nil
		},
	}
}
