package nodes

import (
	"strings"
	"time"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// FallbackApology is the non-empty response_message Finalize guarantees
// when every upstream node somehow left it blank.
const FallbackApology = "Sorry, I wasn't able to put together a response for that request."

// NewFinalize returns the Finalize node: marks the turn
// completed, guarantees a non-empty response_message, records the total
// turn latency, and appends itself to completed_nodes.
func NewFinalize(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "finalize",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			message := s.ResponseMessage
			if strings.TrimSpace(message) == "" {
				message = FallbackApology
			}

			next := state.UpdateField(s, "current_node", "finalize")
			next = state.UpdateField(next, "status", state.StatusCompleted)
			next = state.UpdateField(next, "response_message", message)

			if started, ok := s.ProcessingMetrics["turn_started_unix_ms"]; ok {
				elapsed := float64(time.Now().UnixMilli()) - started
				next = state.MergeDict(next, state.FieldProcessingMetrics, map[string]any{
					"turn_latency_ms": elapsed,
				})
			}

			next = state.AppendToList(next, state.FieldCompletedNodes, "finalize")
			return next, nil
		},
	}
}
