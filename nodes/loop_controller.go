package nodes

import (
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// MaxLoopCount bounds router retries per turn via the explicit
// processing_metrics.loop_count counter, so routing cycles always
// terminate. The graph-level conditional edge (graph.loopControllerResolver)
// reads this same counter to decide router vs. assemble; this node is
// what actually increments it and clears a failed agent so the retry
// picks a different target.
const MaxLoopCount = 2

// NewLoopController returns the LoopController node. When the
// turn's most recent error is a retryable agent failure and the loop
// budget isn't exhausted, it increments loop_count, clears
// active_agent/routing_decision, and overrides the recommendation with
// the plan's fallback_agent so the Router dispatches an alternative agent
// on the next pass instead of re-selecting the one that just failed (the
// failed agent is still enabled, so the Router's enablement filter alone
// would hand it right back); otherwise it leaves state untouched so the
// graph's conditional edge sends the turn to assemble.
func NewLoopController(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "loop_controller",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			next := state.UpdateField(s, "current_node", "loop_controller")

			if shouldRetry(s) {
				loopCount := s.ProcessingMetrics["loop_count"]
				next = state.MergeDict(next, state.FieldProcessingMetrics, map[string]any{
					"loop_count": loopCount + 1,
				})
				next = state.UpdateField(next, "active_agent", "")
				next = state.UpdateField(next, "routing_decision", []string{})
				next = state.MergeDict(next, state.FieldResponseMetadata, map[string]any{
					"recommended_agent": retryFallback(s),
				})
			}

			next = state.AppendToList(next, state.FieldCompletedNodes, "loop_controller")
			return next, nil
		},
	}
}

func shouldRetry(s *state.GraphState) bool {
	if s.Status == state.StatusCompleted || s.Status == state.StatusFailed {
		return false
	}
	if s.ProcessingMetrics["loop_count"] >= MaxLoopCount {
		return false
	}
	if len(s.Errors) == 0 {
		return false
	}
	last := s.Errors[len(s.Errors)-1]
	return last.Node != "" && last.Code == "agent_unavailable"
}

// retryFallback names the alternative agent a retry dispatches to: the
// plan's fallback_agent, unless that is the very agent that just failed,
// in which case the Router's own fallback chain takes over.
func retryFallback(s *state.GraphState) string {
	plan, _ := s.ResponseMetadata["reasoning_plan"].(map[string]any)
	fallback, _ := plan["fallback_agent"].(string)
	if fallback == s.Errors[len(s.Errors)-1].Node {
		return ""
	}
	return fallback
}
