package nodes

import (
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewSupervisor returns the Supervisor node: validates the Reasoning
// plan against the currently enabled agent set and requests a replan
// (falling back to the plan's fallback_agent) when the recommended agent
// is disabled or a prior error already targeted it. Plain state checks
// suffice here; the plan was already produced by Reasoning, no second
// LLM call needed.
func NewSupervisor(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "supervisor",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			plan, _ := s.ResponseMetadata["reasoning_plan"].(map[string]any)
			recommended, _ := planString(plan, "recommended_agent")
			fallback, _ := planString(plan, "fallback_agent")

			enabled := map[string]struct{}{}
			if deps.Enablement != nil {
				for _, a := range deps.Enablement.EnabledAgentNames() {
					enabled[a] = struct{}{}
				}
			} else {
				// No registry wired (e.g. unit test): treat every agent as
				// enabled rather than stalling every turn at supervisor.
				recommended = firstNonEmpty(recommended, fallback)
			}

			needsReplan := false
			if _, ok := enabled[recommended]; deps.Enablement != nil && !ok {
				needsReplan = true
			}
			for _, e := range s.Errors {
				if e.Node == recommended {
					needsReplan = true
				}
			}

			finalAgent := recommended
			if needsReplan {
				finalAgent = fallback
				if finalAgent == "" {
					finalAgent = "capi_gus"
				}
			}

			next := state.UpdateField(s, "current_node", "supervisor")
			next = state.UpdateField(next, "active_agent", finalAgent)
			if needsReplan {
				next = state.MergeDict(next, state.FieldResponseMetadata, map[string]any{
					"recommended_agent": finalAgent,
					"supervisor_replan": true,
				})
			}
			next = state.AppendToList(next, state.FieldCompletedNodes, "supervisor")
			return next, nil
		},
	}
}

func planString(plan map[string]any, key string) (string, bool) {
	if plan == nil {
		return "", false
	}
	v, ok := plan[key].(string)
	return v, ok
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
