package nodes

import (
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewRouter returns the Router node: resolves the final
// routing_decision following a fixed 5-level precedence,
// substituting the plan's fallback_agent (or capi_gus) when the
// recommended agent is disabled so a disabled specialist degrades
// gracefully rather than producing an error.
// response_metadata.parallel_targets, if present, triggers fan-out.
func NewRouter(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "router",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			next := state.UpdateField(s, "current_node", "router")

			if explicit := enabledTargets(deps, s.RoutingDecision); len(explicit) > 0 {
				next = state.UpdateField(next, "routing_decision", explicit)
				next = state.AppendToList(next, state.FieldCompletedNodes, "router")
				return next, nil
			}

			if targets, ok := s.ResponseMetadata["parallel_targets"].([]any); ok && len(targets) > 0 {
				names := make([]string, 0, len(targets))
				for _, t := range targets {
					if name, ok := t.(string); ok && isEnabledOrUnknown(deps, name) {
						names = append(names, name)
					}
				}
				if deps.MaxFanout > 0 && len(names) > deps.MaxFanout {
					names = names[:deps.MaxFanout]
				}
				if len(names) > 0 {
					next = state.UpdateField(next, "routing_decision", names)
					next = state.AppendToList(next, state.FieldCompletedNodes, "router")
					return next, nil
				}
			}

			candidate, _ := s.ResponseMetadata["recommended_agent"].(string)
			if candidate == "" {
				candidate = s.ActiveAgent
			}

			if candidate == "" || !isEnabledOrUnknown(deps, candidate) {
				plan, _ := s.ResponseMetadata["reasoning_plan"].(map[string]any)
				fallback, _ := planString(plan, "fallback_agent")
				if fallback == "" || !isEnabledOrUnknown(deps, fallback) {
					fallback = "capi_gus"
				}
				if !isEnabledOrUnknown(deps, fallback) {
					candidate = "" // no enabled agent at all; falls through to assemble
				} else {
					candidate = fallback
				}
			}

			if candidate == "" {
				next = state.UpdateField(next, "routing_decision", []string{"assemble"})
			} else {
				next = state.UpdateField(next, "routing_decision", []string{candidate})
				next = state.UpdateField(next, "active_agent", candidate)
			}
			next = state.AppendToList(next, state.FieldCompletedNodes, "router")
			return next, nil
		},
	}
}

// enabledTargets filters an upstream routing_decision (precedence 1 of
// Router contract) down to dispatchable names: assemble
// always passes, the router itself never does, and agents must be
// enabled.
func enabledTargets(d support.Dependencies, decision []string) []string {
	var out []string
	for _, name := range decision {
		if name == "" || name == "router" {
			continue
		}
		if name == "assemble" || isEnabledOrUnknown(d, name) {
			out = append(out, name)
		}
	}
	return out
}

func isEnabledOrUnknown(d support.Dependencies, name string) bool {
	if d.Enablement == nil {
		return true
	}
	for _, a := range d.Enablement.EnabledAgentNames() {
		if a == name {
			return true
		}
	}
	return false
}
