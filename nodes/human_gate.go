package nodes

import (
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewHumanGate returns the HumanGate node: if
// response_metadata.requires_human_approval is set and no resume decision
// has been injected yet, it raises an Interrupt carrying the pending
// action preview (response_metadata.actions). On resume, when a decision
// was injected via graph.WithResumeValue, it writes
// the decision into response_metadata.human_decision and sets
// human_approved so downstream nodes (e.g. capi_desktop) can consult it.
func NewHumanGate(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "human_gate",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			requiresApproval, _ := s.ResponseMetadata["requires_human_approval"].(bool)

			if decision, ok := graph.GetResumeValue(ctx.Context); ok {
				approved, _ := decision["approved"].(bool)
				next := state.UpdateField(s, "current_node", "human_gate")
				next = state.UpdateField(next, "status", state.StatusProcessing)
				next = state.MergeDict(next, state.FieldResponseMetadata, map[string]any{
					"human_decision":          decision,
					"human_approved":          approved,
					"requires_human_approval": false,
				})
				next = state.AppendToList(next, state.FieldCompletedNodes, "human_gate")
				return next, nil
			}

			if requiresApproval {
				actions, _ := s.ResponseMetadata["actions"].([]any)
				return nil, graph.Interrupt("human_gate", "action requires human approval", map[string]any{
					"actions": actions,
				}, true)
			}

			next := state.UpdateField(s, "current_node", "human_gate")
			next = state.AppendToList(next, state.FieldCompletedNodes, "human_gate")
			return next, nil
		},
	}
}
