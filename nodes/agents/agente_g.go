package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewAgenteG returns the agente_g node: the Google Workspace
// integration agent, dispatching on response_metadata.google_scope set by
// the Reasoning node (gmail, drive, calendar, or workspace generally).
// Mutating scopes (sending mail, deleting files) require HumanGate
// approval; read scopes answer directly.
func NewAgenteG(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "agente_g",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			scope, _ := s.ResponseMetadata["google_scope"].(string)
			if scope == "" {
				scope = "workspace"
			}
			action, _ := s.ExternalPayload["google_action"].(string)

			if isMutatingGoogleAction(action) && !approvedByHumanGate(s) {
				if _, decided := s.ResponseMetadata["human_decision"]; !decided {
					return requestApproval(s, "agente_g", "google_"+action,
						fmt.Sprintf("Perform %s action %q against Google %s", action, instructionOf(s), scope),
						map[string]any{"scope": scope, "action": action}), nil
				}
				next := state.AddError(consumeApproval(s), "agente_g", "approval_denied", "google action was not approved", nil)
				return finish(next, "agente_g", map[string]any{
					"result_summary": "The requested Google Workspace action was not approved, so nothing ran.",
				}), nil
			}

			if approvedByHumanGate(s) {
				s = consumeApproval(s)
			}

			next := finish(s, "agente_g", map[string]any{
				"scope":          scope,
				"result_summary": fmt.Sprintf("agente_g handled a %s request: %s", scope, instructionOf(s)),
			})
			return next, nil
		},
	}
}

func isMutatingGoogleAction(action string) bool {
	switch action {
	case "send_email", "delete_file", "create_event", "update_event":
		return true
	default:
		return false
	}
}
