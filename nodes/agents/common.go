// Package agents implements the specialist capi_* and domain agent nodes
// that handle the specialist work of a turn. Most emit a synthetic
// finding into shared_artifacts so the graph's routing,
// fan-out/fan-in, and human-approval machinery can be exercised
// end-to-end without external dependencies. capi_desktop is the one
// exception: it wires adapter/goskills for real sandboxed file/shell
// operations, gated behind HumanGate approval.
package agents

import (
	"fmt"
	"time"

	"github.com/smallnest/capiflow/state"
)

// finish records an agent's result into shared_artifacts[name], appends
// name to completed_nodes, and stamps current_node, the common tail
// every agent node in the graph performs.
func finish(s *state.GraphState, name string, artifact map[string]any) *state.GraphState {
	next := state.UpdateField(s, "current_node", name)
	next = state.MergeSharedArtifact(next, name, artifact)
	next = state.AppendToList(next, state.FieldCompletedNodes, name)
	return next
}

// fail records a node-scoped error and a user-facing summary artifact,
// leaving routing_decision untouched so the agent's post-run resolver
// decides: loop_controller while the agent_unavailable retry budget
// remains, otherwise human_gate (or assemble, for capi_datab).
func fail(s *state.GraphState, name string, err error) *state.GraphState {
	next := state.AddError(s, name, "agent_unavailable", err.Error(), nil)
	next = finish(next, name, map[string]any{
		"result_summary": fmt.Sprintf("%s ran into a problem and could not complete its task.", name),
		"error":          err.Error(),
	})
	return next
}

// instructionOf returns the text an agent should act on: the external
// payload's "instruction" field if present, else the original query.
func instructionOf(s *state.GraphState) string {
	if v, ok := s.ExternalPayload["instruction"].(string); ok && v != "" {
		return v
	}
	return s.OriginalQuery
}

// requestApproval flags the turn as awaiting human approval with a
// single pending action preview. The caller's
// node still returns normally; the agent's post-run resolver in graph/
// routes to human_gate, which raises the actual Interrupt.
func requestApproval(s *state.GraphState, name, actionType, description string, payload map[string]any) *state.GraphState {
	action := map[string]any{
		"type":        actionType,
		"agent":       name,
		"description": description,
		"payload":     payload,
	}
	next := state.MergeDict(s, state.FieldResponseMetadata, map[string]any{
		"requires_human_approval": true,
		"actions":                 []any{action},
	})
	next = state.UpdateField(next, "status", state.StatusAwaitingHuman)
	return finish(next, name, map[string]any{
		"result_summary": description + " Awaiting approval.",
		"pending_action": action,
	})
}

// approvedByHumanGate reports whether a prior HumanGate resume approved
// the pending action (response_metadata.human_approved).
func approvedByHumanGate(s *state.GraphState) bool {
	v, _ := s.ResponseMetadata["human_approved"].(bool)
	return v
}

// consumeApproval clears the pending action list once an approved
// execution has run, so the gate's resolver doesn't dispatch the same
// action a second time when the turn passes back through human_gate.
func consumeApproval(s *state.GraphState) *state.GraphState {
	return state.MergeDict(s, state.FieldResponseMetadata, map[string]any{"actions": []any{}})
}

func nowToken() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
