package agents

import (
	"fmt"
	"strings"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewCapiDatab returns the capi_datab node: runs read queries
// directly, but write/update/delete operations (external_payload.operation)
// require HumanGate approval before they're considered executed. On
// resume, an approved write is recorded as an export other agents
// (capi_alertas, capi_elcajas) can pick up via shared_artifacts.
func NewCapiDatab(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "capi_datab",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			op, _ := s.ExternalPayload["operation"].(string)
			instruction := instructionOf(s)

			if op == "update" || op == "insert" || op == "delete" {
				if !approvedByHumanGate(s) {
					if _, decided := s.ResponseMetadata["human_decision"]; !decided {
						return requestApproval(s, "capi_datab", "db_write",
							fmt.Sprintf("Run %s operation against the database for: %s", op, instruction),
							map[string]any{"operation": op, "instruction": instruction}), nil
					}
					next := state.AddError(consumeApproval(s), "capi_datab", "approval_denied", "database write was not approved", nil)
					return finish(next, "capi_datab", map[string]any{
						"result_summary": "The requested database change was not approved, so nothing was changed.",
					}), nil
				}
			}

			if approvedByHumanGate(s) {
				s = consumeApproval(s)
			}

			rows := []map[string]any{
				{"id": 1, "summary": "synthetic row matching query scope"},
				{"id": 2, "summary": "synthetic row matching query scope"},
			}
			artifact := map[string]any{
				"operation":      firstNonEmptyDatab(op, "query"),
				"rows":           rows,
				"row_count":      len(rows),
				"result_summary": fmt.Sprintf("capi_datab executed a %s against: %s", firstNonEmptyDatab(op, "query"), instruction),
				"queried_at":     nowToken(),
			}
			if path, err := deps.WriteArtifact(s.SessionID, "capi_datab", "csv", rowsCSV(rows)); err != nil {
				ctx.Log().Warn("capi_datab: export write failed: %v", err)
			} else {
				artifact["export_path"] = path
			}
			next := finish(s, "capi_datab", artifact)

			if cooperate, _ := s.ExternalPayload["cooperate_with"].(string); isDatabCooperator(cooperate) {
				next = state.UpdateField(next, "routing_decision", []string{cooperate})
			}
			return next, nil
		},
	}
}

// rowsCSV renders the result set as the CSV export callers receive a
// path to in response_data.
func rowsCSV(rows []map[string]any) []byte {
	var b strings.Builder
	b.WriteString("id,summary\n")
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%v,%v\n", row["id"], row["summary"]))
	}
	return []byte(b.String())
}

func firstNonEmptyDatab(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// isDatabCooperator reports whether name is one of the agents capi_datab
// is allowed to hand its dataset straight to ("artifact
// sharing" supplement), matching graph.capiDatabResolver's path map.
func isDatabCooperator(name string) bool {
	switch name {
	case "capi_alertas", "capi_elcajas", "capi_desktop":
		return true
	default:
		return false
	}
}
