package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewCapiAlertas returns the capi_alertas node: reads
// capi_datab's exported rows, if any, and synthesizes an alert summary.
// When the alert carries supporting evidence it hands off to
// capi_desktop to write the evidence to a file artifact
// (capiAlertasResolver).
func NewCapiAlertas(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "capi_alertas",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			rowCount := 0
			if datab, ok := s.SharedArtifacts["capi_datab"]; ok {
				if rc, ok := datab["row_count"].(int); ok {
					rowCount = rc
				} else if rc, ok := datab["row_count"].(float64); ok {
					rowCount = int(rc)
				}
			}

			severity := "info"
			if rowCount > 1 {
				severity = "warning"
			}

			next := finish(s, "capi_alertas", map[string]any{
				"severity":       severity,
				"alert_count":    rowCount,
				"result_summary": fmt.Sprintf("capi_alertas found %d item(s) worth flagging (severity=%s).", rowCount, severity),
				"raised_at":      nowToken(),
			})

			if needsEvidenceFile, _ := s.ExternalPayload["attach_evidence"].(bool); needsEvidenceFile {
				next = state.UpdateField(next, "routing_decision", []string{"capi_desktop"})
			}
			return next, nil
		},
	}
}
