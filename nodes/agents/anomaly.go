package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewAnomaly returns the anomaly node: scans recent shared
// artifacts for ANOMALY_QUERY intents and reports any flagged deviations.
func NewAnomaly(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "anomaly",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			findings := []map[string]any{}
			if datab, ok := s.SharedArtifacts["capi_datab"]; ok {
				if rc, ok := datab["row_count"].(int); ok && rc > 1 {
					findings = append(findings, map[string]any{
						"kind":        "volume_spike",
						"description": "row count exceeds the single-row baseline",
					})
				}
			}

			summary := "No anomalies detected."
			if len(findings) > 0 {
				summary = fmt.Sprintf("Detected %d potential anomaly/anomalies.", len(findings))
			}

			next := finish(s, "anomaly", map[string]any{
				"findings":       findings,
				"finding_count":  len(findings),
				"result_summary": summary,
			})
			return next, nil
		},
	}
}
