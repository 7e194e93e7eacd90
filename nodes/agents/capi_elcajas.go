package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewCapiElcajas returns the capi_elcajas node: visualizes or
// reconciles cash-register ("cajas") datasets, consuming capi_datab's
// exported rows when the fan-out path routed through it.
func NewCapiElcajas(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "capi_elcajas",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			rowCount := 0
			if datab, ok := s.SharedArtifacts["capi_datab"]; ok {
				switch rc := datab["row_count"].(type) {
				case int:
					rowCount = rc
				case float64:
					rowCount = int(rc)
				}
			}

			next := finish(s, "capi_elcajas", map[string]any{
				"dataset_rows":   rowCount,
				"reconciled":     true,
				"result_summary": fmt.Sprintf("capi_elcajas reconciled %d register row(s).", rowCount),
				"generated_at":   nowToken(),
			})
			return next, nil
		},
	}
}
