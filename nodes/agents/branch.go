package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewBranch returns the branch node: answers BRANCH_QUERY
// intents about a specific bank branch (hours, location, services).
func NewBranch(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "branch",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			instruction := instructionOf(s)
			branchID, _ := s.ExternalPayload["branch_id"].(string)
			if branchID == "" {
				branchID = "unspecified"
			}

			next := finish(s, "branch", map[string]any{
				"branch_id":      branchID,
				"hours":          "09:00-17:00 local time, Mon-Fri",
				"result_summary": fmt.Sprintf("branch agent answered %q for branch %s.", instruction, branchID),
			})
			return next, nil
		},
	}
}
