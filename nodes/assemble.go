package nodes

import (
	"sort"
	"strings"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewAssemble returns the Assemble node: the single
// convergent merge node every fan-out branch and every agent path
// reaches. It folds shared_artifacts into response_data and, if no agent
// already composed a response_message, synthesizes one from each
// artifact's result_summary so the turn never reaches Finalize silent.
func NewAssemble(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "assemble",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			merged := map[string]any{}
			var fragments []string
			var agents []string
			for agent := range s.SharedArtifacts {
				agents = append(agents, agent)
			}
			sort.Strings(agents)
			for _, agent := range agents {
				artifact := s.SharedArtifacts[agent]
				merged[agent] = artifact
				if summary, ok := artifact["result_summary"].(string); ok && summary != "" {
					fragments = append(fragments, summary)
				}
			}

			next := state.UpdateField(s, "current_node", "assemble")
			next = state.MergeDict(next, state.FieldResponseData, merged)

			message := s.ResponseMessage
			if strings.TrimSpace(message) == "" {
				message = composeMessage(fragments)
			}
			next = state.UpdateField(next, "response_message", message)
			next = state.AppendToList(next, state.FieldCompletedNodes, "assemble")
			return next, nil
		},
	}
}

func composeMessage(fragments []string) string {
	fragments = dedupeStrings(fragments)
	if len(fragments) == 0 {
		return "I looked into your request but didn't produce a specific result."
	}
	return strings.Join(fragments, " ")
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
