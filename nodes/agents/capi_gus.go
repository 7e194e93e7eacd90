package agents

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// NewCapiGus returns the capi_gus node: the general-purpose
// conversational agent and catch-all clarifier. It handles greetings,
// small talk, and summary requests directly, and is also the fallback
// target the Router substitutes for any disabled or low-confidence
// recommendation.
func NewCapiGus(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "capi_gus",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			var message string
			switch s.DetectedIntent {
			case state.IntentGreeting:
				message = "Hello! I'm here to help with your accounts, branches, and reports."
			case state.IntentSmallTalk:
				message = "Happy to chat, but let me know if there's something I can look into for you."
			case state.IntentSummaryRequest:
				message = summarize(s)
			default:
				message = fmt.Sprintf("I can help with: %q. Could you tell me a bit more about what you need?", instructionOf(s))
			}

			next := finish(s, "capi_gus", map[string]any{
				"result_summary": message,
			})
			return next, nil
		},
	}
}

func summarize(s *state.GraphState) string {
	if len(s.SharedArtifacts) == 0 {
		return "There's nothing to summarize yet for this session."
	}
	count := 0
	for range s.SharedArtifacts {
		count++
	}
	return fmt.Sprintf("So far this session has produced findings from %d agent(s).", count)
}
