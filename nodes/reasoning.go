package nodes

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// ReasoningStep is one step of a ReasoningPlan.
type ReasoningStep struct {
	StepID      string   `json:"step_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Agent       string   `json:"agent,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// ReasoningPlan is the plan the Reasoning node produces for a turn.
type ReasoningPlan struct {
	Steps             []ReasoningStep `json:"steps"`
	RecommendedAgent  string          `json:"recommended_agent"`
	FallbackAgent     string          `json:"fallback_agent"`
	Confidence        float64         `json:"confidence"`
	CooperativeAgents []string        `json:"cooperative_agents,omitempty"`
	ProgressPercent   float64         `json:"progress_percent"`
	Complexity        string          `json:"complexity"`
	Version           int             `json:"version"`
	History           []string        `json:"history,omitempty"`
}

// recommendedAgentForIntent maps an intent family to the specialist
// agent that owns it.
func recommendedAgentForIntent(intent state.Intent) string {
	switch intent {
	case state.IntentSummaryRequest:
		return "capi_gus"
	case state.IntentDBOperation:
		return "capi_datab"
	case state.IntentFileOperation:
		return "capi_desktop"
	case state.IntentBranchQuery:
		return "branch"
	case state.IntentAnomalyQuery:
		return "anomaly"
	case state.IntentGoogleWorkspace, state.IntentGoogleGmail, state.IntentGoogleDrive, state.IntentGoogleCalendar:
		return "agente_g"
	case state.IntentGreeting, state.IntentSmallTalk:
		return "capi_gus"
	default:
		return "capi_gus" // clarifier chain catch-all
	}
}

func complexityFor(intent state.Intent, cooperative []string) string {
	switch {
	case len(cooperative) > 1:
		return "high"
	case intent == state.IntentDBOperation || intent == state.IntentBranchQuery:
		return "medium"
	default:
		return "low"
	}
}

// cooperatingAgentsFor lists extra agents a primary agent is known to
// hand off to: capi_datab cooperates with capi_alertas/capi_elcajas, and
// Google sub-intents all route through agente_g with a stashed
// sub-scope.
func cooperatingAgentsFor(recommended string) []string {
	switch recommended {
	case "capi_datab":
		return []string{"capi_alertas", "capi_elcajas"}
	default:
		return nil
	}
}

func googleScopeFor(intent state.Intent) string {
	switch intent {
	case state.IntentGoogleGmail:
		return "gmail"
	case state.IntentGoogleDrive:
		return "drive"
	case state.IntentGoogleCalendar:
		return "calendar"
	case state.IntentGoogleWorkspace:
		return "workspace"
	default:
		return ""
	}
}

// NewReasoning returns the Reasoning node: builds a
// ReasoningPlan from intent, the Intent node's semantic target_agent, and
// the ReAct recommendation (the enabled-agent set is not consulted here),
// stashing it into response_metadata.reasoning_plan and a
// narrative into reasoning_summary.
func NewReasoning(deps support.Dependencies) graph.Node {
	return graph.Node{
		Name: "reasoning",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			recommended := recommendedAgentForIntent(s.DetectedIntent)
			if sem, ok := s.ResponseMetadata["semantic_result"].(map[string]any); ok {
				if ta, ok := sem["target_agent"].(string); ok && ta != "" {
					recommended = ta
				}
			}
			if reactAgent, _ := s.ResponseMetadata["react_recommended_agent"].(string); reactAgent != "" {
				recommended = reactAgent
			}

			cooperative := cooperatingAgentsFor(recommended)
			complexity := complexityFor(s.DetectedIntent, cooperative)

			steps := []ReasoningStep{
				{StepID: "classify", Title: "Classify intent", Description: "determine the request family"},
				{StepID: "dispatch", Title: "Dispatch to specialist", Description: "hand the request to " + recommended, Agent: recommended, DependsOn: []string{"classify"}},
			}
			for i, coop := range cooperative {
				steps = append(steps, ReasoningStep{
					StepID:      fmt.Sprintf("cooperate_%d", i+1),
					Title:       "Cooperate with " + coop,
					Description: "enrich the primary result using " + coop,
					Agent:       coop,
					DependsOn:   []string{"dispatch"},
				})
			}
			steps = append(steps, ReasoningStep{StepID: "assemble", Title: "Assemble response", Description: "merge artifacts into the final response", DependsOn: []string{"dispatch"}})

			plan := ReasoningPlan{
				Steps:             steps,
				RecommendedAgent:  recommended,
				FallbackAgent:     "capi_gus",
				Confidence:        s.IntentConfidence,
				CooperativeAgents: cooperative,
				ProgressPercent:   progressPercent(1, len(steps)),
				Complexity:        complexity,
				Version:           1,
			}

			planMap := map[string]any{
				"steps":              stepsToAny(plan.Steps),
				"recommended_agent":  plan.RecommendedAgent,
				"fallback_agent":     plan.FallbackAgent,
				"confidence":         plan.Confidence,
				"cooperative_agents": toAnySlice(plan.CooperativeAgents),
				"progress_percent":   plan.ProgressPercent,
				"complexity":         plan.Complexity,
				"version":            plan.Version,
			}

			summary := fmt.Sprintf("Routing to %s (complexity=%s, confidence=%.2f)", recommended, complexity, plan.Confidence)

			next := state.UpdateField(s, "current_node", "reasoning")
			next = state.UpdateField(next, "reasoning_summary", summary)
			metadataUpdate := map[string]any{
				"reasoning_plan":     planMap,
				"recommended_agent":  recommended,
				"estimated_effort_s": float64(len(steps) * 5),
			}
			if scope := googleScopeFor(s.DetectedIntent); scope != "" {
				metadataUpdate["google_scope"] = scope
			}
			next = state.MergeDict(next, state.FieldResponseMetadata, metadataUpdate)
			next = state.AppendToList(next, state.FieldCompletedNodes, "reasoning")
			return next, nil
		},
	}
}

func progressPercent(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func stepsToAny(steps []ReasoningStep) []any {
	out := make([]any, len(steps))
	for i, st := range steps {
		out[i] = map[string]any{
			"step_id":     st.StepID,
			"title":       st.Title,
			"description": st.Description,
			"agent":       st.Agent,
			"depends_on":  toAnySlice(st.DependsOn),
		}
	}
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
