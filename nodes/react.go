package nodes

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// DefaultReactIterations is the bounded iteration count
// ("up to N (default 3) reason-act iterations").
const DefaultReactIterations = 3

// reactTools is the fixed toolset. Each tool reads from
// state only; none performs external I/O that can't be idempotently
// retried.
var reactTools = []string{
	"summarize_context", "collect_metrics", "inspect_desktop",
	"detect_anomalies", "gather_news",
}

// ReactStep is one {thought, action, observation} record.
type ReactStep struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

func toolForIntent(intent state.Intent) string {
	switch intent {
	case state.IntentFileOperation:
		return "inspect_desktop"
	case state.IntentAnomalyQuery:
		return "detect_anomalies"
	case state.IntentSummaryRequest:
		return "summarize_context"
	case state.IntentBranchQuery, state.IntentDBOperation:
		return "collect_metrics"
	case state.IntentGoogleWorkspace, state.IntentGoogleGmail, state.IntentGoogleDrive, state.IntentGoogleCalendar:
		return "gather_news"
	default:
		return "summarize_context"
	}
}

func recommendedAgentForTool(tool string, fallback string) string {
	switch tool {
	case "inspect_desktop":
		return "capi_desktop"
	case "detect_anomalies":
		return "anomaly"
	case "collect_metrics":
		return "capi_datab"
	case "gather_news":
		return "agente_g"
	default:
		return fallback
	}
}

// runReactTool evaluates a fixed-toolset action against s without
// performing any non-idempotent external I/O.
func runReactTool(s *state.GraphState, tool string) string {
	switch tool {
	case "summarize_context":
		return fmt.Sprintf("conversation has %d prior turns; query: %q", len(s.ConversationHistory), s.OriginalQuery)
	case "collect_metrics":
		return fmt.Sprintf("processing_metrics has %d entries", len(s.ProcessingMetrics))
	case "inspect_desktop":
		return "desktop/file operation requested; deferring to capi_desktop for sandboxed execution"
	case "detect_anomalies":
		return "no anomaly scan performed yet; deferring to anomaly agent"
	case "gather_news":
		return "deferring to agente_g for Google Workspace context"
	default:
		return "unknown tool"
	}
}

// NewReact returns the ReAct node: a bounded reason-act loop over the
// fixed toolset, optionally LLM-driven, producing react_trace and
// response_metadata.react_recommended_agent.
func NewReact(deps support.Dependencies, maxIterations int) graph.Node {
	if maxIterations <= 0 {
		maxIterations = DefaultReactIterations
	}
	return graph.Node{
		Name: "react",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			var trace []ReactStep
			recommended := ""

			for i := 0; i < maxIterations; i++ {
				tool := chooseReactTool(ctx, deps, s, trace)
				if tool == "" {
					break
				}
				observation := runReactTool(s, tool)
				trace = append(trace, ReactStep{
					Thought:     fmt.Sprintf("iteration %d: intent=%s", i+1, s.DetectedIntent),
					Action:      tool,
					Observation: observation,
				})
				recommended = recommendedAgentForTool(tool, recommended)
			}

			traceAny := make([]any, len(trace))
			for i, t := range trace {
				traceAny[i] = map[string]any{"thought": t.Thought, "action": t.Action, "observation": t.Observation}
			}

			next := state.UpdateField(s, "current_node", "react")
			next = state.MergeDict(next, state.FieldResponseMetadata, map[string]any{
				"react_trace":             traceAny,
				"react_recommended_agent": recommended,
			})
			next = state.AppendToList(next, state.FieldCompletedNodes, "react")
			return next, nil
		},
	}
}

// chooseReactTool asks the LLM, via a forced tool call, which of the
// fixed toolset to invoke next, or "finish" to stop; with no LLM
// configured it falls back to a single heuristic pick per intent and
// then stops.
func chooseReactTool(ctx context.Context, deps support.Dependencies, s *state.GraphState, trace []ReactStep) string {
	if deps.LLM == nil {
		if len(trace) > 0 {
			return ""
		}
		return toolForIntent(s.DetectedIntent)
	}

	options := append(append([]string{}, reactTools...), "finish")
	reactToolDef := llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "choose_action",
			Description: "Choose the next reasoning action, or finish.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"action": map[string]any{"type": "string", "enum": options}},
				"required":   []string{"action"},
			},
		},
	}
	prompt := fmt.Sprintf("Query: %q. Intent: %s. Steps so far: %d.", s.OriginalQuery, s.DetectedIntent, len(trace))
	resp, err := deps.LLM.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTools([]llms.Tool{reactToolDef}),
		llms.WithToolChoice(llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "choose_action"}}),
	)
	if err != nil || len(resp.Choices) == 0 || len(resp.Choices[0].ToolCalls) == 0 {
		deps.Log().Warn("react: LLM tool choice failed, falling back to heuristic: %v", err)
		if len(trace) > 0 {
			return ""
		}
		return toolForIntent(s.DetectedIntent)
	}

	var args struct {
		Action string `json:"action"`
	}
	if err := decodeToolArgs(resp.Choices[0].ToolCalls[0].FunctionCall.Arguments, &args); err != nil || args.Action == "finish" {
		return ""
	}
	return args.Action
}
