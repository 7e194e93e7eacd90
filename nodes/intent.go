package nodes

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/state"
)

// SemanticIntentService is the pluggable classifier the Intent node
// delegates to. Implementations may call out to an LLM; the node treats
// any error as a fail-open to UNKNOWN with confidence 0 rather than
// aborting the turn.
type SemanticIntentService interface {
	Classify(ctx context.Context, query string, externalPayload map[string]any) (intent state.Intent, confidence float64, targetAgent string, err error)
}

// HeuristicIntentService is a keyword-matching SemanticIntentService used
// as a default and as the degrade-to fallback when no LLM is configured.
type HeuristicIntentService struct{}

var _ SemanticIntentService = HeuristicIntentService{}

func (HeuristicIntentService) Classify(_ context.Context, query string, payload map[string]any) (state.Intent, float64, string, error) {
	if op, ok := payload["operation"]; ok && op != "" {
		return state.IntentDBOperation, 0.95, "capi_datab", nil
	}

	q := strings.ToLower(strings.TrimSpace(query))
	switch {
	case q == "":
		return state.IntentUnknown, 0, "", nil
	case matchesAny(q, "hola", "buenos dias", "buenas tardes", "hello", "hi "):
		return state.IntentGreeting, 0.9, "capi_gus", nil
	case matchesAny(q, "como estas", "que tal", "gracias", "chau"):
		return state.IntentSmallTalk, 0.75, "capi_gus", nil
	case matchesAny(q, "resumen", "resume", "summary", "summarize"):
		return state.IntentSummaryRequest, 0.8, "capi_gus", nil
	case matchesAny(q, "saldo", "sucursal", "balance", "branch"):
		return state.IntentBranchQuery, 0.85, "branch", nil
	case matchesAny(q, "anomalia", "anomaly", "alerta", "sospechoso"):
		return state.IntentAnomalyQuery, 0.8, "anomaly", nil
	case matchesAny(q, "archivo", "carpeta", "abri", "file", "folder", "desktop"):
		return state.IntentFileOperation, 0.8, "capi_desktop", nil
	case matchesAny(q, "select ", "update ", "insert ", "delete ", "sql", "tabla"):
		return state.IntentDBOperation, 0.85, "capi_datab", nil
	case matchesAny(q, "gmail", "correo", "email"):
		return state.IntentGoogleGmail, 0.8, "agente_g", nil
	case matchesAny(q, "drive", "documento compartido"):
		return state.IntentGoogleDrive, 0.8, "agente_g", nil
	case matchesAny(q, "calendario", "calendar", "reunion", "agenda"):
		return state.IntentGoogleCalendar, 0.8, "agente_g", nil
	case matchesAny(q, "workspace", "google"):
		return state.IntentGoogleWorkspace, 0.7, "agente_g", nil
	default:
		return state.IntentQuery, 0.4, "capi_gus", nil
	}
}

func matchesAny(q string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(q, n) {
			return true
		}
	}
	return false
}

// LLMIntentService calls an llms.Model with a forced function-call tool
// to classify, and falls back to HeuristicIntentService on any LLM error
// so classification failure never aborts the turn.
type LLMIntentService struct {
	Model    llms.Model
	Fallback SemanticIntentService
}

var _ SemanticIntentService = (*LLMIntentService)(nil)

func NewLLMIntentService(model llms.Model) *LLMIntentService {
	return &LLMIntentService{Model: model, Fallback: HeuristicIntentService{}}
}

func (s *LLMIntentService) Classify(ctx context.Context, query string, payload map[string]any) (state.Intent, float64, string, error) {
	if s.Model == nil {
		return s.Fallback.Classify(ctx, query, payload)
	}

	intentNames := []string{
		string(state.IntentGreeting), string(state.IntentSmallTalk), string(state.IntentSummaryRequest),
		string(state.IntentBranchQuery), string(state.IntentAnomalyQuery), string(state.IntentFileOperation),
		string(state.IntentDBOperation), string(state.IntentGoogleWorkspace), string(state.IntentGoogleGmail),
		string(state.IntentGoogleDrive), string(state.IntentGoogleCalendar), string(state.IntentQuery),
		string(state.IntentUnknown),
	}
	classifyTool := llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        "classify_intent",
			Description: "Classify the user's query into one financial-assistant intent.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"intent":     map[string]any{"type": "string", "enum": intentNames},
					"confidence": map[string]any{"type": "number"},
				},
				"required": []string{"intent", "confidence"},
			},
		},
	}

	resp, err := s.Model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, query)},
		llms.WithTools([]llms.Tool{classifyTool}),
		llms.WithToolChoice(llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "classify_intent"}}),
	)
	if err != nil || len(resp.Choices) == 0 || len(resp.Choices[0].ToolCalls) == 0 {
		return s.Fallback.Classify(ctx, query, payload)
	}

	var args struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := decodeToolArgs(resp.Choices[0].ToolCalls[0].FunctionCall.Arguments, &args); err != nil {
		return s.Fallback.Classify(ctx, query, payload)
	}
	return state.Intent(args.Intent), args.Confidence, "", nil
}

// NewIntent returns the Intent node. svc may be nil, in which case an
// LLMIntentService over deps.LLM is used, or HeuristicIntentService when
// deps.LLM is nil.
func NewIntent(deps support.Dependencies, svc SemanticIntentService) graph.Node {
	if svc == nil {
		if deps.LLM != nil {
			svc = NewLLMIntentService(deps.LLM)
		} else {
			svc = HeuristicIntentService{}
		}
	}
	return graph.Node{
		Name: "intent",
		Run: func(ctx *graph.RunContext, s *state.GraphState) (*state.GraphState, error) {
			intent, confidence, targetAgent, err := svc.Classify(ctx, s.OriginalQuery, s.ExternalPayload)
			if err != nil {
				deps.Log().Warn("intent: classification failed, falling open to UNKNOWN: %v", err)
				intent, confidence = state.IntentUnknown, 0
			}
			next := state.UpdateField(s, "current_node", "intent")
			next = state.UpdateField(next, "detected_intent", intent)
			next = state.UpdateField(next, "intent_confidence", confidence)
			if targetAgent != "" {
				next = state.MergeDict(next, state.FieldResponseMetadata, map[string]any{
					"semantic_result": map[string]any{"target_agent": targetAgent},
				})
			}
			next = state.AppendToList(next, state.FieldCompletedNodes, "intent")
			return next, nil
		},
	}
}
