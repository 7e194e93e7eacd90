package state

import "time"

// Field names StateMutator understands for list/map operations: the
// append-only and mergeable fields of GraphState. Everything else falls
// through to plain overwrite via UpdateField.
const (
	FieldCompletedNodes      = "completed_nodes"
	FieldConversationHistory = "conversation_history"
	FieldMemoryWindow        = "memory_window"
	FieldResponseData        = "response_data"
	FieldResponseMetadata    = "response_metadata"
	FieldSharedArtifacts     = "shared_artifacts"
	FieldProcessingMetrics   = "processing_metrics"
)

// UpdateField returns a new state with a single scalar field set. It is
// the escape hatch for fields StateMutator has no structural opinion
// about (current_node, status, active_agent, ...).
func UpdateField(s *GraphState, field string, value any) *GraphState {
	next := Clone(s)
	switch field {
	case "current_node":
		next.CurrentNode, _ = value.(string)
	case "status":
		next.Status, _ = value.(Status)
	case "detected_intent":
		next.DetectedIntent, _ = value.(Intent)
	case "intent_confidence":
		next.IntentConfidence, _ = value.(float64)
	case "active_agent":
		next.ActiveAgent, _ = value.(string)
	case "response_message":
		next.ResponseMessage, _ = value.(string)
	case "reasoning_summary":
		next.ReasoningSummary, _ = value.(string)
	case "routing_decision":
		switch v := value.(type) {
		case string:
			next.RoutingDecision = []string{v}
		case []string:
			next.RoutingDecision = append([]string(nil), v...)
		}
	}
	return next
}

// AppendToList appends item to the named ordered-sequence field,
// preserving order. completed_nodes additionally deduplicates: once a
// terminal node (finalize) is present, repeated appends of finalize are
// no-ops, matching the idempotence law ("Applying
// append_to_list(state, "completed_nodes", X) twice is equivalent to
// once").
func AppendToList(s *GraphState, field string, item any) *GraphState {
	next := Clone(s)
	switch field {
	case FieldCompletedNodes:
		name, _ := item.(string)
		if name == "" {
			return next
		}
		if len(next.CompletedNodes) > 0 && next.CompletedNodes[len(next.CompletedNodes)-1] == name {
			return next
		}
		next.CompletedNodes = append(next.CompletedNodes, name)
	case FieldConversationHistory:
		if turn, ok := item.(HistoryTurn); ok {
			next.ConversationHistory = append(next.ConversationHistory, turn)
		}
	case FieldMemoryWindow:
		if turn, ok := item.(HistoryTurn); ok {
			next.MemoryWindow = append(next.MemoryWindow, turn)
		}
	}
	return next
}

// MergeDict shallow-merges partial into the named mapping field; nested
// mappings are merged one level deep (deeper mappings are replaced
// wholesale), preserving the
// round-trip law MergeDict(MergeDict(s,f,A),f,B) == MergeDict(s,f,A∪B).
func MergeDict(s *GraphState, field string, partial map[string]any) *GraphState {
	next := Clone(s)
	switch field {
	case FieldResponseData:
		next.ResponseData = mergeOneLevel(next.ResponseData, partial)
	case FieldResponseMetadata:
		next.ResponseMetadata = mergeOneLevel(next.ResponseMetadata, partial)
	case FieldProcessingMetrics:
		for k, v := range partial {
			if f, ok := toFloat(v); ok {
				next.ProcessingMetrics[k] = f
			}
		}
	}
	return next
}

// MergeSharedArtifact merges partial into shared_artifacts[agent]. Only
// the named agent writes its own sub-mapping; assemble reads all of them
// but never writes through this function.
func MergeSharedArtifact(s *GraphState, agent string, partial map[string]any) *GraphState {
	next := Clone(s)
	existing := next.SharedArtifacts[agent]
	next.SharedArtifacts[agent] = mergeOneLevel(existing, partial)
	return next
}

func mergeOneLevel(base, partial map[string]any) map[string]any {
	out := copyMap(base)
	for k, v := range partial {
		if nestedPartial, ok := v.(map[string]any); ok {
			if nestedBase, ok := out[k].(map[string]any); ok {
				merged := copyMap(nestedBase)
				for nk, nv := range nestedPartial {
					merged[nk] = nv
				}
				out[k] = merged
				continue
			}
		}
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// AddError appends an ErrorRecord (errors only ever grow) and
// mirrors it into response_metadata.errors for nodes that surface faults
// to the user without reaching into the typed Errors slice directly.
func AddError(s *GraphState, node, code, message string, context map[string]any) *GraphState {
	next := Clone(s)
	rec := ErrorRecord{
		Code:      code,
		Message:   message,
		Node:      node,
		Context:   context,
		Timestamp: time.Now(),
	}
	next.Errors = append(next.Errors, rec)

	existing, _ := next.ResponseMetadata["errors"].([]any)
	next.ResponseMetadata["errors"] = append(existing, map[string]any{
		"code": code, "message": message, "node": node,
	})
	return next
}
