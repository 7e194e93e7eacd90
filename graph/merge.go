package graph

import "github.com/smallnest/capiflow/state"

// mergeFanout combines the sibling states produced by a parallel fan-out
// at their convergent node (always "assemble") using deterministic merge
// rules: per-field last-writer-wins for scalars, union for lists,
// recursive merge for mappings. base is the pre-fan-out state the
// branches cloned from.
func mergeFanout(base *state.GraphState, branches []*state.GraphState) *state.GraphState {
	if len(branches) == 0 {
		return base
	}
	merged := state.Clone(base)

	for _, b := range branches {
		if b.ResponseMessage != "" {
			merged.ResponseMessage = b.ResponseMessage
		}
		if b.ActiveAgent != "" {
			merged.ActiveAgent = b.ActiveAgent
		}
		if b.CurrentNode != "" {
			merged.CurrentNode = b.CurrentNode
		}
		if b.Status != "" {
			merged.Status = b.Status
		}
		if b.ReasoningSummary != "" {
			merged.ReasoningSummary = b.ReasoningSummary
		}

		merged.CompletedNodes = unionStrings(merged.CompletedNodes, b.CompletedNodes)
		merged.RoutingDecision = unionStrings(merged.RoutingDecision, b.RoutingDecision)

		merged.ResponseData = mergeOneLevelExported(merged.ResponseData, b.ResponseData)
		merged.ResponseMetadata = mergeOneLevelExported(merged.ResponseMetadata, b.ResponseMetadata)
		merged.ExternalPayload = mergeOneLevelExported(merged.ExternalPayload, b.ExternalPayload)

		for agent, artifact := range b.SharedArtifacts {
			merged.SharedArtifacts[agent] = mergeOneLevelExported(merged.SharedArtifacts[agent], artifact)
		}
		for k, v := range b.ProcessingMetrics {
			merged.ProcessingMetrics[k] = v
		}

		merged.Errors = append(merged.Errors, diffErrors(base.Errors, b.Errors)...)
		merged.ConversationHistory = append(merged.ConversationHistory, diffHistory(base.ConversationHistory, b.ConversationHistory)...)
	}
	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range b {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// mergeOneLevelExported merges nested mappings recursively at every depth,
// unlike state.MergeDict, which merges nested mappings only one level deep.
// It lives here because fan-out convergence merges two already-built maps
// rather than applying a single partial update.
func mergeOneLevelExported(base, partial map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(partial))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range partial {
		if nestedPartial, ok := v.(map[string]any); ok {
			if nestedBase, ok := out[k].(map[string]any); ok {
				out[k] = mergeOneLevelExported(nestedBase, nestedPartial)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func diffErrors(base, branch []state.ErrorRecord) []state.ErrorRecord {
	if len(branch) <= len(base) {
		return nil
	}
	return branch[len(base):]
}

func diffHistory(base, branch []state.HistoryTurn) []state.HistoryTurn {
	if len(branch) <= len(base) {
		return nil
	}
	return branch[len(base):]
}
