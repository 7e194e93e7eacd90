package graph

import "github.com/smallnest/capiflow/state"

// resolveSuccessors computes the next node(s) from "from" given s,
// applying conditional resolver semantics: a resolver may
// return a single name or several (fan-out); any name absent from its
// PathMap is rejected and substituted with "assemble".
// Unconditional edges always win when
// present and there's exactly one of them with no conditional edges from
// the same node; conditional edges take precedence when present since
// they are how every non-trivial transition in this graph is expressed.
func resolveSuccessors(g *CompiledGraph, from string, s *state.GraphState) ([]string, error) {
	edges, ok := g.edgesFrom[from]
	if !ok || len(edges) == 0 {
		return nil, ErrNoOutgoingEdge
	}

	for _, e := range edges {
		if e.Resolver == nil {
			continue
		}
		names := e.Resolver(s)
		if len(names) == 0 {
			return []string{"assemble"}, nil
		}
		resolved := make([]string, 0, len(names))
		for _, n := range names {
			if n == "assemble" || n == END {
				resolved = append(resolved, n)
				continue
			}
			if _, known := e.PathMap[n]; known {
				resolved = append(resolved, e.PathMap[n])
				continue
			}
			// Unknown name: fall back to assemble for this branch only.
			resolved = append(resolved, "assemble")
		}
		return dedupe(resolved), nil
	}

	// No conditional edge from this node: use the unconditional edge(s).
	var names []string
	for _, e := range edges {
		names = append(names, e.To)
	}
	return dedupe(names), nil
}

func dedupe(in []string) []string {
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
