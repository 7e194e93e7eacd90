package registry

import (
	"fmt"

	"github.com/smallnest/capiflow/graph"
)

// BuildGraph compiles the topology from coreNodes (the always-present
// Start/Intent/.../Finalize nodes, supplied by the caller since they
// depend on LLM/tool wiring outside this package's concern) plus every
// enabled agent this registry can instantiate. Disabled or unavailable
// (no-factory) agents are simply absent from the compiled path_maps;
// this is the dynamic builder ("enumerates agents from the
// registry, filters by enablement, instantiates each, and wires the
// standard edges").
func (r *Registry) BuildGraph(coreNodes map[string]graph.Node) (*graph.CompiledGraph, []string, error) {
	nodes := make(map[string]graph.Node, len(coreNodes)+8)
	for name, n := range coreNodes {
		nodes[name] = n
	}

	var enabledNames []string
	for _, name := range r.EnabledAgentNames() {
		n, ok, err := r.NodeFor(name)
		if err != nil {
			return nil, nil, fmt.Errorf("registry: build graph: %w", err)
		}
		if !ok {
			continue // optional agent absent from this build; skip with warning already logged
		}
		nodes[name] = n
		enabledNames = append(enabledNames, name)
	}

	compiled, err := graph.BuildTopology(nodes, enabledNames)
	if err != nil {
		return nil, nil, fmt.Errorf("registry: compile dynamic topology: %w", err)
	}
	return compiled, enabledNames, nil
}
