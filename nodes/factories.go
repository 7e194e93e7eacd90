package nodes

import (
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/nodes/agents"
	"github.com/smallnest/capiflow/nodes/support"
)

// CoreNodes returns the ten always-present backbone nodes (every name
// BuildTopology expects besides the specialist agents the registry
// supplies dynamically).
func CoreNodes(deps support.Dependencies) map[string]graph.Node {
	nodes := map[string]graph.Node{}
	for _, n := range []graph.Node{
		NewStart(deps),
		NewIntent(deps, nil),
		NewReact(deps, DefaultReactIterations),
		NewReasoning(deps),
		NewSupervisor(deps),
		NewLoopController(deps),
		NewRouter(deps),
		NewHumanGate(deps),
		NewAssemble(deps),
		NewFinalize(deps),
	} {
		nodes[n.Name] = n
	}
	return nodes
}

// AgentFactories returns the node_class_path -> factory table the
// registry package dynamically dispatches through, bound to
// deps. Keys must match registry.DefaultManifests()'s node_class_path
// strings exactly; a mismatch leaves an agent silently unavailable
// rather than failing construction (registry.NodeFor's graceful-skip
// behavior).
func AgentFactories(deps support.Dependencies) map[string]graph.NodeFactory {
	bind := func(build func(support.Dependencies) graph.Node) graph.NodeFactory {
		return func(name string) (graph.Node, error) {
			n := build(deps)
			n.IsAgentNode = true
			return n, nil
		}
	}
	return map[string]graph.NodeFactory{
		"capiflow/nodes/agents.CapiDatab":   bind(agents.NewCapiDatab),
		"capiflow/nodes/agents.CapiAlertas": bind(agents.NewCapiAlertas),
		"capiflow/nodes/agents.CapiElCajas": bind(agents.NewCapiElcajas),
		"capiflow/nodes/agents.CapiDesktop": bind(agents.NewCapiDesktop),
		"capiflow/nodes/agents.CapiGus":     bind(agents.NewCapiGus),
		"capiflow/nodes/agents.Branch":      bind(agents.NewBranch),
		"capiflow/nodes/agents.Anomaly":     bind(agents.NewAnomaly),
		"capiflow/nodes/agents.AgenteG":     bind(agents.NewAgenteG),
	}
}
