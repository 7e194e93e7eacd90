package graph

import "fmt"

// Builder accumulates nodes and edges before Compile freezes them into a
// CompiledGraph. This is the Graph Builder; both the static
// topology (graph/topology.go) and the registry-driven dynamic builder
// (registry package) construct a Builder and call Compile.
type Builder struct {
	nodes      map[string]*Node
	edges      []Edge
	entryPoint string
	duplicates []string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{nodes: map[string]*Node{}}
}

// AddNode registers a node. Adding the same name twice is a builder error
// surfaced at Compile time.
func (b *Builder) AddNode(n Node) *Builder {
	if _, exists := b.nodes[n.Name]; exists {
		b.duplicates = append(b.duplicates, n.Name)
	}
	b.nodes[n.Name] = &n
	return b
}

// SetEntryPoint designates the first node the interpreter runs.
func (b *Builder) SetEntryPoint(name string) *Builder {
	b.entryPoint = name
	return b
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to})
	return b
}

// AddConditionalEdge adds a conditional edge. pathMap maps every name the
// resolver may return (other than "assemble", which is always a valid
// fallback) to a destination node name.
func (b *Builder) AddConditionalEdge(from string, resolver Resolver, pathMap map[string]string) *Builder {
	b.edges = append(b.edges, Edge{From: from, Resolver: resolver, PathMap: pathMap})
	return b
}

// CompiledGraph is an immutable, validated topology ready for execution.
// Rebuilding (orchestrator.RefreshGraph or a registry change) produces a new CompiledGraph; readers
// holding a reference to an older one keep using it for in-flight turns.
type CompiledGraph struct {
	nodes      map[string]*Node
	edgesFrom  map[string][]Edge
	entryPoint string
	version    int
	builtAt    int64
}

// Compile validates the builder's accumulated nodes/edges and freezes them.
func (b *Builder) Compile() (*CompiledGraph, error) {
	if len(b.duplicates) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, b.duplicates[0])
	}
	if b.entryPoint == "" {
		return nil, ErrEntryPointRequired
	}
	if _, ok := b.nodes[b.entryPoint]; !ok {
		return nil, fmt.Errorf("%w: entry point %q", ErrNodeNotFound, b.entryPoint)
	}
	edgesFrom := map[string][]Edge{}
	for _, e := range b.edges {
		if _, ok := b.nodes[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, e.From)
		}
		if e.Resolver == nil {
			if e.To != END {
				if _, ok := b.nodes[e.To]; !ok {
					return nil, fmt.Errorf("%w: edge target %q", ErrNodeNotFound, e.To)
				}
			}
		} else {
			for _, dst := range e.PathMap {
				if dst != END && dst != "assemble" {
					if _, ok := b.nodes[dst]; !ok {
						return nil, fmt.Errorf("%w: conditional target %q", ErrNodeNotFound, dst)
					}
				}
			}
		}
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}
	nodesCopy := make(map[string]*Node, len(b.nodes))
	for k, v := range b.nodes {
		nodesCopy[k] = v
	}
	return &CompiledGraph{
		nodes:      nodesCopy,
		edgesFrom:  edgesFrom,
		entryPoint: b.entryPoint,
	}, nil
}

// Nodes returns the compiled node names, for GraphStatus introspection.
func (g *CompiledGraph) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		names = append(names, n)
	}
	return names
}

// Edges returns a flattened (from, to) view for GraphStatus/visualization;
// conditional edges contribute one pair per path_map entry.
func (g *CompiledGraph) Edges() [][2]string {
	var out [][2]string
	for from, edges := range g.edgesFrom {
		for _, e := range edges {
			if e.Resolver == nil {
				out = append(out, [2]string{from, e.To})
				continue
			}
			for _, dst := range e.PathMap {
				out = append(out, [2]string{from, dst})
			}
		}
	}
	return out
}

// EntryPoint returns the node the interpreter starts from.
func (g *CompiledGraph) EntryPoint() string { return g.entryPoint }
