package graph

import (
	"fmt"
	"sort"
	"strings"
)

// DrawMermaid renders the compiled topology as a Mermaid flowchart, the
// same node/edge view GraphStatus hands back to callers.
func (g *CompiledGraph) DrawMermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")

	names := g.Nodes()
	sort.Strings(names)
	for _, n := range names {
		if n == g.entryPoint {
			fmt.Fprintf(&b, "    %s([%s])\n", mermaidID(n), n)
			continue
		}
		fmt.Fprintf(&b, "    %s[%s]\n", mermaidID(n), n)
	}

	edges := g.Edges()
	sort.Slice(edges, func(i, j int) bool {
		if edges[i][0] != edges[j][0] {
			return edges[i][0] < edges[j][0]
		}
		return edges[i][1] < edges[j][1]
	})
	seen := map[[2]string]struct{}{}
	for _, e := range edges {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		to := e[1]
		if to == END {
			fmt.Fprintf(&b, "    %s --> %s((end))\n", mermaidID(e[0]), mermaidID(e[0])+"_end")
			continue
		}
		fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(e[0]), mermaidID(to))
	}
	return b.String()
}

func mermaidID(name string) string {
	return strings.ReplaceAll(name, "__", "")
}
