package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/state"
)

func compileTwoNodeConditional(t *testing.T, resolver Resolver, pathMap map[string]string) *CompiledGraph {
	t.Helper()
	b := NewBuilder().
		AddNode(noopNode("a")).
		AddNode(noopNode("b")).
		AddNode(noopNode("c")).
		AddNode(noopNode("assemble")).
		SetEntryPoint("a").
		AddConditionalEdge("a", resolver, pathMap).
		AddEdge("b", "assemble").
		AddEdge("c", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)
	return g
}

func TestResolveSuccessors_SingleMatch(t *testing.T) {
	g := compileTwoNodeConditional(t, func(s *state.GraphState) []string { return []string{"go_b"} }, map[string]string{"go_b": "b", "go_c": "c"})
	next, err := resolveSuccessors(g, "a", state.New("s", "t", "u", "q", state.WorkflowModeChat))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, next)
}

func TestResolveSuccessors_FanOutReturnsAll(t *testing.T) {
	g := compileTwoNodeConditional(t, func(s *state.GraphState) []string { return []string{"go_b", "go_c"} }, map[string]string{"go_b": "b", "go_c": "c"})
	next, err := resolveSuccessors(g, "a", state.New("s", "t", "u", "q", state.WorkflowModeChat))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, next)
}

func TestResolveSuccessors_UnknownNameFallsBackToAssemble(t *testing.T) {
	g := compileTwoNodeConditional(t, func(s *state.GraphState) []string { return []string{"nonsense"} }, map[string]string{"go_b": "b"})
	next, err := resolveSuccessors(g, "a", state.New("s", "t", "u", "q", state.WorkflowModeChat))
	require.NoError(t, err)
	assert.Equal(t, []string{"assemble"}, next)
}

func TestResolveSuccessors_NoOutgoingEdge(t *testing.T) {
	b := NewBuilder().AddNode(noopNode("lonely")).SetEntryPoint("lonely")
	g, err := b.Compile()
	require.NoError(t, err)
	_, err = resolveSuccessors(g, "lonely", state.New("s", "t", "u", "q", state.WorkflowModeChat))
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}
