package graph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(_ context.Context, _ string, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func echoNode(name, marker string) Node {
	return Node{
		Name: name,
		Run: func(ctx *RunContext, s *state.GraphState) (*state.GraphState, error) {
			out := state.Clone(s)
			out.CompletedNodes = append(out.CompletedNodes, marker)
			return out, nil
		},
	}
}

func TestInvoke_LinearGraphRunsToEnd(t *testing.T) {
	b := NewBuilder().
		AddNode(echoNode("start", "start")).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New())
	final, err := it.Invoke(context.Background(), "sess-1", "trace-1", state.New("sess-1", "trace-1", "u", "hi", state.WorkflowModeChat), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "assemble"}, final.CompletedNodes)
}

func TestInvoke_FanOutMergesBeforeAssemble(t *testing.T) {
	fanout := func(s *state.GraphState) []string { return []string{"b", "c"} }
	b := NewBuilder().
		AddNode(echoNode("a", "a")).
		AddNode(echoNode("b", "b")).
		AddNode(echoNode("c", "c")).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("a").
		AddConditionalEdge("a", fanout, map[string]string{"b": "b", "c": "c"}).
		AddEdge("b", "assemble").
		AddEdge("c", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New())
	final, err := it.Invoke(context.Background(), "sess-2", "trace-2", state.New("sess-2", "trace-2", "u", "hi", state.WorkflowModeChat), nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "assemble"}, final.CompletedNodes)
}

func TestInvoke_InterruptBeforeNodeStopsExecution(t *testing.T) {
	b := NewBuilder().
		AddNode(echoNode("start", "start")).
		AddNode(echoNode("human_gate", "human_gate")).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "human_gate").
		AddEdge("human_gate", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New())
	cfg := &Config{InterruptBefore: []string{"human_gate"}}
	_, err = it.Invoke(context.Background(), "sess-3", "trace-3", state.New("sess-3", "trace-3", "u", "hi", state.WorkflowModeChat), cfg)

	var gi *GraphInterrupt
	require.ErrorAs(t, err, &gi)
	assert.Equal(t, "human_gate", gi.Node)
}

func TestInvoke_NodeInterruptIsReturnedNotRetried(t *testing.T) {
	b := NewBuilder().
		AddNode(Node{Name: "start", Run: func(ctx *RunContext, s *state.GraphState) (*state.GraphState, error) {
			return nil, Interrupt("start", "needs approval", nil, true)
		}}).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New())
	_, err = it.Invoke(context.Background(), "sess-4", "trace-4", state.New("sess-4", "trace-4", "u", "hi", state.WorkflowModeChat), nil)

	var gi *GraphInterrupt
	require.ErrorAs(t, err, &gi)
	require.NotNil(t, gi.InterruptValue)
	assert.True(t, gi.InterruptValue.RequiresHumanApproval)
}

func TestInvoke_NodeTransitionsChainFromToAcrossSteps(t *testing.T) {
	b := NewBuilder().
		AddNode(echoNode("start", "start")).
		AddNode(Node{Name: "capi_gus", IsAgentNode: true, Run: func(ctx *RunContext, s *state.GraphState) (*state.GraphState, error) {
			return s, nil
		}}).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "capi_gus").
		AddEdge("capi_gus", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	sink := &recordingSink{}
	it := NewInterpreter(g, memory.New(), WithEventSink(sink))
	_, err = it.Invoke(context.Background(), "sess-ev", "trace-ev", state.New("sess-ev", "trace-ev", "u", "hi", state.WorkflowModeChat), nil)
	require.NoError(t, err)

	transitions := sink.ofType(EventNodeTransition)
	require.Len(t, transitions, 3)
	assert.Equal(t, "", transitions[0].FromNode)
	assert.Equal(t, "start", transitions[0].ToNode)
	for i := 1; i < len(transitions); i++ {
		assert.Equal(t, transitions[i-1].ToNode, transitions[i].FromNode)
		assert.NotEqual(t, transitions[i].FromNode, transitions[i].ToNode)
	}

	// The transition into an agent node precedes its agent_start, and
	// starts and ends pair up.
	starts := sink.ofType(EventAgentStart)
	ends := sink.ofType(EventAgentEnd)
	require.Len(t, starts, 1)
	assert.Len(t, ends, len(starts))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var sawGusTransition bool
	for _, e := range sink.events {
		if e.Type == EventNodeTransition && e.ToNode == "capi_gus" {
			sawGusTransition = true
		}
		if e.Type == EventAgentStart {
			assert.True(t, sawGusTransition, "agent_start must come after the transition into the agent node")
		}
	}
}

func TestInvoke_NodeTimeoutRoutesToAssemble(t *testing.T) {
	b := NewBuilder().
		AddNode(Node{Name: "start", Run: func(ctx *RunContext, s *state.GraphState) (*state.GraphState, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return s, nil
			}
		}}).
		AddNode(echoNode("slow_branch", "slow_branch")).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "slow_branch").
		AddEdge("slow_branch", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New(), WithNodeTimeout(20*time.Millisecond))
	final, err := it.Invoke(context.Background(), "sess-to", "trace-to", state.New("sess-to", "trace-to", "u", "hi", state.WorkflowModeChat), nil)
	require.NoError(t, err)

	require.NotEmpty(t, final.Errors)
	assert.Equal(t, "node_timeout", final.Errors[0].Code)
	assert.Contains(t, final.CompletedNodes, "start")
	assert.Contains(t, final.CompletedNodes, "assemble")
	assert.NotContains(t, final.CompletedNodes, "slow_branch")
}

func TestStream_PendingInterruptSuppressesManualFallback(t *testing.T) {
	b := NewBuilder().
		AddNode(echoNode("start", "start")).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New())
	cfg := &Config{InterruptBefore: []string{"start"}}
	chunks, errc := it.Stream(context.Background(), "sess-ib", "trace-ib", state.New("sess-ib", "trace-ib", "u", "hi", state.WorkflowModeChat), cfg, StreamModeValues)

	var sawChunk bool
	for range chunks {
		sawChunk = true
	}
	err = <-errc

	assert.False(t, sawChunk, "an interrupted zero-update run must not trigger the fallback")
	var gi *GraphInterrupt
	assert.ErrorAs(t, err, &gi)
}

func TestStream_ZeroUpdatesRunsManualFallback(t *testing.T) {
	b := NewBuilder().
		AddNode(Node{Name: "start", Run: func(ctx *RunContext, s *state.GraphState) (*state.GraphState, error) {
			return nil, context.Canceled
		}}).
		AddNode(echoNode("assemble", "assemble")).
		SetEntryPoint("start").
		AddEdge("start", "assemble").
		AddEdge("assemble", END)
	g, err := b.Compile()
	require.NoError(t, err)

	it := NewInterpreter(g, memory.New())
	chunks, errc := it.Stream(context.Background(), "sess-fb", "trace-fb", state.New("sess-fb", "trace-fb", "u", "hi", state.WorkflowModeChat), nil, StreamModeValues)

	var fallback *state.GraphState
	for c := range chunks {
		if c.Full != nil {
			fallback = c.Full
		}
	}
	<-errc

	require.NotNil(t, fallback, "fallback should still deliver a terminal state")
	assert.Equal(t, state.StatusCompleted, fallback.Status)
	assert.Contains(t, fallback.CompletedNodes, "finalize")
	assert.Contains(t, fallback.CompletedNodes, "capi_gus")
}
