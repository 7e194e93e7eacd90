package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/gateway"
	"github.com/smallnest/capiflow/manifest"
	"github.com/smallnest/capiflow/nodes"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/registry"
	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store/memory"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	deps := support.Dependencies{WorkspaceRoot: dir}

	reg, err := registry.New(filepath.Join(dir, "agents.json"), nodes.AgentFactories(deps), nil)
	require.NoError(t, err)

	ms, err := manifest.New(dir)
	require.NoError(t, err)

	gw := gateway.New(0, nil)

	o, err := New(memory.New(), ms, reg, gw, deps)
	require.NoError(t, err)
	return o
}

func TestProcessQuery_Greeting(t *testing.T) {
	o := newTestOrchestrator(t)
	env, err := o.ProcessQuery(context.Background(), "sess-greet", "user-1", "hola", "", "")
	require.NoError(t, err)
	assert.Equal(t, ResponseSuccess, env.ResponseType)
	assert.Equal(t, state.IntentGreeting, env.Intent)
	assert.NotEmpty(t, env.Message)
	assert.NotEmpty(t, env.TraceID)
}

func TestProcessQuery_EmptyQueryIsGracefulError(t *testing.T) {
	o := newTestOrchestrator(t)
	env, err := o.ProcessQuery(context.Background(), "sess-empty", "user-1", "   ", "", "")
	require.NoError(t, err)
	assert.Equal(t, ResponseError, env.ResponseType)
	assert.NotEmpty(t, env.Message)
}

func TestProcessQuery_SessionBusyRejectsConcurrentTurn(t *testing.T) {
	o := newTestOrchestrator(t)
	sess := o.sessionFor("sess-busy")
	sess.mu.Lock()
	sess.busy = true
	sess.mu.Unlock()

	_, err := o.ProcessQuery(context.Background(), "sess-busy", "user-1", "hola", "", "")
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestProcessQuery_DisabledAgentFallsBackGracefully(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.UnregisterAgent("capi_desktop"))

	env, err := o.ProcessQuery(context.Background(), "sess-disabled", "user-1", "abri el archivo reporte.xlsx", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, ResponseError, env.ResponseType)
	assert.NotEmpty(t, env.Message)
}

func TestProcessQuery_ThenResumeHumanGate_CompletesApprovedWrite(t *testing.T) {
	o := newTestOrchestrator(t)

	text := `{"operation":"update","table":"t","values":{"x":1},"conditions":{"id":1},"query":"update the row"}`
	env, err := o.ProcessQuery(context.Background(), "sess-resume", "user-1", text, "", "")
	require.NoError(t, err)
	assert.Equal(t, ResponseNotice, env.ResponseType)
	requiresHuman, _ := env.Meta["requires_human"].(bool)
	assert.True(t, requiresHuman)

	final, err := o.ResumeHumanGate(context.Background(), "sess-resume", map[string]any{"approved": true})
	require.NoError(t, err)
	assert.NotEqual(t, ResponseError, final.ResponseType)
	assert.Contains(t, final.Data, "capi_datab")
}

func TestResumeHumanGate_NoInterruptPendingErrors(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.ResumeHumanGate(context.Background(), "sess-never-started", map[string]any{"approved": true})
	assert.Error(t, err)
}

func TestGetSessionHistory_TracksBothSidesOfTurn(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.ProcessQuery(context.Background(), "sess-hist", "user-1", "hola", "", "")
	require.NoError(t, err)

	history, err := o.GetSessionHistory("sess-hist")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "assistant", history[1].Role)
}

func TestListActiveSessions_AndClearSessionHistory(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.ProcessQuery(context.Background(), "sess-a", "user-1", "hola", "", "")
	require.NoError(t, err)
	_, err = o.ProcessQuery(context.Background(), "sess-b", "user-1", "hola", "", "")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sess-a", "sess-b"}, o.ListActiveSessions())

	require.NoError(t, o.ClearSessionHistory(context.Background(), "sess-a"))
	assert.ElementsMatch(t, []string{"sess-b"}, o.ListActiveSessions())
	_, err = o.GetSessionHistory("sess-a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegisterUnregisterAgent_RebuildsGraphStatus(t *testing.T) {
	o := newTestOrchestrator(t)
	before := o.GraphStatus()
	require.NoError(t, o.UnregisterAgent("anomaly"))
	after := o.GraphStatus()

	assert.NotContains(t, after.EnabledAgents, "anomaly")
	assert.Greater(t, after.Version, before.Version)
}

func TestRefreshGraph_Succeeds(t *testing.T) {
	o := newTestOrchestrator(t)
	require.NoError(t, o.RefreshGraph())
}

func TestResumeHumanGate_ExpiredInterruptAutoDeclines(t *testing.T) {
	dir := t.TempDir()
	deps := support.Dependencies{WorkspaceRoot: dir}

	reg, err := registry.New(filepath.Join(dir, "agents.json"), nodes.AgentFactories(deps), nil)
	require.NoError(t, err)
	ms, err := manifest.New(dir)
	require.NoError(t, err)

	o, err := New(memory.New(), ms, reg, gateway.New(0, nil), deps,
		WithInterruptTTL(time.Nanosecond))
	require.NoError(t, err)

	text := `{"operation":"delete","table":"t","conditions":{"id":1},"query":"remove the row"}`
	env, err := o.ProcessQuery(context.Background(), "sess-ttl", "user-1", text, "", "")
	require.NoError(t, err)
	requiresHuman, _ := env.Meta["requires_human"].(bool)
	require.True(t, requiresHuman)

	time.Sleep(time.Millisecond)

	final, err := o.ResumeHumanGate(context.Background(), "sess-ttl", map[string]any{"approved": true})
	require.NoError(t, err)
	timedOut, _ := final.Meta["human_timeout"].(bool)
	assert.True(t, timedOut)
	approved, _ := final.Meta["human_approved"].(bool)
	assert.False(t, approved)
}
