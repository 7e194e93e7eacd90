package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/graph"
)

func TestNew_SeedsDefaultManifestFileWhenMissing(t *testing.T) {
	source := filepath.Join(t.TempDir(), "agents.json")
	r, err := New(source, nil, nil)
	require.NoError(t, err)

	agents := r.ListRegisteredAgents()
	assert.Len(t, agents, 8)
	for _, a := range agents {
		assert.True(t, a.Enabled)
	}
}

func TestConfig_SetEnabledOverridesManifest(t *testing.T) {
	source := filepath.Join(t.TempDir(), "agents.json")
	r, err := New(source, nil, nil)
	require.NoError(t, err)

	assert.True(t, r.Config().IsEnabled("capi_desktop"))
	r.Config().SetEnabled("capi_desktop", false)
	assert.False(t, r.Config().IsEnabled("capi_desktop"))

	names := r.EnabledAgentNames()
	assert.NotContains(t, names, "capi_desktop")
}

func TestUnregisterAgent_RemovesManifestAndDisables(t *testing.T) {
	source := filepath.Join(t.TempDir(), "agents.json")
	r, err := New(source, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.UnregisterAgent("branch"))
	_, ok := r.GetAgentManifest("branch")
	assert.False(t, ok)
	assert.NotContains(t, r.EnabledAgentNames(), "branch")

	err = r.UnregisterAgent("branch")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestRegisterAgent_ReEnablesKnownAgent(t *testing.T) {
	source := filepath.Join(t.TempDir(), "agents.json")
	r, err := New(source, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.UnregisterAgent("anomaly"))
	require.NoError(t, r.RegisterAgent("anomaly"))

	m, ok := r.GetAgentManifest("anomaly")
	require.True(t, ok)
	assert.True(t, m.Enabled)
	assert.Contains(t, r.EnabledAgentNames(), "anomaly")
}

func TestNodeFor_MissingFactorySkipsGracefully(t *testing.T) {
	source := filepath.Join(t.TempDir(), "agents.json")
	r, err := New(source, map[string]graph.NodeFactory{}, nil)
	require.NoError(t, err)

	_, ok, err := r.NodeFor("capi_gus")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefreshRegistry_InvalidatesNodeCache(t *testing.T) {
	source := filepath.Join(t.TempDir(), "agents.json")
	calls := 0
	factories := map[string]graph.NodeFactory{
		"capiflow/nodes/agents.CapiGus": func(name string) (graph.Node, error) {
			calls++
			return graph.Node{Name: name}, nil
		},
	}
	r, err := New(source, factories, nil)
	require.NoError(t, err)

	_, ok, err := r.NodeFor("capi_gus")
	require.NoError(t, err)
	require.True(t, ok)
	_, _, _ = r.NodeFor("capi_gus")
	assert.Equal(t, 1, calls, "second call should hit the cache")

	require.NoError(t, r.RefreshRegistry())
	_, _, _ = r.NodeFor("capi_gus")
	assert.Equal(t, 2, calls, "refresh must invalidate the cache")
}
