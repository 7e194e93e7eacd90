package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/state"
)

func TestUpdateFromState_WritesAndReads(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	s := state.New("sess-1", "trace-1", "user-1", "hola", state.WorkflowModeChat)
	s.CompletedNodes = []string{"start", "intent"}
	s.ResponseMessage = "hello there"

	require.NoError(t, st.UpdateFromState(s))

	m, err := st.GetManifest("sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", m.SessionID)
	assert.Equal(t, []string{"start", "intent"}, m.CompletedNodes)
	assert.Equal(t, "hello there", m.LastResponse)
}

func TestGetManifest_MissingReturnsError(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = st.GetManifest("nope")
	assert.Error(t, err)
}

func TestUpdateFromState_MergesExportsAcrossUpdates(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	s1 := state.New("sess-1", "trace-1", "user-1", "q", state.WorkflowModeChat)
	s1.SharedArtifacts["capi_datab"] = map[string]any{"export_path": "a.csv"}
	require.NoError(t, st.UpdateFromState(s1))

	s2 := state.New("sess-1", "trace-2", "user-1", "q2", state.WorkflowModeChat)
	s2.SharedArtifacts["capi_desktop"] = map[string]any{"export_path": "b.xlsx"}
	require.NoError(t, st.UpdateFromState(s2))

	m, err := st.GetManifest("sess-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.csv", "b.xlsx"}, m.DatabExports)
}

func TestListSessions_Sorted(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"b-sess", "a-sess"} {
		s := state.New(id, "t", "u", "q", state.WorkflowModeChat)
		require.NoError(t, st.UpdateFromState(s))
	}

	ids, err := st.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-sess", "b-sess"}, ids)
}

func TestClear_RemovesManifestAndIsIdempotent(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	s := state.New("sess-1", "t", "u", "q", state.WorkflowModeChat)
	require.NoError(t, st.UpdateFromState(s))

	require.NoError(t, st.Clear("sess-1"))
	_, err = st.GetManifest("sess-1")
	assert.Error(t, err)

	// Clearing again (already missing) is not an error.
	assert.NoError(t, st.Clear("sess-1"))
}

func TestSanitize_FilesystemSafeSessionID(t *testing.T) {
	st, err := New(t.TempDir())
	require.NoError(t, err)

	s := state.New("../../etc/passwd", "t", "u", "q", state.WorkflowModeChat)
	require.NoError(t, st.UpdateFromState(s))

	path := st.pathFor("../../etc/passwd")
	assert.Equal(t, filepath.Join(st.dir, "session_.._.._etc_passwd.json"), path)
}
