package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snap := state.New("sess-1", "trace-1", "user-1", "hi", state.WorkflowModeChat)

	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", snap))
	got, err := s.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.OriginalQuery)
}

func TestStore_Get_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "sess-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_LatestReturnsMostRecentlyWritten(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "first", state.WorkflowModeChat)))
	require.NoError(t, s.Put(ctx, "sess-1", "cp-2", state.New("sess-1", "t", "u", "second", state.WorkflowModeChat)))

	id, snap, err := s.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", id)
	assert.Equal(t, "second", snap.OriginalQuery)
}

func TestStore_ClearRemovesOnlyThatSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "a", state.WorkflowModeChat)))
	require.NoError(t, s.Put(ctx, "sess-2", "cp-1", state.New("sess-2", "t", "u", "b", state.WorkflowModeChat)))

	require.NoError(t, s.Clear(ctx, "sess-1"))

	_, err := s.Get(ctx, "sess-1", "cp-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, "sess-2", "cp-1")
	assert.NoError(t, err)
}
