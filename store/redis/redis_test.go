package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(Options{Addr: mr.Addr()})
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

func TestStore_LatestReturnsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := state.New("sess-1", "t1", "u", "first", state.WorkflowModeChat)
	second := state.New("sess-1", "t2", "u", "second", state.WorkflowModeChat)

	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", first))
	require.NoError(t, s.Put(ctx, "sess-1", "cp-2", second))

	id, snap, err := s.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "cp-2", id)
	assert.Equal(t, "second", snap.OriginalQuery)
}

func TestStore_ListOrdersByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "a", state.WorkflowModeChat)))
	require.NoError(t, s.Put(ctx, "sess-1", "cp-2", state.New("sess-1", "t", "u", "b", state.WorkflowModeChat)))

	list, err := s.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cp-1", list[0].CheckpointID)
	assert.Equal(t, "cp-2", list[1].CheckpointID)
}

func TestStore_ClearRemovesSessionOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "a", state.WorkflowModeChat)))
	require.NoError(t, s.Put(ctx, "sess-2", "cp-1", state.New("sess-2", "t", "u", "a", state.WorkflowModeChat)))

	require.NoError(t, s.Clear(ctx, "sess-1"))

	_, err := s.Get(ctx, "sess-1", "cp-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Get(ctx, "sess-2", "cp-1")
	assert.NoError(t, err)
}
