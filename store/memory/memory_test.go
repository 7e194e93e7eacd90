package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()
	snap := state.New("sess-1", "trace-1", "user-1", "hi", state.WorkflowModeChat)

	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", snap))
	got, err := s.Get(ctx, "sess-1", "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got.OriginalQuery)
}

func TestStore_Get_NotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "sess-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_PutOverwritesSameCheckpointID(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "v1", state.WorkflowModeChat)))
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "v2", state.WorkflowModeChat)))

	list, err := s.List(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "v2", list[0].Snapshot.OriginalQuery)
}

func TestStore_ClearIsNoOpOnMissingSession(t *testing.T) {
	s := New()
	assert.NoError(t, s.Clear(context.Background(), "never-existed"))
}

func TestStore_ListScopedToSession(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "sess-1", "cp-1", state.New("sess-1", "t", "u", "a", state.WorkflowModeChat)))
	require.NoError(t, s.Put(ctx, "sess-2", "cp-1", state.New("sess-2", "t", "u", "b", state.WorkflowModeChat)))

	list, err := s.List(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_ConcurrentWritesAreSafe(t *testing.T) {
	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap := state.New("sess-1", "t", "u", "q", state.WorkflowModeChat)
			_ = s.Put(ctx, "sess-1", "cp", snap)
		}(i)
	}
	wg.Wait()

	_, err := s.Get(ctx, "sess-1", "cp")
	assert.NoError(t, err)
}
