// Package memory implements store.CheckpointStore backed by an
// in-process mutex-guarded map: Put/Get round-trip, missing-load error,
// overwrite-by-ID, session-scoped List, and Clear scoped to one session.
// It backs tests and CHECKPOINT_BACKEND=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

type entry struct {
	checkpointID string
	snapshot     *state.GraphState
	createdAt    time.Time
}

// Store is an in-memory CheckpointStore, the default backend for tests
// and for CHECKPOINT_BACKEND=memory.
type Store struct {
	mu   sync.RWMutex
	data map[string][]entry // sessionID -> ordered checkpoints
}

var _ store.CheckpointStore = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: map[string][]entry{}}
}

// Put implements store.CheckpointStore.
func (s *Store) Put(_ context.Context, sessionID, checkpointID string, snapshot *state.GraphState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data[sessionID]
	for i, e := range list {
		if e.checkpointID == checkpointID {
			list[i] = entry{checkpointID: checkpointID, snapshot: state.Clone(snapshot), createdAt: time.Now()}
			return nil
		}
	}
	s.data[sessionID] = append(list, entry{checkpointID: checkpointID, snapshot: state.Clone(snapshot), createdAt: time.Now()})
	return nil
}

// Get implements store.CheckpointStore.
func (s *Store) Get(_ context.Context, sessionID, checkpointID string) (*state.GraphState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.data[sessionID] {
		if e.checkpointID == checkpointID {
			return state.Clone(e.snapshot), nil
		}
	}
	return nil, store.ErrNotFound
}

// Latest implements store.CheckpointStore.
func (s *Store) Latest(_ context.Context, sessionID string) (string, *state.GraphState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[sessionID]
	if len(list) == 0 {
		return "", nil, store.ErrNotFound
	}
	last := list[len(list)-1]
	return last.checkpointID, state.Clone(last.snapshot), nil
}

// List implements store.CheckpointStore, ordered by creation time.
func (s *Store) List(_ context.Context, sessionID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[sessionID]
	out := make([]*store.Checkpoint, 0, len(list))
	for _, e := range list {
		out = append(out, &store.Checkpoint{
			SessionID:    sessionID,
			CheckpointID: e.checkpointID,
			Snapshot:     state.Clone(e.snapshot),
			CreatedAt:    e.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Clear implements store.CheckpointStore; a no-op for an unknown session.
func (s *Store) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// Close implements store.CheckpointStore; nothing to release.
func (s *Store) Close() error { return nil }
