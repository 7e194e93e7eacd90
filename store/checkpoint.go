// Package store defines the Checkpoint Saver contract and its
// backends: sqlite (default), postgres, redis, and an in-memory store for
// tests. Every backend persists one row/key per (session_id,
// checkpoint_id).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/smallnest/capiflow/state"
)

// ErrNotFound is returned by Get/Latest when no checkpoint exists for the
// requested key.
var ErrNotFound = errors.New("store: checkpoint not found")

// ErrCheckpointWrite wraps a Put failure. The interpreter logs and
// continues on this error.
type ErrCheckpointWrite struct{ Cause error }

func (e *ErrCheckpointWrite) Error() string { return "checkpoint write failed: " + e.Cause.Error() }
func (e *ErrCheckpointWrite) Unwrap() error { return e.Cause }

// Checkpoint is a durable snapshot of GraphState at a node boundary.
type Checkpoint struct {
	SessionID     string
	CheckpointID  string
	Snapshot      *state.GraphState
	PendingWrites []string
	CreatedAt     time.Time
}

// CheckpointStore is the Checkpoint Saver contract.
// Implementations must be safe for concurrent Put/Get from multiple
// sessions; writes to the same (session_id, checkpoint_id) are expected
// to be serialized by the caller (the interpreter holds a per-session
// lock).
type CheckpointStore interface {
	Put(ctx context.Context, sessionID, checkpointID string, snapshot *state.GraphState) error
	Get(ctx context.Context, sessionID, checkpointID string) (*state.GraphState, error)
	Latest(ctx context.Context, sessionID string) (checkpointID string, snapshot *state.GraphState, err error)
	List(ctx context.Context, sessionID string) ([]*Checkpoint, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
