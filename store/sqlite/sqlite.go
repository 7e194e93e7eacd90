// Package sqlite implements store.CheckpointStore on top of SQLite, the
// default backend. One row per (session_id, checkpoint_id), snapshot
// stored as a JSON blob.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

// Store implements store.CheckpointStore using SQLite.
type Store struct {
	db        *sql.DB
	tableName string
}

// Options configures the SQLite connection.
type Options struct {
	Path      string
	TableName string // default "checkpoints"
}

var _ store.CheckpointStore = (*Store)(nil)

// New opens (creating if needed) a SQLite-backed checkpoint store.
func New(opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: unable to open database: %w", err)
	}

	tableName := opts.TableName
	if tableName == "" {
		tableName = "checkpoints"
	}
	s := &Store{db: db, tableName: tableName}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, checkpoint_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id, created_at);
	`, s.tableName, s.tableName, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return nil
}

// Put implements store.CheckpointStore.
func (s *Store) Put(ctx context.Context, sessionID, checkpointID string, snapshot *state.GraphState) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("sqlite: failed to marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, checkpoint_id, snapshot, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, checkpoint_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			created_at = excluded.created_at
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, sessionID, checkpointID, string(blob), time.Now()); err != nil {
		return fmt.Errorf("sqlite: failed to save checkpoint: %w", err)
	}
	return nil
}

// Get implements store.CheckpointStore.
func (s *Store) Get(ctx context.Context, sessionID, checkpointID string) (*state.GraphState, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE session_id = ? AND checkpoint_id = ?`, s.tableName)
	var blob string
	err := s.db.QueryRowContext(ctx, query, sessionID, checkpointID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load checkpoint: %w", err)
	}
	var snap state.GraphState
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Latest implements store.CheckpointStore.
func (s *Store) Latest(ctx context.Context, sessionID string) (string, *state.GraphState, error) {
	query := fmt.Sprintf(`SELECT checkpoint_id, snapshot FROM %s WHERE session_id = ? ORDER BY created_at DESC LIMIT 1`, s.tableName)
	var checkpointID, blob string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&checkpointID, &blob)
	if err == sql.ErrNoRows {
		return "", nil, store.ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("sqlite: failed to load latest checkpoint: %w", err)
	}
	var snap state.GraphState
	if err := json.Unmarshal([]byte(blob), &snap); err != nil {
		return "", nil, fmt.Errorf("sqlite: failed to unmarshal snapshot: %w", err)
	}
	return checkpointID, &snap, nil
}

// List implements store.CheckpointStore.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT checkpoint_id, snapshot, created_at FROM %s WHERE session_id = ? ORDER BY created_at ASC`, s.tableName)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*store.Checkpoint
	for rows.Next() {
		var checkpointID, blob string
		var createdAt time.Time
		if err := rows.Scan(&checkpointID, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan checkpoint row: %w", err)
		}
		var snap state.GraphState
		if err := json.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal snapshot: %w", err)
		}
		out = append(out, &store.Checkpoint{
			SessionID:    sessionID,
			CheckpointID: checkpointID,
			Snapshot:     &snap,
			CreatedAt:    createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: error iterating checkpoint rows: %w", err)
	}
	return out, nil
}

// Clear implements store.CheckpointStore.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("sqlite: failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close implements store.CheckpointStore.
func (s *Store) Close() error { return s.db.Close() }
