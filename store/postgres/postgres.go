// Package postgres implements store.CheckpointStore on PostgreSQL via
// pgx, for deployments that already run Postgres for other state. The
// DBPool seam lets pgxmock stand in for a live database in tests.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

// DBPool is the subset of pgxpool.Pool this store needs, so tests can
// substitute a pgxmock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements store.CheckpointStore using PostgreSQL.
type Store struct {
	pool      DBPool
	tableName string
}

// Options configures the Postgres connection.
type Options struct {
	ConnString string
	TableName  string // default "checkpoints"
}

var _ store.CheckpointStore = (*Store)(nil)

// New opens a pool and ensures the checkpoints table exists.
func New(ctx context.Context, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("postgres: unable to create connection pool: %w", err)
	}
	s := NewWithPool(pool, opts.TableName)
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool (or pgxmock double), for tests.
func NewWithPool(pool DBPool, tableName string) *Store {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &Store{pool: pool, tableName: tableName}
}

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			session_id TEXT NOT NULL,
			checkpoint_id TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, checkpoint_id)
		);
		CREATE INDEX IF NOT EXISTS idx_%s_session ON %s (session_id, created_at);
	`, s.tableName, s.tableName, s.tableName)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres: failed to create schema: %w", err)
	}
	return nil
}

// Put implements store.CheckpointStore.
func (s *Store) Put(ctx context.Context, sessionID, checkpointID string, snapshot *state.GraphState) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal snapshot: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, checkpoint_id, snapshot, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, checkpoint_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			created_at = EXCLUDED.created_at
	`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, sessionID, checkpointID, blob, time.Now()); err != nil {
		return fmt.Errorf("postgres: failed to save checkpoint: %w", err)
	}
	return nil
}

// Get implements store.CheckpointStore.
func (s *Store) Get(ctx context.Context, sessionID, checkpointID string) (*state.GraphState, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE session_id = $1 AND checkpoint_id = $2`, s.tableName)
	var blob []byte
	err := s.pool.QueryRow(ctx, query, sessionID, checkpointID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to load checkpoint: %w", err)
	}
	var snap state.GraphState
	if err := json.Unmarshal(blob, &snap); err != nil {
		return nil, fmt.Errorf("postgres: failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Latest implements store.CheckpointStore.
func (s *Store) Latest(ctx context.Context, sessionID string) (string, *state.GraphState, error) {
	query := fmt.Sprintf(`SELECT checkpoint_id, snapshot FROM %s WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, s.tableName)
	var checkpointID string
	var blob []byte
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(&checkpointID, &blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, store.ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("postgres: failed to load latest checkpoint: %w", err)
	}
	var snap state.GraphState
	if err := json.Unmarshal(blob, &snap); err != nil {
		return "", nil, fmt.Errorf("postgres: failed to unmarshal snapshot: %w", err)
	}
	return checkpointID, &snap, nil
}

// List implements store.CheckpointStore.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT checkpoint_id, snapshot, created_at FROM %s WHERE session_id = $1 ORDER BY created_at ASC`, s.tableName)
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*store.Checkpoint
	for rows.Next() {
		var checkpointID string
		var blob []byte
		var createdAt time.Time
		if err := rows.Scan(&checkpointID, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan checkpoint row: %w", err)
		}
		var snap state.GraphState
		if err := json.Unmarshal(blob, &snap); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal snapshot: %w", err)
		}
		out = append(out, &store.Checkpoint{
			SessionID:    sessionID,
			CheckpointID: checkpointID,
			Snapshot:     &snap,
			CreatedAt:    createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: error iterating checkpoint rows: %w", err)
	}
	return out, nil
}

// Clear implements store.CheckpointStore.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("postgres: failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close implements store.CheckpointStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
