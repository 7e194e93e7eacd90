// Package redis implements store.CheckpointStore on Redis, for multi-
// instance deployments that need a shared checkpoint store. Checkpoints
// live under per-key entries with a per-session sorted-set index keyed
// by creation time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

// Store implements store.CheckpointStore using Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "capiflow:"
	TTL      time.Duration // expiration for checkpoints, default 0 (no expiration)
}

var _ store.CheckpointStore = (*Store)(nil)

// New constructs a Redis-backed checkpoint store.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "capiflow:"
	}
	return &Store{client: client, prefix: prefix, ttl: opts.TTL}
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "capiflow:"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) checkpointKey(sessionID, checkpointID string) string {
	return fmt.Sprintf("%scheckpoint:%s:%s", s.prefix, sessionID, checkpointID)
}

func (s *Store) sessionIndexKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:checkpoints", s.prefix, sessionID)
}

// Put implements store.CheckpointStore.
func (s *Store) Put(ctx context.Context, sessionID, checkpointID string, snapshot *state.GraphState) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal snapshot: %w", err)
	}

	now := time.Now()
	key := s.checkpointKey(sessionID, checkpointID)
	indexKey := s.sessionIndexKey(sessionID)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, s.ttl)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(now.UnixNano()), Member: checkpointID})
	if s.ttl > 0 {
		pipe.Expire(ctx, indexKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save checkpoint: %w", err)
	}
	return nil
}

// Get implements store.CheckpointStore.
func (s *Store) Get(ctx context.Context, sessionID, checkpointID string) (*state.GraphState, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(sessionID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: failed to load checkpoint: %w", err)
	}
	var snap state.GraphState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Latest implements store.CheckpointStore.
func (s *Store) Latest(ctx context.Context, sessionID string) (string, *state.GraphState, error) {
	ids, err := s.client.ZRevRange(ctx, s.sessionIndexKey(sessionID), 0, 0).Result()
	if err != nil {
		return "", nil, fmt.Errorf("redis: failed to look up latest checkpoint: %w", err)
	}
	if len(ids) == 0 {
		return "", nil, store.ErrNotFound
	}
	snap, err := s.Get(ctx, sessionID, ids[0])
	if err != nil {
		return "", nil, err
	}
	return ids[0], snap, nil
}

// List implements store.CheckpointStore, ordered by creation time.
func (s *Store) List(ctx context.Context, sessionID string) ([]*store.Checkpoint, error) {
	results, err := s.client.ZRangeWithScores(ctx, s.sessionIndexKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to list checkpoints: %w", err)
	}

	out := make([]*store.Checkpoint, 0, len(results))
	for _, z := range results {
		checkpointID, ok := z.Member.(string)
		if !ok {
			continue
		}
		snap, err := s.Get(ctx, sessionID, checkpointID)
		if errors.Is(err, store.ErrNotFound) {
			continue // expired independently of its index entry
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &store.Checkpoint{
			SessionID:    sessionID,
			CheckpointID: checkpointID,
			Snapshot:     snap,
			CreatedAt:    time.Unix(0, int64(z.Score)),
		})
	}
	return out, nil
}

// Clear implements store.CheckpointStore.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	indexKey := s.sessionIndexKey(sessionID)
	ids, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis: failed to enumerate checkpoints for clearing: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.checkpointKey(sessionID, id))
	}
	pipe.Del(ctx, indexKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to clear checkpoints: %w", err)
	}
	return nil
}

// Close implements store.CheckpointStore.
func (s *Store) Close() error { return s.client.Close() }
