package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/log"
)

// RedisRelay wraps a Gateway so Emit also publishes to a Redis pub/sub
// channel, and a background subscriber republishes events from other
// instances into this Gateway's local subscribers. A single-process
// deployment never needs it (Gateway alone is a complete
// graph.EventSink), but a horizontally-scaled deployment where a
// session's WebSocket client is connected to a different instance than
// the one running its turn needs events relayed between instances.
type RedisRelay struct {
	*Gateway
	client  *redis.Client
	channel string
	origin  string
	logger  log.Logger
}

// wireEnvelope is the pub/sub payload: the session ID plus the event,
// since Redis pub/sub channels are not session-scoped here (one shared
// channel keeps subscription setup simple for a small instance count).
// Origin tags the publishing instance so Run can skip messages this
// instance already delivered locally.
type wireEnvelope struct {
	Origin    string      `json:"origin"`
	SessionID string      `json:"session_id"`
	Event     graph.Event `json:"event"`
}

// NewRedisRelay constructs a RedisRelay wrapping gw, publishing and
// subscribing on channel (default "capiflow:events" if empty).
func NewRedisRelay(gw *Gateway, client *redis.Client, channel string, logger log.Logger) *RedisRelay {
	if channel == "" {
		channel = "capiflow:events"
	}
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &RedisRelay{Gateway: gw, client: client, channel: channel, origin: uuid.New().String(), logger: logger}
}

// Emit publishes event to Redis in addition to delivering it to this
// instance's local subscribers, so RedisRelay still satisfies
// graph.EventSink.
func (r *RedisRelay) Emit(ctx context.Context, sessionID string, event graph.Event) {
	r.Gateway.Emit(ctx, sessionID, event)

	payload, err := json.Marshal(wireEnvelope{Origin: r.origin, SessionID: sessionID, Event: event})
	if err != nil {
		r.logger.Warn("gateway: marshal event for relay failed: %v", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("gateway: publish event to redis failed: %v", err)
	}
}

// Run subscribes to the relay channel and republishes events from other
// instances into this Gateway's local subscribers until ctx is canceled.
// It must run in its own goroutine; it returns when ctx is done or the
// subscription fails unrecoverably.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("gateway: redis relay subscription closed")
			}
			var env wireEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("gateway: unmarshal relayed event failed: %v", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.Gateway.Emit(ctx, env.SessionID, env.Event)
		}
	}
}

var _ graph.EventSink = (*RedisRelay)(nil)

// Ping is a small readiness check cmd/capiflow-server runs at startup
// before handing the relay off to Run.
func (r *RedisRelay) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(pingCtx).Err()
}
