package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/smallnest/capiflow/graph"
)

// Origin checking is left to the caller's reverse proxy / auth layer;
// this module ships no REST middleware of its own.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// writeTimeout bounds how long a single WriteJSON may block a slow
// websocket client before the connection is dropped, so one stalled
// client can never back up the Gateway's Emit path.
const writeTimeout = 5 * time.Second

// ServeSession upgrades r to a WebSocket, registers a Gateway subscriber
// for sessionID, and streams every event for that session to the
// connection as JSON until the client disconnects or the request context
// is canceled. It is a thin demonstration transport (REST/WS
// surface is explicitly out of scope); cmd/capiflow-server mounts it
// directly.
func (g *Gateway) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("gateway: websocket upgrade: %w", err)
	}
	defer conn.Close()

	handle, events := g.Register(sessionID)
	defer g.Unregister(sessionID, handle)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(wireEvent(event)); err != nil {
				return fmt.Errorf("gateway: websocket write: %w", err)
			}
		}
	}
}

// wireEvent projects a graph.Event into the snake_case JSON frame
// clients receive.
func wireEvent(event graph.Event) map[string]any {
	return map[string]any{
		"type":       string(event.Type),
		"session_id": event.SessionID,
		"trace_id":   event.TraceID,
		"from_node":  event.FromNode,
		"to_node":    event.ToNode,
		"action":     event.Action,
		"data":       event.Data,
		"meta":       event.Meta,
		"emitted_at": event.EmittedAt.UTC().Format(time.RFC3339Nano),
	}
}
