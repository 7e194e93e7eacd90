// Package gateway implements the Event Gateway: an
// in-process, per-session ordered fan-out of graph.Event values to
// registered subscribers, with bounded per-subscriber queues and
// oversized-payload truncation. It implements graph.EventSink so the
// interpreter can emit into it without knowing how events ultimately
// reach a client.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/log"
)

// DefaultQueueSize is the bounded per-subscriber queue depth.
const DefaultQueueSize = 256

// MaxPayloadBytes is the truncation threshold ("Payloads
// larger than 5 MiB are truncated").
const MaxPayloadBytes = 5 * 1024 * 1024

// ClientHandle identifies one registered subscriber.
type ClientHandle string

// subscriber is one registered client's delivery queue. Writes never
// block the interpreter: Send drops the oldest queued event rather than
// stalling when the queue is full, so a slow consumer never backs up a
// producer.
type subscriber struct {
	handle  ClientHandle
	ch      chan graph.Event
	mu      sync.Mutex
	closed  bool
	dropped int
}

func newSubscriber(handle ClientHandle, queueSize int) *subscriber {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &subscriber{handle: handle, ch: make(chan graph.Event, queueSize)}
}

// send delivers event to the subscriber. On overflow it drops the oldest
// queued events to make room for a synthetic dropped_events counter event
// followed by event, so the client can observe that it fell behind. With
// a one-slot queue only the counter fits; event itself is then dropped
// and counted in the next counter event.
func (s *subscriber) send(event graph.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}

	for len(s.ch) > 0 && len(s.ch) > cap(s.ch)-2 {
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
	dropEvent := graph.Event{
		Type:      graph.EventDroppedEvents,
		SessionID: event.SessionID,
		TraceID:   event.TraceID,
		Data:      map[string]any{"dropped_events": s.dropped},
		EmittedAt: time.Now(),
	}
	select {
	case s.ch <- dropEvent:
	default:
	}
	select {
	case s.ch <- event:
	default:
		s.dropped++
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Gateway is the process-wide event fan-out point, shared across
// sessions behind its own synchronization. The zero value is not usable;
// construct with New.
type Gateway struct {
	mu          sync.RWMutex
	subscribers map[string]map[ClientHandle]*subscriber
	queueSize   int
	logger      log.Logger
}

var _ graph.EventSink = (*Gateway)(nil)

// New constructs a Gateway. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int, logger log.Logger) *Gateway {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &Gateway{
		subscribers: map[string]map[ClientHandle]*subscriber{},
		queueSize:   queueSize,
		logger:      logger,
	}
}

// Register attaches a new subscriber for sessionID and returns its handle
// and the channel to read delivered events from.
func (g *Gateway) Register(sessionID string) (ClientHandle, <-chan graph.Event) {
	handle := ClientHandle(uuid.New().String())
	sub := newSubscriber(handle, g.queueSize)

	g.mu.Lock()
	if g.subscribers[sessionID] == nil {
		g.subscribers[sessionID] = map[ClientHandle]*subscriber{}
	}
	g.subscribers[sessionID][handle] = sub
	g.mu.Unlock()

	return handle, sub.ch
}

// Unregister detaches a subscriber and closes its channel.
func (g *Gateway) Unregister(sessionID string, handle ClientHandle) {
	g.mu.Lock()
	subs := g.subscribers[sessionID]
	sub, ok := subs[handle]
	if ok {
		delete(subs, handle)
		if len(subs) == 0 {
			delete(g.subscribers, sessionID)
		}
	}
	g.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Emit implements graph.EventSink: it delivers event to every subscriber
// of sessionID, FIFO per session. The subscriber list is copied before
// iterating so Register/Unregister never blocks on a slow delivery.
func (g *Gateway) Emit(ctx context.Context, sessionID string, event graph.Event) {
	event = truncate(event)

	g.mu.RLock()
	subs := make([]*subscriber, 0, len(g.subscribers[sessionID]))
	for _, sub := range g.subscribers[sessionID] {
		subs = append(subs, sub)
	}
	g.mu.RUnlock()

	for _, sub := range subs {
		sub.send(event)
	}
}

// truncate replaces an oversized event payload with
// {truncated, size_bytes, truncated_at} metadata.
func truncate(event graph.Event) graph.Event {
	size := approximateSize(event.Data)
	if size <= MaxPayloadBytes {
		return event
	}
	event.Data = map[string]any{
		"truncated":    true,
		"size_bytes":   size,
		"truncated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	return event
}

// approximateSize sums the byte length of every string value in data,
// a cheap stand-in for a full payload size measurement that avoids
// marshaling on every emit.
func approximateSize(data map[string]any) int {
	total := 0
	for k, v := range data {
		total += len(k)
		if s, ok := v.(string); ok {
			total += len(s)
		} else {
			total += 64 // flat estimate for non-string values
		}
	}
	return total
}

// SessionSubscriberCount reports how many live subscribers a session has,
// used by orchestrator diagnostics and tests.
func (g *Gateway) SessionSubscriberCount(sessionID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subscribers[sessionID])
}
