// Package orchestrator is the single ProcessQuery facade over the
// runtime: it owns no behavior of its own beyond wiring the state store,
// checkpointing, registry, graph, and gateway together and enforcing the
// one rule no individual component can enforce by itself: at most one
// in-flight execution per session_id. Components arrive as explicit
// dependency parameters; production wiring instantiates them once at
// startup.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/capiflow/gateway"
	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/log"
	"github.com/smallnest/capiflow/manifest"
	"github.com/smallnest/capiflow/nodes"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/registry"
	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

// ErrSessionBusy is returned by ProcessQuery when a turn is already
// in-flight for the session.
var ErrSessionBusy = errors.New("orchestrator: session busy, a turn is already in flight")

// ErrSessionNotFound is returned by GetSessionHistory for a session the
// orchestrator has no record of.
var ErrSessionNotFound = errors.New("orchestrator: session not found")

// ErrNoInterruptPending is returned by ResumeHumanGate when the session
// has no paused turn to resume.
var ErrNoInterruptPending = errors.New("orchestrator: no interrupt pending for session")

// ResponseType classifies a ResponseEnvelope.
type ResponseType string

const (
	ResponseSuccess ResponseType = "success"
	ResponseNotice  ResponseType = "notice"
	ResponseError   ResponseType = "error"
)

// ResponseEnvelope is the unit ProcessQuery/ResumeHumanGate return to the
// caller.
type ResponseEnvelope struct {
	TraceID      string
	ResponseType ResponseType
	Intent       state.Intent
	Message      string
	Data         map[string]any
	Meta         map[string]any
}

// GraphStatus is the node/edge/enablement snapshot returned to
// introspection callers.
type GraphStatus struct {
	Nodes         []string
	Edges         [][2]string
	EnabledAgents []string
	Version       int
	BuiltAt       time.Time
}

// session is the orchestrator's per-session bookkeeping: the busy flag
// enforcing at-most-one in-flight execution, the last merged state (for
// GetSessionHistory and checkpoint-less resume), and a pending interrupt
// captured from the most recent GraphInterrupt.
type session struct {
	mu               sync.Mutex
	busy             bool
	last             *state.GraphState
	pendingInterrupt *graph.GraphInterrupt
	interruptSince   time.Time
}

// Orchestrator wires the Graph Builder/Interpreter, Checkpoint Saver,
// Session Manifest Store, Agent Registry, and Event Gateway behind the
// programmatic entrypoints.
type Orchestrator struct {
	checkpoints store.CheckpointStore
	manifests   *manifest.Store
	registry    *registry.Registry
	gateway     *gateway.Gateway
	sink        graph.EventSink
	logger      log.Logger
	coreNodes   map[string]graph.Node

	nodeTimeout     time.Duration
	turnTimeout     time.Duration
	interruptTTL    time.Duration
	interruptBefore []string

	graphMu     sync.RWMutex
	compiled    *graph.CompiledGraph
	interpreter *graph.Interpreter
	enabled     []string
	version     int
	builtAt     time.Time

	sessions sync.Map // sessionID -> *session
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

func WithLogger(l log.Logger) Option { return func(o *Orchestrator) { o.logger = l } }
func WithNodeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.nodeTimeout = d }
}
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.turnTimeout = d }
}

// WithInterruptBefore sets the node names every turn pauses before
// entering (the INTERRUPT_BEFORE_NODES setting), in addition to whatever a
// node raises on its own via graph.Interrupt.
func WithInterruptBefore(nodeNames []string) Option {
	return func(o *Orchestrator) { o.interruptBefore = nodeNames }
}

// WithInterruptTTL bounds how long a pending Interrupt waits for a human
// decision: a ResumeHumanGate call arriving after the TTL auto-declines
// the pending action and the envelope reports human_timeout. Zero (the
// default) disables the TTL.
func WithInterruptTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.interruptTTL = d }
}

// WithEventSink replaces the Gateway as the interpreter's event sink,
// used to interpose the Redis relay so events also reach subscribers on
// other instances. The Gateway stays the subscriber registry either way.
func WithEventSink(s graph.EventSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// New wires an Orchestrator from its components and compiles the initial
// graph. deps is threaded into every orchestration/agent node factory;
// its Enablement field is overwritten with reg so the Router/Supervisor
// nodes always see this orchestrator's live enable/disable state.
func New(checkpoints store.CheckpointStore, manifests *manifest.Store, reg *registry.Registry, gw *gateway.Gateway, deps support.Dependencies, opts ...Option) (*Orchestrator, error) {
	deps.Enablement = reg
	o := &Orchestrator{
		checkpoints: checkpoints,
		manifests:   manifests,
		registry:    reg,
		gateway:     gw,
		logger:      log.GetDefaultLogger(),
		coreNodes:   nodes.CoreNodes(deps),
		nodeTimeout: graph.DefaultNodeTimeout,
		turnTimeout: graph.DefaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = gw
	}
	if err := o.rebuildGraph(); err != nil {
		return nil, fmt.Errorf("orchestrator: initial graph build: %w", err)
	}
	reg.OnChange(func() {
		if err := o.rebuildGraph(); err != nil {
			o.logger.Error("orchestrator: graph rebuild on registry change failed: %v", err)
		}
	})
	return o, nil
}

// rebuildGraph compiles a fresh CompiledGraph from the registry's
// currently enabled agents and swaps it in atomically; readers that
// already grabbed the previous interpreter keep using it for their
// in-flight turn, so a rebuild never disturbs a running execution.
func (o *Orchestrator) rebuildGraph() error {
	compiled, enabled, err := o.registry.BuildGraph(o.coreNodes)
	if err != nil {
		return &GraphRebuildError{Cause: err}
	}
	it := graph.NewInterpreter(compiled, o.checkpoints,
		graph.WithLogger(o.logger),
		graph.WithEventSink(o.sink),
		graph.WithNodeTimeout(o.nodeTimeout),
		graph.WithTurnTimeout(o.turnTimeout),
	)

	o.graphMu.Lock()
	o.compiled = compiled
	o.interpreter = it
	o.enabled = enabled
	o.version++
	o.builtAt = time.Now()
	o.graphMu.Unlock()
	return nil
}

// GraphRebuildError wraps a failed rebuild; the previous compiled graph
// and interpreter are left untouched when this is returned.
type GraphRebuildError struct{ Cause error }

func (e *GraphRebuildError) Error() string { return "graph rebuild failed: " + e.Cause.Error() }
func (e *GraphRebuildError) Unwrap() error { return e.Cause }

func (o *Orchestrator) current() (*graph.CompiledGraph, *graph.Interpreter) {
	o.graphMu.RLock()
	defer o.graphMu.RUnlock()
	return o.compiled, o.interpreter
}

func (o *Orchestrator) sessionFor(sessionID string) *session {
	v, _ := o.sessions.LoadOrStore(sessionID, &session{})
	return v.(*session)
}

// parsedQuery is the result of interpreting ProcessQuery's text argument,
// which may be raw natural language or a JSON object
// {query, workflow_mode, ...}.
type parsedQuery struct {
	query    string
	mode     state.WorkflowMode
	external map[string]any
}

func parseQueryText(text string) parsedQuery {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var payload map[string]any
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			pq := parsedQuery{mode: state.WorkflowModeChat, external: payload}
			if q, ok := payload["query"].(string); ok {
				pq.query = q
			}
			if m, ok := payload["workflow_mode"].(string); ok && m != "" {
				pq.mode = state.WorkflowMode(m)
			}
			return pq
		}
	}
	return parsedQuery{query: text, mode: state.WorkflowModeChat, external: map[string]any{}}
}

// ProcessQuery is the core entrypoint: it classifies, plans,
// dispatches, and synthesizes a response for one turn, streaming
// progress events to the Event Gateway along the way. channel is
// currently unused by the core (it is metadata for the out-of-scope REST
// surface) and accepted so callers don't need a second entrypoint for
// channel-tagged traffic.
func (o *Orchestrator) ProcessQuery(ctx context.Context, sessionID, userID, text string, channel, traceID string) (ResponseEnvelope, error) {
	sess := o.sessionFor(sessionID)
	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return ResponseEnvelope{}, ErrSessionBusy
	}
	sess.busy = true
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		sess.busy = false
		sess.mu.Unlock()
	}()

	if traceID == "" {
		traceID = uuid.New().String()
	}

	pq := parseQueryText(text)
	initial := state.New(sessionID, traceID, userID, pq.query, pq.mode)
	initial.ExternalPayload = pq.external
	if prior := sess.lastState(); prior != nil {
		initial.ConversationHistory = append(append([]state.HistoryTurn(nil), prior.ConversationHistory...), state.HistoryTurn{
			Role: "user", Content: pq.query, Timestamp: time.Now(),
		})
		initial.MemoryWindow = trimMemoryWindow(append(prior.MemoryWindow, state.HistoryTurn{
			Role: "user", Content: pq.query, Timestamp: time.Now(),
		}))
	} else {
		initial.ConversationHistory = []state.HistoryTurn{{Role: "user", Content: pq.query, Timestamp: time.Now()}}
		initial.MemoryWindow = initial.ConversationHistory
	}

	_, it := o.current()
	cfg := &graph.Config{InterruptBefore: o.interruptBefore}

	final, err := it.Invoke(ctx, sessionID, traceID, initial, cfg)

	var gi *graph.GraphInterrupt
	if errors.As(err, &gi) {
		sess.mu.Lock()
		sess.pendingInterrupt = gi
		sess.interruptSince = time.Now()
		sess.last = gi.State
		sess.mu.Unlock()
		o.persist(gi.State)
		return interruptEnvelope(gi), nil
	}
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("orchestrator: process query: %w", err)
	}

	final.ConversationHistory = append(final.ConversationHistory, state.HistoryTurn{
		Role: "assistant", Content: final.ResponseMessage, Timestamp: time.Now(),
	})
	sess.mu.Lock()
	sess.pendingInterrupt = nil
	sess.last = final
	sess.mu.Unlock()
	o.persist(final)

	envelope := envelopeFrom(final)
	if strings.TrimSpace(pq.query) == "" {
		envelope.ResponseType = ResponseError
	}
	return envelope, nil
}

// trimMemoryWindow keeps the short-term context window bounded;
// memory_window is short-term context, not a full transcript.
const maxMemoryWindow = 20

func trimMemoryWindow(turns []state.HistoryTurn) []state.HistoryTurn {
	if len(turns) <= maxMemoryWindow {
		return turns
	}
	return append([]state.HistoryTurn(nil), turns[len(turns)-maxMemoryWindow:]...)
}

func (s *session) lastState() *state.GraphState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (o *Orchestrator) persist(s *state.GraphState) {
	if o.manifests == nil {
		return
	}
	if err := o.manifests.UpdateFromState(s); err != nil {
		o.logger.Warn("orchestrator: session manifest update failed for %s: %v", s.SessionID, err)
	}
}

// ResumeHumanGate continues a paused turn: it injects decision as
// the resume value the paused node (human_gate, or any node an
// InterruptBefore caught ahead of) reads back, then continues execution
// from that node. If no checkpointed/pending interrupt
// is found in process memory, it falls back to reconstructing the
// pre-interrupt state from the latest checkpoint; failing that, from the
// session manifest.
func (o *Orchestrator) ResumeHumanGate(ctx context.Context, sessionID string, decision map[string]any) (ResponseEnvelope, error) {
	sess := o.sessionFor(sessionID)
	sess.mu.Lock()
	if sess.busy {
		sess.mu.Unlock()
		return ResponseEnvelope{}, ErrSessionBusy
	}
	sess.busy = true
	pending := sess.pendingInterrupt
	since := sess.interruptSince
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		sess.busy = false
		sess.mu.Unlock()
	}()

	timedOut := pending != nil && o.interruptTTL > 0 && time.Since(since) > o.interruptTTL
	if timedOut {
		// The pending Interrupt outlived its TTL: the decision that
		// arrives now no longer counts, the action is auto-declined.
		decision = map[string]any{"approved": false, "human_timeout": true}
	}

	var resumeFrom string
	var resumeState *state.GraphState
	if pending != nil {
		resumeFrom = pending.Node
		resumeState = pending.State
	} else {
		recovered, node, err := o.reconstructInterrupt(ctx, sessionID)
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resumeFrom = node
		resumeState = recovered
	}

	traceID := resumeState.TraceID
	resumeCtx := graph.WithResumeValue(ctx, decision)

	_, it := o.current()
	cfg := &graph.Config{InterruptBefore: o.interruptBefore, ResumeFrom: resumeFrom}
	final, err := it.Invoke(resumeCtx, sessionID, traceID, resumeState, cfg)

	var gi *graph.GraphInterrupt
	if errors.As(err, &gi) {
		sess.mu.Lock()
		sess.pendingInterrupt = gi
		sess.interruptSince = time.Now()
		sess.last = gi.State
		sess.mu.Unlock()
		o.persist(gi.State)
		return interruptEnvelope(gi), nil
	}
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("orchestrator: resume human gate: %w", err)
	}

	sess.mu.Lock()
	sess.pendingInterrupt = nil
	sess.last = final
	sess.mu.Unlock()
	o.persist(final)

	envelope := envelopeFrom(final)
	if timedOut {
		if envelope.Meta == nil {
			envelope.Meta = map[string]any{}
		}
		envelope.Meta["human_timeout"] = true
	}
	return envelope, nil
}

// reconstructInterrupt is the checkpoint-read-failure fallback: when the process has no in-memory record of the interrupt
// (e.g. after a restart), rebuild the pre-interrupt snapshot from the
// latest checkpoint, falling back further to the session manifest's last
// recorded state if the checkpoint store itself can't be read.
func (o *Orchestrator) reconstructInterrupt(ctx context.Context, sessionID string) (*state.GraphState, string, error) {
	if o.checkpoints != nil {
		_, snapshot, err := o.checkpoints.Latest(ctx, sessionID)
		if err == nil && snapshot != nil {
			if snapshot.Status == state.StatusAwaitingHuman {
				return snapshot, "human_gate", nil
			}
		}
	}
	if o.manifests != nil {
		m, err := o.manifests.GetManifest(sessionID)
		if err == nil && m != nil {
			s := state.New(sessionID, uuid.New().String(), "", "", state.WorkflowModeChat)
			s.CompletedNodes = append([]string(nil), m.CompletedNodes...)
			s.ResponseMessage = m.LastResponse
			s.Status = state.StatusAwaitingHuman
			return s, "human_gate", nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNoInterruptPending, sessionID)
}

func interruptEnvelope(gi *graph.GraphInterrupt) ResponseEnvelope {
	meta := map[string]any{"requires_human": true, "interrupt_node": gi.Node}
	message := "This request needs human approval before continuing."
	if gi.InterruptValue != nil {
		meta["reason"] = gi.InterruptValue.Reason
		meta["payload"] = gi.InterruptValue.Payload
		if gi.InterruptValue.Reason != "" {
			message = gi.InterruptValue.Reason
		}
	}
	return ResponseEnvelope{
		TraceID:      gi.State.TraceID,
		ResponseType: ResponseNotice,
		Intent:       gi.State.DetectedIntent,
		Message:      message,
		Data:         gi.State.ResponseData,
		Meta:         meta,
	}
}

// envelopeFrom classifies response_type from the final state: failed
// turns surface as error, turns that accumulated recoverable errors along
// the way surface as notice, everything else is success. Only
// infrastructure faults ever reach ProcessQuery as a Go error; everything
// else lands here as a classified envelope.
func envelopeFrom(final *state.GraphState) ResponseEnvelope {
	rt := ResponseSuccess
	switch {
	case final.Status == state.StatusFailed:
		rt = ResponseError
	case len(final.Errors) > 0:
		rt = ResponseNotice
	}
	return ResponseEnvelope{
		TraceID:      final.TraceID,
		ResponseType: rt,
		Intent:       final.DetectedIntent,
		Message:      final.ResponseMessage,
		Data:         final.ResponseData,
		Meta:         final.ResponseMetadata,
	}
}

// GetSessionHistory returns the stored conversation turns for a session.
func (o *Orchestrator) GetSessionHistory(sessionID string) ([]state.HistoryTurn, error) {
	v, ok := o.sessions.Load(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess := v.(*session)
	last := sess.lastState()
	if last == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return append([]state.HistoryTurn(nil), last.ConversationHistory...), nil
}

// ListActiveSessions returns every session this process has a live
// record for, sorted for deterministic output.
func (o *Orchestrator) ListActiveSessions() []string {
	var ids []string
	o.sessions.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// ClearSessionHistory forgets a session entirely: it
// drops the in-memory session record, the checkpoint history, and the
// session manifest.
func (o *Orchestrator) ClearSessionHistory(ctx context.Context, sessionID string) error {
	o.sessions.Delete(sessionID)
	if o.checkpoints != nil {
		if err := o.checkpoints.Clear(ctx, sessionID); err != nil {
			return fmt.Errorf("orchestrator: clear checkpoints for %s: %w", sessionID, err)
		}
	}
	if o.manifests != nil {
		if err := o.manifests.Clear(sessionID); err != nil {
			return fmt.Errorf("orchestrator: clear manifest for %s: %w", sessionID, err)
		}
	}
	return nil
}

// RegisterAgent adds or re-enables an agent by name; the
// registry's OnChange hook (wired in New) triggers a graph rebuild.
func (o *Orchestrator) RegisterAgent(name string) error {
	return o.registry.RegisterAgent(name)
}

// UnregisterAgent disables an agent and drops its manifest entry.
func (o *Orchestrator) UnregisterAgent(name string) error {
	return o.registry.UnregisterAgent(name)
}

// RefreshGraph forces a manifest re-read and rebuild: it calls the
// registry's RefreshRegistry (whose OnChange hook already rebuilds) and
// then rebuilds once more directly, useful after the manifest source file
// itself was edited out of band.
func (o *Orchestrator) RefreshGraph() error {
	if err := o.registry.RefreshRegistry(); err != nil {
		return err
	}
	return o.rebuildGraph()
}

// GraphStatus reports the compiled topology and enabled agents.
func (o *Orchestrator) GraphStatus() GraphStatus {
	o.graphMu.RLock()
	defer o.graphMu.RUnlock()
	return GraphStatus{
		Nodes:         o.compiled.Nodes(),
		Edges:         o.compiled.Edges(),
		EnabledAgents: append([]string(nil), o.enabled...),
		Version:       o.version,
		BuiltAt:       o.builtAt,
	}
}

// Gateway exposes the Event Gateway for callers that need to register a
// WebSocket subscriber; the orchestrator itself only
// needs it as a graph.EventSink.
func (o *Orchestrator) Gateway() *gateway.Gateway { return o.gateway }
