package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smallnest/capiflow/log"
	"github.com/smallnest/capiflow/state"
	"github.com/smallnest/capiflow/store"
)

// Default per-node and per-turn timeouts; NODE_TIMEOUT_MS and
// TURN_TIMEOUT_MS override these at startup.
const (
	DefaultNodeTimeout = 60 * time.Second
	DefaultTurnTimeout = 180 * time.Second
)

// Interpreter executes a CompiledGraph turn by turn, checkpointing after
// every step, emitting events for the gateway, and honoring interrupts.
// Parallel fan-out branches run concurrently over state clones and
// converge at the assemble node.
type Interpreter struct {
	graph       *CompiledGraph
	checkpoints store.CheckpointStore
	sink        EventSink
	callbacks   GraphCallbackHandler
	logger      log.Logger
	nodeTimeout time.Duration
	turnTimeout time.Duration
}

// Option configures an Interpreter at construction time.
type Option func(*Interpreter)

func WithLogger(l log.Logger) Option              { return func(it *Interpreter) { it.logger = l } }
func WithCallbacks(h GraphCallbackHandler) Option { return func(it *Interpreter) { it.callbacks = h } }
func WithNodeTimeout(d time.Duration) Option      { return func(it *Interpreter) { it.nodeTimeout = d } }
func WithTurnTimeout(d time.Duration) Option      { return func(it *Interpreter) { it.turnTimeout = d } }
func WithEventSink(s EventSink) Option            { return func(it *Interpreter) { it.sink = s } }

// NewInterpreter builds an Interpreter for a compiled graph and checkpoint
// backend. sink may be nil (NoOpEventSink is used).
func NewInterpreter(g *CompiledGraph, checkpoints store.CheckpointStore, opts ...Option) *Interpreter {
	it := &Interpreter{
		graph:       g,
		checkpoints: checkpoints,
		sink:        NoOpEventSink{},
		callbacks:   NoOpCallbackHandler{},
		logger:      log.GetDefaultLogger(),
		nodeTimeout: DefaultNodeTimeout,
		turnTimeout: DefaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

type branchResult struct {
	node string
	out  *state.GraphState
	err  error
}

// Invoke runs the graph to completion (or until an interrupt/error) and
// returns the final merged state.
func (it *Interpreter) Invoke(ctx context.Context, sessionID, traceID string, initial *state.GraphState, cfg *Config) (*state.GraphState, error) {
	final, err := it.run(ctx, sessionID, traceID, initial, cfg, nil)
	return final, err
}

// Stream runs the graph like Invoke but additionally sends one StreamChunk
// per completed node to out, carrying that node's own output
// (StreamModeUpdates) or its wave's converged state (StreamModeValues). out is closed when the turn finishes, errors,
// or interrupts; the terminal condition is returned via the second channel.
func (it *Interpreter) Stream(ctx context.Context, sessionID, traceID string, initial *state.GraphState, cfg *Config, mode StreamMode) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		emitted := 0
		_, err := it.run(ctx, sessionID, traceID, initial, cfg, func(node string, out, merged *state.GraphState) {
			emitted++
			switch mode {
			case StreamModeValues:
				chunks <- StreamChunk{Mode: StreamModeValues, Node: node, Full: state.Clone(merged)}
			default:
				chunks <- StreamChunk{Mode: StreamModeUpdates, Node: node, Updates: state.Clone(out)}
			}
		})
		var pendingInterrupt *GraphInterrupt
		if emitted == 0 && !errors.As(err, &pendingInterrupt) {
			// The compiled graph yielded no updates at all (an empty or
			// misconfigured topology) and no interrupt is pending; fall
			// back to the fixed linear path so the caller still gets
			// terminal state.
			it.logger.Warn("graph stream produced zero updates, using manual fallback path")
			fallback, fallbackErr := it.runManualFallback(ctx, initial)
			if fallbackErr == nil {
				chunks <- StreamChunk{Mode: StreamModeValues, Node: "assemble", Full: fallback}
			}
		}
		if err != nil {
			errc <- err
		}
	}()

	return chunks, errc
}

// onStep, if non-nil, is invoked after every node finishes with (node,
// its own output, the wave's converged state).
func (it *Interpreter) run(ctx context.Context, sessionID, traceID string, initial *state.GraphState, cfg *Config, onStep func(node string, out, merged *state.GraphState)) (*state.GraphState, error) {
	turnCtx, cancel := context.WithTimeout(ctx, it.turnTimeout)
	defer cancel()

	current := state.Clone(initial)
	entry := it.graph.entryPoint
	if cfg != nil && cfg.ResumeFrom != "" {
		entry = cfg.ResumeFrom
	}
	wave := []string{entry}
	// fromOf maps each wave member to the node whose edge resolution
	// selected it, carried into the node_transition events so from_node
	// always names the actual predecessor (empty for the entry node).
	fromOf := map[string]string{entry: ""}

	for {
		if len(wave) == 1 && wave[0] == END {
			return current, nil
		}
		select {
		case <-turnCtx.Done():
			return current, fmt.Errorf("graph: turn timed out: %w", turnCtx.Err())
		default:
		}

		for _, n := range wave {
			if _, ok := it.graph.nodes[n]; !ok {
				return current, fmt.Errorf("%w: %q", ErrNodeNotFound, n)
			}
			if cfg.interruptsBefore(n) {
				return current, &GraphInterrupt{Node: n, State: current, NextNodes: wave}
			}
		}

		results := it.runWave(turnCtx, sessionID, traceID, wave, fromOf, current)

		timedOut := false
		outputs := make(map[string]*state.GraphState, len(results))
		for _, r := range results {
			if r.err != nil {
				var interrupt *NodeInterrupt
				if isInterrupt(r.err, &interrupt) {
					return current, &GraphInterrupt{Node: r.node, State: current, NextNodes: wave, InterruptValue: interrupt}
				}
				if errors.Is(r.err, context.DeadlineExceeded) && turnCtx.Err() == nil {
					// Per-node timeout: record the fault, count the node as
					// completed, and divert the turn to assemble instead of
					// failing the whole turn.
					out := state.AddError(state.Clone(current), r.node, "node_timeout", fmt.Sprintf("node %s exceeded its %s timeout", r.node, it.nodeTimeout), nil)
					out = state.AppendToList(out, state.FieldCompletedNodes, r.node)
					outputs[r.node] = out
					if r.node != "assemble" {
						timedOut = true
					}
					continue
				}
				return current, fmt.Errorf("graph: node %q failed: %w", r.node, r.err)
			}
			outputs[r.node] = r.out
		}

		var merged *state.GraphState
		if len(outputs) == 1 {
			for _, out := range outputs {
				merged = out
			}
		} else {
			branches := make([]*state.GraphState, 0, len(outputs))
			for _, out := range outputs {
				branches = append(branches, out)
			}
			merged = mergeFanout(current, branches)
		}

		for n, out := range outputs {
			it.checkpointStep(turnCtx, sessionID, n, merged)
			it.callbacks.OnGraphStep(turnCtx, n, merged)
			it.sink.Emit(turnCtx, sessionID, Event{
				Type:      EventStateSnapshot,
				SessionID: sessionID,
				TraceID:   traceID,
				FromNode:  n,
				Data:      snapshotData(merged),
				EmittedAt: time.Now(),
			})
			if onStep != nil {
				onStep(n, out, merged)
			}
			if cfg.interruptsAfter(n) {
				return merged, &GraphInterrupt{Node: n, State: merged, NextNodes: wave}
			}
		}

		current = merged

		var next []string
		nextFrom := map[string]string{}
		for n, out := range outputs {
			succ, err := resolveSuccessors(it.graph, n, out)
			if err != nil {
				return current, fmt.Errorf("graph: resolving successors of %q: %w", n, err)
			}
			for _, s := range succ {
				if _, seen := nextFrom[s]; !seen {
					nextFrom[s] = n
				}
			}
			next = append(next, succ...)
		}
		next = dedupe(next)
		if timedOut {
			if _, ok := it.graph.nodes["assemble"]; ok {
				var from string
				for n := range outputs {
					from = n
					break
				}
				next = []string{"assemble"}
				nextFrom = map[string]string{"assemble": from}
			}
		}
		if len(next) == 0 {
			return current, ErrNoOutgoingEdge
		}
		wave = next
		fromOf = nextFrom
	}
}

func (it *Interpreter) runWave(ctx context.Context, sessionID, traceID string, wave []string, fromOf map[string]string, base *state.GraphState) []branchResult {
	results := make([]branchResult, len(wave))
	var wg sync.WaitGroup
	for i, n := range wave {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			out, err := it.runNode(ctx, sessionID, traceID, fromOf[name], name, state.Clone(base))
			results[i] = branchResult{node: name, out: out, err: err}
		}(i, n)
	}
	wg.Wait()
	return results
}

func (it *Interpreter) runNode(ctx context.Context, sessionID, traceID, from, name string, input *state.GraphState) (*state.GraphState, error) {
	node, ok := it.graph.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, name)
	}

	nodeCtx := ctx
	var cancel context.CancelFunc
	if !node.NoTimeout {
		nodeCtx, cancel = context.WithTimeout(ctx, it.nodeTimeout)
		defer cancel()
	}
	rc := &RunContext{Context: nodeCtx, SessionID: sessionID, TraceID: traceID, Logger: log.ForTurn(it.logger, sessionID, traceID)}

	// The transition into a node precedes every event the node itself
	// produces.
	it.sink.Emit(ctx, sessionID, Event{Type: EventNodeTransition, SessionID: sessionID, TraceID: traceID, FromNode: from, ToNode: name, EmittedAt: time.Now()})
	if node.IsAgentNode {
		it.sink.Emit(ctx, sessionID, Event{Type: EventAgentStart, SessionID: sessionID, TraceID: traceID, FromNode: name, EmittedAt: time.Now()})
	}
	it.callbacks.OnChainStart(ctx, name, input)

	var out *state.GraphState
	run := func() error {
		var err error
		out, err = node.Run(rc, input)
		return err
	}

	var err error
	if node.Retry != nil {
		err = runWithRetry(nodeCtx, node.Retry, run)
	} else {
		err = run()
	}

	if err != nil {
		it.callbacks.OnChainError(ctx, name, err)
		if node.IsAgentNode {
			it.sink.Emit(ctx, sessionID, Event{Type: EventAgentEnd, SessionID: sessionID, TraceID: traceID, FromNode: name, Meta: map[string]any{"error": err.Error()}, EmittedAt: time.Now()})
		}
		return nil, err
	}
	it.callbacks.OnChainEnd(ctx, name, out)
	if node.IsAgentNode {
		it.sink.Emit(ctx, sessionID, Event{Type: EventAgentEnd, SessionID: sessionID, TraceID: traceID, FromNode: name, EmittedAt: time.Now()})
	}
	return out, nil
}

// snapshotData is the compact state view a state_snapshot event carries;
// the full GraphState stays in the checkpoint, not on the wire.
func snapshotData(s *state.GraphState) map[string]any {
	completed := make([]any, len(s.CompletedNodes))
	for i, n := range s.CompletedNodes {
		completed[i] = n
	}
	return map[string]any{
		"status":           string(s.Status),
		"current_node":     s.CurrentNode,
		"completed_nodes":  completed,
		"response_message": s.ResponseMessage,
	}
}

// checkpointStep persists a snapshot and only logs on failure: a
// checkpoint write error is soft, the turn continues.
func (it *Interpreter) checkpointStep(ctx context.Context, sessionID, node string, s *state.GraphState) {
	if it.checkpoints == nil {
		return
	}
	checkpointID := fmt.Sprintf("%s-%s", node, uuid.New().String())
	if err := it.checkpoints.Put(ctx, sessionID, checkpointID, s); err != nil {
		wrapped := &store.ErrCheckpointWrite{Cause: err}
		it.logger.Error("%v", wrapped)
	}
}

// fallbackSequence is the hard-coded linear path used when the compiled
// stream yields zero updates: every backbone node in
// order, with the active agent (or capi_gus) standing in for the router's
// normal dispatch.
func fallbackSequence(s *state.GraphState) []string {
	agent := s.ActiveAgent
	if agent == "" {
		agent = "capi_gus"
	}
	return []string{
		"start", "intent", "react", "reasoning", "supervisor", "router",
		agent, "human_gate", "assemble", "finalize",
	}
}

// runManualFallback drives the fixed linear path directly with the
// StateMutator, bypassing edge resolution entirely, so a misbehaving
// topology still produces a terminal state. Node faults are recorded and
// skipped rather than aborting the pass.
func (it *Interpreter) runManualFallback(ctx context.Context, initial *state.GraphState) (*state.GraphState, error) {
	s := state.Clone(initial)
	for _, name := range fallbackSequence(s) {
		node, ok := it.graph.nodes[name]
		if !ok {
			s = state.AppendToList(s, state.FieldCompletedNodes, name)
			continue
		}
		rc := &RunContext{Context: ctx, SessionID: s.SessionID, TraceID: s.TraceID, Logger: log.ForTurn(it.logger, s.SessionID, s.TraceID)}
		out, err := node.Run(rc, s)
		if err != nil {
			s = state.AddError(s, name, "manual_fallback", err.Error(), nil)
			s = state.AppendToList(s, state.FieldCompletedNodes, name)
			continue
		}
		s = out
	}
	if s.Status != state.StatusCompleted {
		s = state.UpdateField(s, "status", state.StatusCompleted)
	}
	return s, nil
}
