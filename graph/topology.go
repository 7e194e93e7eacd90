package graph

import "github.com/smallnest/capiflow/state"

// NodeFactory builds a Node given its registered name; the registry
// package supplies the concrete factories bound to live dependencies
// (LLM clients, tool adapters, the checkpoint store). Builder.go and this
// file only need the shape, not the implementations.
type NodeFactory func(name string) (Node, error)

// AllAgentNames lists every specialist agent name the static topology
// knows how to wire, in router-precedence-neutral order. The dynamic
// builder (registry package) restricts this set to the currently enabled
// subset when it calls BuildTopology directly.
var AllAgentNames = []string{
	"capi_datab", "capi_alertas", "capi_elcajas", "capi_desktop",
	"capi_gus", "branch", "anomaly", "agente_g",
}

// BuildStaticTopology assembles the fixed graph shape with
// every known agent enabled. It is the non-dynamic entrypoint used when
// ENABLE_DYNAMIC_GRAPH is off.
func BuildStaticTopology(nodes map[string]Node) (*CompiledGraph, error) {
	return BuildTopology(nodes, AllAgentNames)
}

// BuildTopology assembles the graph shape restricted to
// enabledAgents: router and capi_datab/capi_alertas only route to agents
// present in that set, so a disabled agent's name never appears in a
// path_map the compiled graph would need a node for. nodes must still
// contain start/intent/react/reasoning/
// supervisor/loop_controller/router/human_gate/assemble/finalize plus
// every name in enabledAgents.
func BuildTopology(nodes map[string]Node, enabledAgents []string) (*CompiledGraph, error) {
	enabled := make(map[string]struct{}, len(enabledAgents))
	for _, a := range enabledAgents {
		enabled[a] = struct{}{}
	}
	has := func(name string) bool {
		_, ok := enabled[name]
		return ok
	}

	b := NewBuilder()
	for _, n := range nodes {
		b.AddNode(n)
	}
	b.SetEntryPoint("start")

	b.AddEdge("start", "intent")
	b.AddEdge("intent", "react")
	b.AddEdge("react", "reasoning")
	b.AddEdge("reasoning", "supervisor")
	b.AddEdge("supervisor", "loop_controller")

	b.AddConditionalEdge("loop_controller", loopControllerResolver, map[string]string{
		"router":   "router",
		"assemble": "assemble",
	})

	routerPathMap := map[string]string{"assemble": "assemble"}
	for _, agent := range AllAgentNames {
		if has(agent) {
			routerPathMap[agent] = agent
		}
	}
	b.AddConditionalEdge("router", routerResolver, routerPathMap)

	for _, agent := range []string{"capi_elcajas", "capi_desktop", "capi_gus", "branch", "anomaly", "agente_g"} {
		if !has(agent) {
			continue
		}
		b.AddConditionalEdge(agent, agentRetryResolver(agent), map[string]string{
			"human_gate":      "human_gate",
			"loop_controller": "loop_controller",
		})
	}

	if has("capi_datab") {
		databPathMap := map[string]string{
			"human_gate":      "human_gate",
			"loop_controller": "loop_controller",
			"assemble":        "assemble",
		}
		for _, agent := range []string{"capi_alertas", "capi_desktop", "capi_elcajas"} {
			if has(agent) {
				databPathMap[agent] = agent
			}
		}
		b.AddConditionalEdge("capi_datab", capiDatabResolver, databPathMap)
	}

	if has("capi_alertas") {
		alertasPathMap := map[string]string{
			"loop_controller": "loop_controller",
			"assemble":        "assemble",
		}
		if has("capi_desktop") {
			alertasPathMap["capi_desktop"] = "capi_desktop"
		}
		b.AddConditionalEdge("capi_alertas", capiAlertasResolver, alertasPathMap)
	}

	humanGatePathMap := map[string]string{"assemble": "assemble"}
	for _, agent := range []string{"capi_datab", "capi_desktop", "agente_g"} {
		if has(agent) {
			humanGatePathMap[agent] = agent
		}
	}
	b.AddConditionalEdge("human_gate", humanGateResolver, humanGatePathMap)
	b.AddEdge("assemble", "finalize")
	b.AddEdge("finalize", END)

	return b.Compile()
}

// loopControllerResolver sends the turn back to router unless the bounded
// retry budget (max 2 loop iterations, tracked in
// processing_metrics.loop_count) has already been exhausted or the turn is
// already complete.
func loopControllerResolver(s *state.GraphState) []string {
	if s.Status == state.StatusCompleted || s.Status == state.StatusFailed {
		return []string{"assemble"}
	}
	if s.ProcessingMetrics["loop_count"] >= 2 {
		return []string{"assemble"}
	}
	return []string{"router"}
}

// routerResolver dispatches on DetectedIntent: an explicit
// RoutingDecision set by a node wins outright,
// then intent, then active agent continuity, then a catch-all to
// capi_gus, then assemble.
func routerResolver(s *state.GraphState) []string {
	if len(s.RoutingDecision) > 0 {
		return s.RoutingDecision
	}
	switch s.DetectedIntent {
	case state.IntentDBOperation:
		return []string{"capi_datab"}
	case state.IntentFileOperation:
		return []string{"capi_desktop"}
	case state.IntentBranchQuery:
		return []string{"branch"}
	case state.IntentAnomalyQuery:
		return []string{"anomaly"}
	case state.IntentGoogleWorkspace, state.IntentGoogleGmail, state.IntentGoogleDrive, state.IntentGoogleCalendar:
		return []string{"agente_g"}
	case state.IntentGreeting, state.IntentSmallTalk, state.IntentSummaryRequest, state.IntentQuery:
		return []string{"capi_gus"}
	}
	if s.ActiveAgent != "" {
		return []string{s.ActiveAgent}
	}
	return []string{"capi_gus"}
}

// agentRetryResolver is the post-run edge for the generic specialists: a
// fresh agent_unavailable failure with retry budget left is carried back
// through loop_controller so the router can dispatch an alternative
// agent; everything else proceeds to the gate, so even a plain greeting
// turn passes through human_gate.
func agentRetryResolver(self string) Resolver {
	return func(s *state.GraphState) []string {
		if freshAgentFailure(s, self) {
			return []string{"loop_controller"}
		}
		return []string{"human_gate"}
	}
}

// freshAgentFailure reports whether the most recent error was raised by
// this agent's own run just now, is the retryable agent_unavailable kind,
// and the bounded loop budget still has room.
func freshAgentFailure(s *state.GraphState, self string) bool {
	if s.ProcessingMetrics["loop_count"] >= 2 {
		return false
	}
	if len(s.Errors) == 0 {
		return false
	}
	last := s.Errors[len(s.Errors)-1]
	return last.Node == self && last.Code == "agent_unavailable"
}

// humanGateOrAssembleResolver is the post-run choice for agents that may
// skip the gate entirely (capi_datab's direct-to-assemble fan): a pending
// approval goes to human_gate, everything else straight to assemble.
func humanGateOrAssembleResolver(s *state.GraphState) []string {
	if requiresHumanApproval(s) {
		return []string{"human_gate"}
	}
	if s.Status == state.StatusAwaitingHuman {
		return []string{"human_gate"}
	}
	return []string{"assemble"}
}

// requiresHumanApproval reports whether an agent node flagged its
// pending action for approval.
func requiresHumanApproval(s *state.GraphState) bool {
	v, _ := s.ResponseMetadata["requires_human_approval"].(bool)
	return v
}

// humanGateResolver sends a decided turn back to the agent whose pending
// action requested the approval, so the agent gets a second run to
// execute the approved action (or record the denial) instead of the turn
// skipping straight to assemble with the action still unresolved. The
// agent consumes the pending action on that second run, so the next pass
// through the gate proceeds to assemble. A pass-through with no decision,
// or a decision with no identifiable pending agent, goes to assemble.
func humanGateResolver(s *state.GraphState) []string {
	if _, decided := s.ResponseMetadata["human_decision"]; decided {
		if agent := pendingActionAgent(s); agent != "" {
			return []string{agent}
		}
	}
	return []string{"assemble"}
}

// pendingActionAgent returns the agent name recorded on the most recent
// pending action (response_metadata.actions[-1].agent), the same shape
// nodes/agents.requestApproval populates.
func pendingActionAgent(s *state.GraphState) string {
	actions, _ := s.ResponseMetadata["actions"].([]any)
	if len(actions) == 0 {
		return ""
	}
	last, ok := actions[len(actions)-1].(map[string]any)
	if !ok {
		return ""
	}
	agent, _ := last["agent"].(string)
	return agent
}

// freshRoutingDecision returns s.RoutingDecision unless it is still the
// stale self-referencing value the Router node left behind before
// dispatching to self (e.g. Router sets routing_decision=[self] to choose
// the agent, and nothing clears it once that agent has run), treating a
// single-element [self] as "no explicit handoff requested" so an agent
// that never sets its own routing_decision falls through to its normal
// post-run resolver instead of being bounced right back to itself.
func freshRoutingDecision(s *state.GraphState, self string) []string {
	if len(s.RoutingDecision) == 1 && s.RoutingDecision[0] == self {
		return nil
	}
	return s.RoutingDecision
}

// capiDatabResolver lets the database agent hand off to another agent
// directly ("artifact sharing" supplement, e.g. capi_datab
// producing a dataset capi_elcajas then visualizes) instead of always
// funnelling through router again.
func capiDatabResolver(s *state.GraphState) []string {
	if freshAgentFailure(s, "capi_datab") {
		return []string{"loop_controller"}
	}
	if rd := freshRoutingDecision(s, "capi_datab"); len(rd) > 0 {
		return rd
	}
	return humanGateOrAssembleResolver(s)
}

// capiAlertasResolver handles the capi_alertas -> capi_desktop handoff
// used when an alert's supporting evidence needs to be written to a file
// artifact.
func capiAlertasResolver(s *state.GraphState) []string {
	if freshAgentFailure(s, "capi_alertas") {
		return []string{"loop_controller"}
	}
	if rd := freshRoutingDecision(s, "capi_alertas"); len(rd) > 0 {
		return rd
	}
	return []string{"assemble"}
}
