// Package capiflow implements a graph-based multi-agent orchestration
// runtime for a financial assistant: it classifies a natural-language
// query, plans a multi-step execution, dispatches work to specialist agent
// nodes, and streams ordered progress events to subscribed clients while
// returning a synthesized response envelope.
//
// # Packages
//
//   - state: GraphState and the StateMutator pure-update functions.
//   - graph: the directed-graph interpreter: builder, fan-out merge,
//     checkpointing, interrupts, streaming, retries.
//   - store: CheckpointStore and its sqlite/postgres/redis/memory backends.
//   - manifest: per-session SessionManifest file store.
//   - registry: AgentManifest registry with hot-reload.
//   - nodes: the named processing units (Start, Intent, ReAct, Reasoning,
//     Supervisor, LoopController, Router, agent specialists, HumanGate,
//     Assemble, Finalize).
//   - gateway: the per-session ordered Event Gateway and its WebSocket
//     transport.
//   - orchestrator: the external entrypoint (ProcessQuery,
//     ResumeHumanGate, GetSessionHistory, ...).
//   - log: the logging abstraction shared by every package above.
//
// # Quick start
//
//	cfg := config.FromEnv()
//	checkpoints := memory.New()
//	manifests, _ := manifest.New(cfg.WorkspaceRoot)
//	reg, _ := registry.New(cfg.WorkspaceRoot+"/agents.json", nodes.AgentFactories(deps), nil)
//	gw := gateway.New(gateway.DefaultQueueSize, nil)
//	orch, err := orchestrator.New(checkpoints, manifests, reg, gw, deps)
//	if err != nil {
//		panic(err)
//	}
//	envelope, err := orch.ProcessQuery(ctx, "session-1", "user-1", "hola", "", "")
package capiflow
