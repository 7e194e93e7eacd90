// Command capiflow-server is this repo's demonstration entrypoint: it
// wires config, a checkpoint backend, the agent registry, the event
// gateway, and the orchestrator together behind a small HTTP surface
// (POST a query, resume an interrupted session, stream events over a
// WebSocket). It is not a full REST API (auth, rate limiting, and a
// real routing framework are deliberately absent); it exists to
// demonstrate the orchestrator wiring end to end.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/smallnest/capiflow/adapter"
	"github.com/smallnest/capiflow/config"
	"github.com/smallnest/capiflow/gateway"
	"github.com/smallnest/capiflow/log"
	"github.com/smallnest/capiflow/manifest"
	"github.com/smallnest/capiflow/nodes"
	"github.com/smallnest/capiflow/nodes/support"
	"github.com/smallnest/capiflow/orchestrator"
	"github.com/smallnest/capiflow/registry"
	"github.com/smallnest/capiflow/store"
	"github.com/smallnest/capiflow/store/memory"
	"github.com/smallnest/capiflow/store/postgres"
	"github.com/smallnest/capiflow/store/redis"
	"github.com/smallnest/capiflow/store/sqlite"
)

func main() {
	cfg := config.FromEnv()
	logger := log.NewGologLogger(log.LogLevelInfo)
	log.SetDefaultLogger(logger)

	checkpoints, err := openCheckpointStore(cfg)
	if err != nil {
		logger.Error("opening checkpoint store: %v", err)
		os.Exit(1)
	}

	manifests, err := manifest.New(cfg.WorkspaceRoot)
	if err != nil {
		logger.Error("opening session manifest store: %v", err)
		os.Exit(1)
	}

	deps := support.Dependencies{
		Logger:        logger,
		Manifests:     manifests,
		WorkspaceRoot: cfg.WorkspaceRoot,
		MaxFanout:     cfg.MaxFanoutTargets,
		SkillsPath:    cfg.WorkspaceRoot,
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
			deps.LLM = adapter.NewOpenAIClient(apiKey, baseURL, os.Getenv("OPENAI_MODEL"))
		} else if llm, err := openai.New(); err != nil {
			logger.Warn("OPENAI_API_KEY set but openai client failed to initialize, falling back to heuristic intent/reasoning: %v", err)
		} else {
			deps.LLM = llm
		}
	}

	reg, err := registry.New(cfg.WorkspaceRoot+"/agents.json", nodes.AgentFactories(deps), logger)
	if err != nil {
		logger.Error("loading agent registry: %v", err)
		os.Exit(1)
	}

	gw := gateway.New(gateway.DefaultQueueSize, logger)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithNodeTimeout(cfg.NodeTimeout),
		orchestrator.WithTurnTimeout(cfg.TurnTimeout),
		orchestrator.WithInterruptBefore(cfg.InterruptBeforeNodes),
	}

	// EVENT_RELAY_REDIS_ADDR opts into the multi-instance event relay:
	// events published here reach subscribers connected to other
	// instances and vice versa.
	if relayAddr := os.Getenv("EVENT_RELAY_REDIS_ADDR"); relayAddr != "" {
		relay := gateway.NewRedisRelay(gw, goredis.NewClient(&goredis.Options{Addr: relayAddr}), "", logger)
		if err := relay.Ping(context.Background()); err != nil {
			logger.Error("event relay redis %s unreachable: %v", relayAddr, err)
			os.Exit(1)
		}
		relayCtx, cancelRelay := context.WithCancel(context.Background())
		defer cancelRelay()
		go func() {
			if err := relay.Run(relayCtx); err != nil && relayCtx.Err() == nil {
				logger.Warn("event relay stopped: %v", err)
			}
		}()
		opts = append(opts, orchestrator.WithEventSink(relay))
	}

	orch, err := orchestrator.New(checkpoints, manifests, reg, gw, deps, opts...)
	if err != nil {
		logger.Error("building orchestrator: %v", err)
		os.Exit(1)
	}

	if cfg.EnableDynamicGraph {
		watchCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := reg.Watch(watchCtx); err != nil && watchCtx.Err() == nil {
				logger.Warn("agent registry watch stopped: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/query", handleQuery(orch))
	mux.HandleFunc("/v1/resume", handleResume(orch))
	mux.HandleFunc("/v1/sessions", handleListSessions(orch))
	mux.HandleFunc("/v1/graph", handleGraphStatus(orch))
	mux.HandleFunc("/v1/stream/", handleStream(orch))

	addr := ":8080"
	if v := os.Getenv("CAPIFLOW_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("capiflow-server listening on %s (checkpoint backend %s)", addr, cfg.CheckpointBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown: %v", err)
	}
	if err := checkpoints.Close(); err != nil {
		logger.Warn("closing checkpoint store: %v", err)
	}
}

func openCheckpointStore(cfg config.Config) (store.CheckpointStore, error) {
	switch cfg.CheckpointBackend {
	case config.CheckpointBackendSQLite:
		return sqlite.New(sqlite.Options{Path: cfg.CheckpointPath})
	case config.CheckpointBackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return postgres.New(ctx, postgres.Options{ConnString: cfg.CheckpointPath})
	case config.CheckpointBackendRedis:
		return redis.New(redis.Options{Addr: cfg.CheckpointPath}), nil
	default:
		return memory.New(), nil
	}
}

type queryRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Query     string `json:"query"`
	Channel   string `json:"channel"`
	TraceID   string `json:"trace_id"`
}

type resumeRequest struct {
	SessionID string         `json:"session_id"`
	Decision  map[string]any `json:"decision"`
}

func handleQuery(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			http.Error(w, "session_id is required", http.StatusBadRequest)
			return
		}

		env, err := orch.ProcessQuery(r.Context(), req.SessionID, req.UserID, req.Query, req.Channel, req.TraceID)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	}
}

func handleResume(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req resumeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}
		if req.SessionID == "" {
			http.Error(w, "session_id is required", http.StatusBadRequest)
			return
		}

		env, err := orch.ResumeHumanGate(r.Context(), req.SessionID, req.Decision)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	}
}

func handleListSessions(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"sessions": orch.ListActiveSessions()})
	}
}

func handleGraphStatus(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orch.GraphStatus())
	}
}

func handleStream(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "session_id query parameter is required", http.StatusBadRequest)
			return
		}
		if err := orch.Gateway().ServeSession(w, r, sessionID); err != nil {
			log.GetDefaultLogger().Warn("websocket session %s ended: %v", sessionID, err)
		}
	}
}

func writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case err == orchestrator.ErrSessionBusy:
		http.Error(w, err.Error(), http.StatusConflict)
	case err == orchestrator.ErrSessionNotFound, err == orchestrator.ErrNoInterruptPending:
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
