// Package config parses the process-wide configuration from
// environment variables into a plain struct with os.Getenv/strconv.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CheckpointBackend selects which store.CheckpointStore implementation
// cmd/capiflow-server wires up.
type CheckpointBackend string

const (
	CheckpointBackendMemory   CheckpointBackend = "memory"
	CheckpointBackendSQLite   CheckpointBackend = "sqlite"
	CheckpointBackendPostgres CheckpointBackend = "postgres"
	CheckpointBackendRedis    CheckpointBackend = "redis"
)

// Config is the parsed form of environment variables.
type Config struct {
	CheckpointBackend    CheckpointBackend
	CheckpointPath       string
	WorkspaceRoot        string
	InterruptBeforeNodes []string
	NodeTimeout          time.Duration
	TurnTimeout          time.Duration
	MaxFanoutTargets     int
	EnableDynamicGraph   bool
}

// Defaults mirror graph.DefaultNodeTimeout/DefaultTurnTimeout and a
// same-process-friendly sqlite/workspace layout.
const (
	DefaultNodeTimeoutMS = 60_000
	DefaultTurnTimeoutMS = 180_000
	DefaultMaxFanout     = 4
)

// FromEnv parses Config from the process environment, applying the
// defaults above for anything unset or unparsable.
func FromEnv() Config {
	return Config{
		CheckpointBackend:    backendFromEnv("CHECKPOINT_BACKEND", CheckpointBackendSQLite),
		CheckpointPath:       stringFromEnv("CHECKPOINT_PATH", "./data/checkpoints.db"),
		WorkspaceRoot:        stringFromEnv("WORKSPACE_ROOT", "."),
		InterruptBeforeNodes: listFromEnv("INTERRUPT_BEFORE_NODES"),
		NodeTimeout:          durationMSFromEnv("NODE_TIMEOUT_MS", DefaultNodeTimeoutMS),
		TurnTimeout:          durationMSFromEnv("TURN_TIMEOUT_MS", DefaultTurnTimeoutMS),
		MaxFanoutTargets:     intFromEnv("MAX_FANOUT_TARGETS", DefaultMaxFanout),
		EnableDynamicGraph:   boolFromEnv("ENABLE_DYNAMIC_GRAPH", false),
	}
}

func stringFromEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func backendFromEnv(key string, def CheckpointBackend) CheckpointBackend {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch CheckpointBackend(v) {
	case CheckpointBackendMemory, CheckpointBackendSQLite, CheckpointBackendPostgres, CheckpointBackendRedis:
		return CheckpointBackend(v)
	default:
		return def
	}
}

func listFromEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationMSFromEnv(key string, defMS int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(defMS) * time.Millisecond
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
