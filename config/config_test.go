package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, existed := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if existed {
				os.Setenv(k, old)
			}
		})
	}
}

func TestFromEnv_DefaultsWhenUnset(t *testing.T) {
	clearEnv(t, "CHECKPOINT_BACKEND", "CHECKPOINT_PATH", "WORKSPACE_ROOT",
		"INTERRUPT_BEFORE_NODES", "NODE_TIMEOUT_MS", "TURN_TIMEOUT_MS",
		"MAX_FANOUT_TARGETS", "ENABLE_DYNAMIC_GRAPH")

	cfg := FromEnv()
	assert.Equal(t, CheckpointBackendSQLite, cfg.CheckpointBackend)
	assert.Equal(t, time.Duration(DefaultNodeTimeoutMS)*time.Millisecond, cfg.NodeTimeout)
	assert.Equal(t, time.Duration(DefaultTurnTimeoutMS)*time.Millisecond, cfg.TurnTimeout)
	assert.Equal(t, DefaultMaxFanout, cfg.MaxFanoutTargets)
	assert.False(t, cfg.EnableDynamicGraph)
	assert.Nil(t, cfg.InterruptBeforeNodes)
}

func TestFromEnv_ParsesOverrides(t *testing.T) {
	clearEnv(t, "CHECKPOINT_BACKEND", "NODE_TIMEOUT_MS", "INTERRUPT_BEFORE_NODES", "ENABLE_DYNAMIC_GRAPH", "MAX_FANOUT_TARGETS")
	os.Setenv("CHECKPOINT_BACKEND", "redis")
	os.Setenv("NODE_TIMEOUT_MS", "5000")
	os.Setenv("INTERRUPT_BEFORE_NODES", "human_gate, capi_desktop")
	os.Setenv("ENABLE_DYNAMIC_GRAPH", "true")
	os.Setenv("MAX_FANOUT_TARGETS", "8")

	cfg := FromEnv()
	assert.Equal(t, CheckpointBackendRedis, cfg.CheckpointBackend)
	assert.Equal(t, 5*time.Second, cfg.NodeTimeout)
	assert.Equal(t, []string{"human_gate", "capi_desktop"}, cfg.InterruptBeforeNodes)
	assert.True(t, cfg.EnableDynamicGraph)
	assert.Equal(t, 8, cfg.MaxFanoutTargets)
}

func TestFromEnv_InvalidBackendFallsBackToDefault(t *testing.T) {
	clearEnv(t, "CHECKPOINT_BACKEND")
	os.Setenv("CHECKPOINT_BACKEND", "not-a-backend")
	cfg := FromEnv()
	assert.Equal(t, CheckpointBackendSQLite, cfg.CheckpointBackend)
}
