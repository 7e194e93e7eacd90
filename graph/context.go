package graph

import (
	"context"

	"github.com/smallnest/capiflow/log"
)

type resumeValueKey struct{}
type configKey struct{}

// WithResumeValue injects the decision payload a ResumeHumanGate call
// supplies, so the interrupted node can read it back via GetResumeValue
// when execution continues.
func WithResumeValue(ctx context.Context, value map[string]any) context.Context {
	return context.WithValue(ctx, resumeValueKey{}, value)
}

// GetResumeValue returns the injected resume decision, if any.
func GetResumeValue(ctx context.Context) (map[string]any, bool) {
	v, ok := ctx.Value(resumeValueKey{}).(map[string]any)
	return v, ok
}

// WithConfig injects the per-invocation Config.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig returns the injected Config, or nil if none was set.
func GetConfig(ctx context.Context) *Config {
	cfg, _ := ctx.Value(configKey{}).(*Config)
	return cfg
}

// RunContext is handed to every Node.Run call. It wraps a context.Context
// (carrying cancellation, resume values, and Config) with the identifying
// information a node needs without reaching back into the interpreter.
type RunContext struct {
	context.Context
	SessionID string
	TraceID   string
	Logger    log.Logger
}

// Log returns the turn-scoped logger, or the process default when the
// RunContext was built without one (tests, manual fallback).
func (rc *RunContext) Log() log.Logger {
	if rc.Logger != nil {
		return rc.Logger
	}
	return log.GetDefaultLogger()
}
