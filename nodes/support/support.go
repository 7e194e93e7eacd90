// Package support holds the dependency bag and small shared helpers every
// orchestration node (package nodes) and agent specialist
// (nodes/agents) is built against, so neither package needs to import
// the other to share a common Dependencies type.
package support

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/smallnest/capiflow/log"
	"github.com/smallnest/capiflow/manifest"
)

// AgentEnablement is the read surface of registry.Config/Registry the
// Router and Supervisor nodes need: which agents are
// currently enabled, used for fallback-agent selection when the
// Reasoning node's recommended agent is disabled. registry.Registry
// satisfies this interface structurally.
type AgentEnablement interface {
	EnabledAgentNames() []string
}

// Dependencies is threaded into every node/agent factory. Fields are
// optional where a node degrades gracefully without them; a missing LLM
// means heuristic behavior, never a failed turn.
type Dependencies struct {
	LLM           llms.Model
	Logger        log.Logger
	Manifests     *manifest.Store
	Enablement    AgentEnablement
	WorkspaceRoot string
	MaxFanout     int
	SkillsPath    string // directory adapter/goskills operations are rooted at
}

func (d Dependencies) logger() log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.GetDefaultLogger()
}

// Log returns d's logger, or the package default if unset.
func (d Dependencies) Log() log.Logger { return d.logger() }

// WriteArtifact writes data under
// <workspace>/data/sessions/session_<sid>/<agent>/<filename>,
// embedding a timestamp and short random token in the filename so
// concurrent writes from the same agent never collide, and records the
// export in the session manifest if one is configured. It returns the
// path written.
func (d Dependencies) WriteArtifact(sessionID, agent, ext string, data []byte) (string, error) {
	root := d.WorkspaceRoot
	if root == "" {
		root = "."
	}
	dir := filepath.Join(root, "data", "sessions", "session_"+sanitizeToken(sessionID), agent)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("support: create artifact dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%d_%s.%s", agent, time.Now().UnixNano(), shortToken(), ext)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("support: write artifact: %w", err)
	}

	if d.Manifests != nil {
		if err := d.Manifests.RecordExport(sessionID, path); err != nil {
			d.logger().Warn("support: record export for %s failed: %v", sessionID, err)
		}
	}
	return path, nil
}

func shortToken() string {
	id := uuid.New().String()
	return id[:8]
}

func sanitizeToken(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-' || r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
