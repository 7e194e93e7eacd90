// Package registry implements the Agent Registry & Config: a
// manifest-driven enumeration of specialist agents, enable/disable
// config, dynamic node-factory lookup keyed by node_class_path, and
// fsnotify-driven hot reload of the manifest source. It also builds the
// compiled graph for both the static and dynamic topology variants.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/smallnest/capiflow/graph"
	"github.com/smallnest/capiflow/log"
)

// ErrAgentNotFound is returned by GetAgentManifest/NodeFor for an unknown
// agent name.
var ErrAgentNotFound = errors.New("registry: agent not found")

// AgentManifest is one registry entry describing a specialist agent.
type AgentManifest struct {
	AgentName     string         `json:"agent_name"`
	NodeClassPath string         `json:"node_class_path"`
	Enabled       bool           `json:"enabled"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Config is the enable/disable surface
// ("config.is_enabled(name) / set_enabled(name, bool)"), kept distinct
// from the manifest list itself: enablement can be flipped at runtime
// without touching the manifest source file.
type Config struct {
	mu      sync.RWMutex
	enabled map[string]bool
}

func newConfig() *Config {
	return &Config{enabled: map[string]bool{}}
}

// IsEnabled reports whether name is currently enabled. Unknown names are
// disabled by default (fail closed).
func (c *Config) IsEnabled(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[name]
}

// SetEnabled flips name's enablement without requiring a manifest reload.
func (c *Config) SetEnabled(name string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[name] = v
}

// Registry is the Agent Registry. It is process-wide but
// safe for concurrent access: refresh takes a writer lock,
// readers observe a consistent snapshot.
type Registry struct {
	mu        sync.RWMutex
	source    string
	manifests map[string]*AgentManifest
	factories map[string]graph.NodeFactory // keyed by node_class_path
	nodeCache map[string]graph.Node
	cfg       *Config
	logger    log.Logger
	watcher   *fsnotify.Watcher
	onChange  func()
}

// New loads the manifest file at source (creating it with defaults if
// absent) and binds it to factories, a map from node_class_path to the
// concrete node constructor (supplied by the nodes package). Optional
// agents whose node_class_path has no registered factory are kept in the
// manifest but skipped with a warning when the graph is built.
func New(source string, factories map[string]graph.NodeFactory, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	r := &Registry{
		source:    source,
		factories: factories,
		nodeCache: map[string]graph.Node{},
		cfg:       newConfig(),
		logger:    logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// DefaultManifests returns the built-in manifest set for the eight
// financial-assistant specialists (AllAgentNames), all
// enabled, used to seed a fresh manifest file on first run.
func DefaultManifests() []AgentManifest {
	mk := func(name, classPath string) AgentManifest {
		return AgentManifest{AgentName: name, NodeClassPath: classPath, Enabled: true}
	}
	return []AgentManifest{
		mk("capi_datab", "capiflow/nodes/agents.CapiDatab"),
		mk("capi_alertas", "capiflow/nodes/agents.CapiAlertas"),
		mk("capi_elcajas", "capiflow/nodes/agents.CapiElCajas"),
		mk("capi_desktop", "capiflow/nodes/agents.CapiDesktop"),
		mk("capi_gus", "capiflow/nodes/agents.CapiGus"),
		mk("branch", "capiflow/nodes/agents.Branch"),
		mk("anomaly", "capiflow/nodes/agents.Anomaly"),
		mk("agente_g", "capiflow/nodes/agents.AgenteG"),
	}
}

func (r *Registry) load() error {
	raw, err := os.ReadFile(r.source)
	if errors.Is(err, os.ErrNotExist) {
		manifests := DefaultManifests()
		if err := r.writeDefaults(manifests); err != nil {
			return err
		}
		return r.applyLocked(manifests)
	}
	if err != nil {
		return fmt.Errorf("registry: read manifest source %s: %w", r.source, err)
	}
	var manifests []AgentManifest
	if err := json.Unmarshal(raw, &manifests); err != nil {
		return fmt.Errorf("registry: decode manifest source %s: %w", r.source, err)
	}
	return r.applyLocked(manifests)
}

func (r *Registry) writeDefaults(manifests []AgentManifest) error {
	raw, err := json.MarshalIndent(manifests, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode default manifests: %w", err)
	}
	if err := os.WriteFile(r.source, raw, 0o644); err != nil {
		return fmt.Errorf("registry: write default manifest source %s: %w", r.source, err)
	}
	return nil
}

func (r *Registry) applyLocked(manifests []AgentManifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*AgentManifest, len(manifests))
	for i := range manifests {
		m := manifests[i]
		next[m.AgentName] = &m
		r.cfg.SetEnabled(m.AgentName, m.Enabled)
	}
	r.manifests = next
	// A reload invalidates any cached node, since the underlying
	// node_class_path or metadata may have changed.
	r.nodeCache = map[string]graph.Node{}
	return nil
}

// ListRegisteredAgents returns every known manifest, sorted by agent_name
// for deterministic GraphStatus output.
func (r *Registry) ListRegisteredAgents() []AgentManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentManifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	return out
}

// GetAgentManifest looks up a single manifest by name.
func (r *Registry) GetAgentManifest(name string) (AgentManifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	if !ok {
		return AgentManifest{}, false
	}
	return *m, true
}

// Config returns the registry's enable/disable config surface.
func (r *Registry) Config() *Config { return r.cfg }

// RefreshRegistry re-reads the manifest source file and fires the
// change hook so the graph rebuilds against the fresh manifest set.
func (r *Registry) RefreshRegistry() error {
	if err := r.load(); err != nil {
		return err
	}
	if r.onChange != nil {
		r.onChange()
	}
	return nil
}

// RegisterAgent adds or replaces a manifest entry and enables it,
// matching RegisterAgent(name) (name is looked up against the
// default manifest set; callers needing a custom node_class_path should
// edit the manifest source and call RefreshRegistry instead).
func (r *Registry) RegisterAgent(name string) error {
	r.mu.Lock()
	var classPath string
	for _, d := range DefaultManifests() {
		if d.AgentName == name {
			classPath = d.NodeClassPath
			break
		}
	}
	if classPath == "" {
		if existing, ok := r.manifests[name]; ok {
			classPath = existing.NodeClassPath
		} else {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s has no known node_class_path", ErrAgentNotFound, name)
		}
	}
	r.manifests[name] = &AgentManifest{AgentName: name, NodeClassPath: classPath, Enabled: true}
	delete(r.nodeCache, name)
	r.mu.Unlock()

	r.cfg.SetEnabled(name, true)
	if r.onChange != nil {
		r.onChange()
	}
	return nil
}

// UnregisterAgent disables name and drops its manifest entry entirely.
func (r *Registry) UnregisterAgent(name string) error {
	r.mu.Lock()
	if _, ok := r.manifests[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	delete(r.manifests, name)
	delete(r.nodeCache, name)
	r.mu.Unlock()

	r.cfg.SetEnabled(name, false)
	if r.onChange != nil {
		r.onChange()
	}
	return nil
}

// EnabledAgentNames returns the sorted names of every agent whose
// manifest is present and enabled.
func (r *Registry) EnabledAgentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, m := range r.manifests {
		if m.Enabled && r.cfg.IsEnabled(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NodeFor instantiates (or returns the cached instance of) the node for
// a registered agent by looking up its node_class_path in the factory
// table supplied at construction. A manifest whose node_class_path has no
// matching factory is an optional agent that is absent from this build;
// the caller should skip it with a warning rather than treat
// it as an error.
func (r *Registry) NodeFor(name string) (graph.Node, bool, error) {
	r.mu.RLock()
	if cached, ok := r.nodeCache[name]; ok {
		r.mu.RUnlock()
		return cached, true, nil
	}
	m, ok := r.manifests[name]
	if !ok {
		r.mu.RUnlock()
		return graph.Node{}, false, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	classPath := m.NodeClassPath
	r.mu.RUnlock()

	factory, ok := r.factories[classPath]
	if !ok {
		r.logger.Warn("registry: no factory registered for %s (node_class_path=%s); skipping", name, classPath)
		return graph.Node{}, false, nil
	}
	n, err := factory(name)
	if err != nil {
		return graph.Node{}, false, fmt.Errorf("registry: instantiate %s: %w", name, err)
	}

	r.mu.Lock()
	r.nodeCache[name] = n
	r.mu.Unlock()
	return n, true, nil
}
