// Package manifest implements the Session Manifest Store:
// a per-session JSON file recording export artifacts, completed-node
// history, and the last response, written atomically via
// temp-file-then-rename so a reader never observes a half-written
// record (on-disk layout).
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/smallnest/capiflow/state"
)

// SessionManifest is the persisted record.
type SessionManifest struct {
	SessionID         string    `json:"session_id"`
	CompletedNodes    []string  `json:"completed_nodes"`
	LastResponse      string    `json:"last_response"`
	DatabExports      []string  `json:"datab_exports"`
	LastProgressSteps []string  `json:"last_progress_steps"`
	UpdatedAt         time.Time `json:"updated_at"`
}

var sanitizeRE = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitize converts a session_id into a filesystem-safe token.
func sanitize(sessionID string) string {
	return sanitizeRE.ReplaceAllString(sessionID, "_")
}

// Store is the Session Manifest Store. Each session has its
// own file lock so a manifest is never read mid-write.
type Store struct {
	dir   string
	mu    sync.Mutex // guards locks map
	locks map[string]*sync.Mutex
}

// New returns a Store rooted at <workspace>/data/sessions.
// dir is created if absent.
func New(workspaceRoot string) (*Store, error) {
	dir := filepath.Join(workspaceRoot, "data", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: create session dir: %w", err)
	}
	return &Store{dir: dir, locks: map[string]*sync.Mutex{}}, nil
}

func (st *Store) pathFor(sessionID string) string {
	return filepath.Join(st.dir, fmt.Sprintf("session_%s.json", sanitize(sessionID)))
}

func (st *Store) lockFor(sessionID string) *sync.Mutex {
	st.mu.Lock()
	defer st.mu.Unlock()
	l, ok := st.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		st.locks[sessionID] = l
	}
	return l
}

// UpdateFromState persists a manifest snapshot derived from s, merging
// datab_exports rather than overwriting them (an export is never
// forgotten once recorded).
func (st *Store) UpdateFromState(s *state.GraphState) error {
	lock := st.lockFor(s.SessionID)
	lock.Lock()
	defer lock.Unlock()

	existing, _ := st.readLocked(s.SessionID)

	m := SessionManifest{
		SessionID:         s.SessionID,
		CompletedNodes:    append([]string(nil), s.CompletedNodes...),
		LastResponse:      s.ResponseMessage,
		LastProgressSteps: append([]string(nil), s.CompletedNodes...),
		UpdatedAt:         time.Now(),
	}
	m.DatabExports = mergeExports(existing, s)

	return st.writeLocked(s.SessionID, &m)
}

// RecordExport appends a newly written agent artifact path to the
// manifest (per-agent export files), used by agent nodes
// after they write a file under data/sessions/session_<sid>/<agent>/.
func (st *Store) RecordExport(sessionID, path string) error {
	lock := st.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	m, err := st.readLocked(sessionID)
	if err != nil {
		m = &SessionManifest{SessionID: sessionID}
	}
	m.DatabExports = append(m.DatabExports, path)
	m.UpdatedAt = time.Now()
	return st.writeLocked(sessionID, m)
}

func mergeExports(existing *SessionManifest, s *state.GraphState) []string {
	var out []string
	if existing != nil {
		out = append(out, existing.DatabExports...)
	}
	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		seen[e] = struct{}{}
	}
	for agent, artifact := range s.SharedArtifacts {
		if path, ok := artifact["export_path"].(string); ok && path != "" {
			if _, dup := seen[path]; !dup {
				out = append(out, path)
				seen[path] = struct{}{}
			}
			_ = agent
		}
	}
	return out
}

// GetManifest returns the persisted manifest for session_id, or nil if
// none exists yet.
func (st *Store) GetManifest(sessionID string) (*SessionManifest, error) {
	lock := st.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return st.readLocked(sessionID)
}

// ListSessions returns every session_id with a persisted manifest,
// sorted for deterministic output.
func (st *Store) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		path := filepath.Join(st.dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m SessionManifest
		if json.Unmarshal(raw, &m) == nil && m.SessionID != "" {
			ids = append(ids, m.SessionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Clear removes the manifest file for session_id. Missing files are not
// an error.
func (st *Store) Clear(sessionID string) error {
	lock := st.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(st.pathFor(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("manifest: clear %s: %w", sessionID, err)
	}
	return nil
}

func (st *Store) readLocked(sessionID string) (*SessionManifest, error) {
	raw, err := os.ReadFile(st.pathFor(sessionID))
	if err != nil {
		return nil, err
	}
	var m SessionManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode %s: %w", sessionID, err)
	}
	return &m, nil
}

// writeLocked writes m atomically: encode to a temp file in the same
// directory, fsync, then rename over the target. A reader opening the
// target path either sees the old content or the new one, never a
// partial write.
func (st *Store) writeLocked(sessionID string, m *SessionManifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: encode %s: %w", sessionID, err)
	}

	target := st.pathFor(sessionID)
	tmp, err := os.CreateTemp(st.dir, "session_*.tmp")
	if err != nil {
		return fmt.Errorf("manifest: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("manifest: rename into place: %w", err)
	}
	return nil
}
