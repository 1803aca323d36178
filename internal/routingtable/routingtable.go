// Package routingtable implements RoutingTable (RTbl): the
// persisted mapping from agentName to its host port, plus the router's own
// listen port, stored as a single JSON file under the workspace's
// .ploinky/ directory.
package routingtable

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Route is one agent's routing entry.
type Route struct {
	HostPort      int    `json:"hostPort"`
	Disabled      bool   `json:"disabled,omitempty"`
	ContainerName string `json:"containerName,omitempty"`
}

// document is the on-disk shape: {"port": <u16>, "routes": {...}}.
type document struct {
	Port   int              `json:"port"`
	Routes map[string]Route `json:"routes"`
}

// Table is RTbl.
type Table struct {
	mu     sync.RWMutex
	path   string
	port   int
	routes map[string]Route
}

// New returns an empty Table rooted at path.
func New(path string) *Table {
	return &Table{path: path, routes: make(map[string]Route)}
}

// Load reads path into a new Table. A missing file is treated as empty.
func Load(path string) (*Table, error) {
	t := New(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, fmt.Errorf("failed to read routing table %s: %w", path, err)
	}
	if len(data) == 0 {
		return t, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routing table %s: %w", path, err)
	}
	t.port = doc.Port
	if doc.Routes != nil {
		t.routes = doc.Routes
	}
	return t, nil
}

// Port returns the router's own listen port, 0 if never set.
func (t *Table) Port() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.port
}

// SetPort records the router's listen port and persists.
func (t *Table) SetPort(port int) error {
	t.mu.Lock()
	t.port = port
	doc := t.snapshotLocked()
	t.mu.Unlock()
	return t.persist(doc)
}

// Get returns the route for agentName and whether it was present.
func (t *Table) Get(agentName string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[agentName]
	return r, ok
}

// List returns a snapshot of every route, keyed by agentName.
func (t *Table) List() map[string]Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Route, len(t.routes))
	for k, v := range t.routes {
		out[k] = v
	}
	return out
}

// Put inserts or replaces agentName's route and persists atomically.
func (t *Table) Put(agentName string, route Route) error {
	t.mu.Lock()
	t.routes[agentName] = route
	doc := t.snapshotLocked()
	t.mu.Unlock()
	return t.persist(doc)
}

// Delete removes agentName's route, if present, and persists. Deliberately
// does not drop other entries — rebuilding RT must not silently lose routes.
func (t *Table) Delete(agentName string) error {
	t.mu.Lock()
	delete(t.routes, agentName)
	doc := t.snapshotLocked()
	t.mu.Unlock()
	return t.persist(doc)
}

// SetDisabled toggles an existing route's Disabled flag without touching
// its hostPort.
func (t *Table) SetDisabled(agentName string, disabled bool) error {
	t.mu.Lock()
	route, ok := t.routes[agentName]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("no routing entry for agent %s", agentName)
	}
	route.Disabled = disabled
	t.routes[agentName] = route
	doc := t.snapshotLocked()
	t.mu.Unlock()
	return t.persist(doc)
}

func (t *Table) snapshotLocked() document {
	routes := make(map[string]Route, len(t.routes))
	for k, v := range t.routes {
		routes[k] = v
	}
	return document{Port: t.port, Routes: routes}
}

func (t *Table) persist(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal routing table: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create routing table directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".routing-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp routing table file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp routing table file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp routing table file: %w", err)
	}

	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp routing table file into place: %w", err)
	}
	return nil
}
