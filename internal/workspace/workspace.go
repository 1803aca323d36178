// Package workspace resolves the workspace-rooted file layout
// and derives the deterministic container identity.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
)

// Paths is the workspace-rooted .ploinky/ directory layout.
type Paths struct {
	Root     string // workspace root (absolute)
	Ploinky  string // <root>/.ploinky
	Agents   string // <root>/.ploinky/agents.json          (AR)
	Routing  string // <root>/.ploinky/routing.json          (RTbl)
	Secrets  string // <root>/.ploinky/.secrets               (ER input)
	Config   string // <root>/.ploinky/config.json            (read-only)
	Locks    string // <root>/.ploinky/locks/                 (advisory locks)
	Running  string // <root>/.ploinky/running_agents/        (cached port hints)
	LogsDir  string // <root>/logs
	Router   string // <root>/logs/router.log
	Watchdog string // <root>/logs/watchdog.log
}

// NewPaths computes every workspace-rooted path from an absolute root.
func NewPaths(root string) Paths {
	root = filepath.Clean(root)
	ploinky := filepath.Join(root, ".ploinky")
	logsDir := filepath.Join(root, "logs")
	return Paths{
		Root:     root,
		Ploinky:  ploinky,
		Agents:   filepath.Join(ploinky, "agents.json"),
		Routing:  filepath.Join(ploinky, "routing.json"),
		Secrets:  filepath.Join(ploinky, ".secrets"),
		Config:   filepath.Join(ploinky, "config.json"),
		Locks:    filepath.Join(ploinky, "locks"),
		Running:  filepath.Join(ploinky, "running_agents"),
		LogsDir:  logsDir,
		Router:   filepath.Join(logsDir, "router.log"),
		Watchdog: filepath.Join(logsDir, "watchdog.log"),
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// safe replaces every character outside [A-Za-z0-9_.-] with "_".
func safe(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}

// CWDHash8 returns the first 8 hex characters of the SHA-256 of the
// absolute workspace path.
func CWDHash8(absWorkspacePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absWorkspacePath)))
	return hex.EncodeToString(sum[:])[:8]
}

// ContainerName computes the deterministic container name
// ploinky_<safeRepo>_<safeAgent>_<safeProjectDir>_<cwdHash8>.
func ContainerName(repoName, agentName, projectDirName, absWorkspacePath string) string {
	return fmt.Sprintf("ploinky_%s_%s_%s_%s",
		safe(repoName), safe(agentName), safe(projectDirName), CWDHash8(absWorkspacePath))
}

// HasPloinkyPrefix reports whether name carries the reserved "ploinky_"
// prefix.
func HasPloinkyPrefix(name string) bool {
	const prefix = "ploinky_"
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}
