package agentmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileManifestSource reads agent manifests and mount source paths from the
// workspace's repo checkouts. Repo enablement/checkout itself belongs to
// the out-of-scope repository CLI; FileManifestSource only
// reads what that CLI already laid out on disk:
//
//	<root>/.ploinky/repos/<repoName>/<agentName>/manifest.json
//	<root>/.ploinky/repos/<repoName>/<agentName>/         (mounted at /code)
//	<root>/.ploinky/agent-core/                           (mounted at /Agent)
type FileManifestSource struct {
	root string
}

// NewFileManifestSource roots lookups at workspaceRoot.
func NewFileManifestSource(workspaceRoot string) *FileManifestSource {
	return &FileManifestSource{root: workspaceRoot}
}

func (s *FileManifestSource) repoAgentDir(repoName, agentName string) string {
	return filepath.Join(s.root, ".ploinky", "repos", repoName, agentName)
}

// LoadManifest reads and validates <repoName>/<agentName>/manifest.json.
func (s *FileManifestSource) LoadManifest(ctx context.Context, repoName, agentName string) (*Manifest, error) {
	path := filepath.Join(s.repoAgentDir(repoName, agentName), "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read manifest %s: %v", ErrManifestInvalid, path, err)
	}

	raw, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return raw.Validate()
}

// AgentLibraryPath is the control plane's own runtime library, bind-mounted
// read-only at /Agent for every agent container.
func (s *FileManifestSource) AgentLibraryPath(ctx context.Context) (string, error) {
	path := filepath.Join(s.root, ".ploinky", "agent-core")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: agent library not found at %s: %v", ErrManifestInvalid, path, err)
	}
	return path, nil
}

// CodeSourcePath is repoName/agentName's checked-out source tree,
// bind-mounted at /code.
func (s *FileManifestSource) CodeSourcePath(ctx context.Context, repoName, agentName string) (string, error) {
	path := s.repoAgentDir(repoName, agentName)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: code source not found at %s: %v", ErrManifestInvalid, path, err)
	}
	return path, nil
}

var _ ManifestSource = (*FileManifestSource)(nil)
