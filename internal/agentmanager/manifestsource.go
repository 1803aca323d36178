package agentmanager

import "context"

// ManifestSource resolves an agent's manifest from its repo. Repo
// enablement/checkout is an external collaborator's concern; AGM
// only needs the validated Manifest and the host paths it mounts from.
type ManifestSource interface {
	LoadManifest(ctx context.Context, repoName, agentName string) (*Manifest, error)
	// AgentLibraryPath returns the host path bind-mounted read-only at
	// /Agent — the control-plane's own runtime library.
	AgentLibraryPath(ctx context.Context) (string, error)
	// CodeSourcePath returns the host path bind-mounted at /code for
	// repoName/agentName — the agent's source tree.
	CodeSourcePath(ctx context.Context, repoName, agentName string) (string, error)
}
