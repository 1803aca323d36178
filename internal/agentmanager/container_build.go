package agentmanager

import (
	"os"
	"path/filepath"

	"github.com/ploinky/ploinky/internal/containerdriver"
	"github.com/ploinky/ploinky/internal/envresolver"
	"github.com/ploinky/ploinky/internal/workspace"
)

// defaultAgentServerCmd is PID-1 when the manifest declares no "start"
// script.
var defaultAgentServerCmd = []string{"sh", "/Agent/server/AgentServer.sh"}

// buildContainerConfig assembles the deterministic mount/env/label/port
// topology for containerName from opts, the resolved environment, and the
// already-allocated port bindings.
func buildContainerConfig(paths workspace.Paths, opts EnsureOptions, agentLibPath, codeSourcePath string, env map[string]string, envHash string, ports []containerdriver.PortPublish) containerdriver.CreateSpec {
	codeReadOnly := os.Getenv("PLOINKY_CODE_WRITABLE") != "1"

	mounts := []containerdriver.Mount{
		{Source: paths.Root, Target: "/workspace", ReadOnly: false},
		{Source: agentLibPath, Target: "/Agent", ReadOnly: true},
		{Source: codeSourcePath, Target: "/code", ReadOnly: codeReadOnly},
		{Source: sharedDir(paths, opts.Manifest.Name), Target: "/shared", ReadOnly: false},
	}
	for hostPath, containerPath := range opts.Manifest.Volumes {
		mounts = append(mounts, containerdriver.Mount{Source: hostPath, Target: containerPath, ReadOnly: false})
	}

	cmd := defaultAgentServerCmd
	if opts.Manifest.Start != "" {
		cmd = []string{"sh", "-lc", opts.Manifest.Start}
	}

	labels := envresolver.WithEnvHashLabel(map[string]string{
		"ploinky.agent": opts.Manifest.Name,
		"ploinky.repo":  opts.RepoName,
	}, envHash)

	return containerdriver.CreateSpec{
		Image:  opts.Manifest.Container,
		Cmd:    cmd,
		Env:    env,
		Labels: labels,
		Mounts: mounts,
		Ports:  ports,
	}
}

// sharedDir is the workspace-local writable scratch directory bind-mounted
// at /shared for agentName.
func sharedDir(paths workspace.Paths, agentName string) string {
	return filepath.Join(paths.Ploinky, "shared", agentName)
}
