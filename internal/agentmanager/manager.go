// Package agentmanager implements AgentManager (AGM): the
// idempotent container lifecycle orchestrator sitting on top of
// ContainerDriver, AgentRegistry, RoutingTable, EnvResolver, HealthProbe,
// the per-agent advisory lock, ProfileService, and SecretResolver.
package agentmanager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/agentmanager/eventbus"
	"github.com/ploinky/ploinky/internal/agentmanager/lock"
	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/common/stringutil"
	"github.com/ploinky/ploinky/internal/containerdriver"
	"github.com/ploinky/ploinky/internal/envresolver"
	"github.com/ploinky/ploinky/internal/healthprobe"
	"github.com/ploinky/ploinky/internal/profile"
	"github.com/ploinky/ploinky/internal/registry"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/internal/workspace"
)

// EnsureOptions is the input to Ensure: a fully-resolved manifest plus the
// repo/project identity that feeds the deterministic container name.
type EnsureOptions struct {
	RepoName       string
	ProjectDirName string
	Manifest       *Manifest
	// ProfileName overrides the workspace's active profile for this call;
	// empty means "ask ProfileService".
	ProfileName string
}

// EnsureResult is ensureAgentService's return value.
type EnsureResult struct {
	ContainerName string
	HostPort      int
}

// Manager is AGM.
type Manager struct {
	driver    containerdriver.Driver
	ar        *registry.Registry
	rtbl      *routingtable.Table
	paths     workspace.Paths
	profiles  *profile.Service
	secrets   envresolver.SecretResolver
	manifests ManifestSource
	bus       eventbus.EventBus
	prober    *healthprobe.Prober
	log       *logger.Logger
	rng       *rand.Rand

	mu              sync.Mutex
	livenessCancels map[string]context.CancelFunc
	livenessStates  map[string]*healthprobe.LivenessState
}

// New wires a Manager around its collaborators.
func New(
	driver containerdriver.Driver,
	ar *registry.Registry,
	rtbl *routingtable.Table,
	paths workspace.Paths,
	profiles *profile.Service,
	secrets envresolver.SecretResolver,
	manifests ManifestSource,
	bus eventbus.EventBus,
	log *logger.Logger,
) *Manager {
	log = log.WithComponent("agentmanager")
	return &Manager{
		driver:          driver,
		ar:              ar,
		rtbl:            rtbl,
		paths:           paths,
		profiles:        profiles,
		secrets:         secrets,
		manifests:       manifests,
		bus:             bus,
		prober:          healthprobe.New(driver, bus, log),
		log:             log,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		livenessCancels: make(map[string]context.CancelFunc),
		livenessStates:  make(map[string]*healthprobe.LivenessState),
	}
}

func (m *Manager) publish(eventType, agentName, containerName string) {
	if m.bus == nil {
		return
	}
	evt := eventbus.NewEvent(eventType, "agentmanager", map[string]interface{}{
		"agentName":     agentName,
		"containerName": containerName,
	})
	_ = m.bus.Publish(context.Background(), subjectForAgent(eventType, agentName), evt)
}

// EnsureAgentService is the ContainerMonitor reconciliation entrypoint: it
// reloads an already-declared agent's manifest from its AR record and
// re-ensures it. First-time creation goes through
// Ensure directly with an explicit EnsureOptions, since a never-seen agent
// has no AR record to reload from.
func (m *Manager) EnsureAgentService(ctx context.Context, agentName string) error {
	_, rec, ok := m.ar.FindByAgentName(agentName)
	if !ok {
		return fmt.Errorf("agentmanager: no registry record for agent %s: %w", agentName, ErrManifestInvalid)
	}

	manifest, err := m.manifests.LoadManifest(ctx, rec.RepoName, agentName)
	if err != nil {
		return fmt.Errorf("agentmanager: failed to reload manifest for %s: %w", agentName, err)
	}

	_, err = m.Ensure(ctx, EnsureOptions{
		RepoName:       rec.RepoName,
		ProjectDirName: filepath.Base(rec.ProjectPath),
		Manifest:       manifest,
	})
	return err
}

// Ensure is ensureAgentService(manifest, workspacePaths, opts) from
// idempotent, steps 1-10.
func (m *Manager) Ensure(ctx context.Context, opts EnsureOptions) (EnsureResult, error) {
	if opts.Manifest == nil {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: manifest is required", ErrManifestInvalid)
	}

	// Step 1: deterministic container name.
	containerName := workspace.ContainerName(opts.RepoName, opts.Manifest.Name, opts.ProjectDirName, m.paths.Root)

	l, err := lock.Acquire(m.paths.Locks, containerName)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrLockBusy, err)
	}
	defer l.Unlock()

	// Step 2: effective env + canonical hash via ER.
	resolvedEnv, envHash := m.resolveEnv(opts)

	// Steps 3-5: reuse or recreate an existing container.
	info, inspectErr := m.driver.Inspect(ctx, containerName)
	if inspectErr == nil {
		if info.Labels[envresolver.EnvHashLabel] != envHash {
			m.log.Info("env hash drifted, recreating container", zap.String("container", containerName))
			if err := m.forceRemove(ctx, containerName); err != nil {
				return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrContainerStartFailed, err)
			}
			m.publish(EventContainerRecreated, opts.Manifest.Name, containerName)
		} else if info.Running() {
			hostPort, err := m.resolvePublishedPort(ctx, containerName, opts.Manifest, info)
			if err != nil {
				return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrPortAllocationFailed, err)
			}
			if err := m.recordAndRoute(opts, containerName, envHash, hostPort, nil); err != nil {
				return EnsureResult{}, err
			}
			return EnsureResult{ContainerName: containerName, HostPort: hostPort}, nil
		} else {
			if err := m.driver.Start(ctx, containerName); err != nil {
				return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrContainerStartFailed, err)
			}
			hostPort, err := m.resolvePublishedPort(ctx, containerName, opts.Manifest, info)
			if err != nil {
				return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrPortAllocationFailed, err)
			}
			if err := m.recordAndRoute(opts, containerName, envHash, hostPort, nil); err != nil {
				return EnsureResult{}, err
			}
			m.armHealthProbes(opts, containerName)
			return EnsureResult{ContainerName: containerName, HostPort: hostPort}, nil
		}
	} else if !isNotFound(inspectErr) {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrRuntimeUnavailable, inspectErr)
	}

	// Step 6: install hook + create.
	agentLibPath, err := m.manifests.AgentLibraryPath(ctx)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrManifestInvalid, err)
	}
	codeSourcePath, err := m.manifests.CodeSourcePath(ctx, opts.RepoName, opts.Manifest.Name)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrManifestInvalid, err)
	}

	ports, err := m.resolvePortBindings(opts.Manifest.Ports)
	if err != nil {
		return EnsureResult{}, err
	}

	if opts.Manifest.Install != "" {
		if err := m.runInstallHook(ctx, containerName, opts, agentLibPath, codeSourcePath, resolvedEnv, envHash); err != nil {
			return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrInstallFailed, err)
		}
	}

	spec := buildContainerConfig(m.paths, opts, agentLibPath, codeSourcePath, resolvedEnv, envHash, ports)
	spec.Name = containerName
	if _, err := m.driver.Create(ctx, spec); err != nil {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrContainerStartFailed, err)
	}

	// Step 7: start, then postinstall.
	if err := m.driver.Start(ctx, containerName); err != nil {
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrContainerStartFailed, err)
	}
	m.publish(EventAgentStarted, opts.Manifest.Name, containerName)
	if err := m.runPostinstall(ctx, containerName, opts.Manifest.Postinstall); err != nil {
		m.publish(EventAgentFailed, opts.Manifest.Name, containerName)
		return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrInstallFailed, err)
	}
	if postInfo, err := m.driver.Inspect(ctx, containerName); err == nil && !postInfo.Running() {
		if err := m.driver.Start(ctx, containerName); err != nil {
			return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrContainerStartFailed, err)
		}
	}

	// Step 8: agent sidecar, only when PID-1 came from manifest.start.
	if opts.Manifest.Start != "" && opts.Manifest.Agent != "" {
		if _, err := m.driver.Exec(ctx, containerName, splitCommand(opts.Manifest.Agent), containerdriver.ExecOptions{Detach: true}); err != nil {
			return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrContainerStartFailed, err)
		}
	}

	// Step 9: record + route.
	hostPort := primaryHostPort(ports)
	if err := m.recordAndRoute(opts, containerName, envHash, hostPort, ports); err != nil {
		return EnsureResult{}, err
	}

	// Step 10: HP gate, then arm the continuous loops.
	if opts.Manifest.Health.Liveness != nil {
		spec := toHealthSpec(*opts.Manifest.Health.Liveness)
		if err := m.prober.Verify(ctx, containerName, spec); err != nil {
			m.publish(EventAgentFailed, opts.Manifest.Name, containerName)
			_ = m.forceRemove(ctx, containerName)
			_ = m.ar.Delete(containerName)
			_ = m.rtbl.Delete(opts.Manifest.Name)
			return EnsureResult{}, fmt.Errorf("agentmanager: %w: %v", ErrProbeFailed, err)
		}
	}
	m.publish(EventAgentReady, opts.Manifest.Name, containerName)
	m.armHealthProbes(opts, containerName)

	return EnsureResult{ContainerName: containerName, HostPort: hostPort}, nil
}

// Refresh recomputes the env hash; if it changed, stop-and-recreate via
// Ensure, otherwise restart the container in place.
func (m *Manager) Refresh(ctx context.Context, agentName string) error {
	_, rec, ok := m.ar.FindByAgentName(agentName)
	if !ok {
		return fmt.Errorf("agentmanager: no registry record for agent %s", agentName)
	}

	manifest, err := m.manifests.LoadManifest(ctx, rec.RepoName, agentName)
	if err != nil {
		return fmt.Errorf("agentmanager: failed to reload manifest for %s: %w", agentName, err)
	}

	opts := EnsureOptions{RepoName: rec.RepoName, ProjectDirName: filepath.Base(rec.ProjectPath), Manifest: manifest}
	_, envHash := m.resolveEnv(opts)

	if envHash != rec.EnvHash {
		if err := m.Destroy(ctx, agentName); err != nil {
			return fmt.Errorf("agentmanager: failed to recreate %s: %v", agentName, err)
		}
		_, err := m.Ensure(ctx, opts)
		return err
	}

	containerName := workspace.ContainerName(rec.RepoName, agentName, filepath.Base(rec.ProjectPath), m.paths.Root)
	l, err := lock.Acquire(m.paths.Locks, containerName)
	if err != nil {
		return fmt.Errorf("agentmanager: %w: %v", ErrLockBusy, err)
	}
	defer l.Unlock()
	return m.driver.Restart(ctx, containerName)
}

// Stop gracefully stops agentName's container and marks it intentionally
// stopped so ContainerMonitor leaves it alone, retaining the AR record.
func (m *Manager) Stop(ctx context.Context, agentName string) error {
	containerName, _, ok := m.ar.FindByAgentName(agentName)
	if !ok {
		return nil // best-effort: unknown agent is already "stopped"
	}

	l, err := lock.Acquire(m.paths.Locks, containerName)
	if err != nil {
		return fmt.Errorf("agentmanager: %w: %v", ErrLockBusy, err)
	}
	defer l.Unlock()

	m.cancelLivenessLoops(containerName)

	if err := m.gracefulStop(ctx, containerName); err != nil {
		return err
	}
	m.publish(EventAgentStopped, agentName, containerName)
	return m.ar.MarkIntentionallyStopped(containerName, true)
}

// Destroy stops and removes agentName's container and clears its AR/RTbl
// entries. Best-effort: an already-gone container
// is treated as success.
func (m *Manager) Destroy(ctx context.Context, agentName string) error {
	containerName, _, ok := m.ar.FindByAgentName(agentName)
	if !ok {
		return nil
	}

	l, err := lock.Acquire(m.paths.Locks, containerName)
	if err != nil {
		return fmt.Errorf("agentmanager: %w: %v", ErrLockBusy, err)
	}
	defer l.Unlock()

	m.cancelLivenessLoops(containerName)

	if err := m.gracefulStop(ctx, containerName); err != nil {
		return err
	}
	if err := m.driver.Remove(ctx, containerName, true); err != nil && !isNotFound(err) {
		return fmt.Errorf("agentmanager: failed to remove container %s: %w", containerName, err)
	}
	if err := m.ar.Delete(containerName); err != nil {
		return err
	}
	return m.rtbl.Delete(agentName)
}

// DestroyWorkspace destroys every agent AR currently tracks, batching in
// groups of 8.
func (m *Manager) DestroyWorkspace(ctx context.Context) []error {
	records := m.ar.List()
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.AgentName)
	}
	return m.destroyBatched(ctx, names)
}

// DestroyAllPloinky destroys every AR-known agent and force-removes any
// foreign ploinky_-prefixed container AR no longer tracks.
func (m *Manager) DestroyAllPloinky(ctx context.Context) []error {
	all, err := m.driver.List(ctx)
	if err != nil {
		return []error{fmt.Errorf("agentmanager: failed to list containers: %w", err)}
	}

	var known []string
	var foreign []string
	for _, name := range all {
		if !workspace.HasPloinkyPrefix(name) {
			continue
		}
		if registry.ForeignContainer(name, m.ar) {
			foreign = append(foreign, name)
			continue
		}
		if rec, ok := m.ar.Get(name); ok {
			known = append(known, rec.AgentName)
		}
	}

	errs := m.destroyBatched(ctx, known)
	errs = append(errs, m.removeForeignBatched(ctx, foreign)...)
	return errs
}

const destroyBatchSize = 8

func (m *Manager) destroyBatched(ctx context.Context, agentNames []string) []error {
	var errs []error
	var mu sync.Mutex
	for i := 0; i < len(agentNames); i += destroyBatchSize {
		end := i + destroyBatchSize
		if end > len(agentNames) {
			end = len(agentNames)
		}
		var wg sync.WaitGroup
		for _, name := range agentNames[i:end] {
			wg.Add(1)
			go func(agentName string) {
				defer wg.Done()
				if err := m.Destroy(ctx, agentName); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("destroy %s: %w", agentName, err))
					mu.Unlock()
				}
			}(name)
		}
		wg.Wait()
	}
	return errs
}

func (m *Manager) removeForeignBatched(ctx context.Context, containerNames []string) []error {
	var errs []error
	var mu sync.Mutex
	for i := 0; i < len(containerNames); i += destroyBatchSize {
		end := i + destroyBatchSize
		if end > len(containerNames) {
			end = len(containerNames)
		}
		var wg sync.WaitGroup
		for _, name := range containerNames[i:end] {
			wg.Add(1)
			go func(containerName string) {
				defer wg.Done()
				_ = m.gracefulStop(ctx, containerName)
				if err := m.driver.Remove(ctx, containerName, true); err != nil && !isNotFound(err) {
					mu.Lock()
					errs = append(errs, fmt.Errorf("remove foreign container %s: %w", containerName, err))
					mu.Unlock()
				}
			}(name)
		}
		wg.Wait()
	}
	return errs
}

// gracefulStop sends SIGTERM, gives the container 5s, then SIGKILLs.
func (m *Manager) gracefulStop(ctx context.Context, containerName string) error {
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := m.driver.Stop(stopCtx, containerName, "SIGTERM")
	if err == nil || isNotFound(err) {
		return nil
	}

	if err := m.driver.Kill(ctx, containerName); err != nil && !isNotFound(err) {
		return fmt.Errorf("agentmanager: failed to stop container %s: %w", containerName, err)
	}
	return nil
}

func (m *Manager) forceRemove(ctx context.Context, containerName string) error {
	if err := m.gracefulStop(ctx, containerName); err != nil {
		return err
	}
	if err := m.driver.Remove(ctx, containerName, true); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// resolveEnv computes the effective environment and its canonical hash for
// opts via ER, using ProfileService only to pick the active profile name
// when the caller did not pin one.
func (m *Manager) resolveEnv(opts EnsureOptions) (map[string]string, string) {
	profileName := opts.ProfileName
	if profileName == "" && m.profiles != nil {
		profileName = m.profiles.GetActiveProfile()
	}

	var profileEnvNames []string
	profileEnvValues := map[string]string{}
	if overlay, ok := opts.Manifest.Profiles[profileName]; ok {
		profileEnvNames = overlay.Env
		profileEnvValues = overlay.Values
	}

	hostEnv := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			hostEnv[kv[:idx]] = kv[idx+1:]
		}
	}

	resolved := envresolver.Resolve(envresolver.Input{
		ManifestEnvNames:  opts.Manifest.EnvNames,
		ProfileEnvNames:   profileEnvNames,
		ProfileEnvValues:  profileEnvValues,
		HostEnv:           hostEnv,
	}, m.secrets)

	return resolved.Env, resolved.Hash
}

// resolvePortBindings turns manifest port declarations into concrete
// PortPublish entries, allocating a host port where the manifest left one
// unspecified, or a single default 7000 mapping when no ports were declared
// at all.
func (m *Manager) resolvePortBindings(declared []PortSpec) ([]containerdriver.PortPublish, error) {
	if len(declared) == 0 {
		hostPort, err := allocateHostPort(m.rng)
		if err != nil {
			return nil, err
		}
		return []containerdriver.PortPublish{{HostPort: hostPort, ContainerPort: 7000}}, nil
	}

	out := make([]containerdriver.PortPublish, 0, len(declared))
	for _, spec := range declared {
		hostPort := spec.HostPort
		if hostPort == 0 {
			allocated, err := allocateHostPort(m.rng)
			if err != nil {
				return nil, err
			}
			hostPort = allocated
		}
		out = append(out, containerdriver.PortPublish{HostIP: spec.HostIP, HostPort: hostPort, ContainerPort: spec.ContainerPort})
	}
	return out, nil
}

// resolvePublishedPort finds the already-running container's published host
// port, preferring the AR record's stored config, then an exact
// manifest-declared containerPort match, then CD.Port.
func (m *Manager) resolvePublishedPort(ctx context.Context, containerName string, manifest *Manifest, info *containerdriver.ContainerInfo) (int, error) {
	if rec, ok := m.ar.Get(containerName); ok {
		if len(manifest.Ports) > 0 {
			for _, p := range rec.Config.Ports {
				for _, declared := range manifest.Ports {
					if declared.ContainerPort == p.ContainerPort {
						return p.HostPort, nil
					}
				}
			}
		}
		if len(rec.Config.Ports) > 0 {
			return rec.Config.Ports[0].HostPort, nil
		}
	}

	containerPort := "7000"
	if len(manifest.Ports) > 0 {
		containerPort = fmt.Sprintf("%d", manifest.Ports[0].ContainerPort)
	}
	published, err := m.driver.Port(ctx, containerName, containerPort)
	if err != nil {
		return 0, err
	}
	var port int
	if idx := strings.LastIndexByte(published, ':'); idx >= 0 {
		fmt.Sscanf(published[idx+1:], "%d", &port)
	} else {
		fmt.Sscanf(published, "%d", &port)
	}
	if port == 0 {
		return 0, fmt.Errorf("could not parse published port %q", published)
	}
	return port, nil
}

// recordAndRoute writes (or refreshes) containerName's AR record and RTbl
// route. ports is nil on the "already running/just started" paths, where
// the port binding is unchanged from what AR already holds.
func (m *Manager) recordAndRoute(opts EnsureOptions, containerName string, envHash string, hostPort int, ports []containerdriver.PortPublish) error {
	rec, existed := m.ar.Get(containerName)
	if !existed {
		rec = registry.AgentRecord{
			AgentName:   opts.Manifest.Name,
			RepoName:    opts.RepoName,
			ProjectPath: filepath.Join(m.paths.Root, opts.ProjectDirName),
			Type:        registry.TypeAgent,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
	}
	rec.ContainerImage = opts.Manifest.Container
	rec.EnvHash = envHash
	rec.IntentionallyStopped = false
	if ports != nil {
		rec.Config.Ports = make([]registry.PortMapping, 0, len(ports))
		for _, p := range ports {
			rec.Config.Ports = append(rec.Config.Ports, registry.PortMapping{ContainerPort: p.ContainerPort, HostPort: p.HostPort, HostIP: p.HostIP})
		}
	}
	if err := m.ar.Put(containerName, rec); err != nil {
		return fmt.Errorf("agentmanager: failed to persist registry record for %s: %w", containerName, err)
	}

	return m.rtbl.Put(opts.Manifest.Name, routingtable.Route{HostPort: hostPort, ContainerName: containerName})
}

// runInstallHook runs manifest.install in an ephemeral (--rm-equivalent)
// container over the same mount topology the agent will see, never inside
// a live agent container.
func (m *Manager) runInstallHook(ctx context.Context, containerName string, opts EnsureOptions, agentLibPath, codeSourcePath string, env map[string]string, envHash string) error {
	installName := fmt.Sprintf("%s_install", containerName)
	spec := buildContainerConfig(m.paths, opts, agentLibPath, codeSourcePath, env, envHash, nil)
	spec.Name = installName
	spec.Cmd = []string{"sh", "-lc", opts.Manifest.Install}

	defer func() { _ = m.driver.Remove(context.Background(), installName, true) }()

	if _, err := m.driver.Create(ctx, spec); err != nil {
		return err
	}
	if err := m.driver.Start(ctx, installName); err != nil {
		return err
	}

	const pollBudget = 600 // 5 minutes at 500ms
	const pollInterval = 500 * time.Millisecond
	for i := 0; i < pollBudget; i++ {
		info, err := m.driver.Inspect(ctx, installName)
		if err == nil && !info.Running() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return fmt.Errorf("install hook for %s did not finish within the poll budget", containerName)
}

// runPostinstall execs each postinstall command inside the now-running
// container, command by command. It does not restart the container on its
// own; the caller re-checks whether postinstall left the container stopped.
func (m *Manager) runPostinstall(ctx context.Context, containerName string, commands []string) error {
	for _, cmd := range commands {
		res, err := m.driver.Exec(ctx, containerName, []string{"sh", "-lc", cmd}, containerdriver.ExecOptions{})
		if err != nil {
			return fmt.Errorf("postinstall command %q: %w", cmd, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("postinstall command %q exited %d: %s", cmd, res.ExitCode, stringutil.TruncateStringWithEllipsis(res.Stderr, 2000))
		}
	}
	return nil
}

// armHealthProbes starts (or restarts) the background liveness/readiness
// loops for containerName, canceling any loops already running for it.
func (m *Manager) armHealthProbes(opts EnsureOptions, containerName string) {
	m.cancelLivenessLoops(containerName)
	if opts.Manifest.Health.Liveness == nil && opts.Manifest.Health.Readiness == nil {
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.livenessCancels[containerName] = cancel
	state := &healthprobe.LivenessState{StartedAt: time.Now()}
	m.livenessStates[containerName] = state
	m.mu.Unlock()

	if opts.Manifest.Health.Liveness != nil {
		spec := toHealthSpec(*opts.Manifest.Health.Liveness)
		go func() {
			if err := m.prober.RunLiveness(loopCtx, containerName, opts.Manifest.Name, spec, state); err != nil && loopCtx.Err() == nil {
				m.log.Warn("liveness loop exited", zap.String("container", containerName), zap.Error(err))
			}
		}()
	}
	if opts.Manifest.Health.Readiness != nil {
		spec := toHealthSpec(*opts.Manifest.Health.Readiness)
		go func() {
			if err := m.prober.RunReadiness(loopCtx, containerName, opts.Manifest.Name, spec); err != nil && loopCtx.Err() == nil {
				m.log.Warn("readiness loop exited", zap.String("container", containerName), zap.Error(err))
			}
		}()
	}
}

// cancelLivenessLoops stops containerName's background probe loops and
// clears its LivenessState.
func (m *Manager) cancelLivenessLoops(containerName string) {
	m.mu.Lock()
	cancel, ok := m.livenessCancels[containerName]
	delete(m.livenessCancels, containerName)
	delete(m.livenessStates, containerName)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func toHealthSpec(p HealthProbeSpec) healthprobe.Spec {
	return healthprobe.Spec{
		Script:           p.Script,
		Interval:         time.Duration(p.IntervalSeconds) * time.Second,
		Timeout:          time.Duration(p.TimeoutSeconds) * time.Second,
		SuccessThreshold: p.SuccessThreshold,
		FailureThreshold: p.FailureThreshold,
	}
}

func primaryHostPort(ports []containerdriver.PortPublish) int {
	if len(ports) == 0 {
		return 0
	}
	return ports[0].HostPort
}

func splitCommand(s string) []string {
	return strings.Fields(s)
}

func isNotFound(err error) bool {
	var rtErr *containerdriver.RuntimeError
	return errors.As(err, &rtErr) && rtErr.Kind == containerdriver.KindNotFound
}
