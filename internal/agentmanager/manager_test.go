package agentmanager

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/containerdriver"
	"github.com/ploinky/ploinky/internal/envresolver"
	"github.com/ploinky/ploinky/internal/profile"
	"github.com/ploinky/ploinky/internal/registry"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/internal/workspace"
)

// fakeDriver is an in-memory containerdriver.Driver double.
type fakeDriver struct {
	mu         sync.Mutex
	containers map[string]*containerdriver.ContainerInfo
	execResult containerdriver.ExecResult
	execErr    error
	createErr  error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		containers: make(map[string]*containerdriver.ContainerInfo),
		execResult: containerdriver.ExecResult{ExitCode: 0},
	}
}

func (f *fakeDriver) Runtime() string { return "fake" }

func (f *fakeDriver) Create(ctx context.Context, spec containerdriver.CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.containers[spec.Name] = &containerdriver.ContainerInfo{
		ID:     spec.Name,
		Name:   spec.Name,
		Status: "created",
		Labels: spec.Labels,
	}
	return spec.Name, nil
}

func (f *fakeDriver) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.containers[name]
	if !ok {
		return &containerdriver.RuntimeError{Kind: containerdriver.KindNotFound}
	}
	info.Status = "running"
	return nil
}

func (f *fakeDriver) Stop(ctx context.Context, name string, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.containers[name]
	if !ok {
		return &containerdriver.RuntimeError{Kind: containerdriver.KindNotFound}
	}
	info.Status = "exited"
	return nil
}

func (f *fakeDriver) Kill(ctx context.Context, name string) error {
	return f.Stop(ctx, name, "SIGKILL")
}

func (f *fakeDriver) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	return nil
}

func (f *fakeDriver) Exec(ctx context.Context, name string, argv []string, opts containerdriver.ExecOptions) (*containerdriver.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execErr != nil {
		return nil, f.execErr
	}
	res := f.execResult
	return &res, nil
}

func (f *fakeDriver) Inspect(ctx context.Context, name string) (*containerdriver.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.containers[name]
	if !ok {
		return nil, &containerdriver.RuntimeError{Kind: containerdriver.KindNotFound}
	}
	copy := *info
	return &copy, nil
}

func (f *fakeDriver) Port(ctx context.Context, name string, containerPort string) (string, error) {
	return "127.0.0.1:17000", nil
}

func (f *fakeDriver) Logs(ctx context.Context, name string, tail int) (string, error) { return "", nil }

func (f *fakeDriver) Restart(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.containers[name]
	if !ok {
		return &containerdriver.RuntimeError{Kind: containerdriver.KindNotFound}
	}
	info.Status = "running"
	return nil
}

func (f *fakeDriver) List(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.containers))
	for name := range f.containers {
		names = append(names, name)
	}
	return names, nil
}

// fakeManifestSource returns a single fixed manifest for every lookup.
type fakeManifestSource struct {
	manifest *Manifest
}

func (f *fakeManifestSource) LoadManifest(ctx context.Context, repoName, agentName string) (*Manifest, error) {
	return f.manifest, nil
}

func (f *fakeManifestSource) AgentLibraryPath(ctx context.Context) (string, error) {
	return "/tmp/agent-lib", nil
}

func (f *fakeManifestSource) CodeSourcePath(ctx context.Context, repoName, agentName string) (string, error) {
	return "/tmp/code", nil
}

func testManager(t *testing.T, driver *fakeDriver) (*Manager, workspace.Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := workspace.NewPaths(dir)

	ar, err := registry.Load(paths.Agents)
	require.NoError(t, err)
	rtbl, err := routingtable.Load(paths.Routing)
	require.NoError(t, err)

	manifest := &Manifest{
		Name:      "demo",
		Container: "demo:latest",
	}

	m := New(driver, ar, rtbl, paths, profile.New("default"), nil, &fakeManifestSource{manifest: manifest}, nil, logger.Default())
	return m, paths
}

func TestEnsure_CreatesContainerAndRecordsRoute(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	result, err := m.Ensure(context.Background(), EnsureOptions{
		RepoName:       "demo-repo",
		ProjectDirName: "myproject",
		Manifest:       &Manifest{Name: "demo", Container: "demo:latest"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ContainerName)
	assert.True(t, result.HostPort >= portRangeLow && result.HostPort < portRangeHigh)

	route, ok := m.rtbl.Get("demo")
	require.True(t, ok)
	assert.Equal(t, result.HostPort, route.HostPort)

	rec, ok := m.ar.Get(result.ContainerName)
	require.True(t, ok)
	assert.Equal(t, "demo", rec.AgentName)
	assert.NotEmpty(t, rec.EnvHash)
}

func TestEnsure_IsIdempotentWhenAlreadyRunning(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	opts := EnsureOptions{
		RepoName:       "demo-repo",
		ProjectDirName: "myproject",
		Manifest:       &Manifest{Name: "demo", Container: "demo:latest"},
	}

	first, err := m.Ensure(context.Background(), opts)
	require.NoError(t, err)

	second, err := m.Ensure(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, first.ContainerName, second.ContainerName)
	assert.Equal(t, first.HostPort, second.HostPort)
}

func TestEnsure_RecreatesOnEnvHashDrift(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	opts := EnsureOptions{
		RepoName:       "demo-repo",
		ProjectDirName: "myproject",
		Manifest:       &Manifest{Name: "demo", Container: "demo:latest", EnvNames: []string{"FOO"}},
	}
	first, err := m.Ensure(context.Background(), opts)
	require.NoError(t, err)

	driver.mu.Lock()
	driver.containers[first.ContainerName].Labels[envresolver.EnvHashLabel] = "stale-hash"
	driver.mu.Unlock()

	second, err := m.Ensure(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, first.ContainerName, second.ContainerName)

	rec, ok := m.ar.Get(second.ContainerName)
	require.True(t, ok)
	assert.NotEqual(t, "stale-hash", rec.EnvHash)
}

func TestDestroy_RemovesRegistryAndRoute(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	opts := EnsureOptions{
		RepoName:       "demo-repo",
		ProjectDirName: "myproject",
		Manifest:       &Manifest{Name: "demo", Container: "demo:latest"},
	}
	result, err := m.Ensure(context.Background(), opts)
	require.NoError(t, err)

	require.NoError(t, m.Destroy(context.Background(), "demo"))

	_, ok := m.ar.Get(result.ContainerName)
	assert.False(t, ok)
	_, ok = m.rtbl.Get("demo")
	assert.False(t, ok)

	driver.mu.Lock()
	_, stillThere := driver.containers[result.ContainerName]
	driver.mu.Unlock()
	assert.False(t, stillThere)
}

func TestStop_MarksIntentionallyStoppedAndRetainsRecord(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	opts := EnsureOptions{
		RepoName:       "demo-repo",
		ProjectDirName: "myproject",
		Manifest:       &Manifest{Name: "demo", Container: "demo:latest"},
	}
	result, err := m.Ensure(context.Background(), opts)
	require.NoError(t, err)

	require.NoError(t, m.Stop(context.Background(), "demo"))

	rec, ok := m.ar.Get(result.ContainerName)
	require.True(t, ok)
	assert.True(t, rec.IntentionallyStopped)
}

func TestDestroyWorkspace_BatchesAcrossAllAgents(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("agent-%d", i)
		containerName := workspace.ContainerName("repo", name, "project", m.paths.Root)
		require.NoError(t, m.ar.Put(containerName, registry.AgentRecord{AgentName: name, RepoName: "repo", Type: registry.TypeAgent}))
		_, err := driver.Create(context.Background(), containerdriver.CreateSpec{Name: containerName})
		require.NoError(t, err)
		require.NoError(t, driver.Start(context.Background(), containerName))
	}

	errs := m.DestroyWorkspace(context.Background())
	assert.Empty(t, errs)
	assert.Empty(t, m.ar.List())
}

func TestResolvePortBindings_AllocatesDefaultWhenManifestDeclaresNoPorts(t *testing.T) {
	driver := newFakeDriver()
	m, _ := testManager(t, driver)

	ports, err := m.resolvePortBindings(nil)
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, 7000, ports[0].ContainerPort)
	assert.True(t, ports[0].HostPort >= portRangeLow && ports[0].HostPort < portRangeHigh)
}
