package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/registry"
)

type fakeAgentManager struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAgentManager) EnsureAgentService(ctx context.Context, agentName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, agentName)
	return nil
}

func (f *fakeAgentManager) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestReconcileOnce_SkipsIntentionallyStoppedAndInteractive(t *testing.T) {
	dir := t.TempDir()
	ar, err := registry.Load(filepath.Join(dir, "agents.json"))
	require.NoError(t, err)

	require.NoError(t, ar.Put("c1", registry.AgentRecord{AgentName: "running-agent", Type: registry.TypeAgent}))
	require.NoError(t, ar.Put("c2", registry.AgentRecord{AgentName: "stopped-agent", Type: registry.TypeAgent, IntentionallyStopped: true}))
	require.NoError(t, ar.Put("c3", registry.AgentRecord{AgentName: "interactive-agent", Type: registry.TypeInteractive}))
	require.NoError(t, ar.Put("c4", registry.AgentRecord{AgentName: "core-agent", Type: registry.TypeAgentCore}))

	fam := &fakeAgentManager{}
	mon := NewContainerMonitor(ar, fam, time.Hour, logger.Default())
	mon.reconcileOnce(context.Background())

	assert.ElementsMatch(t, []string{"running-agent", "core-agent"}, fam.calls)
}

func TestContainerMonitor_PauseSuppressesReconciliation(t *testing.T) {
	dir := t.TempDir()
	ar, err := registry.Load(filepath.Join(dir, "agents.json"))
	require.NoError(t, err)
	require.NoError(t, ar.Put("c1", registry.AgentRecord{AgentName: "agent-a", Type: registry.TypeAgent}))

	fam := &fakeAgentManager{}
	mon := NewContainerMonitor(ar, fam, 5*time.Millisecond, logger.Default())
	mon.Pause()
	mon.Start(context.Background())
	defer mon.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, fam.callCount())

	mon.Resume()
	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, fam.callCount(), 0)
}
