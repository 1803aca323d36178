package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/registry"
)

// AgentManager is the subset of AGM's ensureAgentService ContainerMonitor
// depends on.
type AgentManager interface {
	EnsureAgentService(ctx context.Context, agentName string) error
}

// ContainerMonitor is CM: a periodic reconciler that re-ensures every
// declared, non-intentionally-stopped agent of type agent/agentCore is
// running. It can be paused while RT restarts to avoid
// racing the watchdog's own child-spawn sequence.
type ContainerMonitor struct {
	ar       *registry.Registry
	agm      AgentManager
	interval time.Duration
	log      *logger.Logger

	paused atomic.Bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewContainerMonitor returns a ContainerMonitor reconciling ar via agm
// every interval (default 5s).
func NewContainerMonitor(ar *registry.Registry, agm AgentManager, interval time.Duration, log *logger.Logger) *ContainerMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ContainerMonitor{
		ar:       ar,
		agm:      agm,
		interval: interval,
		log:      log.WithComponent("container_monitor"),
	}
}

// Start begins the reconciliation loop in a background goroutine. Safe to
// call once; subsequent calls are no-ops until Stop.
func (m *ContainerMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	go m.loop(loopCtx)
}

// Stop halts the reconciliation loop.
func (m *ContainerMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

// Pause suspends reconciliation without stopping the goroutine, used by
// the watchdog while RT is restarting.
func (m *ContainerMonitor) Pause() { m.paused.Store(true) }

// Resume re-arms reconciliation after a Pause.
func (m *ContainerMonitor) Resume() { m.paused.Store(false) }

func (m *ContainerMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.paused.Load() {
				continue
			}
			m.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce calls EnsureAgentService for every managed, non-stopped
// agent record. Failures are logged and do not stop the loop; the next
// tick retries.
func (m *ContainerMonitor) reconcileOnce(ctx context.Context) {
	records := m.ar.List()
	for _, rec := range records {
		if rec.IntentionallyStopped {
			continue
		}
		if rec.Type != registry.TypeAgent && rec.Type != registry.TypeAgentCore {
			continue
		}
		if err := m.agm.EnsureAgentService(ctx, rec.AgentName); err != nil {
			m.log.Warn("reconcile failed",
				zap.String("agent_name", rec.AgentName),
				zap.Error(err),
			)
		}
	}
}
