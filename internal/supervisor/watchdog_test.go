package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ploinky/ploinky/internal/common/config"
)

func testConfig() config.WatchdogConfig {
	return config.WatchdogConfig{
		InitialBackoffMs:          1000,
		MaxBackoffMs:              30000,
		BackoffMultiplier:         2.0,
		UptimeResetThresholdMs:    60000,
		RestartWindowMs:           60000,
		MaxRestartsInWindow:       5,
		HealthCheckEnabled:        false,
		HealthCheckIntervalMs:     30000,
		HealthCheckTimeoutMs:      5000,
		HealthCheckFailThreshold:  3,
		GracefulShutdownTimeoutMs: 15000,
	}
}

func TestDetermineShouldRestart_CleanExitDoesNotRestart(t *testing.T) {
	w := &Watchdog{cfg: testConfig()}
	should, reason := w.determineShouldRestart(0, "")
	assert.False(t, should)
	assert.Equal(t, "clean_exit", reason)
}

func TestDetermineShouldRestart_ConfigErrorDoesNotRestart(t *testing.T) {
	w := &Watchdog{cfg: testConfig()}
	should, reason := w.determineShouldRestart(2, "")
	assert.False(t, should)
	assert.Equal(t, "config_error", reason)
}

func TestDetermineShouldRestart_FatalExitDoesNotRestart(t *testing.T) {
	w := &Watchdog{cfg: testConfig()}
	should, reason := w.determineShouldRestart(100, "")
	assert.False(t, should)
	assert.Equal(t, "fatal", reason)
}

func TestDetermineShouldRestart_UnexpectedExitRestarts(t *testing.T) {
	w := &Watchdog{cfg: testConfig()}
	should, reason := w.determineShouldRestart(1, "")
	assert.True(t, should)
	assert.Equal(t, "unexpected_exit", reason)
}

func TestDetermineShouldRestart_IntentionalSignalDoesNotRestart(t *testing.T) {
	w := &Watchdog{cfg: testConfig()}
	should, _ := w.determineShouldRestart(-1, "SIGTERM")
	assert.False(t, should)
}

func TestDetermineShouldRestart_PendingHealthRestartTakesPriority(t *testing.T) {
	w := &Watchdog{cfg: testConfig()}
	w.pendingHealthRestart = true
	should, reason := w.determineShouldRestart(0, "")
	assert.True(t, should)
	assert.Equal(t, "pending_health_check_restart", reason)
}

func TestRecordRestartAndCheckCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestartsInWindow = 3
	w := &Watchdog{cfg: cfg}

	assert.False(t, w.recordRestartAndCheckCircuitBreaker())
	assert.False(t, w.recordRestartAndCheckCircuitBreaker())
	assert.True(t, w.recordRestartAndCheckCircuitBreaker())
}

func TestRecordRestartAndCheckCircuitBreaker_OldRestartsAgeOutOfWindow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRestartsInWindow = 2
	cfg.RestartWindowMs = 1
	w := &Watchdog{cfg: cfg}

	assert.False(t, w.recordRestartAndCheckCircuitBreaker())
	time.Sleep(5 * time.Millisecond)
	assert.False(t, w.recordRestartAndCheckCircuitBreaker())
}

func TestSleepBackoff_GrowsExponentiallyUpToMax(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoffMs = 10
	cfg.MaxBackoffMs = 35
	cfg.BackoffMultiplier = 2.0
	cfg.UptimeResetThresholdMs = 60000
	w := &Watchdog{cfg: cfg, currentBackoff: 10 * time.Millisecond, lastStartedAt: time.Now()}

	w.sleepBackoff(noCancelCtx{})
	assert.Equal(t, 20*time.Millisecond, w.currentBackoff)
	w.sleepBackoff(noCancelCtx{})
	assert.Equal(t, 35*time.Millisecond, w.currentBackoff)
}

// noCancelCtx satisfies context.Context for sleepBackoff's ctx.Done() select
// without pulling in a real timer-driven context.
type noCancelCtx struct{}

func (noCancelCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (noCancelCtx) Done() <-chan struct{}       { return nil }
func (noCancelCtx) Err() error                  { return nil }
func (noCancelCtx) Value(key interface{}) interface{} { return nil }
