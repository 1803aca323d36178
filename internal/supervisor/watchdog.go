// Package supervisor implements the Watchdog (SUP) and ContainerMonitor
// (CM), the long-lived parent process that spawns RT as a
// child, restarts it with bounded exponential backoff and a circuit
// breaker, runs periodic health checks, and reconciles declared agents.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/common/config"
	"github.com/ploinky/ploinky/internal/common/logger"
)

// uptimeResetThreshold, restartWindow, etc. come from config.WatchdogConfig
// so operators can tune them .

// Watchdog is SUP.
type Watchdog struct {
	cfg      config.WatchdogConfig
	healthURL string
	log       *logger.Logger

	childCmd  []string
	childPath string

	mu                   sync.Mutex
	cmd                  *exec.Cmd
	currentBackoff       time.Duration
	consecutiveFailures  int
	healthCheckFailures  int
	circuitBreakerTripped bool
	pendingHealthRestart bool
	restartTimestamps    []time.Time
	lastStartedAt        time.Time

	shuttingDown bool

	monitor *ContainerMonitor
}

// New returns a Watchdog that spawns childPath with childArgs as its
// supervised RT process. healthURL is the child's GET /health endpoint,
// polled per cfg.HealthCheck* settings.
func New(cfg config.WatchdogConfig, healthURL string, childPath string, childArgs []string, monitor *ContainerMonitor, log *logger.Logger) *Watchdog {
	return &Watchdog{
		cfg:            cfg,
		healthURL:      healthURL,
		log:            log.WithComponent("watchdog"),
		childPath:      childPath,
		childCmd:       childArgs,
		currentBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		monitor:        monitor,
	}
}

// Run spawns and supervises the child until ctx is canceled or the circuit
// breaker trips (process exit code 100), whichever comes first.
func (w *Watchdog) Run(ctx context.Context) int {
	if w.cfg.PidFile != "" {
		if err := writePidFile(w.cfg.PidFile); err != nil {
			w.log.Error("failed to write pid file", zap.Error(err))
		}
		defer os.Remove(w.cfg.PidFile)
	}

	sigCtx, stopSignals := signalContext(ctx)
	defer stopSignals()

	for {
		select {
		case <-sigCtx.Done():
			w.gracefulShutdown()
			return 0
		default:
		}

		exitCode, signal, err := w.spawnAndWait(sigCtx)
		if err != nil {
			w.log.Error("failed to spawn child process", zap.Error(err))
		}

		if sigCtx.Err() != nil {
			w.gracefulShutdown()
			return 0
		}

		should, reason := w.determineShouldRestart(exitCode, signal)
		w.log.Info("child exited",
			zap.Int("exit_code", exitCode),
			zap.String("signal", signal),
			zap.Bool("restart", should),
			zap.String("reason", reason),
		)

		if !should {
			return exitCode
		}

		if w.recordRestartAndCheckCircuitBreaker() {
			w.log.Error("circuit_breaker_tripped", zap.Int("max_restarts_in_window", w.cfg.MaxRestartsInWindow))
			return 100
		}

		w.sleepBackoff(sigCtx)
	}
}

// determineShouldRestart classifies a child exit .6's table.
func (w *Watchdog) determineShouldRestart(exitCode int, signal string) (bool, string) {
	w.mu.Lock()
	pending := w.pendingHealthRestart
	w.pendingHealthRestart = false
	w.mu.Unlock()

	if pending {
		return true, "pending_health_check_restart"
	}
	if exitCode == 0 {
		return false, "clean_exit"
	}
	if exitCode == 2 {
		return false, "config_error"
	}
	if exitCode >= 100 {
		return false, "fatal"
	}
	if signal == "SIGTERM" || signal == "SIGINT" {
		return false, "intentional_signal"
	}
	return true, "unexpected_exit"
}

// spawnAndWait starts the child, waits for it to exit or ctx to be
// canceled, and returns its exit code/terminating signal.
func (w *Watchdog) spawnAndWait(ctx context.Context) (exitCode int, signal string, err error) {
	cmd := exec.Command(w.childPath, w.childCmd...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return -1, "", fmt.Errorf("failed to start child: %w", err)
	}

	w.mu.Lock()
	w.cmd = cmd
	w.lastStartedAt = time.Now()
	w.mu.Unlock()

	if w.monitor != nil {
		w.scheduleMonitorResume(ctx)
	}

	if w.cfg.HealthCheckEnabled {
		healthCtx, cancelHealth := context.WithCancel(ctx)
		go w.runHealthChecks(healthCtx, cmd)
		defer cancelHealth()
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		w.terminateChild(cmd)
		<-waitDone
		return 0, "SIGTERM", nil
	case err := <-waitDone:
		if w.monitor != nil {
			w.monitor.Pause()
		}
		return exitStatus(err)
	}
}

// monitorResumeDelay is how long CM stays paused after a new RT child is
// spawned, so container starts never race a router still settling in.
const monitorResumeDelay = 10 * time.Second

func (w *Watchdog) scheduleMonitorResume(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(monitorResumeDelay):
			w.monitor.Resume()
		}
	}()
}

func (w *Watchdog) terminateChild(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(w.cfg.GracefulShutdownTimeoutMs) * time.Millisecond):
		_ = cmd.Process.Kill()
	}
}

func exitStatus(err error) (int, string, error) {
	if err == nil {
		return 0, "", nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, "", err
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), "", nil
	}
	if status.Signaled() {
		switch status.Signal() {
		case syscall.SIGTERM:
			return -1, "SIGTERM", nil
		case syscall.SIGINT:
			return -1, "SIGINT", nil
		}
		return -1, status.Signal().String(), nil
	}
	return status.ExitStatus(), "", nil
}

// recordRestartAndCheckCircuitBreaker records a restart timestamp and
// reports whether the circuit breaker has now tripped.
func (w *Watchdog) recordRestartAndCheckCircuitBreaker() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	window := time.Duration(w.cfg.RestartWindowMs) * time.Millisecond
	cutoff := now.Add(-window)

	kept := w.restartTimestamps[:0]
	for _, ts := range w.restartTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	w.restartTimestamps = kept

	if len(w.restartTimestamps) >= w.cfg.MaxRestartsInWindow {
		w.circuitBreakerTripped = true
		return true
	}
	return false
}

// sleepBackoff waits currentBackoff, then grows it for the next failure,
// resetting counters if the previous run stayed up long enough.
func (w *Watchdog) sleepBackoff(ctx context.Context) {
	resetThreshold := time.Duration(w.cfg.UptimeResetThresholdMs) * time.Millisecond
	w.mu.Lock()
	if !w.lastStartedAt.IsZero() && time.Since(w.lastStartedAt) >= resetThreshold {
		w.currentBackoff = time.Duration(w.cfg.InitialBackoffMs) * time.Millisecond
		w.consecutiveFailures = 0
		w.healthCheckFailures = 0
	}
	delay := w.currentBackoff
	w.consecutiveFailures++

	next := time.Duration(float64(w.currentBackoff) * w.cfg.BackoffMultiplier)
	max := time.Duration(w.cfg.MaxBackoffMs) * time.Millisecond
	if next > max {
		next = max
	}
	w.currentBackoff = next
	w.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// runHealthChecks polls GET /health on the child and signals it to
// restart after HealthCheckFailThreshold consecutive failures.
func (w *Watchdog) runHealthChecks(ctx context.Context, cmd *exec.Cmd) {
	interval := time.Duration(w.cfg.HealthCheckIntervalMs) * time.Millisecond
	timeout := time.Duration(w.cfg.HealthCheckTimeoutMs) * time.Millisecond
	client := &http.Client{Timeout: timeout}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthy := probeHealth(ctx, client, w.healthURL)
			w.mu.Lock()
			if healthy {
				w.healthCheckFailures = 0
			} else {
				w.healthCheckFailures++
				if w.healthCheckFailures >= w.cfg.HealthCheckFailThreshold {
					w.pendingHealthRestart = true
					w.mu.Unlock()
					w.log.Warn("health check threshold exceeded, restarting child")
					if cmd.Process != nil {
						_ = cmd.Process.Signal(syscall.SIGTERM)
					}
					return
				}
			}
			w.mu.Unlock()
		}
	}
}

func probeHealth(ctx context.Context, client *http.Client, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// gracefulShutdown forwards the shutdown signal to the child, waits
// GracefulShutdownTimeoutMs, then SIGKILLs.
func (w *Watchdog) gracefulShutdown() {
	w.mu.Lock()
	w.shuttingDown = true
	cmd := w.cmd
	w.mu.Unlock()

	if w.monitor != nil {
		w.monitor.Pause()
	}
	if cmd != nil {
		w.terminateChild(cmd)
	}
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
