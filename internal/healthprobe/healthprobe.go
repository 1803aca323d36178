// Package healthprobe implements HealthProbe (HP): runs
// user-provided liveness/readiness scripts inside a container with
// timeout/interval/threshold semantics and CrashLoopBackOff.
package healthprobe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/agentmanager/eventbus"
	"github.com/ploinky/ploinky/internal/containerdriver"
	"github.com/ploinky/ploinky/internal/common/logger"
)

// Outcome classifies one probe iteration.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// Spec is one probe's configuration (liveness or readiness).
type Spec struct {
	Script           string
	Interval         time.Duration
	Timeout          time.Duration
	SuccessThreshold int
	FailureThreshold int
}

// DefaultSpec returns the  defaults: (1s, 5s, 1, 5).
func DefaultSpec(script string) Spec {
	return Spec{
		Script:           script,
		Interval:         1 * time.Second,
		Timeout:          5 * time.Second,
		SuccessThreshold: 1,
		FailureThreshold: 5,
	}
}

// LivenessState is the in-memory CrashLoopBackOff counter for one
// containerName.
type LivenessState struct {
	RetryCount int
	StartedAt  time.Time
}

const (
	BackoffBase     = 10 * time.Second
	BackoffMax      = 300 * time.Second
	BackoffResetAge = 600 * time.Second
)

// NextBackoff returns min(BASE*2^retryCount, MAX).
func NextBackoff(retryCount int) time.Duration {
	d := BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= BackoffMax {
			return BackoffMax
		}
	}
	if d > BackoffMax {
		return BackoffMax
	}
	return d
}

// ErrScriptMissing means the probe script does not exist at /code/<script>
// inside the container.
var ErrScriptMissing = fmt.Errorf("ProbeScriptMissing")

// Prober runs liveness/readiness loops for one container using a CD.
type Prober struct {
	driver containerdriver.Driver
	bus    eventbus.EventBus
	log    *logger.Logger
}

// New returns a Prober bound to driver, publishing lifecycle transitions
// onto bus (may be nil to disable eventing).
func New(driver containerdriver.Driver, bus eventbus.EventBus, log *logger.Logger) *Prober {
	return &Prober{driver: driver, bus: bus, log: log.WithComponent("healthprobe")}
}

// checkScriptExists verifies the probe script is present at /code/<script>
// inside containerName.
func (p *Prober) checkScriptExists(ctx context.Context, containerName, script string) error {
	res, err := p.driver.Exec(ctx, containerName, []string{"sh", "-lc", fmt.Sprintf("test -f /code/%s", script)}, containerdriver.ExecOptions{TimeoutMs: 5000})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptMissing, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s", ErrScriptMissing, script)
	}
	return nil
}

// runOnce executes one probe iteration, returning Success/Failure per
//  ("success if exit 0 and no timeout").
func (p *Prober) runOnce(ctx context.Context, containerName string, spec Spec) Outcome {
	cmd := fmt.Sprintf(`cd /code && sh "./%s"`, spec.Script)
	res, err := p.driver.Exec(ctx, containerName, []string{"sh", "-lc", cmd}, containerdriver.ExecOptions{
		TimeoutMs: int(spec.Timeout / time.Millisecond),
	})
	if err != nil {
		return OutcomeFailure
	}
	if res.TimedOut || res.ExitCode != 0 {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// RunLiveness drives the liveness loop until ctx is canceled (explicit
// stop). On failure it restarts the container, waits for it to come back
// (40 x 250ms poll budget), and applies CrashLoopBackOff.
func (p *Prober) RunLiveness(ctx context.Context, containerName, agentName string, spec Spec, state *LivenessState) error {
	if err := p.checkScriptExists(ctx, containerName, spec.Script); err != nil {
		return err
	}

	consecutiveSuccesses, consecutiveFailures := 0, 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		outcome := p.runOnce(ctx, containerName, spec)
		switch outcome {
		case OutcomeSuccess:
			consecutiveSuccesses++
			consecutiveFailures = 0
			if consecutiveSuccesses >= spec.SuccessThreshold {
				if !state.StartedAt.IsZero() && time.Since(state.StartedAt) >= BackoffResetAge {
					state.RetryCount = 0
				}
				consecutiveSuccesses = 0
			}
		case OutcomeFailure:
			consecutiveFailures++
			consecutiveSuccesses = 0
			if consecutiveFailures >= spec.FailureThreshold {
				p.publish("agent.liveness_failed", agentName, containerName)
				if err := p.restartAndBackoff(ctx, containerName, state); err != nil {
					return err
				}
				consecutiveFailures = 0
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(spec.Interval):
		}
	}
}

func (p *Prober) restartAndBackoff(ctx context.Context, containerName string, state *LivenessState) error {
	if err := p.driver.Restart(ctx, containerName); err != nil {
		return fmt.Errorf("RestartFailed: %w", err)
	}

	const pollBudget = 40
	const pollInterval = 250 * time.Millisecond
	running := false
	for i := 0; i < pollBudget; i++ {
		info, err := p.driver.Inspect(ctx, containerName)
		if err == nil && info.Running() {
			running = true
			break
		}
		time.Sleep(pollInterval)
	}
	if !running {
		return fmt.Errorf("RestartFailed: container %s did not reach running state", containerName)
	}

	state.RetryCount++
	state.StartedAt = time.Now()

	delay := NextBackoff(state.RetryCount)
	p.log.Warn("restarting container after liveness failure",
		zap.String("container", containerName),
		zap.Int("retry", state.RetryCount),
		zap.Int64("delay_ms", delay.Milliseconds()),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	return nil
}

// Verify runs probe iterations until success or failure terminates per the
// same consecutive-success/failure counters RunLiveness uses, but without
// the restart/backoff loop — used by AGM to gate a freshly created
// container before declaring ensureAgentService successful.
func (p *Prober) Verify(ctx context.Context, containerName string, spec Spec) error {
	if err := p.checkScriptExists(ctx, containerName, spec.Script); err != nil {
		return err
	}

	consecutiveSuccesses, consecutiveFailures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch p.runOnce(ctx, containerName, spec) {
		case OutcomeSuccess:
			consecutiveSuccesses++
			consecutiveFailures = 0
			if consecutiveSuccesses >= spec.SuccessThreshold {
				return nil
			}
		case OutcomeFailure:
			consecutiveFailures++
			consecutiveSuccesses = 0
			if consecutiveFailures >= spec.FailureThreshold {
				return fmt.Errorf("ProbeFailed: liveness did not become healthy for %s", containerName)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(spec.Interval):
		}
	}
}

// RunReadiness drives the readiness loop. Failures are logged only;
// readiness never triggers a restart.
func (p *Prober) RunReadiness(ctx context.Context, containerName, agentName string, spec Spec) error {
	if err := p.checkScriptExists(ctx, containerName, spec.Script); err != nil {
		return err
	}

	consecutiveSuccesses, consecutiveFailures := 0, 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch p.runOnce(ctx, containerName, spec) {
		case OutcomeSuccess:
			consecutiveSuccesses++
			consecutiveFailures = 0
		case OutcomeFailure:
			consecutiveFailures++
			consecutiveSuccesses = 0
			if consecutiveFailures >= spec.FailureThreshold {
				p.publish("agent.readiness_failed", agentName, containerName)
				p.log.Warn("readiness probe failed", zap.String("container", containerName))
				consecutiveFailures = 0
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(spec.Interval):
		}
	}
}

func (p *Prober) publish(eventType, agentName, containerName string) {
	if p.bus == nil {
		return
	}
	evt := eventbus.NewEvent(eventType, "healthprobe", map[string]interface{}{
		"agentName":     agentName,
		"containerName": containerName,
	})
	_ = p.bus.Publish(context.Background(), eventType, evt)
}
