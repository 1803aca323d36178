package containerdriver

import (
	"context"
	"os/exec"
)

// Driver is the ContainerDriver interface. Every method is
// synchronous; the caller (AGM, HP, CM) is responsible for not calling it
// from a latency-sensitive hot path.
type Driver interface {
	// Runtime reports which concrete runtime this Driver talks to:
	// "podman" or "docker".
	Runtime() string

	Create(ctx context.Context, spec CreateSpec) (containerID string, err error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, signal string) error
	Kill(ctx context.Context, name string) error
	Remove(ctx context.Context, name string, force bool) error
	Exec(ctx context.Context, name string, argv []string, opts ExecOptions) (*ExecResult, error)
	Inspect(ctx context.Context, name string) (*ContainerInfo, error)
	Port(ctx context.Context, name string, containerPort string) (string, error)
	Logs(ctx context.Context, name string, tail int) (string, error)
	Restart(ctx context.Context, name string) error

	// List returns the names of every container (running or stopped) the
	// runtime knows about, used by destroyAllPloinky to find containers
	// carrying the ploinky_ prefix that AR no longer tracks.
	List(ctx context.Context) ([]string, error)
}

// Detect probes PATH for a supported runtime, preferring "podman" per
//  Returns KindNoRuntime if neither is found.
func Detect() (string, error) {
	if _, err := exec.LookPath("podman"); err == nil {
		return "podman", nil
	}
	if _, err := exec.LookPath("docker"); err == nil {
		return "docker", nil
	}
	return "", newRuntimeError(KindNoRuntime, nil)
}
