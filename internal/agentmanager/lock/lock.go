// Package lock implements the per-agent advisory lock: a
// named lock directory under .ploinky/locks/ that serializes AGM and CM
// operations on the same container.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrBusy is returned when the lock could not be acquired within the
// bounded spin budget.
var ErrBusy = errors.New("LockBusy")

const (
	spinAttempts = 50
	spinInterval = 200 * time.Millisecond
)

// Lock is a held advisory lock. Release it with Unlock (or defer it
// immediately after Acquire succeeds).
type Lock struct {
	path string
}

// Acquire creates "<locksDir>/container_<name>.lock" as a directory,
// treating mkdir's atomicity as the acquisition primitive: only one
// process can mkdir a given path successfully. Spins up to 50 times at
// 200ms apart before failing with ErrBusy.
func Acquire(locksDir, containerName string) (*Lock, error) {
	return acquireWithAttempts(locksDir, containerName, spinAttempts)
}

func acquireWithAttempts(locksDir, containerName string, attempts int) (*Lock, error) {
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create locks directory %s: %w", locksDir, err)
	}

	path := filepath.Join(locksDir, fmt.Sprintf("container_%s.lock", containerName))

	for attempt := 0; attempt < attempts; attempt++ {
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
		}
		if attempt < attempts-1 {
			time.Sleep(spinInterval)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrBusy, containerName)
}

// Unlock releases the lock by removing its directory. Safe to call once;
// callers typically `defer l.Unlock()`.
func (l *Lock) Unlock() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	return nil
}
