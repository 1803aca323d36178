package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndUnlock(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "demo")
	require.NoError(t, err)
	require.NoError(t, l.Unlock())

	// Re-acquiring after Unlock must succeed immediately.
	l2, err := Acquire(dir, "demo")
	require.NoError(t, err)
	require.NoError(t, l2.Unlock())
}

func TestAcquire_SecondCallerSeesBusy(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir, "demo")
	require.NoError(t, err)
	defer l.Unlock()

	_, err = acquireWithAttempts(dir, "demo", 1)
	assert.ErrorIs(t, err, ErrBusy)
}
