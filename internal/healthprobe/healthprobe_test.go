package healthprobe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff_ExponentialUpToMax(t *testing.T) {
	assert.Equal(t, 10*time.Second, NextBackoff(0))
	assert.Equal(t, 20*time.Second, NextBackoff(1))
	assert.Equal(t, 40*time.Second, NextBackoff(2))
	assert.Equal(t, BackoffMax, NextBackoff(20))
}

func TestDefaultSpec_MatchesSpecDefaults(t *testing.T) {
	spec := DefaultSpec("liveness.sh")
	assert.Equal(t, 1*time.Second, spec.Interval)
	assert.Equal(t, 5*time.Second, spec.Timeout)
	assert.Equal(t, 1, spec.SuccessThreshold)
	assert.Equal(t, 5, spec.FailureThreshold)
}
