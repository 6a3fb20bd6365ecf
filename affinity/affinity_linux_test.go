//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
)

func TestPinRestrictsThread(t *testing.T) {
	allowed, err := affinity.Current()
	require.NoError(t, err)
	require.NotEmpty(t, allowed)

	// The goroutine exits still locked so the restricted thread is discarded.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if !assert.NoError(t, affinity.Pin(allowed[0])) {
			return
		}
		cpus, err := affinity.Current()
		assert.NoError(t, err)
		assert.Equal(t, []int{allowed[0]}, cpus)
	}()
	<-done
}

func TestPinRejectsOutOfRange(t *testing.T) {
	assert.ErrorIs(t, affinity.Pin(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, affinity.Pin(runtime.NumCPU()), api.ErrInvalidArgument)
}

func TestCPUFor(t *testing.T) {
	n := runtime.NumCPU()
	assert.Equal(t, 0, affinity.CPUFor(0))
	assert.Equal(t, 1%n, affinity.CPUFor(n+1))
	assert.Equal(t, n-1, affinity.CPUFor(-1))
}
