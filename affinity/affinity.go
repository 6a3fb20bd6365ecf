// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for goroutines that own a selector loop. Platform code lives
// in affinity_linux.go and affinity_stub.go.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-nio/api"
)

// Pin locks the calling goroutine to its OS thread and binds that thread
// to cpu. The goroutine keeps the thread until Unpin.
func Pin(cpu int) error {
	if cpu < 0 || cpu >= runtime.NumCPU() {
		return fmt.Errorf("affinity: cpu %d out of range [0, %d): %w", cpu, runtime.NumCPU(), api.ErrInvalidArgument)
	}
	runtime.LockOSThread()
	if err := setAffinity(cpu); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	return nil
}

// Unpin releases the thread locked by Pin. The thread keeps its CPU mask,
// so goroutines that pinned usually exit without calling it.
func Unpin() { runtime.UnlockOSThread() }

// CPUFor spreads index i over the available CPUs.
func CPUFor(i int) int {
	n := runtime.NumCPU()
	return ((i % n) + n) % n
}
