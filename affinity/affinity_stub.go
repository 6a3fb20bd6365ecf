//go:build !linux

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-nio/api"
)

func setAffinity(int) error {
	return fmt.Errorf("affinity: %s: %w", runtime.GOOS, api.ErrNotSupported)
}

// Current is not supported on this platform.
func Current() ([]int, error) { return nil, setAffinity(0) }
