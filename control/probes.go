// control/probes.go
// Author: momentics <momentics@gmail.com>
//
// Lock-free probe registry. Registration copies the slice; notification reads
// an atomic snapshot so the hot path neither locks nor allocates.

package control

import (
	"slices"
	"sync"
	"sync/atomic"
)

// ProbeSet holds observers of type P.
type ProbeSet[P comparable] struct {
	mu     sync.Mutex
	probes atomic.Pointer[[]P]
}

// Add registers probes.
func (s *ProbeSet[P]) Add(probes ...P) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur []P
	if p := s.probes.Load(); p != nil {
		cur = *p
	}
	next := make([]P, 0, len(cur)+len(probes))
	next = append(next, cur...)
	next = append(next, probes...)
	s.probes.Store(&next)
}

// Remove unregisters probes.
func (s *ProbeSet[P]) Remove(probes ...P) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.probes.Load()
	if p == nil {
		return
	}
	next := slices.DeleteFunc(slices.Clone(*p), func(x P) bool {
		return slices.Contains(probes, x)
	})
	s.probes.Store(&next)
}

// Len returns the number of registered probes.
func (s *ProbeSet[P]) Len() int {
	if p := s.probes.Load(); p != nil {
		return len(*p)
	}
	return 0
}

// Snapshot returns the current probes. The slice must not be modified.
func (s *ProbeSet[P]) Snapshot() []P {
	if p := s.probes.Load(); p != nil {
		return *p
	}
	return nil
}

// Notify calls fn for every probe. A panicking probe is skipped.
func (s *ProbeSet[P]) Notify(fn func(P)) {
	p := s.probes.Load()
	if p == nil {
		return
	}
	for _, probe := range *p {
		notifyOne(probe, fn)
	}
}

func notifyOne[P any](probe P, fn func(P)) {
	defer func() { _ = recover() }()
	fn(probe)
}
