// File: strategy/same_thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package strategy

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
)

// SameThread processes every event on the runner goroutine. Filters must
// not block. A suspended event pauses its interest until it completes.
type SameThread struct {
	base
}

func NewSameThread(opts ...Option) *SameThread {
	return &SameThread{base: newBase(KindSameThread.String(), opts)}
}

func (s *SameThread) Execute(_ *reactor.Loop, conn api.Connection, ev api.IOEvent, fire FireFunc) error {
	s.run(conn, ev, pausing{}, fire)
	return nil
}
