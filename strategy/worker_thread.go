// File: strategy/worker_thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package strategy

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
)

// WorkerThread hands events to an executor. The event's interest is paused
// before the handoff so the runner does not fire it again meanwhile.
// Closed is processed inline.
type WorkerThread struct {
	base
	exec api.Executor
}

func NewWorkerThread(exec api.Executor, opts ...Option) *WorkerThread {
	return &WorkerThread{base: newBase(KindWorkerThread.String(), opts), exec: exec}
}

func (w *WorkerThread) Execute(_ *reactor.Loop, conn api.Connection, ev api.IOEvent, fire FireFunc) error {
	if ev == api.EventClosed {
		w.run(conn, ev, restoring{}, fire)
		return nil
	}
	bit := ev.Interest()
	if bit != 0 {
		conn.DisableInterest(bit)
	}
	err := w.exec.Submit(func() { w.run(conn, ev, restoring{}, fire) })
	if err != nil && bit != 0 {
		conn.EnableInterest(bit)
	}
	return err
}
