// File: api/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor contract for parallel task dispatch.

package api

// Executor abstracts parallel task execution.
type Executor interface {
	// Submit schedules task for execution. Depending on the reject policy a
	// saturated pool runs the task on the caller, blocks, or returns
	// ErrResourceExhausted.
	Submit(task func()) error

	// TrySubmit starts task on a worker immediately, without queueing it,
	// running it on the caller or blocking. It reports whether the task
	// was started.
	TrySubmit(task func()) bool

	// NumWorkers returns current number of active worker routines.
	NumWorkers() int

	// Resize adjusts the core concurrency at runtime.
	Resize(newCount int)
}
