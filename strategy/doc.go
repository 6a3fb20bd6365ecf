// Package strategy decides on which goroutine an I/O event is processed.
//
// SameThread processes on the runner goroutine, WorkerThread hands the event
// to a worker pool, and LeaderFollower hands the runner loop itself to a
// pool worker and processes the event on the goroutine that was polling.
// All of them pause the event's interest while the event is processed off
// the loop and restore it when the processor reports completion.
package strategy
