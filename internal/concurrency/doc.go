// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the engine: a bounded MPMC lock-free queue used
// for buffer free lists, and the worker pool backing the worker-thread and
// leader-follower strategies.
package concurrency
