// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration and observability for the engine.
//
// Provides concurrent-safe primitives including:
//   - A key/value config store with reload listeners
//   - Lock-free probe sets used by every observable component
//   - A Prometheus-backed probe implementing all probe contracts
//   - Named debug hooks for state export
package control
