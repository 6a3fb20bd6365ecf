// Package transport binds the reactor, the I/O strategies and a processor
// (usually a filterchain.Chain) into a TCP transport.
//
// A Transport owns a set of selector runners, a worker pool and a memory
// manager. Listeners accept on the first runner; accepted and connected
// connections are spread over all runners. Each Connection is a
// non-blocking socket with an asynchronous write queue flushed on WRITE
// readiness.
package transport
