// File: api/probe.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Observer hooks. Probes are strictly observational: they cannot alter data
// flow, and callers recover any panic they raise.

package api

// MemoryProbe observes the memory manager.
type MemoryProbe interface {
	OnBufferAllocate(size int)
	OnBufferAllocateFromPool(size int)
	OnBufferRelease(size int)
}

// ConnectionProbe observes connection lifecycle and I/O.
type ConnectionProbe interface {
	OnAccept(conn Connection)
	OnConnect(conn Connection)
	OnRead(conn Connection, n int)
	OnWrite(conn Connection, n int)
	OnIOEventReady(conn Connection, ev IOEvent)
	OnInterestChange(conn Connection, interest Interest)
	OnClose(conn Connection)
	OnError(conn Connection, err error)
}

// TransportProbe observes transport lifecycle.
type TransportProbe interface {
	OnStart()
	OnStop()
	OnTransportError(err error)
}

// TransformerProbe observes parse/serialize milestones.
type TransformerProbe interface {
	OnTransform(name string, status string)
	OnTransformError(name string, err error)
}

// ExecutorProbe observes the worker pool.
type ExecutorProbe interface {
	OnTaskRejected(err error)
	OnPoolResize(workers int)
}
