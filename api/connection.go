// File: api/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection and processor contracts shared by the reactor, strategies and
// the filter chain.

package api

import (
	"net"

	"github.com/momentics/hioload-nio/attribute"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// CompletionHandler is invoked once an asynchronous write finished. On
// success err is nil and n is the number of bytes written.
type CompletionHandler func(n int, err error)

// Connection is one multiplexed endpoint.
type Connection interface {
	ID() uint64
	State() ConnectionState
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Attributes is the connection-scoped attribute store.
	Attributes() *attribute.Holder
	Processor() Processor
	MemoryManager() MemoryManager

	// Interest returns the interest set the connection currently wants.
	Interest() Interest
	// EnableInterest and DisableInterest may be called from any goroutine.
	EnableInterest(i Interest)
	DisableInterest(i Interest)

	// Read performs one non-blocking read into dst at its position. It
	// returns 0, nil when no data is available.
	Read(dst Buffer) (int, error)
	// Write queues msg for writing and takes ownership of it. done may be nil.
	Write(msg Buffer, done CompletionHandler) error

	// Close starts the close path. It is idempotent.
	Close() error
	// CloseWithCause closes and records why.
	CloseWithCause(cause error) error
	// CloseCause returns the recorded close reason, if any.
	CloseCause() error
}

// ProcessResult reports how a Process call ended on the calling goroutine.
type ProcessResult int

const (
	// ProcessComplete means the event was fully processed.
	ProcessComplete ProcessResult = iota
	// ProcessSuspended means a filter suspended the event; it completes on
	// the goroutine that resumes it.
	ProcessSuspended
	// ProcessDeferred means the event was queued behind the event currently
	// in progress for the same connection.
	ProcessDeferred
)

// ProcessingHandler observes the life of one dispatched event.
type ProcessingHandler interface {
	// OnSuspend runs synchronously when a filter suspends the event, before
	// the suspended context can be resumed elsewhere.
	OnSuspend(conn Connection, ev IOEvent)
	// OnComplete runs exactly once per Process call when processing of the
	// event has finished, inline or after resumption.
	OnComplete(conn Connection, ev IOEvent)
}

// Processor runs events for connections.
type Processor interface {
	// InterestedIn reports whether ev should be fired at all. Closed is
	// always delivered regardless.
	InterestedIn(ev IOEvent) bool
	Process(conn Connection, ev IOEvent, h ProcessingHandler) ProcessResult
}
