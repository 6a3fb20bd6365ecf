// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory connection for driving processors in tests. Reads are served
// from fed byte slices, writes are recorded, and Close delivers Closed to
// the processor exactly once.

package fake

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

var connSeq atomic.Uint64

// Conn is a fake implementation of api.Connection.
type Conn struct {
	id    uint64
	attrs *attribute.Holder
	mem   api.MemoryManager

	mu         sync.Mutex
	proc       api.Processor
	state      api.ConnectionState
	interest   api.Interest
	inbound    [][]byte
	eof        bool
	readErr    error
	writeErr   error
	written    [][]byte
	closeCause error
	closed     chan struct{}

	closedEvents atomic.Int32
}

var _ api.Connection = (*Conn)(nil)

// NewConn creates an open connection allocating from mem.
func NewConn(mem api.MemoryManager) *Conn {
	return &Conn{
		id:       connSeq.Add(1),
		attrs:    attribute.NewHolder(),
		mem:      mem,
		state:    api.StateOpen,
		interest: api.InterestRead,
		closed:   make(chan struct{}),
	}
}

// SetProcessor sets the processor Close delivers Closed to.
func (c *Conn) SetProcessor(p api.Processor) {
	c.mu.Lock()
	c.proc = p
	c.mu.Unlock()
}

// Feed queues bytes for the next reads.
func (c *Conn) Feed(p []byte) {
	c.mu.Lock()
	c.inbound = append(c.inbound, bytes.Clone(p))
	c.mu.Unlock()
}

// FeedEOF makes reads report io.EOF once fed bytes are consumed.
func (c *Conn) FeedEOF() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
}

// FailReads makes every read return err.
func (c *Conn) FailReads(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
}

// FailWrites makes every write return err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Written returns every recorded write.
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// WrittenBytes returns all writes concatenated.
func (c *Conn) WrittenBytes() []byte {
	return bytes.Join(c.Written(), nil)
}

// ClosedEvents counts how many Closed events completed.
func (c *Conn) ClosedEvents() int { return int(c.closedEvents.Load()) }

// Done is closed once the Closed event completed.
func (c *Conn) Done() <-chan struct{} { return c.closed }

func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) State() api.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *Conn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2} }

func (c *Conn) Attributes() *attribute.Holder { return c.attrs }

func (c *Conn) Processor() api.Processor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proc
}

func (c *Conn) MemoryManager() api.MemoryManager { return c.mem }

func (c *Conn) Interest() api.Interest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interest
}

func (c *Conn) EnableInterest(i api.Interest) {
	c.mu.Lock()
	c.interest |= i
	c.mu.Unlock()
}

func (c *Conn) DisableInterest(i api.Interest) {
	c.mu.Lock()
	c.interest &^= i
	c.mu.Unlock()
}

func (c *Conn) Read(dst api.Buffer) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state >= api.StateClosing {
		return 0, api.ErrConnectionClosed
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.inbound) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	head := c.inbound[0]
	room := dst.Capacity() - dst.Position()
	n := min(room, len(head))
	_, _ = dst.Write(head[:n])
	if n == len(head) {
		c.inbound = c.inbound[1:]
	} else {
		c.inbound[0] = head[n:]
	}
	return n, nil
}

func (c *Conn) Write(msg api.Buffer, done api.CompletionHandler) error {
	c.mu.Lock()
	if c.state >= api.StateClosing {
		c.mu.Unlock()
		msg.Release()
		return api.ErrConnectionClosed
	}
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		msg.Release()
		return err
	}
	p := msg.Copy()
	c.written = append(c.written, p)
	c.mu.Unlock()
	msg.Release()
	if done != nil {
		done(len(p), nil)
	}
	return nil
}

func (c *Conn) Close() error { return c.CloseWithCause(nil) }

func (c *Conn) CloseWithCause(cause error) error {
	c.mu.Lock()
	if c.state >= api.StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = api.StateClosing
	c.closeCause = cause
	proc := c.proc
	c.mu.Unlock()

	if proc == nil {
		c.finish()
		return nil
	}
	proc.Process(c, api.EventClosed, closeHandler{c})
	return nil
}

func (c *Conn) CloseCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCause
}

func (c *Conn) finish() {
	c.mu.Lock()
	c.state = api.StateClosed
	c.mu.Unlock()
	if c.closedEvents.Add(1) == 1 {
		close(c.closed)
	}
}

type closeHandler struct{ c *Conn }

func (h closeHandler) OnSuspend(api.Connection, api.IOEvent) {}

func (h closeHandler) OnComplete(api.Connection, api.IOEvent) { h.c.finish() }
