// File: transport/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
	"github.com/momentics/hioload-nio/reactor"
)

// Connection is a non-blocking TCP socket registered with one runner.
type Connection struct {
	t      *Transport
	id     uint64
	key    *reactor.Key
	attrs  *attribute.Holder
	local  net.Addr
	remote net.Addr
	future *ConnectFuture

	state atomic.Int32

	// fdMu excludes close from in-flight syscalls so the descriptor cannot
	// be reused under a reader.
	fdMu sync.RWMutex
	fd   int

	wmu    sync.Mutex
	writes *queue.Queue

	causeMu sync.Mutex
	cause   error

	finishOnce sync.Once
	closed     chan struct{}
}

var (
	_ api.Connection                   = (*Connection)(nil)
	_ reactor.Channel                  = (*Connection)(nil)
	_ reactor.RegistrationErrorHandler = (*Connection)(nil)
	_ reactor.Attacher                 = (*Connection)(nil)
)

type pendingWrite struct {
	buf  api.Buffer
	data []byte
	off  int
	done api.CompletionHandler
}

func (w *pendingWrite) complete(err error) {
	n := w.off
	w.buf.Release()
	if w.done != nil {
		w.done(n, err)
	}
}

func newConnection(t *Transport, fd int, local, remote net.Addr, st api.ConnectionState) *Connection {
	c := &Connection{
		t:      t,
		id:     t.ids.Add(1),
		fd:     fd,
		attrs:  attribute.NewHolder(),
		local:  local,
		remote: remote,
		writes: queue.New(),
		closed: make(chan struct{}),
	}
	c.state.Store(int32(st))
	return c
}

func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) State() api.ConnectionState { return api.ConnectionState(c.state.Load()) }

func (c *Connection) LocalAddr() net.Addr  { return c.local }
func (c *Connection) RemoteAddr() net.Addr { return c.remote }

func (c *Connection) Attributes() *attribute.Holder    { return c.attrs }
func (c *Connection) Processor() api.Processor         { return c.t.proc }
func (c *Connection) MemoryManager() api.MemoryManager { return c.t.mem }

// Runner returns the runner the connection is registered with.
func (c *Connection) Runner() *reactor.Runner { return c.key.Runner() }

// Done is closed once the Closed event has been processed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

func (c *Connection) Interest() api.Interest { return c.key.Interest() }

func (c *Connection) EnableInterest(i api.Interest) {
	if c.key.Enable(i) {
		c.interestChanged()
	}
}

func (c *Connection) DisableInterest(i api.Interest) {
	if c.key.Disable(i) {
		c.interestChanged()
	}
}

func (c *Connection) interestChanged() {
	i := c.key.Interest()
	c.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnInterestChange(c, i) })
}

// FD implements reactor.Channel. It is -1 once closed.
func (c *Connection) FD() int {
	c.fdMu.RLock()
	defer c.fdMu.RUnlock()
	return c.fd
}

// Fire implements reactor.Channel. WRITE readiness flushes the write queue
// and is never passed to the processor.
func (c *Connection) Fire(loop *reactor.Loop, ev api.IOEvent) {
	c.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnIOEventReady(c, ev) })
	switch ev {
	case api.EventWrite:
		c.flush()
	case api.EventConnected:
		c.finishConnect(loop)
	case api.EventClosed:
		_ = c.CloseWithCause(api.ErrPeerClosed)
	default:
		c.t.dispatch(loop, c, ev)
	}
}

func (c *Connection) Attach(k *reactor.Key) { c.key = k }

func (c *Connection) OnRegisterError(err error) {
	c.t.log.Warn("connection registration failed", zap.Uint64("conn_id", c.id), zap.Error(err))
	_ = c.CloseWithCause(err)
}

func (c *Connection) finishConnect(loop *reactor.Loop) {
	if c.State() != api.StateConnecting {
		return
	}
	c.fdMu.RLock()
	err := api.ErrConnectionClosed
	if c.fd >= 0 {
		err = connectResult(c.fd)
	}
	c.fdMu.RUnlock()
	if err != nil {
		c.future.fail(err)
		_ = c.CloseWithCause(err)
		return
	}
	if !c.state.CompareAndSwap(int32(api.StateConnecting), int32(api.StateOpen)) {
		return
	}
	c.DisableInterest(api.InterestConnect)
	c.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnConnect(c) })
	c.future.resolve(c)
	c.t.dispatch(loop, c, api.EventConnected)
}

// Read reads what the socket has into dst at its position. It returns
// 0, nil when nothing is available and io.EOF when the peer shut down.
func (c *Connection) Read(dst api.Buffer) (int, error) {
	c.fdMu.RLock()
	defer c.fdMu.RUnlock()
	if c.fd < 0 {
		return 0, api.ErrConnectionClosed
	}
	p := dst.Bytes()
	n, err := sysRead(c.fd, p)
	if n > 0 {
		// Write advances the position. Over contiguous memory p aliases dst.
		_, _ = dst.Write(p[:n])
		c.t.connProbes.Notify(func(pr api.ConnectionProbe) { pr.OnRead(c, n) })
	}
	return n, err
}

// Write queues msg and takes ownership of it. done runs once the whole
// message reached the socket or the connection failed. When Write returns
// an error done is not called.
func (c *Connection) Write(msg api.Buffer, done api.CompletionHandler) error {
	if msg == nil {
		return api.ErrInvalidArgument
	}
	c.wmu.Lock()
	if c.State() >= api.StateClosing {
		c.wmu.Unlock()
		msg.Release()
		return api.ErrConnectionClosed
	}
	w := &pendingWrite{buf: msg, data: msg.Bytes(), done: done}
	if c.writes.Length() == 0 && c.State() == api.StateOpen {
		if err := c.writeSome(w); err != nil {
			c.wmu.Unlock()
			msg.Release()
			return err
		}
		if w.off == len(w.data) {
			c.wmu.Unlock()
			w.complete(nil)
			return nil
		}
	}
	c.writes.Add(w)
	c.EnableInterest(api.InterestWrite)
	c.wmu.Unlock()
	return nil
}

// writeSome writes until the socket would block. Callers hold wmu.
func (c *Connection) writeSome(w *pendingWrite) error {
	c.fdMu.RLock()
	defer c.fdMu.RUnlock()
	if c.fd < 0 {
		return api.ErrConnectionClosed
	}
	total := 0
	for w.off < len(w.data) {
		n, err := sysWrite(c.fd, w.data[w.off:])
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		w.off += n
		total += n
	}
	if total > 0 {
		c.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnWrite(c, total) })
	}
	return nil
}

// flush drains the write queue on WRITE readiness.
func (c *Connection) flush() {
	if c.State() != api.StateOpen {
		return
	}
	var (
		finished []*pendingWrite
		err      error
	)
	c.wmu.Lock()
	for c.writes.Length() > 0 {
		w := c.writes.Peek().(*pendingWrite)
		if err = c.writeSome(w); err != nil || w.off < len(w.data) {
			break
		}
		c.writes.Remove()
		finished = append(finished, w)
	}
	if err == nil && c.writes.Length() == 0 {
		c.DisableInterest(api.InterestWrite)
	}
	c.wmu.Unlock()

	for _, w := range finished {
		w.complete(nil)
	}
	if err != nil {
		_ = c.CloseWithCause(err)
	}
}

// PendingWrites returns the number of queued messages.
func (c *Connection) PendingWrites() int {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writes.Length()
}

func (c *Connection) failWrites(err error) {
	c.wmu.Lock()
	failed := make([]*pendingWrite, 0, c.writes.Length())
	for c.writes.Length() > 0 {
		failed = append(failed, c.writes.Remove().(*pendingWrite))
	}
	c.wmu.Unlock()
	for _, w := range failed {
		w.complete(err)
	}
}

func (c *Connection) Close() error { return c.CloseWithCause(nil) }

// CloseWithCause closes the socket, fails queued writes and delivers
// Closed to the processor exactly once. Later calls are no-ops.
func (c *Connection) CloseWithCause(cause error) error {
	for {
		s := c.state.Load()
		if s >= int32(api.StateClosing) {
			return nil
		}
		if c.state.CompareAndSwap(s, int32(api.StateClosing)) {
			break
		}
	}
	c.causeMu.Lock()
	c.cause = cause
	c.causeMu.Unlock()

	c.key.Cancel()
	c.fdMu.Lock()
	fd := c.fd
	c.fd = -1
	c.fdMu.Unlock()
	var err error
	if fd >= 0 {
		err = sysClose(fd)
	}

	c.failWrites(api.ErrConnectionClosed)
	if c.future != nil {
		failure := cause
		if failure == nil {
			failure = api.ErrConnectionClosed
		}
		c.future.fail(failure)
	}
	if cause != nil && !errors.Is(cause, api.ErrPeerClosed) && !errors.Is(cause, api.ErrTransportClosed) {
		c.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnError(c, cause) })
	}
	if perr := c.t.strategy.Execute(nil, c, api.EventClosed, c.t.fire); perr != nil {
		c.finish()
	}
	return err
}

func (c *Connection) CloseCause() error {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.cause
}

func (c *Connection) finish() {
	c.finishOnce.Do(func() {
		c.state.Store(int32(api.StateClosed))
		c.attrs.Clear()
		c.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnClose(c) })
		c.t.forget(c)
		close(c.closed)
	})
}

// finalizer completes the connection after its Closed event.
type finalizer struct {
	h api.ProcessingHandler
	c *Connection
}

func (f finalizer) OnSuspend(conn api.Connection, ev api.IOEvent) { f.h.OnSuspend(conn, ev) }

func (f finalizer) OnComplete(conn api.Connection, ev api.IOEvent) {
	f.h.OnComplete(conn, ev)
	f.c.finish()
}
