// File: filters/idle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Idle timeout. Every read and write refreshes a per-connection heartbeat;
// a timer checks it and closes connections that stayed silent too long.

package filters

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
	"github.com/momentics/hioload-nio/filterchain"
)

// DefaultIdleTimeout is used when no timeout is given.
const DefaultIdleTimeout = 30 * time.Second

type idleState struct {
	heart atomic.Int64
	armed atomic.Bool

	mu      sync.Mutex
	timer   *clock.Timer
	stopped bool
}

// IdleOption configures an IdleTimeoutFilter.
type IdleOption func(*IdleTimeoutFilter)

// WithClock replaces the wall clock, typically with clock.NewMock().
func WithClock(c clock.Clock) IdleOption {
	return func(f *IdleTimeoutFilter) { f.clk = c }
}

// WithIdleLogger sets the logger for timeout closes.
func WithIdleLogger(l *zap.Logger) IdleOption {
	return func(f *IdleTimeoutFilter) { f.log = l }
}

// IdleTimeoutFilter closes connections with no reads or writes for the
// configured timeout. The close goes through Connection.CloseWithCause with
// api.ErrIdleTimeout.
type IdleTimeoutFilter struct {
	filterchain.BaseFilter
	timeout atomic.Int64
	clk     clock.Clock
	log     *zap.Logger
	state   *attribute.Attribute[*idleState]
}

var idleSeq atomic.Uint64

func NewIdleTimeoutFilter(timeout time.Duration, opts ...IdleOption) *IdleTimeoutFilter {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	f := &IdleTimeoutFilter{
		clk: clock.New(),
		log: zap.NewNop(),
		state: attribute.New[*idleState](attrName("idle", &idleSeq),
			attribute.WithInitializer(func() *idleState { return &idleState{} })),
	}
	f.timeout.Store(int64(timeout))
	for _, o := range opts {
		o(f)
	}
	return f
}

// Timeout returns the current idle timeout.
func (f *IdleTimeoutFilter) Timeout() time.Duration { return time.Duration(f.timeout.Load()) }

// SetTimeout changes the timeout for checks made from now on.
func (f *IdleTimeoutFilter) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout.Store(int64(d))
	}
}

func (f *IdleTimeoutFilter) HandleAccept(ctx *filterchain.Context) (filterchain.NextAction, error) {
	f.touch(ctx.Connection())
	return filterchain.Continue(), nil
}

func (f *IdleTimeoutFilter) HandleConnect(ctx *filterchain.Context) (filterchain.NextAction, error) {
	f.touch(ctx.Connection())
	return filterchain.Continue(), nil
}

func (f *IdleTimeoutFilter) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	f.touch(ctx.Connection())
	return filterchain.Continue(), nil
}

func (f *IdleTimeoutFilter) HandleWrite(ctx *filterchain.Context) (filterchain.NextAction, error) {
	f.touch(ctx.Connection())
	return filterchain.Continue(), nil
}

func (f *IdleTimeoutFilter) HandleClose(ctx *filterchain.Context) (filterchain.NextAction, error) {
	if st, ok := f.state.Remove(ctx.Connection().Attributes()); ok && st != nil {
		st.mu.Lock()
		st.stopped = true
		if st.timer != nil {
			st.timer.Stop()
		}
		st.mu.Unlock()
	}
	return filterchain.Continue(), nil
}

// touch refreshes the heartbeat, arming the timer on first use.
func (f *IdleTimeoutFilter) touch(conn api.Connection) {
	if conn.State() >= api.StateClosing {
		return
	}
	st := f.state.GetOrInit(conn.Attributes())
	st.heart.Store(f.clk.Now().UnixNano())
	if !st.armed.CompareAndSwap(false, true) {
		return
	}
	st.mu.Lock()
	if !st.stopped {
		st.timer = f.clk.AfterFunc(f.Timeout(), func() { f.check(conn, st) })
	}
	st.mu.Unlock()
}

func (f *IdleTimeoutFilter) check(conn api.Connection, st *idleState) {
	timeout := f.Timeout()
	idle := f.clk.Since(time.Unix(0, st.heart.Load()))
	if idle < timeout {
		st.mu.Lock()
		if !st.stopped {
			st.timer.Reset(timeout - idle)
		}
		st.mu.Unlock()
		return
	}
	st.mu.Lock()
	st.stopped = true
	st.mu.Unlock()
	f.log.Debug("idle timeout",
		zap.Uint64("conn_id", conn.ID()), zap.Duration("idle", idle), zap.Duration("timeout", timeout))
	_ = conn.CloseWithCause(api.ErrIdleTimeout)
}
