// File: filterchain/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-event processing context. A context is created for every dispatched
// event and for every write walk.

package filterchain

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

const (
	stRunning int32 = iota
	// stSuspending: Suspend was called, the walker has not returned yet.
	stSuspending
	// stSuspended: the walker returned and the context is parked.
	stSuspended
	// stResumedEarly: Resume arrived while still stSuspending.
	stResumedEarly
	stCancelled
	stDone
)

type rerun struct {
	index     int
	remainder any
}

// Context carries one event through the chain.
type Context struct {
	chain   *Chain
	conn    api.Connection
	event   api.IOEvent
	handler api.ProcessingHandler

	index   int
	message any
	address net.Addr
	done    api.CompletionHandler
	reruns  []rerun
	halt    bool

	state atomic.Int32

	attrsOnce sync.Once
	attrs     *attribute.Holder
}

func newContext(c *Chain, conn api.Connection, ev api.IOEvent, h api.ProcessingHandler) *Context {
	return &Context{chain: c, conn: conn, event: ev, handler: h}
}

// Connection returns the connection the event belongs to.
func (ctx *Context) Connection() api.Connection { return ctx.conn }

// Event returns the event being processed.
func (ctx *Context) Event() api.IOEvent { return ctx.event }

// Chain returns the chain driving the context.
func (ctx *Context) Chain() *Chain { return ctx.chain }

// Index returns the position of the filter currently handling the context.
func (ctx *Context) Index() int { return ctx.index }

// Message returns the message passed between filters.
func (ctx *Context) Message() any { return ctx.message }

// SetMessage replaces the message handed to the next filter.
func (ctx *Context) SetMessage(msg any) { ctx.message = msg }

// Address returns the peer address of a write, if one was given.
func (ctx *Context) Address() net.Addr { return ctx.address }

// CompletionHandler returns the handler of a write walk.
func (ctx *Context) CompletionHandler() api.CompletionHandler { return ctx.done }

// Attributes returns storage scoped to this context. Connection-scoped state
// belongs in Connection().Attributes().
func (ctx *Context) Attributes() *attribute.Holder {
	ctx.attrsOnce.Do(func() { ctx.attrs = attribute.NewHolder() })
	return ctx.attrs
}

// Write sends msg down the chain starting below the calling filter.
func (ctx *Context) Write(msg any, done api.CompletionHandler) error {
	return ctx.chain.write(ctx.conn, ctx.index-1, nil, msg, done)
}

// WriteTo is Write with an explicit destination address.
func (ctx *Context) WriteTo(addr net.Addr, msg any, done api.CompletionHandler) error {
	return ctx.chain.write(ctx.conn, ctx.index-1, addr, msg, done)
}

// Suspend parks the event. The filter must return the result immediately.
// The processing handler's OnSuspend runs before Suspend returns, so the
// context may be handed to another goroutine for Resume right after.
// Outbound writes cannot be parked: on a write context Suspend changes
// nothing and the write fails with ErrWriteSuspended.
func (ctx *Context) Suspend() NextAction {
	if ctx.handler != nil && ctx.state.CompareAndSwap(stRunning, stSuspending) {
		ctx.handler.OnSuspend(ctx.conn, ctx.event)
	}
	return NextAction{kind: actSuspend}
}

// Resume continues a suspended event at the filter after the one that
// suspended it. The walk runs on the calling goroutine unless the suspending
// filter has not returned yet, in which case that goroutine continues it.
func (ctx *Context) Resume() error {
	for {
		switch ctx.state.Load() {
		case stSuspending:
			if ctx.state.CompareAndSwap(stSuspending, stResumedEarly) {
				return nil
			}
		case stSuspended:
			if ctx.state.CompareAndSwap(stSuspended, stRunning) {
				ctx.chain.resume(ctx)
				return nil
			}
		case stCancelled:
			return ErrContextCancelled
		default:
			return ErrNotSuspended
		}
	}
}

// ResumeWith sets the message handed to the next filter and resumes.
func (ctx *Context) ResumeWith(msg any) error {
	switch ctx.state.Load() {
	case stSuspending, stSuspended:
		ctx.message = msg
	}
	return ctx.Resume()
}

// ResumeStopped ends a suspended event as if the suspending filter had
// returned Stop. Remainders queued by earlier filters are still processed.
func (ctx *Context) ResumeStopped() error {
	switch ctx.state.Load() {
	case stSuspending, stSuspended:
		ctx.halt = true
	}
	return ctx.Resume()
}

// advance moves past the filter that suspended.
func (ctx *Context) advance() {
	if ctx.halt {
		ctx.halt = false
		ctx.index = len(ctx.chain.filters)
		return
	}
	ctx.index++
}

// Cancelled reports whether the connection closed while the context was
// suspended.
func (ctx *Context) Cancelled() bool { return ctx.state.Load() == stCancelled }

func (ctx *Context) pushRerun(remainder any) {
	ctx.reruns = append(ctx.reruns, rerun{index: ctx.index, remainder: remainder})
}

func (ctx *Context) popRerun() (rerun, bool) {
	n := len(ctx.reruns)
	if n == 0 {
		return rerun{}, false
	}
	r := ctx.reruns[n-1]
	ctx.reruns = ctx.reruns[:n-1]
	return r, true
}
