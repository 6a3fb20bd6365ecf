// File: filterchain/chain.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Chain driver. Implements api.Processor on top of an immutable filter list
// and a per-connection gate that serialises event processing.

package filterchain

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

// ErrWriteUnhandled is reported when a write walks past the first filter
// without any filter sending it.
var ErrWriteUnhandled = errors.New("filterchain: write reached the head of the chain unhandled")

// Chain is an immutable ordered list of filters.
type Chain struct {
	filters   []Filter
	interests api.Interest
	log       *zap.Logger
}

var _ api.Processor = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used for filter failures and lifecycle tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.log = l
		}
	}
}

// New builds a chain over filters.
func New(filters []Filter, opts ...Option) *Chain {
	c := &Chain{
		filters: append([]Filter(nil), filters...),
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.Named("filterchain")
	for _, f := range c.filters {
		if in, ok := f.(Interested); ok {
			c.interests |= in.Interests()
		} else {
			c.interests |= api.InterestAll
		}
	}
	return c
}

// Builder assembles a chain.
type Builder struct {
	filters []Filter
	opts    []Option
}

func NewBuilder() *Builder { return &Builder{} }

// Add appends filters.
func (b *Builder) Add(filters ...Filter) *Builder {
	b.filters = append(b.filters, filters...)
	return b
}

// AddFirst prepends a filter.
func (b *Builder) AddFirst(f Filter) *Builder {
	b.filters = append([]Filter{f}, b.filters...)
	return b
}

// With adds chain options.
func (b *Builder) With(opts ...Option) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build returns the chain. The builder can be reused.
func (b *Builder) Build() *Chain {
	return New(b.filters, b.opts...)
}

// Len returns the number of filters.
func (c *Chain) Len() int { return len(c.filters) }

// Filter returns the filter at index i.
func (c *Chain) Filter(i int) Filter { return c.filters[i] }

// Interests returns the union of the filters' declared interests.
func (c *Chain) Interests() api.Interest { return c.interests }

// InterestedIn implements api.Processor. Closed is always delivered.
func (c *Chain) InterestedIn(ev api.IOEvent) bool {
	if ev == api.EventClosed {
		return true
	}
	return c.interests.Has(api.InterestOf(ev))
}

type queued struct {
	ev api.IOEvent
	h  api.ProcessingHandler
}

// gate serialises processing for one connection.
type gate struct {
	mu        sync.Mutex
	active    bool
	suspended *Context
	pending   []queued
	closing   *queued
	closed    bool
}

var gateAttr = attribute.New[*gate]("filterchain.gate",
	attribute.WithInitializer(func() *gate { return &gate{} }))

// Process implements api.Processor.
func (c *Chain) Process(conn api.Connection, ev api.IOEvent, h api.ProcessingHandler) api.ProcessResult {
	// The store of a closed connection may already be cleared.
	if conn.State() == api.StateClosed {
		complete(h, conn, ev)
		return api.ProcessComplete
	}
	g := gateAttr.GetOrInit(conn.Attributes())

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		complete(h, conn, ev)
		return api.ProcessComplete
	}
	var cancelled *Context
	switch {
	case ev == api.EventClosed:
		if s := g.suspended; s != nil && s.state.CompareAndSwap(stSuspended, stCancelled) {
			g.suspended = nil
			cancelled = s
		} else if g.closing != nil {
			g.mu.Unlock()
			complete(h, conn, ev)
			return api.ProcessComplete
		} else if g.active || g.suspended != nil {
			// A resumer that won the race on g.suspended runs the close.
			g.closing = &queued{ev: ev, h: h}
			g.mu.Unlock()
			return api.ProcessDeferred
		}
	case g.active || g.suspended != nil:
		g.pending = append(g.pending, queued{ev: ev, h: h})
		g.mu.Unlock()
		return api.ProcessDeferred
	}
	g.active = true
	g.mu.Unlock()

	if cancelled != nil {
		c.log.Debug("suspended context cancelled",
			zap.Uint64("conn_id", conn.ID()), zap.Stringer("event", cancelled.event))
		c.releaseReruns(cancelled)
		complete(cancelled.handler, conn, cancelled.event)
	}
	return c.run(g, newContext(c, conn, ev, h))
}

// Write sends msg through every filter from the tail of the chain.
func (c *Chain) Write(conn api.Connection, msg any, done api.CompletionHandler) error {
	return c.write(conn, len(c.filters)-1, nil, msg, done)
}

func (c *Chain) resume(ctx *Context) {
	g := gateAttr.GetOrInit(ctx.conn.Attributes())
	g.mu.Lock()
	if g.suspended == ctx {
		g.suspended = nil
	}
	g.active = true
	g.mu.Unlock()

	c.log.Debug("context resumed",
		zap.Uint64("conn_id", ctx.conn.ID()), zap.Stringer("event", ctx.event), zap.Int("filter", ctx.index))
	ctx.advance()
	c.run(g, ctx)
}

// run processes ctx and then whatever queued up behind it.
func (c *Chain) run(g *gate, ctx *Context) api.ProcessResult {
	result := api.ProcessComplete
	for first := true; ctx != nil; first = false {
		if c.execute(g, ctx) {
			if first {
				result = api.ProcessSuspended
			}
			return result
		}
		ctx.state.Store(stDone)
		complete(ctx.handler, ctx.conn, ctx.event)
		ctx = c.next(g, ctx)
	}
	return result
}

func (c *Chain) next(g *gate, prev *Context) *Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if q := g.closing; q != nil && !g.closed {
		g.closing = nil
		return newContext(c, prev.conn, q.ev, q.h)
	}
	if len(g.pending) > 0 && !g.closed {
		q := g.pending[0]
		g.pending = g.pending[1:]
		return newContext(c, prev.conn, q.ev, q.h)
	}
	g.active = false
	return nil
}

// execute walks ctx and reports whether it ended parked.
func (c *Chain) execute(g *gate, ctx *Context) bool {
	if ctx.event == api.EventClosed {
		c.closeWalk(g, ctx)
		return false
	}
	for {
		if !c.walk(ctx) {
			return false
		}
		switch c.park(g, ctx) {
		case parked:
			c.log.Debug("context suspended",
				zap.Uint64("conn_id", ctx.conn.ID()), zap.Stringer("event", ctx.event), zap.Int("filter", ctx.index))
			return true
		case cancelledWhileSuspending:
			c.releaseReruns(ctx)
			return false
		}
		ctx.advance()
	}
}

type parkResult int

const (
	parked parkResult = iota
	resumedEarly
	cancelledWhileSuspending
)

func (c *Chain) park(g *gate, ctx *Context) parkResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing != nil && ctx.state.CompareAndSwap(stSuspending, stCancelled) {
		return cancelledWhileSuspending
	}
	if ctx.state.CompareAndSwap(stSuspending, stSuspended) {
		g.suspended = ctx
		g.active = false
		return parked
	}
	ctx.state.Store(stRunning)
	return resumedEarly
}

// walk runs filters forward from ctx.index. It reports true when a filter
// suspended the context.
func (c *Chain) walk(ctx *Context) bool {
	for {
	filters:
		for ctx.index < len(c.filters) {
			action, err := c.invoke(c.filters[ctx.index], ctx)
			if err != nil {
				c.fail(ctx, err)
				return false
			}
			switch action.kind {
			case actContinue:
				ctx.index++
			case actRerun:
				ctx.pushRerun(action.remainder)
				ctx.index++
			case actStop:
				break filters
			case actSuspend:
				return true
			}
		}
		r, ok := ctx.popRerun()
		if !ok {
			return false
		}
		ctx.index = r.index
		ctx.message = r.remainder
	}
}

// closeWalk runs HandleClose on every filter whatever they return.
func (c *Chain) closeWalk(g *gate, ctx *Context) {
	g.mu.Lock()
	g.closed = true
	dropped := g.pending
	g.pending = nil
	g.mu.Unlock()

	for ctx.index = 0; ctx.index < len(c.filters); ctx.index++ {
		if _, err := c.invoke(c.filters[ctx.index], ctx); err != nil {
			c.log.Debug("close handler failed",
				zap.Uint64("conn_id", ctx.conn.ID()), zap.Int("filter", ctx.index), zap.Error(err))
		}
	}
	for _, q := range dropped {
		complete(q.h, ctx.conn, q.ev)
	}
}

func (c *Chain) write(conn api.Connection, from int, addr net.Addr, msg any, done api.CompletionHandler) error {
	if from >= len(c.filters) {
		from = len(c.filters) - 1
	}
	wctx := newContext(c, conn, api.EventWrite, nil)
	wctx.index, wctx.message, wctx.address, wctx.done = from, msg, addr, done
	for wctx.index >= 0 {
		action, err := c.invoke(c.filters[wctx.index], wctx)
		if err != nil {
			if done != nil {
				done(0, err)
			}
			c.fail(wctx, err)
			return err
		}
		switch action.kind {
		case actStop:
			return nil
		case actSuspend:
			err := fmt.Errorf("%w: filter %d", ErrWriteSuspended, wctx.index)
			if done != nil {
				done(0, err)
			}
			return err
		}
		wctx.index--
	}
	if done != nil {
		done(0, ErrWriteUnhandled)
	}
	return ErrWriteUnhandled
}

func (c *Chain) invoke(f Filter, ctx *Context) (action NextAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFilterPanic, r)
			c.log.Error("filter panicked",
				zap.Uint64("conn_id", ctx.conn.ID()),
				zap.Stringer("event", ctx.event),
				zap.Int("filter", ctx.index),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	switch ctx.event {
	case api.EventAccepted:
		return f.HandleAccept(ctx)
	case api.EventConnected:
		return f.HandleConnect(ctx)
	case api.EventRead:
		return f.HandleRead(ctx)
	case api.EventWrite:
		return f.HandleWrite(ctx)
	case api.EventClosed:
		return f.HandleClose(ctx)
	}
	return Stop(), nil
}

// fail notifies every filter and closes the connection. The Closed event
// runs after the current walk releases the gate.
func (c *Chain) fail(ctx *Context, err error) {
	c.log.Warn("filter failed",
		zap.Uint64("conn_id", ctx.conn.ID()),
		zap.Stringer("event", ctx.event),
		zap.Int("filter", ctx.index),
		zap.Error(err))
	for _, f := range c.filters {
		notifyException(f, ctx, err)
	}
	c.releaseReruns(ctx)
	_ = ctx.conn.CloseWithCause(err)
}

func notifyException(f Filter, ctx *Context, err error) {
	defer func() { _ = recover() }()
	f.ExceptionOccurred(ctx, err)
}

func (c *Chain) releaseReruns(ctx *Context) {
	for {
		r, ok := ctx.popRerun()
		if !ok {
			return
		}
		if b, ok := r.remainder.(api.Buffer); ok {
			b.Release()
		}
	}
}

func complete(h api.ProcessingHandler, conn api.Connection, ev api.IOEvent) {
	if h != nil {
		h.OnComplete(conn, ev)
	}
}
