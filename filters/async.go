// File: filters/async.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runs an asynctask exchange per inbound message. When the task reports it
// is interrupted the chain suspends, and the exchange continues on the
// executor once the task's waker is called.

package filters

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/asynctask"
	"github.com/momentics/hioload-nio/filterchain"
)

// ErrAlreadyWoken is returned by a waker called again before the exchange
// picked up the previous wake.
var ErrAlreadyWoken = errors.New("filters: task already woken")

// Waker continues an interrupted task. It may be called from any goroutine,
// also before the filter has finished suspending.
type Waker func() error

// TaskFactory builds the stage handler for one inbound message. wake
// continues the exchange after Interrupted asked to wait.
type TaskFactory func(ctx *filterchain.Context, wake Waker) asynctask.Handler

// AsyncFilter drives an asynctask.Task for every read. A finished task's
// Value, when set, replaces the message handed to the next filter. An
// aborted task stops the walk; a failed task closes the connection.
type AsyncFilter struct {
	filterchain.BaseFilter
	factory TaskFactory
	exec    api.Executor
	log     *zap.Logger
}

// NewAsyncFilter runs continuations on exec.
func NewAsyncFilter(factory TaskFactory, exec api.Executor, l *zap.Logger) *AsyncFilter {
	if l == nil {
		l = zap.NewNop()
	}
	return &AsyncFilter{factory: factory, exec: exec, log: l.Named("async")}
}

// exchange tracks one task between suspension and wake.
type exchange struct {
	f    *AsyncFilter
	ctx  *filterchain.Context
	task *asynctask.Task

	mu     sync.Mutex
	parked bool
	woken  bool
}

func (f *AsyncFilter) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	ex := &exchange{f: f, ctx: ctx}
	ex.task = asynctask.New(f.factory(ctx, ex.wake))

	outcome, err := ex.task.Run()
	if err != nil {
		return filterchain.Stop(), err
	}
	if outcome == asynctask.Suspended {
		action := ctx.Suspend()
		ex.park()
		return action, nil
	}
	if !f.finished(ctx, ex.task) {
		return filterchain.Stop(), nil
	}
	return filterchain.Continue(), nil
}

// finished applies a finished task to ctx and reports whether the walk goes
// on.
func (f *AsyncFilter) finished(ctx *filterchain.Context, t *asynctask.Task) bool {
	if err := t.Aborted(); err != nil {
		f.log.Debug("task aborted", zap.Uint64("conn_id", ctx.Connection().ID()), zap.Error(err))
		return false
	}
	if v := t.Value(); v != nil {
		ctx.SetMessage(v)
	}
	return true
}

func (f *AsyncFilter) Interests() api.Interest { return api.InterestRead }

// park marks the context suspended and runs a wake that arrived early.
func (ex *exchange) park() {
	ex.mu.Lock()
	ex.parked = true
	early := ex.woken
	ex.mu.Unlock()
	if early {
		ex.submit()
	}
}

func (ex *exchange) wake() error {
	ex.mu.Lock()
	if ex.woken {
		ex.mu.Unlock()
		return ErrAlreadyWoken
	}
	ex.woken = true
	parked := ex.parked
	ex.mu.Unlock()
	if !parked {
		return nil
	}
	return ex.submit()
}

func (ex *exchange) submit() error {
	err := ex.f.exec.Submit(ex.resume)
	if err != nil {
		_ = ex.ctx.Connection().CloseWithCause(err)
	}
	return err
}

func (ex *exchange) resume() {
	ex.mu.Lock()
	ex.parked, ex.woken = false, false
	ex.mu.Unlock()

	conn := ex.ctx.Connection()
	outcome, err := ex.task.Run()
	switch {
	case err != nil:
		ex.f.log.Warn("task failed", zap.Uint64("conn_id", conn.ID()), zap.Error(err))
		_ = conn.CloseWithCause(err)
		return
	case outcome == asynctask.Suspended:
		// Pipelined round interrupted again; stay parked.
		ex.park()
		return
	}

	var rerr error
	if ex.f.finished(ex.ctx, ex.task) {
		rerr = ex.ctx.Resume()
	} else {
		rerr = ex.ctx.ResumeStopped()
	}
	if rerr != nil && !errors.Is(rerr, filterchain.ErrContextCancelled) {
		ex.f.log.Warn("resume failed", zap.Uint64("conn_id", conn.ID()), zap.Error(rerr))
	}
}
