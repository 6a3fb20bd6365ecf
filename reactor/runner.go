// File: reactor/runner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Selector runner. One goroutine at a time owns the loop: it applies queued
// registration and interest operations, waits on the poller and fires the
// resulting events at the channels. A firing channel may postpone work,
// handing the loop and the rest of the ready batch to a new goroutine.

package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
)

// Defaults for runner options.
const (
	DefaultSelectTimeout = time.Second
	DefaultBatchSize     = 256
)

// ErrRunnerStopped is returned when operating on a stopped runner.
var ErrRunnerStopped = errors.New("reactor: runner stopped")

// Channel is a pollable endpoint served by a runner.
type Channel interface {
	// FD returns the descriptor to poll.
	FD() int
	// Fire delivers ev on the loop goroutine. Implementations hand it to
	// an I/O strategy.
	Fire(loop *Loop, ev api.IOEvent)
}

// RegistrationErrorHandler is implemented by channels that want to learn
// their registration failed. The key is cancelled either way.
type RegistrationErrorHandler interface {
	OnRegisterError(err error)
}

// Attacher is implemented by channels that keep their key. Attach runs
// before the registration is queued so the key is set when Fire runs.
type Attacher interface {
	Attach(k *Key)
}

type opKind uint8

const (
	opRegister opKind = iota
	opUpdate
	opCancel
)

type op struct {
	kind opKind
	key  *Key
}

type fired struct {
	key *Key
	ev  api.IOEvent
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExecutor sets the pool that receives the loop on Postpone. Without
// one, postponed tasks run inline.
func WithExecutor(e api.Executor) RunnerOption {
	return func(r *Runner) { r.exec = e }
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSelectTimeout bounds a single poller wait. Negative waits forever.
func WithSelectTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.selectTimeout = d }
}

// WithBatchSize sets how many readiness events one wait may return.
func WithBatchSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithCPU pins the goroutine that starts the loop to cpu. A loop handed
// off by Postpone continues unpinned on the pool worker.
func WithCPU(cpu int) RunnerOption {
	return func(r *Runner) { r.cpu = cpu }
}

// Runner owns a poller and the channels registered with it.
type Runner struct {
	id            int
	poller        Poller
	exec          api.Executor
	log           *zap.Logger
	selectTimeout time.Duration
	batchSize     int
	cpu           int

	mu          sync.Mutex
	ops         *queue.Queue
	wakePending atomic.Bool

	nextToken atomic.Uint64
	live      atomic.Int64
	waiting   atomic.Int32
	handoffs  atomic.Uint64

	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}

	// Owned by whichever goroutine currently leads the loop.
	keys    map[uint64]*Key
	batch   []PollEvent
	pending []fired
	next    int
	scratch []op
	handoff func()

	loop *Loop
	lead func()
}

// NewRunner creates a runner over poller. The runner owns the poller and
// closes it on Stop.
func NewRunner(id int, poller Poller, opts ...RunnerOption) *Runner {
	r := &Runner{
		id:            id,
		poller:        poller,
		log:           zap.NewNop(),
		selectTimeout: DefaultSelectTimeout,
		batchSize:     DefaultBatchSize,
		cpu:           -1,
		ops:           queue.New(),
		done:          make(chan struct{}),
		keys:          make(map[uint64]*Key),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With(zap.Int("runner", id))
	r.batch = make([]PollEvent, r.batchSize)
	r.loop = &Loop{r: r}
	r.lead = r.run
	return r
}

// ID returns the runner index.
func (r *Runner) ID() int { return r.id }

// Len returns the number of live registrations.
func (r *Runner) Len() int { return int(r.live.Load()) }

// Waiting reports how many goroutines are blocked in the poller. It never
// exceeds one.
func (r *Runner) Waiting() int { return int(r.waiting.Load()) }

// Handoffs counts loop handoffs made by Postpone.
func (r *Runner) Handoffs() uint64 { return r.handoffs.Load() }

// Start launches the loop goroutine.
func (r *Runner) Start() error {
	if r.stopping.Load() {
		return ErrRunnerStopped
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	go r.pinnedRun()
	return nil
}

// pinnedRun starts the loop on a thread bound to the configured CPU. The
// goroutine exits locked so the bound thread is discarded.
func (r *Runner) pinnedRun() {
	if r.cpu >= 0 {
		if err := affinity.Pin(r.cpu); err != nil {
			r.log.Warn("cpu pinning failed", zap.Int("cpu", r.cpu), zap.Error(err))
		}
	}
	r.run()
}

// Stop ends the loop and closes the poller. Channels still registered are
// dropped without events.
func (r *Runner) Stop(ctx context.Context) error {
	if !r.stopping.CompareAndSwap(false, true) {
		return r.wait(ctx)
	}
	if !r.started.Load() {
		err := r.poller.Close()
		close(r.done)
		return err
	}
	r.wakeup()
	return r.wait(ctx)
}

func (r *Runner) wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Register queues ch for polling with the given interest.
func (r *Runner) Register(ch Channel, interest api.Interest) *Key {
	k := &Key{runner: r, ch: ch, fd: ch.FD(), token: r.nextToken.Add(1)}
	k.interest.Store(uint32(interest))
	if a, ok := ch.(Attacher); ok {
		a.Attach(k)
	}
	r.live.Add(1)
	r.enqueue(op{kind: opRegister, key: k})
	return k
}

func (r *Runner) enqueue(o op) {
	r.mu.Lock()
	r.ops.Add(o)
	r.mu.Unlock()
	r.wakeup()
}

func (r *Runner) wakeup() {
	if r.wakePending.CompareAndSwap(false, true) {
		if err := r.poller.Wake(); err != nil && !errors.Is(err, ErrPollerClosed) {
			r.log.Warn("poller wake failed", zap.Error(err))
		}
	}
}

// run is the loop body. It returns when the runner stops or when the loop
// was handed to another goroutine.
func (r *Runner) run() {
	for {
		for r.next < len(r.pending) {
			f := r.pending[r.next]
			r.pending[r.next] = fired{}
			r.next++
			r.fire(f)
			if task := r.handoff; task != nil {
				r.handoff = nil
				if r.exec != nil && r.exec.TrySubmit(r.lead) {
					r.handoffs.Add(1)
					r.runTask(task)
					return
				}
				r.runTask(task)
			}
		}
		r.pending = r.pending[:0]
		r.next = 0

		r.wakePending.Store(false)
		r.drainOps()
		if r.stopping.Load() {
			r.shutdown()
			return
		}

		r.waiting.Add(1)
		n, err := r.poller.Wait(r.batch, r.selectTimeout)
		r.waiting.Add(-1)
		if err != nil {
			if errors.Is(err, ErrPollerClosed) {
				r.shutdown()
				return
			}
			r.log.Error("poller wait failed", zap.Error(err))
			continue
		}
		r.expand(n)
	}
}

// expand turns readiness into events against the applied interest.
func (r *Runner) expand(n int) {
	for _, pe := range r.batch[:n] {
		k, ok := r.keys[pe.Token]
		if !ok || k.Cancelled() {
			continue
		}
		var evs [2]api.IOEvent
		for _, ev := range eventsFor(pe.Ready, k.applied, evs[:0]) {
			r.pending = append(r.pending, fired{key: k, ev: ev})
		}
	}
}

// eventsFor maps readiness to events. Errors and hangups surface through a
// read when read interest is set, otherwise as Closed.
func eventsFor(ready Readiness, applied api.Interest, out []api.IOEvent) []api.IOEvent {
	mapped := false
	if ready&(ReadyRead|ReadyHangup|ReadyError) != 0 {
		switch {
		case applied&api.InterestAccept != 0:
			out = append(out, api.EventAccepted)
			mapped = true
		case applied&api.InterestRead != 0:
			out = append(out, api.EventRead)
			mapped = true
		}
	}
	if ready&(ReadyWrite|ReadyError) != 0 {
		switch {
		case applied&api.InterestConnect != 0:
			out = append(out, api.EventConnected)
			mapped = true
		case applied&api.InterestWrite != 0 && ready&ReadyWrite != 0:
			out = append(out, api.EventWrite)
			mapped = true
		}
	}
	if !mapped && ready&(ReadyHangup|ReadyError) != 0 {
		out = append(out, api.EventClosed)
	}
	return out
}

func (r *Runner) fire(f fired) {
	if f.key.Cancelled() {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("channel fire panicked",
				zap.Stringer("event", f.ev), zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	f.key.ch.Fire(r.loop, f.ev)
}

func (r *Runner) runTask(task func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("postponed task panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	task()
}

func (r *Runner) drainOps() {
	r.mu.Lock()
	for r.ops.Length() > 0 {
		r.scratch = append(r.scratch, r.ops.Remove().(op))
	}
	r.mu.Unlock()

	for i, o := range r.scratch {
		r.apply(o)
		r.scratch[i] = op{}
	}
	r.scratch = r.scratch[:0]
}

func (r *Runner) apply(o op) {
	k := o.key
	switch o.kind {
	case opRegister:
		if k.Cancelled() {
			return
		}
		want := k.Interest()
		if err := r.poller.Add(k.fd, k.token, want); err != nil {
			r.log.Warn("register failed", zap.Int("fd", k.fd), zap.Error(err))
			k.cancelled.Store(true)
			r.live.Add(-1)
			if h, ok := k.ch.(RegistrationErrorHandler); ok {
				h.OnRegisterError(err)
			}
			return
		}
		k.applied = want
		k.registered = true
		r.keys[k.token] = k

	case opUpdate:
		if !k.registered || k.Cancelled() {
			return
		}
		want := k.Interest()
		if want == k.applied {
			return
		}
		if err := r.poller.Modify(k.fd, k.token, want); err != nil {
			r.log.Debug("interest update failed", zap.Int("fd", k.fd), zap.Error(err))
			return
		}
		k.applied = want

	case opCancel:
		if !k.registered {
			return
		}
		k.registered = false
		delete(r.keys, k.token)
		if err := r.poller.Remove(k.fd); err != nil {
			r.log.Debug("deregister failed", zap.Int("fd", k.fd), zap.Error(err))
		}
	}
}

func (r *Runner) shutdown() {
	r.drainOps()
	for token, k := range r.keys {
		k.cancelled.Store(true)
		delete(r.keys, token)
	}
	r.live.Store(0)
	if err := r.poller.Close(); err != nil {
		r.log.Warn("poller close failed", zap.Error(err))
	}
	r.log.Debug("runner stopped")
	close(r.done)
}

// Loop is handed to channels while they fire.
type Loop struct {
	r *Runner
}

// Runner returns the runner driving the loop.
func (l *Loop) Runner() *Runner { return l.r }

// Postpone runs task after the current event, on the current goroutine,
// once the loop has been handed to a pool worker. If the pool refuses the
// loop, task runs inline and the loop continues afterwards. Calls made
// during one Fire run in order.
func (l *Loop) Postpone(task func()) {
	if prev := l.r.handoff; prev != nil {
		l.r.handoff = func() { prev(); task() }
		return
	}
	l.r.handoff = task
}

// Key is a channel's registration with a runner.
type Key struct {
	runner    *Runner
	ch        Channel
	fd        int
	token     uint64
	interest  atomic.Uint32
	cancelled atomic.Bool

	// Loop-owned.
	applied    api.Interest
	registered bool
}

func (k *Key) Runner() *Runner  { return k.runner }
func (k *Key) Channel() Channel { return k.ch }
func (k *Key) Token() uint64    { return k.token }
func (k *Key) Cancelled() bool  { return k.cancelled.Load() }

// Interest returns the wanted interest set.
func (k *Key) Interest() api.Interest { return api.Interest(k.interest.Load()) }

// SetInterest replaces the interest set.
func (k *Key) SetInterest(i api.Interest) {
	if api.Interest(k.interest.Swap(uint32(i))) != i {
		k.Update()
	}
}

// Enable adds bits to the interest set. It reports whether anything
// changed.
func (k *Key) Enable(i api.Interest) bool {
	for {
		cur := k.interest.Load()
		next := cur | uint32(i)
		if next == cur {
			return false
		}
		if k.interest.CompareAndSwap(cur, next) {
			k.Update()
			return true
		}
	}
}

// Disable removes bits from the interest set. It reports whether anything
// changed.
func (k *Key) Disable(i api.Interest) bool {
	for {
		cur := k.interest.Load()
		next := cur &^ uint32(i)
		if next == cur {
			return false
		}
		if k.interest.CompareAndSwap(cur, next) {
			k.Update()
			return true
		}
	}
}

// Update asks the runner to apply the current interest set.
func (k *Key) Update() {
	if k.Cancelled() {
		return
	}
	k.runner.enqueue(op{kind: opUpdate, key: k})
}

// Cancel removes the registration. No events fire for the channel after
// Cancel returns, except one already being delivered.
func (k *Key) Cancel() {
	if !k.cancelled.CompareAndSwap(false, true) {
		return
	}
	k.runner.live.Add(-1)
	k.runner.enqueue(op{kind: opCancel, key: k})
}
