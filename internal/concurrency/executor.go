// File: internal/concurrency/executor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkerPool runs tasks on a core set of goroutines that can burst up to a
// maximum when the queue is full. Burst workers retire after an idle period.
// Resize adjusts the core count at runtime; surplus workers retire as soon as
// they are idle.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
)

// RejectPolicy decides what Submit does when the queue is full and no more
// workers may be started.
type RejectPolicy int

const (
	// RejectCallerRuns runs the task on the submitting goroutine.
	RejectCallerRuns RejectPolicy = iota
	// RejectAbort returns ErrResourceExhausted.
	RejectAbort
	// RejectBlock waits for queue space.
	RejectBlock
)

func (p RejectPolicy) String() string {
	switch p {
	case RejectCallerRuns:
		return "caller-runs"
	case RejectAbort:
		return "abort"
	case RejectBlock:
		return "block"
	}
	return "unknown"
}

// PoolConfig configures a WorkerPool.
type PoolConfig struct {
	CoreWorkers int
	MaxWorkers  int
	QueueSize   int
	KeepAlive   time.Duration
	Policy      RejectPolicy
	Logger      *zap.Logger
}

// DefaultPoolConfig sizes the pool from the CPU count.
func DefaultPoolConfig() PoolConfig {
	n := runtime.NumCPU()
	return PoolConfig{
		CoreWorkers: n,
		MaxWorkers:  n * 4,
		QueueSize:   n * 64,
		KeepAlive:   30 * time.Second,
		Policy:      RejectCallerRuns,
	}
}

// PoolStats is a point-in-time view of pool activity.
type PoolStats struct {
	Workers   int
	Core      int
	Max       int
	Queued    int
	Submitted uint64
	Completed uint64
	Rejected  uint64
	Panics    uint64
}

// WorkerPool implements api.Executor.
type WorkerPool struct {
	tasks chan func()
	// handoff is unbuffered: a send succeeds only when an idle worker takes it.
	handoff   chan func()
	keepAlive time.Duration
	policy    RejectPolicy
	log       *zap.Logger

	mu      sync.Mutex
	core    int
	max     int
	running int
	resized chan struct{}

	// gate orders Submit against Close so no task lands after workers drain.
	gate    sync.RWMutex
	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64

	probes control.ProbeSet[api.ExecutorProbe]
}

var _ api.Executor = (*WorkerPool)(nil)

// NewWorkerPool starts cfg.CoreWorkers goroutines.
func NewWorkerPool(cfg PoolConfig) (*WorkerPool, error) {
	def := DefaultPoolConfig()
	if cfg.CoreWorkers < 0 || cfg.MaxWorkers < 0 || cfg.QueueSize < 0 {
		return nil, ErrInvalidWorkerCount
	}
	if cfg.CoreWorkers == 0 {
		cfg.CoreWorkers = def.CoreWorkers
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	p := &WorkerPool{
		tasks:     make(chan func(), cfg.QueueSize),
		handoff:   make(chan func()),
		keepAlive: cfg.KeepAlive,
		policy:    cfg.Policy,
		log:       cfg.Logger.Named("workers"),
		core:      cfg.CoreWorkers,
		max:       cfg.MaxWorkers,
		resized:   make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
	p.mu.Lock()
	for i := 0; i < p.core; i++ {
		p.spawnLocked(nil)
	}
	p.mu.Unlock()
	return p, nil
}

// AddProbe registers executor observers.
func (p *WorkerPool) AddProbe(probes ...api.ExecutorProbe) { p.probes.Add(probes...) }

// Submit enqueues a task. Returns ErrExecutorClosed after Close.
func (p *WorkerPool) Submit(task func()) error {
	if task == nil {
		return api.ErrInvalidArgument
	}
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed.Load() {
		return ErrExecutorClosed
	}
	if p.offer(task) {
		return nil
	}
	switch p.policy {
	case RejectCallerRuns:
		p.submitted.Add(1)
		p.execute(task)
		return nil
	case RejectBlock:
		select {
		case p.tasks <- task:
			p.submitted.Add(1)
			return nil
		case <-p.closeCh:
			return ErrExecutorClosed
		}
	}
	return p.reject()
}

// TrySubmit starts task right away on an idle worker or on a new burst
// worker. It never queues, never runs task inline and never blocks.
func (p *WorkerPool) TrySubmit(task func()) bool {
	if task == nil {
		return false
	}
	p.gate.RLock()
	defer p.gate.RUnlock()
	if p.closed.Load() {
		return false
	}
	select {
	case p.handoff <- task:
		p.submitted.Add(1)
		return true
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running < p.max {
		p.submitted.Add(1)
		p.spawnLocked(task)
		return true
	}
	p.rejected.Add(1)
	return false
}

// offer queues task or starts a burst worker for it. Callers hold gate.
func (p *WorkerPool) offer(task func()) bool {
	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return true
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running >= p.max {
		return false
	}
	p.submitted.Add(1)
	p.spawnLocked(task)
	return true
}

func (p *WorkerPool) reject() error {
	p.rejected.Add(1)
	err := api.NewError(api.ErrCodeResourceExhausted, "worker pool saturated").
		WithContext("max_workers", p.max).
		WithContext("queue_size", cap(p.tasks))
	p.probes.Notify(func(pr api.ExecutorProbe) { pr.OnTaskRejected(err) })
	return err
}

// spawnLocked starts one worker. Callers hold mu.
func (p *WorkerPool) spawnLocked(first func()) {
	p.running++
	p.wg.Add(1)
	go p.work(first)
}

// retire reports whether the calling worker should exit, accounting for it.
func (p *WorkerPool) retire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running > p.core {
		p.running--
		return true
	}
	return false
}

func (p *WorkerPool) resizeSignal() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resized
}

func (p *WorkerPool) work(first func()) {
	defer p.wg.Done()
	if first != nil {
		p.execute(first)
	}
	idle := time.NewTimer(p.keepAlive)
	defer idle.Stop()
	for {
		resized := p.resizeSignal()
		select {
		case task := <-p.tasks:
			p.execute(task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.keepAlive)
		case task := <-p.handoff:
			p.execute(task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.keepAlive)
		case <-resized:
			if p.retire() {
				return
			}
		case <-idle.C:
			if p.retire() {
				return
			}
			idle.Reset(p.keepAlive)
		case <-p.closeCh:
			p.drain()
			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			return
		}
	}
}

func (p *WorkerPool) drain() {
	for {
		select {
		case task := <-p.tasks:
			p.execute(task)
		default:
			return
		}
	}
}

func (p *WorkerPool) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		p.completed.Add(1)
	}()
	task()
}

// Resize dynamically scales the core worker count and raises the maximum
// when needed.
func (p *WorkerPool) Resize(newCount int) {
	if newCount <= 0 {
		newCount = 1
	}
	if p.closed.Load() {
		return
	}
	p.mu.Lock()
	p.core = newCount
	if p.max < newCount {
		p.max = newCount
	}
	for p.running < p.core {
		p.spawnLocked(nil)
	}
	close(p.resized)
	p.resized = make(chan struct{})
	p.mu.Unlock()

	p.log.Info("worker pool resized", zap.Int("core", newCount))
	p.probes.Notify(func(pr api.ExecutorProbe) { pr.OnPoolResize(newCount) })
}

// Close stops accepting tasks, runs what is queued and waits for workers.
func (p *WorkerPool) Close() {
	p.gate.Lock()
	if p.closed.Load() {
		p.gate.Unlock()
		return
	}
	p.closed.Store(true)
	p.gate.Unlock()
	close(p.closeCh)
	p.wg.Wait()
}

// NumWorkers returns active worker count.
func (p *WorkerPool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns current counters.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	s := PoolStats{Workers: p.running, Core: p.core, Max: p.max}
	p.mu.Unlock()
	s.Queued = len(p.tasks)
	s.Submitted = p.submitted.Load()
	s.Completed = p.completed.Load()
	s.Rejected = p.rejected.Load()
	s.Panics = p.panics.Load()
	return s
}
