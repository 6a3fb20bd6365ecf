// File: transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-nio/affinity"
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/filterchain"
	"github.com/momentics/hioload-nio/internal/concurrency"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/reactor"
	"github.com/momentics/hioload-nio/strategy"
)

// ErrNotStarted is returned by operations that need running runners.
var ErrNotStarted = errors.New("transport not started")

type lifecycle uint8

const (
	stateNew lifecycle = iota
	stateRunning
	stateStopped
)

func (s lifecycle) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateRunning:
		return "running"
	}
	return "stopped"
}

// Transport is a TCP transport driven by selector runners.
type Transport struct {
	id       uuid.UUID
	cfg      Config
	log      *zap.Logger
	proc     api.Processor
	mem      api.MemoryManager
	ownMem   *pool.Manager
	workers  *concurrency.WorkerPool
	strategy strategy.IOStrategy
	debug    *control.DebugProbes

	connProbes control.ProbeSet[api.ConnectionProbe]
	probes     control.ProbeSet[api.TransportProbe]

	ids  atomic.Uint64
	next atomic.Uint64

	mu        sync.Mutex
	state     lifecycle
	runners   []*reactor.Runner
	listeners []*listener
	conns     map[uint64]*Connection
}

// New builds a transport from DefaultConfig and opts.
func New(opts ...Option) (*Transport, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig validates cfg and builds a transport. Nothing runs until
// Start.
func NewWithConfig(cfg Config) (*Transport, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		id:    uuid.New(),
		cfg:   cfg,
		proc:  cfg.Processor,
		mem:   cfg.Memory,
		debug: control.NewDebugProbes(),
		conns: make(map[uint64]*Connection),
	}
	t.log = cfg.Logger.Named("transport").With(zap.String("transport", t.id.String()))
	if t.mem == nil {
		t.ownMem = pool.NewManager()
		t.mem = t.ownMem
	}

	workers, err := concurrency.NewWorkerPool(concurrency.PoolConfig{
		CoreWorkers: cfg.CoreWorkers,
		MaxWorkers:  cfg.MaxWorkers,
		QueueSize:   cfg.QueueSize,
		Policy:      cfg.RejectPolicy,
		Logger:      t.log,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: worker pool: %w", err)
	}
	t.workers = workers

	t.strategy, err = strategy.New(cfg.Strategy, workers,
		strategy.WithLogger(t.log),
		strategy.WithProbes(connProbeForwarder{t}))
	if err != nil {
		workers.Close()
		return nil, err
	}
	for _, p := range cfg.Probes {
		if err := t.AddProbe(p); err != nil {
			workers.Close()
			return nil, err
		}
	}
	t.registerDebugProbes()
	return t, nil
}

// connProbeForwarder lets the strategy report into the transport's live
// probe set.
type connProbeForwarder struct{ t *Transport }

func (f connProbeForwarder) OnAccept(api.Connection)                       {}
func (f connProbeForwarder) OnConnect(api.Connection)                      {}
func (f connProbeForwarder) OnRead(api.Connection, int)                    {}
func (f connProbeForwarder) OnWrite(api.Connection, int)                   {}
func (f connProbeForwarder) OnIOEventReady(api.Connection, api.IOEvent)    {}
func (f connProbeForwarder) OnInterestChange(api.Connection, api.Interest) {}
func (f connProbeForwarder) OnClose(api.Connection)                        {}

func (f connProbeForwarder) OnError(c api.Connection, err error) {
	f.t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnError(c, err) })
}

// AddProbe registers p with every probe set whose interface it implements.
func (t *Transport) AddProbe(p any) error {
	matched := false
	if mp, ok := p.(api.MemoryProbe); ok {
		if pm, ok := t.mem.(*pool.Manager); ok {
			pm.AddProbe(mp)
			matched = true
		}
	}
	if cp, ok := p.(api.ConnectionProbe); ok {
		t.connProbes.Add(cp)
		matched = true
	}
	if tp, ok := p.(api.TransportProbe); ok {
		t.probes.Add(tp)
		matched = true
	}
	if ep, ok := p.(api.ExecutorProbe); ok {
		t.workers.AddProbe(ep)
		matched = true
	}
	if !matched {
		return fmt.Errorf("transport: %T implements no usable probe interface: %w", p, api.ErrInvalidArgument)
	}
	return nil
}

func (t *Transport) ID() uuid.UUID { return t.id }

// Strategy returns the I/O strategy in use.
func (t *Transport) Strategy() strategy.IOStrategy { return t.strategy }

// Executor returns the worker pool.
func (t *Transport) Executor() api.Executor { return t.workers }

func (t *Transport) MemoryManager() api.MemoryManager { return t.mem }

// Bind opens a listening socket on addr. The returned address carries the
// actual port. Listeners bound before Start begin accepting on Start.
func (t *Transport) Bind(addr string) (net.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateStopped {
		return nil, api.ErrTransportClosed
	}
	fd, bound, err := listenTCP(addr, t.cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	l := &listener{t: t, fd: fd, addr: bound}
	t.listeners = append(t.listeners, l)
	if t.state == stateRunning {
		t.runners[0].Register(l, api.InterestAccept)
	}
	t.log.Info("bound", zap.Stringer("addr", bound))
	return bound, nil
}

// Addrs returns the bound listener addresses.
func (t *Transport) Addrs() []net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]net.Addr, len(t.listeners))
	for i, l := range t.listeners {
		out[i] = l.addr
	}
	return out
}

// Start creates the runners and begins accepting on bound listeners.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case stateRunning:
		return api.ErrTransportStarted
	case stateStopped:
		return api.ErrTransportClosed
	}
	runners := make([]*reactor.Runner, 0, t.cfg.Runners)
	var startErr error
	for i := 0; i < t.cfg.Runners; i++ {
		p, err := reactor.NewPoller()
		if err != nil {
			startErr = err
			break
		}
		ropts := []reactor.RunnerOption{
			reactor.WithExecutor(t.workers),
			reactor.WithLogger(t.log),
			reactor.WithSelectTimeout(t.cfg.SelectTimeout),
			reactor.WithBatchSize(t.cfg.BatchSize),
		}
		if t.cfg.PinRunners {
			ropts = append(ropts, reactor.WithCPU(affinity.CPUFor(i)))
		}
		r := reactor.NewRunner(i, p, ropts...)
		if err := r.Start(); err != nil {
			_ = p.Close()
			startErr = err
			break
		}
		runners = append(runners, r)
	}
	if startErr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, r := range runners {
			startErr = multierr.Append(startErr, r.Stop(ctx))
		}
		t.probes.Notify(func(p api.TransportProbe) { p.OnTransportError(startErr) })
		return fmt.Errorf("transport: start: %w", startErr)
	}
	t.runners = runners
	for _, l := range t.listeners {
		runners[0].Register(l, api.InterestAccept)
	}
	t.state = stateRunning
	t.probes.Notify(func(p api.TransportProbe) { p.OnStart() })
	t.log.Info("started",
		zap.Stringer("strategy", t.cfg.Strategy),
		zap.Int("runners", len(runners)),
		zap.Int("workers", t.workers.NumWorkers()))
	return nil
}

// Stop closes listeners and connections, waits for their Closed events,
// then stops the runners and the worker pool. It is idempotent.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.state == stateStopped {
		t.mu.Unlock()
		return nil
	}
	wasRunning := t.state == stateRunning
	t.state = stateStopped
	listeners := t.listeners
	runners := t.runners
	conns := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.close())
	}
	for _, c := range conns {
		_ = c.CloseWithCause(api.ErrTransportClosed)
	}
	err = multierr.Append(err, waitClosed(ctx, conns))

	var g errgroup.Group
	for _, r := range runners {
		g.Go(func() error { return r.Stop(ctx) })
	}
	err = multierr.Append(err, g.Wait())

	t.workers.Close()
	if t.ownMem != nil {
		t.ownMem.Drain()
	}
	if wasRunning {
		t.probes.Notify(func(p api.TransportProbe) { p.OnStop() })
	}
	if err != nil {
		t.probes.Notify(func(p api.TransportProbe) { p.OnTransportError(err) })
	}
	t.log.Info("stopped", zap.Int("connections", len(conns)), zap.Error(err))
	return err
}

func waitClosed(ctx context.Context, conns []*Connection) error {
	for _, c := range conns {
		select {
		case <-c.closed:
		case <-ctx.Done():
			return fmt.Errorf("transport: waiting for connection %d: %w", c.id, ctx.Err())
		}
	}
	return nil
}

// Connect dials addr and waits until the connection is established.
func (t *Transport) Connect(ctx context.Context, addr string) (*Connection, error) {
	return t.ConnectAsync(addr).Wait(ctx)
}

// ConnectAsync starts dialing addr. The future resolves once the Connected
// event is about to be processed.
func (t *Transport) ConnectAsync(addr string) *ConnectFuture {
	f := newConnectFuture()
	t.mu.Lock()
	running := t.state == stateRunning
	t.mu.Unlock()
	if !running {
		f.fail(ErrNotStarted)
		return f
	}
	fd, remote, err := dialTCP(addr)
	if err != nil {
		f.fail(fmt.Errorf("transport: connect %s: %w", addr, err))
		return f
	}
	if err := tuneSocket(fd, &t.cfg); err != nil {
		t.log.Debug("socket tuning failed", zap.Error(err))
	}
	c := newConnection(t, fd, localAddr(fd), remote, api.StateConnecting)
	c.future = f
	f.pending = c
	t.pickRunner().Register(c, api.InterestConnect)
	if !t.track(c) {
		_ = c.CloseWithCause(api.ErrTransportClosed)
	}
	return f
}

// adopt registers an accepted socket and dispatches Accepted. Read
// interest is enabled when Accepted has been processed.
func (t *Transport) adopt(loop *reactor.Loop, fd int, remote net.Addr) {
	if err := tuneSocket(fd, &t.cfg); err != nil {
		t.log.Debug("socket tuning failed", zap.Error(err))
	}
	c := newConnection(t, fd, localAddr(fd), remote, api.StateOpen)
	t.pickRunner().Register(c, 0)
	if !t.track(c) {
		_ = c.CloseWithCause(api.ErrTransportClosed)
		return
	}
	t.connProbes.Notify(func(p api.ConnectionProbe) { p.OnAccept(c) })
	t.dispatch(loop, c, api.EventAccepted)
}

// dispatch hands ev to the strategy.
func (t *Transport) dispatch(loop *reactor.Loop, c *Connection, ev api.IOEvent) {
	if c.State() >= api.StateClosing {
		return
	}
	if !t.proc.InterestedIn(ev) {
		switch ev {
		case api.EventAccepted, api.EventConnected:
			c.EnableInterest(api.InterestRead)
		default:
			c.DisableInterest(ev.Interest())
		}
		return
	}
	if err := t.strategy.Execute(loop, c, ev, t.fire); err != nil {
		t.log.Warn("event dispatch failed",
			zap.Uint64("conn_id", c.id),
			zap.Stringer("event", ev),
			zap.Error(err))
		_ = c.CloseWithCause(err)
	}
}

// fire is the strategy callback. Closed events finish the connection once
// processed.
func (t *Transport) fire(conn api.Connection, ev api.IOEvent, h api.ProcessingHandler) {
	if ev == api.EventClosed {
		if c, ok := conn.(*Connection); ok {
			defer func() {
				if p := recover(); p != nil {
					c.finish()
					panic(p)
				}
			}()
			h = finalizer{h: h, c: c}
		}
	}
	t.proc.Process(conn, ev, h)
}

func (t *Transport) pickRunner() *reactor.Runner {
	t.mu.Lock()
	runners := t.runners
	t.mu.Unlock()
	return runners[int(t.next.Add(1)-1)%len(runners)]
}

func (t *Transport) track(c *Connection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateRunning {
		return false
	}
	t.conns[c.id] = c
	return true
}

func (t *Transport) forget(c *Connection) {
	t.mu.Lock()
	delete(t.conns, c.id)
	t.mu.Unlock()
}

// Connections returns the number of open connections.
func (t *Transport) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// WatchConfig applies store values now and on every reload: workers.core
// resizes the worker pool, idle.timeout and read.chunk retune matching
// filters of a filterchain processor.
func (t *Transport) WatchConfig(store *control.ConfigStore) {
	store.OnReload(func(changed map[string]any) { t.applyConfig(store, changed) })
	t.applyConfig(store, store.GetSnapshot())
}

type (
	timeoutTunable   interface{ SetTimeout(time.Duration) }
	readSizeTunable  interface{ SetReadSize(int) }
	filterCollection interface {
		Len() int
		Filter(i int) filterchain.Filter
	}
)

func (t *Transport) applyConfig(store *control.ConfigStore, changed map[string]any) {
	if _, ok := changed[control.KeyWorkersCore]; ok {
		if n, ok := store.GetInt(control.KeyWorkersCore); ok && n > 0 {
			t.workers.Resize(n)
			t.log.Info("worker pool resized", zap.Int("core", n))
		}
	}
	if _, ok := changed[control.KeyIdleTimeout]; ok {
		if d, ok := store.GetDuration(control.KeyIdleTimeout); ok && d > 0 {
			n := t.eachFilter(func(f filterchain.Filter) bool {
				tf, ok := f.(timeoutTunable)
				if ok {
					tf.SetTimeout(d)
				}
				return ok
			})
			t.log.Info("idle timeout updated", zap.Duration("timeout", d), zap.Int("filters", n))
		}
	}
	if _, ok := changed[control.KeyReadChunkSize]; ok {
		if size, ok := store.GetInt(control.KeyReadChunkSize); ok && size > 0 {
			n := t.eachFilter(func(f filterchain.Filter) bool {
				rf, ok := f.(readSizeTunable)
				if ok {
					rf.SetReadSize(size)
				}
				return ok
			})
			t.log.Info("read chunk updated", zap.Int("size", size), zap.Int("filters", n))
		}
	}
}

// eachFilter calls fn for every filter of the processor and returns how
// many calls reported true.
func (t *Transport) eachFilter(fn func(filterchain.Filter) bool) int {
	fc, ok := t.proc.(filterCollection)
	if !ok {
		return 0
	}
	n := 0
	for i := 0; i < fc.Len(); i++ {
		if fn(fc.Filter(i)) {
			n++
		}
	}
	return n
}

// Debug exposes the debug probe registry for custom entries.
func (t *Transport) Debug() *control.DebugProbes { return t.debug }

// DumpState evaluates every debug probe.
func (t *Transport) DumpState() map[string]any { return t.debug.DumpState() }

func (t *Transport) registerDebugProbes() {
	control.RegisterPlatformProbes(t.debug)
	t.debug.RegisterProbe("transport.id", func() any { return t.id.String() })
	t.debug.RegisterProbe("transport.state", func() any {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.state.String()
	})
	t.debug.RegisterProbe("transport.strategy", func() any { return t.strategy.Name() })
	t.debug.RegisterProbe("transport.connections", func() any { return t.Connections() })
	t.debug.RegisterProbe("transport.listeners", func() any {
		addrs := t.Addrs()
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = a.String()
		}
		return out
	})
	t.debug.RegisterProbe("reactor.runners", func() any {
		t.mu.Lock()
		runners := t.runners
		t.mu.Unlock()
		out := make([]map[string]any, len(runners))
		for i, r := range runners {
			out[i] = map[string]any{
				"id":       r.ID(),
				"channels": r.Len(),
				"waiting":  r.Waiting(),
				"handoffs": r.Handoffs(),
			}
		}
		return out
	})
	t.debug.RegisterProbe("workers", func() any { return t.workers.Stats() })
	t.debug.RegisterProbe("memory", func() any { return t.mem.Stats() })
}
