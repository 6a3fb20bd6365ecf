// File: strategy/strategy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package strategy

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/reactor"
)

// ErrProcessingPanic wraps a panic that escaped event processing.
var ErrProcessingPanic = errors.New("strategy: panic during event processing")

// FireFunc processes one event. The default calls the connection's
// processor.
type FireFunc func(conn api.Connection, ev api.IOEvent, h api.ProcessingHandler)

// IOStrategy runs events for connections.
type IOStrategy interface {
	Name() string
	// Execute processes ev now or schedules it. loop is the runner loop the
	// event came from and may be nil outside a runner. fire may be nil.
	Execute(loop *reactor.Loop, conn api.Connection, ev api.IOEvent, fire FireFunc) error
}

// Kind names a strategy in configuration.
type Kind int

const (
	KindWorkerThread Kind = iota
	KindSameThread
	KindLeaderFollower
)

func (k Kind) String() string {
	switch k {
	case KindSameThread:
		return "same-thread"
	case KindWorkerThread:
		return "worker-thread"
	case KindLeaderFollower:
		return "leader-follower"
	}
	return "unknown"
}

// ParseKind accepts the names returned by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "same-thread", "same":
		return KindSameThread, nil
	case "worker-thread", "worker":
		return KindWorkerThread, nil
	case "leader-follower", "lf":
		return KindLeaderFollower, nil
	}
	return 0, fmt.Errorf("strategy: unknown kind %q: %w", s, api.ErrInvalidArgument)
}

// New builds the strategy of kind k. exec is ignored by SameThread.
func New(k Kind, exec api.Executor, opts ...Option) (IOStrategy, error) {
	switch k {
	case KindSameThread:
		return NewSameThread(opts...), nil
	case KindWorkerThread:
		if exec == nil {
			return nil, fmt.Errorf("strategy %s needs an executor: %w", k, api.ErrInvalidArgument)
		}
		return NewWorkerThread(exec, opts...), nil
	case KindLeaderFollower:
		return NewLeaderFollower(opts...), nil
	}
	return nil, fmt.Errorf("strategy: unknown kind %d: %w", k, api.ErrInvalidArgument)
}

// Option configures a strategy.
type Option func(*base)

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

// WithProbes registers connection probes notified of recovered panics.
func WithProbes(p ...api.ConnectionProbe) Option {
	return func(b *base) { b.probes.Add(p...) }
}

type base struct {
	name   string
	log    *zap.Logger
	probes control.ProbeSet[api.ConnectionProbe]
}

func newBase(name string, opts []Option) base {
	b := base{name: name, log: zap.NewNop()}
	for _, o := range opts {
		o(&b)
	}
	b.log = b.log.With(zap.String("strategy", name))
	return b
}

func (b *base) Name() string { return b.name }

func defaultFire(conn api.Connection, ev api.IOEvent, h api.ProcessingHandler) {
	conn.Processor().Process(conn, ev, h)
}

// run fires ev behind the panic boundary. A panic closes the connection.
func (b *base) run(conn api.Connection, ev api.IOEvent, h api.ProcessingHandler, fire FireFunc) {
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: %v", ErrProcessingPanic, p)
			b.log.Error("event processing panicked",
				zap.Uint64("conn_id", conn.ID()),
				zap.Stringer("event", ev),
				zap.Any("panic", p),
				zap.Stack("stack"))
			b.probes.Notify(func(cp api.ConnectionProbe) { cp.OnError(conn, err) })
			_ = conn.CloseWithCause(err)
		}
	}()
	if fire == nil {
		fire = defaultFire
	}
	fire(conn, ev, h)
}

// restoring re-enables the event's interest once processing completes.
type restoring struct{}

func (restoring) OnSuspend(api.Connection, api.IOEvent) {}

func (restoring) OnComplete(conn api.Connection, ev api.IOEvent) {
	if bit := ev.Interest(); bit != 0 {
		conn.EnableInterest(bit)
	}
}

// pausing disables the interest when the event suspends and restores it on
// completion.
type pausing struct{ restoring }

func (pausing) OnSuspend(conn api.Connection, ev api.IOEvent) {
	if bit := ev.Interest(); bit != 0 {
		conn.DisableInterest(bit)
	}
}
