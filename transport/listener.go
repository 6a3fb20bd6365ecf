// File: transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
)

// acceptBatch bounds the connections taken per readiness so one busy
// listener cannot starve its runner.
const acceptBatch = 64

// listener is a bound server socket.
type listener struct {
	t    *Transport
	fd   int
	addr net.Addr
	key  *reactor.Key

	closeOnce sync.Once
}

func (l *listener) FD() int { return l.fd }

func (l *listener) Attach(k *reactor.Key) { l.key = k }

func (l *listener) Fire(loop *reactor.Loop, ev api.IOEvent) {
	if ev != api.EventAccepted {
		l.t.log.Warn("unexpected listener event", zap.Stringer("event", ev), zap.Stringer("addr", l.addr))
		return
	}
	for i := 0; i < acceptBatch; i++ {
		fd, remote, err := acceptTCP(l.fd)
		if err != nil {
			l.t.log.Warn("accept failed", zap.Stringer("addr", l.addr), zap.Error(err))
			l.t.probes.Notify(func(p api.TransportProbe) { p.OnTransportError(err) })
			return
		}
		if fd < 0 {
			return
		}
		l.t.adopt(loop, fd, remote)
	}
}

func (l *listener) OnRegisterError(err error) {
	l.t.log.Error("listener registration failed", zap.Stringer("addr", l.addr), zap.Error(err))
	l.t.probes.Notify(func(p api.TransportProbe) { p.OnTransportError(err) })
}

func (l *listener) close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.key != nil {
			l.key.Cancel()
		}
		err = sysClose(l.fd)
	})
	return err
}
