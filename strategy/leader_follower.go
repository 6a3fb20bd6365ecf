// File: strategy/leader_follower.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package strategy

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
)

// LeaderFollower processes the event on the goroutine that polled it after
// promoting a pool worker to lead the runner loop. When no worker is free
// the event is processed inline before the loop continues. Closed and
// events fired outside a loop are processed inline.
type LeaderFollower struct {
	base
}

func NewLeaderFollower(opts ...Option) *LeaderFollower {
	return &LeaderFollower{base: newBase(KindLeaderFollower.String(), opts)}
}

func (l *LeaderFollower) Execute(loop *reactor.Loop, conn api.Connection, ev api.IOEvent, fire FireFunc) error {
	if loop == nil || ev == api.EventClosed {
		l.run(conn, ev, pausing{}, fire)
		return nil
	}
	if bit := ev.Interest(); bit != 0 {
		conn.DisableInterest(bit)
	}
	loop.Postpone(func() { l.run(conn, ev, restoring{}, fire) })
	return nil
}
