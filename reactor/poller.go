// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller contract.

package reactor

import (
	"errors"
	"time"

	"github.com/momentics/hioload-nio/api"
)

// ErrPollerClosed is returned by a poller after Close.
var ErrPollerClosed = errors.New("reactor: poller closed")

// Readiness is what the OS reported for a descriptor.
type Readiness uint8

const (
	ReadyRead Readiness = 1 << iota
	ReadyWrite
	ReadyHangup
	ReadyError
)

func (r Readiness) String() string {
	if r == 0 {
		return "NONE"
	}
	s := ""
	for _, p := range []struct {
		bit  Readiness
		name string
	}{{ReadyRead, "R"}, {ReadyWrite, "W"}, {ReadyHangup, "HUP"}, {ReadyError, "ERR"}} {
		if r&p.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += p.name
		}
	}
	return s
}

// PollEvent pairs a registration token with its readiness.
type PollEvent struct {
	Token uint64
	Ready Readiness
}

// Poller is a level-triggered readiness source. Token 0 is reserved for the
// poller's own wakeup and is never reported.
type Poller interface {
	// Add registers fd under token for the readiness implied by interest.
	Add(fd int, token uint64, interest api.Interest) error
	Modify(fd int, token uint64, interest api.Interest) error
	// Remove unregisters fd. Removing an fd that is already gone is not an
	// error.
	Remove(fd int) error
	// Wait fills events and returns how many were written. A negative
	// timeout blocks until an event or a Wake. Interrupted waits return 0.
	Wait(events []PollEvent, timeout time.Duration) (int, error)
	// Wake makes a blocked or the next Wait return promptly.
	Wake() error
	Close() error
}
