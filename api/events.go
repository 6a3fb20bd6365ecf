// File: api/events.go
// Package api defines core event types for hioload-nio.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "strings"

// IOEvent is a readiness or lifecycle notification for a Connection.
// It carries no payload; the connection and its buffers do.
type IOEvent uint8

const (
	EventRead IOEvent = iota + 1
	EventWrite
	EventAccepted
	EventConnected
	EventClosed
)

func (e IOEvent) String() string {
	switch e {
	case EventRead:
		return "READ"
	case EventWrite:
		return "WRITE"
	case EventAccepted:
		return "ACCEPTED"
	case EventConnected:
		return "CONNECTED"
	case EventClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Interest returns the interest bit whose delivery is paused while the event
// is being processed and restored once processing completes. Accepted and
// Connected restore READ, the first interest of a fresh connection.
func (e IOEvent) Interest() Interest {
	switch e {
	case EventRead, EventAccepted, EventConnected:
		return InterestRead
	case EventWrite:
		return InterestWrite
	}
	return 0
}

// Interest is a set of event kinds a channel is registered for.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
	InterestAccept
	InterestConnect
	InterestClose

	InterestAll = InterestRead | InterestWrite | InterestAccept | InterestConnect | InterestClose
)

// InterestOf maps an event to the interest bit that declares it.
func InterestOf(e IOEvent) Interest {
	switch e {
	case EventRead:
		return InterestRead
	case EventWrite:
		return InterestWrite
	case EventAccepted:
		return InterestAccept
	case EventConnected:
		return InterestConnect
	case EventClosed:
		return InterestClose
	}
	return 0
}

// Has reports whether all bits of o are set.
func (i Interest) Has(o Interest) bool { return o != 0 && i&o == o }

func (i Interest) String() string {
	if i == 0 {
		return "NONE"
	}
	var parts []string
	for _, p := range []struct {
		bit  Interest
		name string
	}{
		{InterestRead, "READ"},
		{InterestWrite, "WRITE"},
		{InterestAccept, "ACCEPT"},
		{InterestConnect, "CONNECT"},
		{InterestClose, "CLOSE"},
	} {
		if i&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}
