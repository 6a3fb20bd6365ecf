// File: filterchain/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filterchain

import (
	"github.com/momentics/hioload-nio/api"
)

// Filter is one stage of a chain. Filters are shared by all connections and
// keep per-connection state in the connection's attribute store.
type Filter interface {
	HandleAccept(ctx *Context) (NextAction, error)
	HandleConnect(ctx *Context) (NextAction, error)
	HandleRead(ctx *Context) (NextAction, error)
	HandleWrite(ctx *Context) (NextAction, error)
	HandleClose(ctx *Context) (NextAction, error)
	// ExceptionOccurred is called on every filter when processing fails.
	ExceptionOccurred(ctx *Context, err error)
}

// Interested is implemented by filters that handle only some events. A
// chain fires an event only if at least one filter declares it; filters
// without the method are interested in everything.
type Interested interface {
	Interests() api.Interest
}

// BaseFilter continues on every event. Embed it and override what matters.
type BaseFilter struct{}

func (BaseFilter) HandleAccept(*Context) (NextAction, error)  { return Continue(), nil }
func (BaseFilter) HandleConnect(*Context) (NextAction, error) { return Continue(), nil }
func (BaseFilter) HandleRead(*Context) (NextAction, error)    { return Continue(), nil }
func (BaseFilter) HandleWrite(*Context) (NextAction, error)   { return Continue(), nil }
func (BaseFilter) HandleClose(*Context) (NextAction, error)   { return Continue(), nil }
func (BaseFilter) ExceptionOccurred(*Context, error)          {}

type actionKind uint8

const (
	actContinue actionKind = iota
	actStop
	actSuspend
	actRerun
)

// NextAction tells the chain what to do after a filter returns.
type NextAction struct {
	kind      actionKind
	remainder any
}

// Continue proceeds to the next filter.
func Continue() NextAction { return NextAction{kind: actContinue} }

// Stop ends the walk for this event.
func Stop() NextAction { return NextAction{kind: actStop} }

// ContinueWithRemainder proceeds to the next filter and, once the rest of
// the chain is done with the current message, runs the same filter again
// with remainder as its message. A read carrying several messages is
// processed this way.
func ContinueWithRemainder(remainder any) NextAction {
	return NextAction{kind: actRerun, remainder: remainder}
}

// IsSuspend reports whether the action parks the event.
func (a NextAction) IsSuspend() bool { return a.kind == actSuspend }

func (a NextAction) String() string {
	switch a.kind {
	case actContinue:
		return "CONTINUE"
	case actStop:
		return "STOP"
	case actSuspend:
		return "SUSPEND"
	case actRerun:
		return "CONTINUE_WITH_REMAINDER"
	}
	return "UNKNOWN"
}
