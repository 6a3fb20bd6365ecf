// Package filterchain
// Author: momentics <momentics@gmail.com>
//
// Ordered, stateless filter pipeline bound to connections as their
// api.Processor.
//
// A Chain is immutable and shared by every connection using it. Inbound
// events (Accepted, Connected, Read) walk the filters forward; writes walk
// backward from the filter that issued them down to the TransportFilter at
// index zero. Closed always reaches every filter.
//
// A filter may suspend an event by returning ctx.Suspend(). The context is
// parked until exactly one Resume continues the walk at the next filter,
// possibly on another goroutine. Closing a connection while an event is
// parked cancels the context; Resume then fails with ErrContextCancelled.
//
// Per connection at most one event is in progress. Events that arrive while
// one is running or parked are queued and run in order afterwards, and a
// Closed event arriving during processing runs once processing finishes.
package filterchain
