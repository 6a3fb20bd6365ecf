// File: transform/result.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transform

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

// Status tags the outcome of one Transform call.
type Status int

const (
	Completed Status = iota + 1
	Incomplete
	Error
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "COMPLETED"
	case Incomplete:
		return "INCOMPLETE"
	case Error:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Result is the outcome of one Transform call. Remainder is the input itself
// when unconsumed bytes are left after a completed message; it is not a new
// handle.
type Result[O any] struct {
	Status    Status
	Message   O
	Remainder api.Buffer
	Err       error
}

// Complete builds a Completed result, recording input as the remainder when
// it still has bytes.
func Complete[O any](msg O, input api.Buffer) Result[O] {
	r := Result[O]{Status: Completed, Message: msg}
	if input != nil && input.HasRemaining() {
		r.Remainder = input
	}
	return r
}

// NeedMore builds an Incomplete result.
func NeedMore[O any]() Result[O] {
	return Result[O]{Status: Incomplete}
}

// Fail builds an Error result.
func Fail[O any](err error) Result[O] {
	return Result[O]{Status: Error, Err: err}
}

// Transformer converts I into O incrementally.
type Transformer[I, O any] interface {
	// Name identifies the transformer in logs and probes.
	Name() string
	// Transform consumes what it can from input and reports the outcome.
	// On Incomplete every consumed byte has been saved in store.
	Transform(store *attribute.Holder, input I) Result[O]
	// Release clears any partial state kept in store.
	Release(store *attribute.Holder)
	// HasInputRemaining reports whether input still holds unprocessed data.
	HasInputRemaining(store *attribute.Holder, input I) bool
}

// Decoder is a transformer reading from buffers.
type Decoder[O any] interface {
	Transformer[api.Buffer, O]
}

// bufferRemaining is the common HasInputRemaining for buffer inputs.
func bufferRemaining(input api.Buffer) bool {
	return input != nil && input.HasRemaining()
}
