// File: filterchain/transport_filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filterchain

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
)

// DefaultReadSize is the read chunk used when none is configured.
const DefaultReadSize = 8 << 10

// TransportFilter sits at index 0. It turns READ readiness into a buffer
// message and hands write walks to the connection.
type TransportFilter struct {
	BaseFilter
	readSize atomic.Int64
}

// NewTransportFilter uses DefaultReadSize when readSize is not positive.
func NewTransportFilter(readSize int) *TransportFilter {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	f := &TransportFilter{}
	f.readSize.Store(int64(readSize))
	return f
}

// ReadSize returns the per-read allocation.
func (f *TransportFilter) ReadSize() int { return int(f.readSize.Load()) }

// SetReadSize changes the allocation for subsequent reads. Values that are
// not positive are ignored.
func (f *TransportFilter) SetReadSize(n int) {
	if n > 0 {
		f.readSize.Store(int64(n))
	}
}

func (f *TransportFilter) HandleRead(ctx *Context) (NextAction, error) {
	conn := ctx.Connection()
	buf, err := conn.MemoryManager().Allocate(f.ReadSize())
	if err != nil {
		return Stop(), err
	}
	n, err := conn.Read(buf)
	switch {
	case err != nil && (errors.Is(err, io.EOF) || errors.Is(err, api.ErrPeerClosed)):
		buf.Release()
		_ = conn.CloseWithCause(api.ErrPeerClosed)
		return Stop(), nil
	case err != nil:
		buf.Release()
		return Stop(), err
	case n == 0:
		buf.Release()
		return Stop(), nil
	}
	buf.Flip()
	ctx.SetMessage(buf)
	return Continue(), nil
}

func (f *TransportFilter) HandleWrite(ctx *Context) (NextAction, error) {
	conn := ctx.Connection()
	var buf api.Buffer
	switch m := ctx.Message().(type) {
	case api.Buffer:
		buf = m
	case []byte:
		buf = conn.MemoryManager().Wrap(m)
	case string:
		buf = conn.MemoryManager().Wrap([]byte(m))
	default:
		return Stop(), fmt.Errorf("transport filter: cannot write %T: %w", m, api.ErrInvalidArgument)
	}
	if err := conn.Write(buf, ctx.CompletionHandler()); err != nil {
		return Stop(), err
	}
	return Stop(), nil
}

func (f *TransportFilter) Interests() api.Interest {
	return api.InterestRead | api.InterestWrite
}
