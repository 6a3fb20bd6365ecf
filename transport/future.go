// File: transport/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"sync"
)

// ConnectFuture completes when an outbound connection is established or
// failed.
type ConnectFuture struct {
	once sync.Once
	done chan struct{}
	conn *Connection
	err  error

	// pending is the connection being established, if any.
	pending *Connection
}

func newConnectFuture() *ConnectFuture {
	return &ConnectFuture{done: make(chan struct{})}
}

// Done is closed once the result is available.
func (f *ConnectFuture) Done() <-chan struct{} { return f.done }

// Result returns the outcome. It must be called after Done is closed.
func (f *ConnectFuture) Result() (*Connection, error) { return f.conn, f.err }

// Wait blocks until the connect completes or ctx ends. A cancelled wait
// closes the pending connection.
func (f *ConnectFuture) Wait(ctx context.Context) (*Connection, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		if f.pending != nil {
			_ = f.pending.CloseWithCause(ctx.Err())
		}
		return nil, ctx.Err()
	}
}

func (f *ConnectFuture) resolve(c *Connection) {
	f.once.Do(func() {
		f.conn = c
		close(f.done)
	})
}

func (f *ConnectFuture) fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
