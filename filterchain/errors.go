// File: filterchain/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filterchain

import "errors"

var (
	// ErrContextCancelled is returned by Resume after the connection closed
	// while the context was suspended.
	ErrContextCancelled = errors.New("filterchain: context cancelled")

	// ErrNotSuspended is returned by Resume on a context that is not parked.
	ErrNotSuspended = errors.New("filterchain: context not suspended")

	// ErrWriteSuspended is returned when a filter suspends an outbound
	// write. Writes cannot be parked.
	ErrWriteSuspended = errors.New("filterchain: write cannot be suspended")

	// ErrFilterPanic wraps a panic raised by a filter.
	ErrFilterPanic = errors.New("filterchain: filter panicked")
)
