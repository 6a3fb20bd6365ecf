// Package api
// Author: momentics
//
// Reference-counted, cursor-based memory buffers and the pooled memory
// manager that hands them out.

package api

import "io"

// Buffer is a view over pooled memory with position/limit/capacity cursors.
//
// Every Buffer value is a handle owned by exactly one holder. Share creates a
// second handle over the same memory and bumps the reference count; the
// underlying block goes back to its pool only after the last handle has been
// released. Using a handle after Release panics with ErrBufferReleased.
type Buffer interface {
	io.Reader
	io.ByteReader
	io.Writer
	io.ByteWriter

	// Capacity is the size of the view.
	Capacity() int
	Position() int
	SetPosition(pos int)
	Limit() int
	SetLimit(limit int)
	// Remaining is Limit() - Position().
	Remaining() int
	HasRemaining() bool

	// Flip sets limit to position and position to zero.
	Flip()
	// Clear resets position to zero and limit to capacity.
	Clear()
	// Compact moves the remaining bytes to the front and prepares for writing.
	Compact()

	// Bytes returns the bytes between position and limit. For contiguous
	// buffers the slice aliases the buffer memory; composites return a copy.
	Bytes() []byte
	// Copy returns a standalone copy of the bytes between position and limit.
	Copy() []byte

	// Slice returns a new handle over [from, to) of this view, sharing memory.
	Slice(from, to int) Buffer
	// Split shrinks this view to [0, index) and returns a new handle over
	// [index, capacity). Cursors are carried over to whichever side they fall.
	Split(index int) Buffer
	// Share returns a new handle with the same view and cursors.
	Share() Buffer

	// RefCount reports the number of live handles over the memory block.
	RefCount() int32
	// Release drops this handle. It reports false if the handle was already
	// released.
	Release() bool
}

// MemoryManager allocates pooled buffers.
type MemoryManager interface {
	// Allocate returns a buffer of exactly size capacity, or ErrOutOfMemory.
	Allocate(size int) (Buffer, error)
	// Reallocate returns a buffer of the new size holding the old content;
	// the old handle is consumed.
	Reallocate(buf Buffer, size int) (Buffer, error)
	// Release is equivalent to buf.Release().
	Release(buf Buffer)
	// Wrap exposes an existing slice as an unpooled Buffer.
	Wrap(p []byte) Buffer
	// Stats exposes allocation accounting.
	Stats() MemoryStats
}

// MemoryStats aggregates buffer allocation/reuse stats.
type MemoryStats struct {
	Allocated   int64 // fresh allocations
	PoolHits    int64 // allocations served from a pool
	Released    int64 // blocks returned to a pool
	Dropped     int64 // blocks discarded instead of pooled
	InUse       int64 // blocks with live handles
	RetainedLen int64 // bytes currently held in pools
}
