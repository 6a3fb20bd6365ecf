// File: pool/slab_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size block free list for one size class.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-nio/internal/concurrency"
)

// block is the pooled unit of memory. refs counts live handles.
type block struct {
	data  []byte
	refs  atomic.Int32
	class *slabPool
}

// slabPool keeps free blocks of one class size.
type slabPool struct {
	size  int
	queue *concurrency.LockFreeQueue[*block]
}

func newSlabPool(size, capacity int) *slabPool {
	return &slabPool{
		size:  size,
		queue: concurrency.NewLockFreeQueue[*block](capacity),
	}
}

func (sp *slabPool) get() (*block, bool) {
	return sp.queue.Dequeue()
}

func (sp *slabPool) put(b *block) bool {
	return sp.queue.Enqueue(b)
}

func (sp *slabPool) len() int {
	return sp.queue.Len()
}
