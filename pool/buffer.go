// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contiguous buffer handle over a pooled block.

package pool

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
)

// heapBuffer is one handle over blk.data[off : off+capacity].
type heapBuffer struct {
	mgr      *Manager
	blk      *block
	off      int
	capacity int
	pos      int
	lim      int
	released atomic.Bool
}

var _ api.Buffer = (*heapBuffer)(nil)

func newHeapBuffer(m *Manager, blk *block, off, capacity int) *heapBuffer {
	return &heapBuffer{mgr: m, blk: blk, off: off, capacity: capacity, lim: capacity}
}

func (b *heapBuffer) live() {
	if b.released.Load() {
		panic(api.ErrBufferReleased)
	}
}

func (b *heapBuffer) view() []byte {
	return b.blk.data[b.off : b.off+b.capacity : b.off+b.capacity]
}

func (b *heapBuffer) Read(p []byte) (int, error) {
	b.live()
	if len(p) == 0 {
		return 0, nil
	}
	if b.pos >= b.lim {
		return 0, io.EOF
	}
	n := copy(p, b.view()[b.pos:b.lim])
	b.pos += n
	return n, nil
}

func (b *heapBuffer) ReadByte() (byte, error) {
	b.live()
	if b.pos >= b.lim {
		return 0, io.EOF
	}
	c := b.blk.data[b.off+b.pos]
	b.pos++
	return c, nil
}

// Write copies p at the position. Nothing is written if p does not fit.
func (b *heapBuffer) Write(p []byte) (int, error) {
	b.live()
	if len(p) > b.lim-b.pos {
		return 0, api.ErrBufferOverflow
	}
	n := copy(b.view()[b.pos:b.lim], p)
	b.pos += n
	return n, nil
}

func (b *heapBuffer) WriteByte(c byte) error {
	b.live()
	if b.pos >= b.lim {
		return api.ErrBufferOverflow
	}
	b.blk.data[b.off+b.pos] = c
	b.pos++
	return nil
}

func (b *heapBuffer) Capacity() int { return b.capacity }
func (b *heapBuffer) Position() int { return b.pos }
func (b *heapBuffer) Limit() int    { return b.lim }

func (b *heapBuffer) SetPosition(pos int) {
	b.live()
	if pos < 0 || pos > b.lim {
		panic(fmt.Sprintf("pool: position %d out of range [0,%d]", pos, b.lim))
	}
	b.pos = pos
}

func (b *heapBuffer) SetLimit(limit int) {
	b.live()
	if limit < 0 || limit > b.capacity {
		panic(fmt.Sprintf("pool: limit %d out of range [0,%d]", limit, b.capacity))
	}
	b.lim = limit
	if b.pos > limit {
		b.pos = limit
	}
}

func (b *heapBuffer) Remaining() int     { return b.lim - b.pos }
func (b *heapBuffer) HasRemaining() bool { return b.pos < b.lim }

func (b *heapBuffer) Flip() {
	b.lim = b.pos
	b.pos = 0
}

func (b *heapBuffer) Clear() {
	b.pos = 0
	b.lim = b.capacity
}

func (b *heapBuffer) Compact() {
	b.live()
	v := b.view()
	n := copy(v, v[b.pos:b.lim])
	b.pos = n
	b.lim = b.capacity
}

func (b *heapBuffer) Bytes() []byte {
	b.live()
	return b.view()[b.pos:b.lim]
}

func (b *heapBuffer) Copy() []byte {
	b.live()
	out := make([]byte, b.lim-b.pos)
	copy(out, b.view()[b.pos:b.lim])
	return out
}

func (b *heapBuffer) retain(off, capacity int) *heapBuffer {
	b.blk.refs.Add(1)
	return newHeapBuffer(b.mgr, b.blk, off, capacity)
}

func (b *heapBuffer) Slice(from, to int) api.Buffer {
	b.live()
	if from < 0 || to < from || to > b.capacity {
		panic(fmt.Sprintf("pool: slice [%d:%d] out of range [0,%d]", from, to, b.capacity))
	}
	return b.retain(b.off+from, to-from)
}

func (b *heapBuffer) Split(index int) api.Buffer {
	b.live()
	if index < 0 || index > b.capacity {
		panic(fmt.Sprintf("pool: split %d out of range [0,%d]", index, b.capacity))
	}
	tail := b.retain(b.off+index, b.capacity-index)
	tail.pos = max(b.pos-index, 0)
	tail.lim = max(b.lim-index, 0)
	b.capacity = index
	b.pos = min(b.pos, index)
	b.lim = min(b.lim, index)
	return tail
}

func (b *heapBuffer) Share() api.Buffer {
	b.live()
	s := b.retain(b.off, b.capacity)
	s.pos, s.lim = b.pos, b.lim
	return s
}

func (b *heapBuffer) RefCount() int32 { return b.blk.refs.Load() }

func (b *heapBuffer) Release() bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	if b.blk.refs.Add(-1) == 0 {
		b.mgr.recycle(b.blk)
	}
	return true
}

// tryResize changes the view size in place when this is the only handle and
// the block has room. A limit at capacity follows the new capacity.
func (b *heapBuffer) tryResize(size int) bool {
	b.live()
	if b.blk.refs.Load() != 1 || b.off+size > len(b.blk.data) {
		return false
	}
	if b.lim == b.capacity || b.lim > size {
		b.lim = size
	}
	b.pos = min(b.pos, b.lim)
	b.capacity = size
	return true
}

func (b *heapBuffer) String() string {
	return fmt.Sprintf("heapBuffer[pos=%d lim=%d cap=%d refs=%d]", b.pos, b.lim, b.capacity, b.RefCount())
}
