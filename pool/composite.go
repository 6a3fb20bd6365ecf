// File: pool/composite.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Composite concatenates buffer segments without copying. Position and limit
// are global over the concatenation.

package pool

import (
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
)

// Composite is an api.Buffer made of segments. Each segment is a handle the
// composite owns.
type Composite struct {
	segs     []api.Buffer
	starts   []int // starts[i] is the global offset of segs[i]
	capacity int
	pos      int
	lim      int
	released atomic.Bool
}

var _ api.Buffer = (*Composite)(nil)

// Compose takes ownership of bufs and concatenates their remaining bytes.
// Empty buffers are released; nested composites are flattened.
func Compose(bufs ...api.Buffer) *Composite {
	c := &Composite{}
	for _, b := range bufs {
		c.Append(b)
	}
	return c
}

func (c *Composite) live() {
	if c.released.Load() {
		panic(api.ErrBufferReleased)
	}
}

// Append takes ownership of b and adds its remaining bytes to the end. The
// limit moves with the capacity when it was at capacity.
func (c *Composite) Append(b api.Buffer) {
	c.live()
	if b == nil {
		return
	}
	atEnd := c.lim == c.capacity
	if !b.HasRemaining() {
		b.Release()
		return
	}
	if nested, ok := b.(*Composite); ok {
		sub := nested.Slice(nested.pos, nested.lim).(*Composite)
		nested.Release()
		for _, s := range sub.segs {
			c.push(s)
		}
		sub.segs = nil
		sub.released.Store(true)
	} else {
		s := b.Slice(b.Position(), b.Limit())
		b.Release()
		c.push(s)
	}
	if atEnd {
		c.lim = c.capacity
	}
}

func (c *Composite) push(s api.Buffer) {
	c.segs = append(c.segs, s)
	c.starts = append(c.starts, c.capacity)
	c.capacity += s.Capacity()
}

// Segments returns the number of segments.
func (c *Composite) Segments() int { return len(c.segs) }

// locate returns the segment holding global offset off and the offset
// within it. off == capacity maps past the last segment.
func (c *Composite) locate(off int) (int, int) {
	i := sort.Search(len(c.starts), func(i int) bool { return c.starts[i] > off }) - 1
	if i < 0 {
		return 0, off
	}
	return i, off - c.starts[i]
}

// segBytes returns the whole view of a segment. Segments are created by
// Slice or Share and keep position 0 and limit at capacity.
func segBytes(s api.Buffer) []byte {
	return s.Bytes()
}

// each calls fn with the raw bytes covering global [from, to).
func (c *Composite) each(from, to int, fn func(p []byte)) {
	if from >= to {
		return
	}
	i, off := c.locate(from)
	for remaining := to - from; remaining > 0 && i < len(c.segs); i++ {
		raw := segBytes(c.segs[i])[off:]
		if len(raw) > remaining {
			raw = raw[:remaining]
		}
		fn(raw)
		remaining -= len(raw)
		off = 0
	}
}

func (c *Composite) Read(p []byte) (int, error) {
	c.live()
	if len(p) == 0 {
		return 0, nil
	}
	if c.pos >= c.lim {
		return 0, io.EOF
	}
	n := 0
	c.each(c.pos, min(c.lim, c.pos+len(p)), func(raw []byte) {
		n += copy(p[n:], raw)
	})
	c.pos += n
	return n, nil
}

func (c *Composite) ReadByte() (byte, error) {
	c.live()
	if c.pos >= c.lim {
		return 0, io.EOF
	}
	i, off := c.locate(c.pos)
	v := segBytes(c.segs[i])[off]
	c.pos++
	return v, nil
}

// Write copies p at the position across segments. Nothing is written if p
// does not fit before the limit.
func (c *Composite) Write(p []byte) (int, error) {
	c.live()
	if len(p) > c.lim-c.pos {
		return 0, api.ErrBufferOverflow
	}
	n := 0
	c.each(c.pos, c.pos+len(p), func(raw []byte) {
		n += copy(raw, p[n:])
	})
	c.pos += n
	return n, nil
}

func (c *Composite) WriteByte(v byte) error {
	c.live()
	if c.pos >= c.lim {
		return api.ErrBufferOverflow
	}
	i, off := c.locate(c.pos)
	segBytes(c.segs[i])[off] = v
	c.pos++
	return nil
}

func (c *Composite) Capacity() int      { return c.capacity }
func (c *Composite) Position() int      { return c.pos }
func (c *Composite) Limit() int         { return c.lim }
func (c *Composite) Remaining() int     { return c.lim - c.pos }
func (c *Composite) HasRemaining() bool { return c.pos < c.lim }

func (c *Composite) SetPosition(pos int) {
	c.live()
	if pos < 0 || pos > c.lim {
		panic(fmt.Sprintf("pool: position %d out of range [0,%d]", pos, c.lim))
	}
	c.pos = pos
}

func (c *Composite) SetLimit(limit int) {
	c.live()
	if limit < 0 || limit > c.capacity {
		panic(fmt.Sprintf("pool: limit %d out of range [0,%d]", limit, c.capacity))
	}
	c.lim = limit
	if c.pos > limit {
		c.pos = limit
	}
}

func (c *Composite) Flip() {
	c.lim = c.pos
	c.pos = 0
}

func (c *Composite) Clear() {
	c.pos = 0
	c.lim = c.capacity
}

// Compact drops the consumed prefix. Segments before the position are
// released; the remaining bytes start at zero and the position is set after
// them.
func (c *Composite) Compact() {
	c.live()
	rest := c.Slice(c.pos, c.lim).(*Composite)
	for _, s := range c.segs {
		s.Release()
	}
	c.segs, c.starts, c.capacity = nil, nil, 0
	for _, s := range rest.segs {
		c.push(s)
	}
	rest.segs = nil
	rest.released.Store(true)
	c.pos = c.capacity
	c.lim = c.capacity
}

// Bytes returns the readable bytes. When they span several segments the
// result is a copy.
func (c *Composite) Bytes() []byte {
	c.live()
	if c.pos >= c.lim {
		return nil
	}
	i, off := c.locate(c.pos)
	if n := c.lim - c.pos; off+n <= c.segs[i].Capacity() {
		return segBytes(c.segs[i])[off : off+n]
	}
	return c.Copy()
}

func (c *Composite) Copy() []byte {
	c.live()
	out := make([]byte, 0, c.lim-c.pos)
	c.each(c.pos, c.lim, func(raw []byte) {
		out = append(out, raw...)
	})
	return out
}

// Slice returns a composite over [from, to) whose segments share memory.
func (c *Composite) Slice(from, to int) api.Buffer {
	c.live()
	if from < 0 || to < from || to > c.capacity {
		panic(fmt.Sprintf("pool: slice [%d:%d] out of range [0,%d]", from, to, c.capacity))
	}
	out := &Composite{}
	if from < to {
		i, off := c.locate(from)
		for remaining := to - from; remaining > 0; i++ {
			s := c.segs[i]
			end := min(s.Capacity(), off+remaining)
			out.push(s.Slice(off, end))
			remaining -= end - off
			off = 0
		}
	}
	out.lim = out.capacity
	return out
}

// Split shrinks c to [0, index) and returns a composite over the rest.
func (c *Composite) Split(index int) api.Buffer {
	c.live()
	if index < 0 || index > c.capacity {
		panic(fmt.Sprintf("pool: split %d out of range [0,%d]", index, c.capacity))
	}
	tail := c.Slice(index, c.capacity).(*Composite)
	tail.pos = max(c.pos-index, 0)
	tail.lim = max(c.lim-index, 0)

	head := c.Slice(0, index).(*Composite)
	for _, s := range c.segs {
		s.Release()
	}
	c.segs, c.starts, c.capacity = head.segs, head.starts, head.capacity
	head.segs = nil
	head.released.Store(true)
	c.pos = min(c.pos, index)
	c.lim = min(c.lim, index)
	return tail
}

func (c *Composite) Share() api.Buffer {
	c.live()
	out := &Composite{pos: c.pos, lim: c.lim}
	for _, s := range c.segs {
		out.push(s.Share())
	}
	return out
}

// RefCount reports the reference count of the first segment, or 1 for an
// empty composite.
func (c *Composite) RefCount() int32 {
	if len(c.segs) == 0 {
		return 1
	}
	return c.segs[0].RefCount()
}

func (c *Composite) Release() bool {
	if !c.released.CompareAndSwap(false, true) {
		return false
	}
	for _, s := range c.segs {
		s.Release()
	}
	c.segs = nil
	return true
}
