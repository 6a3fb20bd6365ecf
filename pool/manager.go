// File: pool/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-class memory manager. Allocation prefers a pooled block of the nearest
// class; sizes beyond the largest class are served unpooled and sizes beyond
// MaxAllocation fail with api.ErrOutOfMemory.

package pool

import (
	"math/bits"
	"sync/atomic"

	"github.com/pbnjay/memory"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
)

const (
	DefaultMinClassSize  = 64
	DefaultMaxClassSize  = 1 << 20
	DefaultMaxAllocation = 64 << 20
	DefaultClassCapacity = 1024

	minRetained = 16 << 20
)

// Options tune a Manager.
type Options struct {
	MinClassSize  int
	MaxClassSize  int
	MaxAllocation int
	// ClassCapacity bounds the number of free blocks kept per class.
	ClassCapacity int
	// MaxRetained bounds the bytes kept across all free lists.
	MaxRetained int64
}

// Option configures a Manager.
type Option func(*Options)

func WithClassSizes(minSize, maxSize int) Option {
	return func(o *Options) { o.MinClassSize, o.MaxClassSize = minSize, maxSize }
}

func WithMaxAllocation(n int) Option {
	return func(o *Options) { o.MaxAllocation = n }
}

func WithClassCapacity(n int) Option {
	return func(o *Options) { o.ClassCapacity = n }
}

func WithMaxRetained(n int64) Option {
	return func(o *Options) { o.MaxRetained = n }
}

// DefaultMaxRetained is 1/64 of physical memory, at least 16 MiB.
func DefaultMaxRetained() int64 {
	total := int64(memory.TotalMemory() / 64)
	if total < minRetained {
		return minRetained
	}
	return total
}

// Manager implements api.MemoryManager.
type Manager struct {
	opts     Options
	minShift int
	classes  []*slabPool

	allocated atomic.Int64
	hits      atomic.Int64
	released  atomic.Int64
	dropped   atomic.Int64
	inUse     atomic.Int64
	retained  atomic.Int64

	probes control.ProbeSet[api.MemoryProbe]
}

var _ api.MemoryManager = (*Manager)(nil)

// NewManager builds a manager with one free list per size class.
func NewManager(opts ...Option) *Manager {
	o := Options{
		MinClassSize:  DefaultMinClassSize,
		MaxClassSize:  DefaultMaxClassSize,
		MaxAllocation: DefaultMaxAllocation,
		ClassCapacity: DefaultClassCapacity,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.MinClassSize < 1 {
		o.MinClassSize = 1
	}
	o.MinClassSize = roundPow2(o.MinClassSize)
	o.MaxClassSize = roundPow2(o.MaxClassSize)
	if o.MaxClassSize < o.MinClassSize {
		o.MaxClassSize = o.MinClassSize
	}
	if o.MaxAllocation <= 0 {
		o.MaxAllocation = DefaultMaxAllocation
	}
	if o.ClassCapacity <= 0 {
		o.ClassCapacity = DefaultClassCapacity
	}
	if o.MaxRetained <= 0 {
		o.MaxRetained = DefaultMaxRetained()
	}

	m := &Manager{opts: o, minShift: bits.TrailingZeros(uint(o.MinClassSize))}
	for size := o.MinClassSize; size <= o.MaxClassSize; size <<= 1 {
		m.classes = append(m.classes, newSlabPool(size, o.ClassCapacity))
	}
	return m
}

// AddProbe registers memory observers.
func (m *Manager) AddProbe(probes ...api.MemoryProbe) { m.probes.Add(probes...) }

// RemoveProbe unregisters memory observers.
func (m *Manager) RemoveProbe(probes ...api.MemoryProbe) { m.probes.Remove(probes...) }

// Options returns the effective configuration.
func (m *Manager) Options() Options { return m.opts }

func roundPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// classFor returns the class serving size, or nil for unpooled sizes.
func (m *Manager) classFor(size int) *slabPool {
	if size > m.opts.MaxClassSize {
		return nil
	}
	if size <= m.opts.MinClassSize {
		return m.classes[0]
	}
	return m.classes[bits.Len(uint(size-1))-m.minShift]
}

// Allocate returns a buffer of exactly size capacity.
func (m *Manager) Allocate(size int) (api.Buffer, error) {
	if size < 0 {
		return nil, api.ErrInvalidArgument
	}
	if size > m.opts.MaxAllocation {
		return nil, api.NewError(api.ErrCodeOutOfMemory, "allocation exceeds limit").
			WithContext("size", size).
			WithContext("max", m.opts.MaxAllocation)
	}
	return m.allocate(size), nil
}

func (m *Manager) allocate(size int) *heapBuffer {
	cls := m.classFor(size)
	var blk *block
	if cls != nil {
		if b, ok := cls.get(); ok {
			blk = b
			m.retained.Add(-int64(len(b.data)))
			m.hits.Add(1)
			m.notify(probeHit, len(b.data))
		}
	}
	if blk == nil {
		n := size
		if cls != nil {
			n = cls.size
		}
		blk = &block{data: make([]byte, n), class: cls}
		m.allocated.Add(1)
		m.notify(probeFresh, n)
	}
	blk.refs.Store(1)
	m.inUse.Add(1)
	return newHeapBuffer(m, blk, 0, size)
}

// Reallocate returns a buffer of the new size holding the old content. The
// old handle is consumed. Content beyond the new size is discarded, and a
// limit at capacity follows the new capacity.
func (m *Manager) Reallocate(buf api.Buffer, size int) (api.Buffer, error) {
	if buf == nil {
		return m.Allocate(size)
	}
	if hb, ok := buf.(*heapBuffer); ok && hb.mgr == m && hb.tryResize(size) {
		return hb, nil
	}
	next, err := m.Allocate(size)
	if err != nil {
		return nil, err
	}
	pos, lim := buf.Position(), buf.Limit()
	if lim == buf.Capacity() {
		lim = size
	}
	buf.SetPosition(0)
	buf.SetLimit(min(buf.Capacity(), size))
	_, _ = next.Write(buf.Bytes())
	next.SetPosition(min(pos, size))
	next.SetLimit(min(lim, size))
	buf.Release()
	return next, nil
}

// Release drops buf.
func (m *Manager) Release(buf api.Buffer) {
	if buf != nil {
		buf.Release()
	}
}

// Wrap exposes p as an unpooled buffer.
func (m *Manager) Wrap(p []byte) api.Buffer {
	blk := &block{data: p}
	blk.refs.Store(1)
	m.inUse.Add(1)
	return newHeapBuffer(m, blk, 0, len(p))
}

// recycle is called once the last handle over blk is released.
func (m *Manager) recycle(blk *block) {
	m.inUse.Add(-1)
	cls := blk.class
	if cls == nil {
		return
	}
	n := int64(len(blk.data))
	if m.retained.Add(n) > m.opts.MaxRetained || !cls.put(blk) {
		m.retained.Add(-n)
		m.dropped.Add(1)
		return
	}
	m.released.Add(1)
	m.notify(probeRelease, len(blk.data))
}

// Drain drops every pooled block.
func (m *Manager) Drain() {
	for _, cls := range m.classes {
		for {
			blk, ok := cls.get()
			if !ok {
				break
			}
			m.retained.Add(-int64(len(blk.data)))
		}
	}
}

// FreeBlocks reports the pooled block count per class size.
func (m *Manager) FreeBlocks() map[int]int {
	out := make(map[int]int, len(m.classes))
	for _, cls := range m.classes {
		out[cls.size] = cls.len()
	}
	return out
}

// Stats exposes allocation accounting.
func (m *Manager) Stats() api.MemoryStats {
	return api.MemoryStats{
		Allocated:   m.allocated.Load(),
		PoolHits:    m.hits.Load(),
		Released:    m.released.Load(),
		Dropped:     m.dropped.Load(),
		InUse:       m.inUse.Load(),
		RetainedLen: m.retained.Load(),
	}
}

type probeKind uint8

const (
	probeFresh probeKind = iota
	probeHit
	probeRelease
)

func (m *Manager) notify(kind probeKind, size int) {
	for _, p := range m.probes.Snapshot() {
		notifyMemory(p, kind, size)
	}
}

func notifyMemory(p api.MemoryProbe, kind probeKind, size int) {
	defer func() { _ = recover() }()
	switch kind {
	case probeFresh:
		p.OnBufferAllocate(size)
	case probeHit:
		p.OnBufferAllocateFromPool(size)
	case probeRelease:
		p.OnBufferRelease(size)
	}
}
