// File: transform/sequence.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SequenceDecoder assembles a slice by repeatedly running an element decoder
// while a has-more check holds. A fixed-length byte sequence built on
// ByteDecoder copies in bulk instead of byte by byte.

package transform

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

type sequenceState[E any] struct {
	items []E
}

// SequenceDecoder decodes []E.
type SequenceDecoder[E any] struct {
	name    string
	elem    Decoder[E]
	hasMore func(items []E) bool
	fixed   int
	state   *State[sequenceState[E]]
}

// NewSequenceDecoder decodes elements while hasMore(items so far) is true.
func NewSequenceDecoder[E any](name string, elem Decoder[E], hasMore func(items []E) bool) *SequenceDecoder[E] {
	return &SequenceDecoder[E]{
		name:    name,
		elem:    elem,
		hasMore: hasMore,
		state:   NewState[sequenceState[E]]("sequence." + name),
	}
}

// NewFixedSequenceDecoder decodes exactly n elements.
func NewFixedSequenceDecoder[E any](name string, elem Decoder[E], n int) *SequenceDecoder[E] {
	d := NewSequenceDecoder(name, elem, func(items []E) bool { return len(items) < n })
	d.fixed = n
	return d
}

func (d *SequenceDecoder[E]) Name() string { return d.name }

func (d *SequenceDecoder[E]) Transform(store *attribute.Holder, input api.Buffer) Result[[]E] {
	st := d.state.Get(store)
	if d.fixed > 0 && st.items == nil {
		st.items = make([]E, 0, d.fixed)
	}

	if raw, ok := d.bulkBytes(st); ok {
		if bufferRemaining(input) {
			start := len(*raw)
			n := min(d.fixed-start, input.Remaining())
			*raw = (*raw)[:start+n]
			_, _ = input.Read((*raw)[start:])
		}
	} else {
		for d.hasMore(st.items) {
			r := d.elem.Transform(store, input)
			switch r.Status {
			case Completed:
				st.items = append(st.items, r.Message)
				continue
			case Error:
				d.Release(store)
				return Fail[[]E](r.Err)
			}
			return NeedMore[[]E]()
		}
	}

	if d.hasMore(st.items) {
		return NeedMore[[]E]()
	}
	items := st.items
	d.Release(store)
	return Complete(items, input)
}

// bulkBytes exposes the item slice as *[]byte when the fast path applies.
func (d *SequenceDecoder[E]) bulkBytes(st *sequenceState[E]) (*[]byte, bool) {
	if d.fixed <= 0 {
		return nil, false
	}
	switch any(d.elem).(type) {
	case ByteDecoder, *ByteDecoder:
	default:
		return nil, false
	}
	raw, ok := any(&st.items).(*[]byte)
	return raw, ok
}

func (d *SequenceDecoder[E]) Release(store *attribute.Holder) {
	d.state.Clear(store)
	d.elem.Release(store)
}

func (d *SequenceDecoder[E]) HasInputRemaining(_ *attribute.Holder, input api.Buffer) bool {
	return bufferRemaining(input)
}
