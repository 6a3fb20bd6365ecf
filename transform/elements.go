// File: transform/elements.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Element decoders used on their own or inside a SequenceDecoder.

package transform

import (
	"encoding/binary"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

// ByteDecoder reads one byte.
type ByteDecoder struct{}

var _ Decoder[byte] = ByteDecoder{}

func (ByteDecoder) Name() string { return "byte-decoder" }

func (ByteDecoder) Transform(_ *attribute.Holder, input api.Buffer) Result[byte] {
	if !bufferRemaining(input) {
		return NeedMore[byte]()
	}
	b, _ := input.ReadByte()
	return Complete(b, input)
}

func (ByteDecoder) Release(*attribute.Holder) {}

func (ByteDecoder) HasInputRemaining(_ *attribute.Holder, input api.Buffer) bool {
	return bufferRemaining(input)
}

type uint32State struct {
	buf [4]byte
	n   int
}

// Uint32Decoder reads a big-endian uint32, possibly across reads.
type Uint32Decoder struct {
	state *State[uint32State]
}

var _ Decoder[uint32] = (*Uint32Decoder)(nil)

func NewUint32Decoder() *Uint32Decoder {
	return &Uint32Decoder{state: NewState[uint32State]("uint32")}
}

func (d *Uint32Decoder) Name() string { return "uint32-decoder" }

func (d *Uint32Decoder) Transform(store *attribute.Holder, input api.Buffer) Result[uint32] {
	if _, partial := d.state.Peek(store); !partial && input != nil && input.Remaining() >= 4 {
		var raw [4]byte
		_, _ = input.Read(raw[:])
		return Complete(binary.BigEndian.Uint32(raw[:]), input)
	}
	if !bufferRemaining(input) {
		return NeedMore[uint32]()
	}
	st := d.state.Get(store)
	for st.n < 4 && input.HasRemaining() {
		st.buf[st.n], _ = input.ReadByte()
		st.n++
	}
	if st.n < 4 {
		return NeedMore[uint32]()
	}
	v := binary.BigEndian.Uint32(st.buf[:])
	d.Release(store)
	return Complete(v, input)
}

func (d *Uint32Decoder) Release(store *attribute.Holder) { d.state.Clear(store) }

func (d *Uint32Decoder) HasInputRemaining(_ *attribute.Holder, input api.Buffer) bool {
	return bufferRemaining(input)
}
