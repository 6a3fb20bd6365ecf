// File: transform/lengthfield.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Length-prefixed framing: a 4-byte big-endian length followed by the
// payload. The decoder leaves input untouched until the whole frame is
// present and then hands out the payload as a view of the input memory.

package transform

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
	"github.com/momentics/hioload-nio/pool"
)

// LengthFieldSize is the size of the frame header.
const LengthFieldSize = 4

// DefaultMaxFrame bounds frame payloads when no limit is given.
const DefaultMaxFrame = 1 << 20

// LengthFieldDecoder emits frame payloads as api.Buffer views. The receiver
// owns and must release each frame.
type LengthFieldDecoder struct {
	maxFrame int
}

var _ Decoder[api.Buffer] = (*LengthFieldDecoder)(nil)

// NewLengthFieldDecoder uses DefaultMaxFrame when maxFrame is not positive.
func NewLengthFieldDecoder(maxFrame int) *LengthFieldDecoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &LengthFieldDecoder{maxFrame: maxFrame}
}

func (d *LengthFieldDecoder) Name() string { return "length-field-decoder" }

func (d *LengthFieldDecoder) Transform(_ *attribute.Holder, input api.Buffer) Result[api.Buffer] {
	if input == nil || input.Remaining() < LengthFieldSize {
		return NeedMore[api.Buffer]()
	}
	pos := input.Position()
	var hdr [LengthFieldSize]byte
	_, _ = input.Read(hdr[:])
	input.SetPosition(pos)

	n := binary.BigEndian.Uint32(hdr[:])
	if int64(n) > int64(d.maxFrame) {
		return Fail[api.Buffer](fmt.Errorf("%s: frame length %d exceeds %d: %w", d.Name(), n, d.maxFrame, api.ErrProtocol))
	}
	end := pos + LengthFieldSize + int(n)
	if input.Limit() < end {
		return NeedMore[api.Buffer]()
	}
	frame := input.Slice(pos+LengthFieldSize, end)
	input.SetPosition(end)
	return Complete(frame, input)
}

func (d *LengthFieldDecoder) Release(*attribute.Holder) {}

func (d *LengthFieldDecoder) HasInputRemaining(_ *attribute.Holder, input api.Buffer) bool {
	return bufferRemaining(input)
}

// LengthFieldEncoder prefixes a payload with its length. The payload is not
// copied: the output composes a pooled header with the payload handle, which
// the encoder takes ownership of.
type LengthFieldEncoder struct {
	mem      api.MemoryManager
	maxFrame int
}

var _ Transformer[api.Buffer, api.Buffer] = (*LengthFieldEncoder)(nil)

func NewLengthFieldEncoder(mem api.MemoryManager, maxFrame int) *LengthFieldEncoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &LengthFieldEncoder{mem: mem, maxFrame: maxFrame}
}

func (e *LengthFieldEncoder) Name() string { return "length-field-encoder" }

func (e *LengthFieldEncoder) Transform(_ *attribute.Holder, payload api.Buffer) Result[api.Buffer] {
	n := payload.Remaining()
	if n > e.maxFrame {
		payload.Release()
		return Fail[api.Buffer](fmt.Errorf("%s: frame length %d exceeds %d: %w", e.Name(), n, e.maxFrame, api.ErrProtocol))
	}
	hdr, err := e.mem.Allocate(LengthFieldSize)
	if err != nil {
		payload.Release()
		return Fail[api.Buffer](err)
	}
	var raw [LengthFieldSize]byte
	binary.BigEndian.PutUint32(raw[:], uint32(n))
	_, _ = hdr.Write(raw[:])
	hdr.Flip()
	return Complete[api.Buffer](pool.Compose(hdr, payload), nil)
}

func (e *LengthFieldEncoder) Release(*attribute.Holder) {}

func (e *LengthFieldEncoder) HasInputRemaining(_ *attribute.Holder, payload api.Buffer) bool {
	return bufferRemaining(payload)
}
