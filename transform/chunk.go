// File: transform/chunk.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size chunk codec.

package transform

import (
	"fmt"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
)

type chunkState struct {
	buf []byte
}

// ChunkDecoder emits messages of exactly Size bytes.
type ChunkDecoder struct {
	size  int
	state *State[chunkState]
}

var _ Decoder[[]byte] = (*ChunkDecoder)(nil)

// NewChunkDecoder panics if size is not positive.
func NewChunkDecoder(size int) *ChunkDecoder {
	if size <= 0 {
		panic("transform: chunk size must be positive")
	}
	return &ChunkDecoder{size: size, state: NewState[chunkState]("chunk")}
}

func (d *ChunkDecoder) Name() string { return "chunk-decoder" }

// Size returns the chunk size.
func (d *ChunkDecoder) Size() int { return d.size }

func (d *ChunkDecoder) Transform(store *attribute.Holder, input api.Buffer) Result[[]byte] {
	if st, ok := d.state.Peek(store); !ok || len(st.buf) == 0 {
		if input != nil && input.Remaining() >= d.size {
			msg := make([]byte, d.size)
			_, _ = input.Read(msg)
			return Complete(msg, input)
		}
	}
	if !bufferRemaining(input) {
		return NeedMore[[]byte]()
	}

	st := d.state.Get(store)
	if st.buf == nil {
		st.buf = make([]byte, 0, d.size)
	}
	need := d.size - len(st.buf)
	n := min(need, input.Remaining())
	start := len(st.buf)
	st.buf = st.buf[:start+n]
	_, _ = input.Read(st.buf[start:])
	if len(st.buf) < d.size {
		return NeedMore[[]byte]()
	}
	msg := st.buf
	d.Release(store)
	return Complete(msg, input)
}

func (d *ChunkDecoder) Release(store *attribute.Holder) { d.state.Clear(store) }

func (d *ChunkDecoder) HasInputRemaining(_ *attribute.Holder, input api.Buffer) bool {
	return bufferRemaining(input)
}

// ChunkEncoder copies a payload of exactly Size bytes into a pooled buffer.
type ChunkEncoder struct {
	size int
	mem  api.MemoryManager
}

var _ Transformer[[]byte, api.Buffer] = (*ChunkEncoder)(nil)

func NewChunkEncoder(size int, mem api.MemoryManager) *ChunkEncoder {
	if size <= 0 {
		panic("transform: chunk size must be positive")
	}
	return &ChunkEncoder{size: size, mem: mem}
}

func (e *ChunkEncoder) Name() string { return "chunk-encoder" }

func (e *ChunkEncoder) Transform(_ *attribute.Holder, msg []byte) Result[api.Buffer] {
	if len(msg) != e.size {
		return Fail[api.Buffer](fmt.Errorf("%s: payload of %d bytes, want %d: %w", e.Name(), len(msg), e.size, api.ErrProtocol))
	}
	out, err := e.mem.Allocate(e.size)
	if err != nil {
		return Fail[api.Buffer](err)
	}
	_, _ = out.Write(msg)
	out.Flip()
	return Complete[api.Buffer](out, nil)
}

func (e *ChunkEncoder) Release(*attribute.Holder) {}

func (e *ChunkEncoder) HasInputRemaining(_ *attribute.Holder, msg []byte) bool {
	return len(msg) > 0
}
