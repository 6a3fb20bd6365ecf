package transform_test

import (
	"encoding/binary"
	"testing"

	"github.com/momentics/hioload-nio/attribute"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/transform"
)

func BenchmarkLengthFieldDecode(b *testing.B) {
	const frames, size = 64, 256
	m := pool.NewManager()
	wire := make([]byte, 0, frames*(size+transform.LengthFieldSize))
	payload := make([]byte, size)
	for i := 0; i < frames; i++ {
		wire = binary.BigEndian.AppendUint32(wire, size)
		wire = append(wire, payload...)
	}
	dec := transform.NewLengthFieldDecoder(0)
	store := attribute.NewHolder()
	b.SetBytes(int64(len(wire)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		in := m.Wrap(wire)
		for in.HasRemaining() {
			r := dec.Transform(store, in)
			if r.Status != transform.Completed {
				b.Fatalf("status %v", r.Status)
			}
			r.Message.Release()
		}
		in.Release()
	}
}
