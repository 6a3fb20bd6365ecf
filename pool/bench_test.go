package pool_test

import (
	"strconv"
	"testing"

	"github.com/momentics/hioload-nio/pool"
)

func BenchmarkAllocateRelease(b *testing.B) {
	for _, size := range []int{512, 8 << 10, 64 << 10} {
		b.Run(byteSize(size), func(b *testing.B) {
			m := pool.NewManager()
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					buf, err := m.Allocate(size)
					if err != nil {
						b.Error(err)
						return
					}
					buf.Release()
				}
			})
		})
	}
}

func BenchmarkShareRelease(b *testing.B) {
	m := pool.NewManager()
	buf, err := m.Allocate(4 << 10)
	if err != nil {
		b.Fatal(err)
	}
	defer buf.Release()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Share().Release()
	}
}

func byteSize(n int) string {
	switch {
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.Itoa(n>>10) + "KiB"
	default:
		return strconv.Itoa(n) + "B"
	}
}
