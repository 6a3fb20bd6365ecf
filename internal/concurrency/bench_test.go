package concurrency

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func BenchmarkLockFreeQueue(b *testing.B) {
	q := NewLockFreeQueue[int](1024)
	var n atomic.Int64
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if n.Add(1)%2 == 0 {
				for !q.Enqueue(1) {
					runtime.Gosched()
				}
				continue
			}
			q.Dequeue()
		}
	})
}

func BenchmarkWorkerPoolSubmit(b *testing.B) {
	p, err := NewWorkerPool(DefaultPoolConfig())
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()
	done := make(chan struct{}, b.N)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := p.Submit(func() { done <- struct{}{} }); err != nil {
			b.Fatal(err)
		}
	}
	for i := 0; i < b.N; i++ {
		<-done
	}
}
