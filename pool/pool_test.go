package pool_test

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/pool"
)

type memProbe struct {
	fresh, hit, release atomic.Int32
}

func (p *memProbe) OnBufferAllocate(int)         { p.fresh.Add(1) }
func (p *memProbe) OnBufferAllocateFromPool(int) { p.hit.Add(1) }
func (p *memProbe) OnBufferRelease(int)          { p.release.Add(1) }

func newManager(t *testing.T, opts ...pool.Option) (*pool.Manager, *memProbe) {
	t.Helper()
	m := pool.NewManager(append([]pool.Option{pool.WithMaxRetained(1 << 20)}, opts...)...)
	probe := &memProbe{}
	m.AddProbe(probe)
	return m, probe
}

func TestAllocateReleaseRoundTripHitsPool(t *testing.T) {
	m, probe := newManager(t)

	b, err := m.Allocate(1000)
	require.NoError(t, err)
	assert.Equal(t, 1000, b.Capacity())
	assert.EqualValues(t, 1, probe.fresh.Load())

	require.True(t, b.Release())
	assert.EqualValues(t, 1, probe.release.Load())

	b2, err := m.Allocate(1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, probe.hit.Load(), "second allocation is served from the pool")
	assert.EqualValues(t, 1, probe.fresh.Load())

	st := m.Stats()
	assert.EqualValues(t, 1, st.Allocated)
	assert.EqualValues(t, 1, st.PoolHits)
	assert.EqualValues(t, 1, st.InUse)
	b2.Release()
	assert.EqualValues(t, 0, m.Stats().InUse)
}

func TestNearestClassServesSmallerSizes(t *testing.T) {
	m, probe := newManager(t)
	b, _ := m.Allocate(1024)
	b.Release()

	b2, _ := m.Allocate(700)
	assert.Equal(t, 700, b2.Capacity())
	assert.EqualValues(t, 1, probe.hit.Load())
	b2.Release()
}

func TestReleaseDeferredWhileShared(t *testing.T) {
	m, probe := newManager(t)
	b, _ := m.Allocate(64)
	s := b.Share()
	assert.EqualValues(t, 2, b.RefCount())

	b.Release()
	assert.EqualValues(t, 0, probe.release.Load(), "block stays out while a handle lives")
	assert.EqualValues(t, 1, s.RefCount())

	assert.False(t, b.Release(), "double release is reported")
	s.Release()
	assert.EqualValues(t, 1, probe.release.Load())
}

func TestUseAfterReleasePanics(t *testing.T) {
	m, _ := newManager(t)
	b, _ := m.Allocate(16)
	b.Release()
	assert.PanicsWithValue(t, api.ErrBufferReleased, func() { _, _ = b.Write([]byte("x")) })
	assert.PanicsWithValue(t, api.ErrBufferReleased, func() { _ = b.Bytes() })
}

func TestAllocateLimits(t *testing.T) {
	m, probe := newManager(t, pool.WithClassSizes(64, 1024), pool.WithMaxAllocation(4096))

	_, err := m.Allocate(8192)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrOutOfMemory))

	big, err := m.Allocate(2048)
	require.NoError(t, err)
	assert.Equal(t, 2048, big.Capacity())
	big.Release()
	assert.EqualValues(t, 0, probe.release.Load(), "unpooled sizes are not retained")

	_, err = m.Allocate(-1)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestRetainedCeilingDropsBlocks(t *testing.T) {
	m := pool.NewManager(pool.WithMaxRetained(100))
	a, _ := m.Allocate(64)
	b, _ := m.Allocate(64)
	a.Release()
	b.Release()
	st := m.Stats()
	assert.EqualValues(t, 1, st.Released)
	assert.EqualValues(t, 1, st.Dropped)
	assert.EqualValues(t, 64, st.RetainedLen)

	m.Drain()
	assert.EqualValues(t, 0, m.Stats().RetainedLen)
	assert.Equal(t, 0, m.FreeBlocks()[64])
}

func TestCursorModel(t *testing.T) {
	m, _ := newManager(t)
	b, _ := m.Allocate(8)
	defer b.Release()

	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, b.Position())

	_, err = b.Write([]byte("xyz"))
	assert.ErrorIs(t, err, api.ErrBufferOverflow)

	b.Flip()
	assert.Equal(t, 6, b.Remaining())
	c, err := b.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('a'), c)

	p := make([]byte, 2)
	_, _ = b.Read(p)
	assert.Equal(t, "bc", string(p))

	b.Compact()
	assert.Equal(t, 3, b.Position())
	assert.Equal(t, 8, b.Limit())
	b.Flip()
	assert.Equal(t, "def", string(b.Bytes()))

	rest, _ := io.ReadAll(b)
	assert.Equal(t, "def", string(rest))
	_, err = b.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSplitAndSliceShareMemory(t *testing.T) {
	m, probe := newManager(t)
	b, _ := m.Allocate(10)
	_, _ = b.Write([]byte("0123456789"))
	b.Flip()

	tail := b.Split(4)
	assert.Equal(t, 4, b.Capacity())
	assert.Equal(t, "0123", string(b.Bytes()))
	assert.Equal(t, "456789", string(tail.Bytes()))
	assert.EqualValues(t, 2, b.RefCount())

	mid := tail.Slice(1, 3)
	assert.Equal(t, "56", string(mid.Bytes()))
	mid.Bytes()[0] = 'X'
	assert.Equal(t, "4X6789", string(tail.Bytes()))

	b.Release()
	tail.Release()
	assert.EqualValues(t, 0, probe.release.Load())
	mid.Release()
	assert.EqualValues(t, 1, probe.release.Load())
}

func TestReallocateKeepsContent(t *testing.T) {
	m, _ := newManager(t)
	b, _ := m.Allocate(4)
	_, _ = b.Write([]byte("abcd"))

	g, err := m.Reallocate(b, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, g.Capacity())
	assert.Equal(t, 4, g.Position())
	_, err = g.Write([]byte("ef"))
	require.NoError(t, err)
	g.Flip()
	assert.Equal(t, "abcdef", string(g.Bytes()))
	assert.Panics(t, func() { b.Bytes() }, "old handle is consumed")

	s, err := m.Reallocate(g, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(s.Bytes()))
	s.Release()
}

func TestWrapIsUnpooled(t *testing.T) {
	m, probe := newManager(t)
	raw := []byte("hello")
	b := m.Wrap(raw)
	assert.Equal(t, "hello", string(b.Bytes()))
	b.Release()
	assert.EqualValues(t, 0, probe.release.Load())
	assert.EqualValues(t, 0, m.Stats().InUse)
}

func TestConcurrentAllocateRelease(t *testing.T) {
	m, _ := newManager(t)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b, err := m.Allocate(128 + i%512)
				if err != nil {
					t.Error(err)
					return
				}
				_ = b.WriteByte(1)
				b.Release()
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 0, m.Stats().InUse)
}

func TestProbePanicIsContained(t *testing.T) {
	m := pool.NewManager()
	m.AddProbe(panicProbe{})
	assert.NotPanics(t, func() {
		b, _ := m.Allocate(32)
		b.Release()
	})
}

type panicProbe struct{}

func (panicProbe) OnBufferAllocate(int)         { panic("x") }
func (panicProbe) OnBufferAllocateFromPool(int) { panic("x") }
func (panicProbe) OnBufferRelease(int)          { panic("x") }
