package control_test

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/control"
)

type countingProbe struct {
	n atomic.Int32
}

func (p *countingProbe) OnBufferAllocate(int)         { p.n.Add(1) }
func (p *countingProbe) OnBufferAllocateFromPool(int) { p.n.Add(1) }
func (p *countingProbe) OnBufferRelease(int)          { p.n.Add(1) }

type panickingProbe struct{ countingProbe }

func (p *panickingProbe) OnBufferAllocate(int) { panic("boom") }

func TestProbeSetAddRemoveNotify(t *testing.T) {
	var set control.ProbeSet[api.MemoryProbe]
	a, b := &countingProbe{}, &countingProbe{}
	set.Add(a, b)
	assert.Equal(t, 2, set.Len())

	set.Notify(func(p api.MemoryProbe) { p.OnBufferAllocate(8) })
	assert.EqualValues(t, 1, a.n.Load())
	assert.EqualValues(t, 1, b.n.Load())

	set.Remove(a)
	assert.Equal(t, 1, set.Len())
	set.Notify(func(p api.MemoryProbe) { p.OnBufferRelease(8) })
	assert.EqualValues(t, 1, a.n.Load())
	assert.EqualValues(t, 2, b.n.Load())
}

func TestProbeSetPanicDoesNotStopOthers(t *testing.T) {
	var set control.ProbeSet[api.MemoryProbe]
	bad, good := &panickingProbe{}, &countingProbe{}
	set.Add(bad, good)
	assert.NotPanics(t, func() {
		set.Notify(func(p api.MemoryProbe) { p.OnBufferAllocate(1) })
	})
	assert.EqualValues(t, 1, good.n.Load())
}

func TestProbeSetEmptySnapshot(t *testing.T) {
	var set control.ProbeSet[api.MemoryProbe]
	assert.Empty(t, set.Snapshot())
	set.Remove(&countingProbe{})
	assert.Equal(t, 0, set.Len())
}

func TestMetricsProbeCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := control.NewMetricsProbe(reg, prometheus.Labels{"instance": "test"})
	require.NoError(t, err)

	m.OnBufferAllocate(64)
	m.OnBufferAllocateFromPool(64)
	m.OnBufferAllocateFromPool(128)
	m.OnTransform("chunk", "COMPLETED")
	m.OnTaskRejected(api.ErrResourceExhausted)
	m.OnPoolResize(6)
	m.OnStart()

	n, err := testutil.GatherAndCount(reg, "hioload_memory_allocations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "fresh and pool series")

	expected := `
# HELP hioload_memory_allocated_bytes_total Bytes handed out by the memory manager.
# TYPE hioload_memory_allocated_bytes_total counter
hioload_memory_allocated_bytes_total{instance="test"} 256
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hioload_memory_allocated_bytes_total"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Collectors()[8]))
	assert.Equal(t, float64(6), testutil.ToFloat64(m.Collectors()[9]))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Collectors()[10]))
}

func TestMetricsProbeDoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := control.NewMetricsProbe(reg, nil)
	require.NoError(t, err)
	_, err = control.NewMetricsProbe(reg, nil)
	assert.Error(t, err)
}

func TestConfigStoreReloadReportsChangedKeys(t *testing.T) {
	cs := control.NewSyncConfigStore()
	var got []map[string]any
	cs.OnReload(func(changed map[string]any) { got = append(got, changed) })

	cs.SetConfig(map[string]any{control.KeyWorkersCore: 4, "name": "x"})
	cs.SetConfig(map[string]any{control.KeyWorkersCore: 4})
	cs.SetConfig(map[string]any{control.KeyWorkersCore: 8})

	require.Len(t, got, 2, "unchanged values do not fire listeners")
	assert.Equal(t, map[string]any{control.KeyWorkersCore: 8}, got[1])

	n, ok := cs.GetInt(control.KeyWorkersCore)
	require.True(t, ok)
	assert.Equal(t, 8, n)
	assert.Len(t, cs.GetSnapshot(), 2)
}

func TestConfigStoreAsyncReload(t *testing.T) {
	cs := control.NewConfigStore()
	var fired atomic.Bool
	cs.OnReload(func(map[string]any) { fired.Store(true) })
	cs.SetConfig(map[string]any{"k": 1})
	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestConfigStoreDurations(t *testing.T) {
	cs := control.NewSyncConfigStore()
	cs.SetConfig(map[string]any{
		"a": 1500,
		"b": "2s",
		"c": 3 * time.Second,
		"d": "bogus",
	})
	d, ok := cs.GetDuration("a")
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)
	d, _ = cs.GetDuration("b")
	assert.Equal(t, 2*time.Second, d)
	d, _ = cs.GetDuration("c")
	assert.Equal(t, 3*time.Second, d)
	_, ok = cs.GetDuration("d")
	assert.False(t, ok)
	_, ok = cs.GetDuration("missing")
	assert.False(t, ok)
}

func TestDebugProbesDump(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })
	dp.RegisterProbe("broken", func() any { panic("nope") })

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state["broken"], "probe panic")
	assert.Contains(t, state, "platform.cpus")

	dp.UnregisterProbe("broken")
	assert.NotContains(t, dp.Names(), "broken")
}
