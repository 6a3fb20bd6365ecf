// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus-backed probe. One MetricsProbe implements every probe contract
// and can be registered with the memory manager, transports, codecs and the
// worker pool at once.

package control

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/momentics/hioload-nio/api"
)

// MetricsProbe exports engine activity as Prometheus metrics.
type MetricsProbe struct {
	allocations  *prometheus.CounterVec
	bytesAlloc   prometheus.Counter
	connections  *prometheus.CounterVec
	openConns    prometheus.Gauge
	ioBytes      *prometheus.CounterVec
	events       *prometheus.CounterVec
	errors       *prometheus.CounterVec
	transforms   *prometheus.CounterVec
	rejected     prometheus.Counter
	workers      prometheus.Gauge
	transportUps prometheus.Gauge
}

var (
	_ api.MemoryProbe      = (*MetricsProbe)(nil)
	_ api.ConnectionProbe  = (*MetricsProbe)(nil)
	_ api.TransportProbe   = (*MetricsProbe)(nil)
	_ api.TransformerProbe = (*MetricsProbe)(nil)
	_ api.ExecutorProbe    = (*MetricsProbe)(nil)
)

// NewMetricsProbe creates the collectors and registers them with reg. A nil
// reg leaves them unregistered. constLabels are attached to every series.
func NewMetricsProbe(reg prometheus.Registerer, constLabels prometheus.Labels) (*MetricsProbe, error) {
	const ns = "hioload"
	m := &MetricsProbe{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "memory", Name: "allocations_total",
			Help: "Buffer allocations by source (fresh, pool) and releases to pool.", ConstLabels: constLabels,
		}, []string{"kind"}),
		bytesAlloc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "memory", Name: "allocated_bytes_total",
			Help: "Bytes handed out by the memory manager.", ConstLabels: constLabels,
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "transport", Name: "connections_total",
			Help: "Connection lifecycle transitions.", ConstLabels: constLabels,
		}, []string{"kind"}),
		openConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "transport", Name: "open_connections",
			Help: "Currently open connections.", ConstLabels: constLabels,
		}),
		ioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "transport", Name: "io_bytes_total",
			Help: "Bytes read and written.", ConstLabels: constLabels,
		}, []string{"direction"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "reactor", Name: "events_total",
			Help: "IO events fired by the reactor.", ConstLabels: constLabels,
		}, []string{"event"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "errors_total",
			Help: "Errors observed by component.", ConstLabels: constLabels,
		}, []string{"component"}),
		transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "codec", Name: "transforms_total",
			Help: "Transformer invocations by codec and result.", ConstLabels: constLabels,
		}, []string{"codec", "status"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "workers", Name: "rejected_total",
			Help: "Tasks refused by a saturated worker pool.", ConstLabels: constLabels,
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "workers", Name: "core",
			Help: "Configured core worker count.", ConstLabels: constLabels,
		}),
		transportUps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "transport", Name: "running",
			Help: "1 while the transport is started.", ConstLabels: constLabels,
		}),
	}
	if reg != nil {
		for _, c := range m.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Collectors returns every collector owned by the probe.
func (m *MetricsProbe) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.allocations, m.bytesAlloc, m.connections, m.openConns, m.ioBytes,
		m.events, m.errors, m.transforms, m.rejected, m.workers, m.transportUps,
	}
}

func (m *MetricsProbe) OnBufferAllocate(size int) {
	m.allocations.WithLabelValues("fresh").Inc()
	m.bytesAlloc.Add(float64(size))
}

func (m *MetricsProbe) OnBufferAllocateFromPool(size int) {
	m.allocations.WithLabelValues("pool").Inc()
	m.bytesAlloc.Add(float64(size))
}

func (m *MetricsProbe) OnBufferRelease(int) {
	m.allocations.WithLabelValues("release").Inc()
}

func (m *MetricsProbe) OnAccept(api.Connection) {
	m.connections.WithLabelValues("accepted").Inc()
	m.openConns.Inc()
}

func (m *MetricsProbe) OnConnect(api.Connection) {
	m.connections.WithLabelValues("connected").Inc()
	m.openConns.Inc()
}

func (m *MetricsProbe) OnRead(_ api.Connection, n int) {
	m.ioBytes.WithLabelValues("read").Add(float64(n))
}

func (m *MetricsProbe) OnWrite(_ api.Connection, n int) {
	m.ioBytes.WithLabelValues("write").Add(float64(n))
}

func (m *MetricsProbe) OnIOEventReady(_ api.Connection, ev api.IOEvent) {
	m.events.WithLabelValues(ev.String()).Inc()
}

func (m *MetricsProbe) OnInterestChange(api.Connection, api.Interest) {}

func (m *MetricsProbe) OnClose(api.Connection) {
	m.connections.WithLabelValues("closed").Inc()
	m.openConns.Dec()
}

func (m *MetricsProbe) OnError(_ api.Connection, _ error) {
	m.errors.WithLabelValues("connection").Inc()
}

func (m *MetricsProbe) OnStart() { m.transportUps.Set(1) }

func (m *MetricsProbe) OnStop() { m.transportUps.Set(0) }

func (m *MetricsProbe) OnTransportError(error) {
	m.errors.WithLabelValues("transport").Inc()
}

func (m *MetricsProbe) OnTransform(name, status string) {
	m.transforms.WithLabelValues(name, status).Inc()
}

func (m *MetricsProbe) OnTransformError(name string, _ error) {
	m.transforms.WithLabelValues(name, "error").Inc()
	m.errors.WithLabelValues("codec").Inc()
}

func (m *MetricsProbe) OnTaskRejected(error) {
	m.rejected.Inc()
}

func (m *MetricsProbe) OnPoolResize(workers int) {
	m.workers.Set(float64(workers))
}
