//go:build linux

package transport_test

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/filterchain"
	"github.com/momentics/hioload-nio/filters"
	"github.com/momentics/hioload-nio/strategy"
	"github.com/momentics/hioload-nio/transport"
)

const waitFor = 3 * time.Second

func start(t *testing.T, chain *filterchain.Chain, opts ...transport.Option) (*transport.Transport, string) {
	t.Helper()
	opts = append([]transport.Option{
		transport.WithProcessor(chain),
		transport.WithRunners(2),
		transport.WithWorkers(4, 8),
		transport.WithSelectTimeout(20 * time.Millisecond),
		transport.WithLogger(zaptest.NewLogger(t)),
	}, opts...)
	tr, err := transport.New(opts...)
	require.NoError(t, err)
	addr, err := tr.Bind("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, tr.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = tr.Stop(ctx)
	})
	return tr, addr.String()
}

func echoChain() *filterchain.Chain {
	return filterchain.New([]filterchain.Filter{
		filterchain.NewTransportFilter(0),
		filters.EchoFilter{},
	})
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, waitFor)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(waitFor)))
	return c
}

func TestEchoWithEveryStrategy(t *testing.T) {
	for _, k := range []strategy.Kind{strategy.KindSameThread, strategy.KindWorkerThread, strategy.KindLeaderFollower} {
		t.Run(k.String(), func(t *testing.T) {
			_, addr := start(t, echoChain(), transport.WithStrategy(k))
			c := dial(t, addr)

			for _, msg := range []string{"hello", "engine", "bye"} {
				_, err := c.Write([]byte(msg))
				require.NoError(t, err)
				got := make([]byte, len(msg))
				_, err = io.ReadFull(c, got)
				require.NoError(t, err)
				assert.Equal(t, msg, string(got))
			}
		})
	}
}

// overlap counts how many reads of one connection run at the same time.
type overlap struct {
	filterchain.BaseFilter
	active *attribute.Attribute[*atomic.Int32]
	peak   atomic.Int32
}

func newOverlap() *overlap {
	return &overlap{active: attribute.New[*atomic.Int32]("test.overlap.active",
		attribute.WithInitializer(func() *atomic.Int32 { return new(atomic.Int32) }))}
}

func (o *overlap) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	n := o.active.GetOrInit(ctx.Connection().Attributes())
	cur := n.Add(1)
	for {
		p := o.peak.Load()
		if cur <= p || o.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(100 * time.Microsecond)
	n.Add(-1)
	return filterchain.Continue(), nil
}

func (o *overlap) Interests() api.Interest { return api.InterestRead }

func TestNoConcurrentProcessingPerConnection(t *testing.T) {
	for _, k := range []strategy.Kind{strategy.KindWorkerThread, strategy.KindLeaderFollower} {
		t.Run(k.String(), func(t *testing.T) {
			ov := newOverlap()
			chain := filterchain.New([]filterchain.Filter{
				filterchain.NewTransportFilter(64),
				ov,
				filters.EchoFilter{},
			})
			_, addr := start(t, chain, transport.WithStrategy(k))

			const clients, rounds = 6, 40
			payload := bytes.Repeat([]byte("0123456789abcdef"), 16)
			var wg sync.WaitGroup
			for i := 0; i < clients; i++ {
				c := dial(t, addr)
				wg.Add(1)
				go func() {
					defer wg.Done()
					got := make([]byte, len(payload))
					for r := 0; r < rounds; r++ {
						if _, err := c.Write(payload); err != nil {
							t.Error(err)
							return
						}
						if _, err := io.ReadFull(c, got); err != nil {
							t.Error(err)
							return
						}
						if !bytes.Equal(payload, got) {
							t.Error("echo mismatch")
							return
						}
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), ov.peak.Load())
		})
	}
}

// sink collects what a client connection receives.
type sink struct {
	filterchain.BaseFilter
	mu     sync.Mutex
	data   []byte
	closed atomic.Int32
}

func (s *sink) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	buf := ctx.Message().(api.Buffer)
	s.mu.Lock()
	s.data = append(s.data, buf.Bytes()...)
	s.mu.Unlock()
	buf.Release()
	return filterchain.Stop(), nil
}

func (s *sink) HandleClose(*filterchain.Context) (filterchain.NextAction, error) {
	s.closed.Add(1)
	return filterchain.Continue(), nil
}

func (s *sink) received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.data)
}

func TestConnectAndWriteThroughChain(t *testing.T) {
	_, addr := start(t, echoChain())

	sk := &sink{}
	clientChain := filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), sk})
	client, _ := start(t, clientChain)

	conn, err := client.Connect(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, api.StateOpen, conn.State())
	assert.Equal(t, addr, conn.RemoteAddr().String())

	written := make(chan error, 1)
	require.NoError(t, clientChain.Write(conn, []byte("ping"), func(_ int, err error) { written <- err }))
	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("write never completed")
	}
	assert.Eventually(t, func() bool { return sk.received() == "ping" }, waitFor, time.Millisecond)

	require.NoError(t, conn.Close())
	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("Closed not processed")
	}
	assert.Equal(t, int32(1), sk.closed.Load())
	assert.ErrorIs(t, conn.Write(conn.MemoryManager().Wrap([]byte("x")), nil), api.ErrConnectionClosed)
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client, _ := start(t, echoChain())
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = client.Connect(ctx, addr)
	require.Error(t, err)
	assert.Eventually(t, func() bool { return client.Connections() == 0 }, waitFor, time.Millisecond)
}

func TestConnectBeforeStart(t *testing.T) {
	tr, err := transport.New(transport.WithProcessor(echoChain()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Stop(context.Background()) })
	_, err = tr.Connect(context.Background(), "127.0.0.1:1")
	assert.ErrorIs(t, err, transport.ErrNotStarted)
}

func TestPeerCloseDeliversClosedOnce(t *testing.T) {
	sk := &sink{}
	tr, addr := start(t, filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), sk}))

	c := dial(t, addr)
	_, err := c.Write([]byte("data"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sk.received() == "data" }, waitFor, time.Millisecond)
	require.Equal(t, 1, tr.Connections())

	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return tr.Connections() == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, int32(1), sk.closed.Load())
}

// parker suspends every read and never resumes.
type parker struct {
	filterchain.BaseFilter
	parked chan *filterchain.Context
}

func (p *parker) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	if buf, ok := ctx.Message().(api.Buffer); ok {
		buf.Release()
	}
	action := ctx.Suspend()
	p.parked <- ctx
	return action, nil
}

func TestStopClosesSuspendedConnections(t *testing.T) {
	probes := fake.NewProbes()
	pk := &parker{parked: make(chan *filterchain.Context, 1)}
	sk := &sink{}
	chain := filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), pk, sk})
	tr, err := transport.New(
		transport.WithProcessor(chain),
		transport.WithRunners(1),
		transport.WithSelectTimeout(20*time.Millisecond),
		transport.WithProbes(probes),
	)
	require.NoError(t, err)
	addr, err := tr.Bind("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, tr.Start())

	c := dial(t, addr.String())
	_, err = c.Write([]byte("x"))
	require.NoError(t, err)

	var ctx *filterchain.Context
	select {
	case ctx = <-pk.parked:
	case <-time.After(waitFor):
		t.Fatal("read never suspended")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, tr.Stop(stopCtx))

	assert.True(t, ctx.Cancelled())
	assert.ErrorIs(t, ctx.Resume(), filterchain.ErrContextCancelled)
	assert.Equal(t, int32(1), sk.closed.Load())
	assert.Zero(t, tr.Connections())
	assert.Empty(t, ctx.Connection().Attributes().Names(), "store released after Closed")

	_, err = io.ReadAll(c)
	assert.NoError(t, err, "peer sees an orderly close")

	assert.Equal(t, 1, probes.Count("OnStart"))
	assert.Equal(t, 1, probes.Count("OnStop"))
	assert.Equal(t, 1, probes.Count("OnAccept"))
	assert.Equal(t, 1, probes.Count("OnClose"))
	assert.Positive(t, probes.Count("OnRead"))

	assert.NoError(t, tr.Stop(context.Background()))
	assert.ErrorIs(t, tr.Start(), api.ErrTransportClosed)
}

func TestPeerHangupWhileSuspendedClosesConnection(t *testing.T) {
	for _, kind := range []strategy.Kind{strategy.KindWorkerThread, strategy.KindSameThread, strategy.KindLeaderFollower} {
		t.Run(kind.String(), func(t *testing.T) {
			pk := &parker{parked: make(chan *filterchain.Context, 1)}
			sk := &sink{}
			chain := filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), pk, sk})
			tr, addr := start(t, chain, transport.WithStrategy(kind))

			c := dial(t, addr)
			_, err := c.Write([]byte("x"))
			require.NoError(t, err)

			var ctx *filterchain.Context
			select {
			case ctx = <-pk.parked:
			case <-time.After(waitFor):
				t.Fatal("read never suspended")
			}
			conn := ctx.Connection()
			assert.NotEmpty(t, conn.Attributes().Names())

			require.NoError(t, c.Close())
			select {
			case <-conn.(interface{ Done() <-chan struct{} }).Done():
			case <-time.After(waitFor):
				t.Fatal("hangup never closed the connection")
			}

			assert.True(t, ctx.Cancelled())
			assert.Equal(t, int32(1), sk.closed.Load())
			assert.Equal(t, api.StateClosed, conn.State())
			assert.Zero(t, tr.Connections())
			assert.Empty(t, conn.Attributes().Names())
		})
	}
}

func TestIdleConnectionIsClosed(t *testing.T) {
	idle := filters.NewIdleTimeoutFilter(50 * time.Millisecond)
	sk := &sink{}
	tr, addr := start(t, filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), idle, sk}))

	c := dial(t, addr)
	require.Eventually(t, func() bool { return tr.Connections() == 1 }, waitFor, time.Millisecond)

	_, err := io.ReadAll(c)
	assert.NoError(t, err)
	assert.Eventually(t, func() bool { return tr.Connections() == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, int32(1), sk.closed.Load())
}

func TestLargeWriteIsQueuedUntilWritable(t *testing.T) {
	var (
		mu     sync.Mutex
		server api.Connection
	)
	grab := &acceptHook{fn: func(c api.Connection) {
		mu.Lock()
		server = c
		mu.Unlock()
	}}
	_, addr := start(t, filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), grab}),
		transport.WithSocketBuffers(4<<10, 4<<10))
	c := dial(t, addr)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return server != nil
	}, waitFor, time.Millisecond)

	payload := bytes.Repeat([]byte{0xAB}, 4<<20)
	done := make(chan error, 1)
	mu.Lock()
	conn := server
	mu.Unlock()
	require.NoError(t, conn.Write(conn.MemoryManager().Wrap(payload), func(n int, err error) {
		if err == nil && n != len(payload) {
			err = io.ErrShortWrite
		}
		done <- err
	}))

	got := make([]byte, len(payload))
	_, err := io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("write never completed")
	}
	assert.Eventually(t, func() bool { return !conn.Interest().Has(api.InterestWrite) }, waitFor, time.Millisecond)
}

type acceptHook struct {
	filterchain.BaseFilter
	fn func(api.Connection)
}

func (a *acceptHook) HandleAccept(ctx *filterchain.Context) (filterchain.NextAction, error) {
	a.fn(ctx.Connection())
	return filterchain.Continue(), nil
}

func TestWatchConfigAndDumpState(t *testing.T) {
	tf := filterchain.NewTransportFilter(0)
	idle := filters.NewIdleTimeoutFilter(time.Minute)
	tr, addr := start(t, filterchain.New([]filterchain.Filter{tf, idle, filters.EchoFilter{}}))

	store := control.NewSyncConfigStore()
	store.SetConfig(map[string]any{control.KeyWorkersCore: 6})
	tr.WatchConfig(store)
	assert.Eventually(t, func() bool { return tr.Executor().NumWorkers() >= 6 }, waitFor, time.Millisecond)

	store.SetConfig(map[string]any{
		control.KeyIdleTimeout:   "2m",
		control.KeyReadChunkSize: 1024,
	})
	assert.Equal(t, 2*time.Minute, idle.Timeout())
	assert.Equal(t, 1024, tf.ReadSize())

	dial(t, addr)
	require.Eventually(t, func() bool { return tr.Connections() == 1 }, waitFor, time.Millisecond)

	state := tr.DumpState()
	assert.Equal(t, "running", state["transport.state"])
	assert.Equal(t, "worker-thread", state["transport.strategy"])
	assert.Equal(t, 1, state["transport.connections"])
	assert.Equal(t, []string{addr}, state["transport.listeners"])
	assert.Len(t, state["reactor.runners"], 2)
	assert.Contains(t, state, "workers")
	assert.Contains(t, state, "memory")
	assert.Contains(t, state, "platform.cpus")
}

func TestPinnedRunnersServe(t *testing.T) {
	_, addr := start(t, echoChain(), transport.WithRunnerAffinity(true), transport.WithStrategy(strategy.KindSameThread))
	c := dial(t, addr)
	_, err := c.Write([]byte("pinned"))
	require.NoError(t, err)
	got := make([]byte, 6)
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, "pinned", string(got))
}
