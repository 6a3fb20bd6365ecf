package filterchain_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/filterchain"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/transform"
)

const testTimeout = 2 * time.Second

// collector stores every message reaching the end of the chain.
type collector struct {
	filterchain.BaseFilter
	mu   sync.Mutex
	msgs []string
}

func (c *collector) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch m := ctx.Message().(type) {
	case []byte:
		c.msgs = append(c.msgs, string(m))
	case api.Buffer:
		c.msgs = append(c.msgs, string(m.Copy()))
		m.Release()
	}
	return filterchain.Continue(), nil
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestCodecDeliversEveryMessageOfARead(t *testing.T) {
	coll := &collector{}
	chain := filterchain.New([]filterchain.Filter{
		filterchain.NewTransportFilter(64),
		filterchain.NewCodecFilter[[]byte, []byte](transform.NewChunkDecoder(4), nil),
		coll,
	})
	conn := newConn(chain)
	h := fake.NewHandler()

	conn.Feed([]byte("aaaabbbbcc"))
	chain.Process(conn, api.EventRead, h)
	assert.Equal(t, []string{"aaaa", "bbbb"}, coll.got())

	conn.Feed([]byte("cc"))
	chain.Process(conn, api.EventRead, h)
	assert.Equal(t, []string{"aaaa", "bbbb", "cccc"}, coll.got())
	assert.Equal(t, []api.IOEvent{api.EventRead, api.EventRead}, h.Completes())
}

func TestCodecRemainderSurvivesTinyReads(t *testing.T) {
	coll := &collector{}
	chain := filterchain.New([]filterchain.Filter{
		filterchain.NewTransportFilter(3),
		filterchain.NewCodecFilter[api.Buffer, api.Buffer](transform.NewLengthFieldDecoder(0), nil),
		coll,
	})
	conn := newConn(chain)

	conn.Feed(frame("hello"))
	conn.Feed(frame("go"))
	for i := 0; i < 8; i++ {
		chain.Process(conn, api.EventRead, fake.NewHandler())
	}
	assert.Equal(t, []string{"hello", "go"}, coll.got())
}

func frame(s string) []byte {
	out := make([]byte, transform.LengthFieldSize+len(s))
	binary.BigEndian.PutUint32(out, uint32(len(s)))
	copy(out[transform.LengthFieldSize:], s)
	return out
}

// echo writes every frame back through the chain.
type echo struct{ filterchain.BaseFilter }

func (echo) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	return filterchain.Stop(), ctx.Write(ctx.Message(), nil)
}

func TestWriteWalksBackwardThroughEncoder(t *testing.T) {
	mem := pool.NewManager()
	chain := filterchain.New([]filterchain.Filter{
		filterchain.NewTransportFilter(0),
		filterchain.NewCodecFilter[api.Buffer, api.Buffer](
			transform.NewLengthFieldDecoder(0), transform.NewLengthFieldEncoder(mem, 0)),
		echo{},
	})
	conn := fake.NewConn(mem)
	conn.SetProcessor(chain)

	conn.Feed(append(frame("ping"), frame("pong")...))
	chain.Process(conn, api.EventRead, fake.NewHandler())
	assert.Equal(t, append(frame("ping"), frame("pong")...), conn.WrittenBytes())
	assert.EqualValues(t, 0, mem.Stats().InUse)
}

func TestChainWriteReportsCompletion(t *testing.T) {
	chain := filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0)})
	conn := newConn(chain)

	var n int
	require.NoError(t, chain.Write(conn, []byte("abc"), func(written int, err error) {
		require.NoError(t, err)
		n = written
	}))
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(conn.WrittenBytes()))
}

func TestDecoderErrorClosesWithProtocolError(t *testing.T) {
	probes := fake.NewProbes()
	codec := filterchain.NewCodecFilter[api.Buffer, api.Buffer](transform.NewLengthFieldDecoder(4), nil)
	codec.AddProbe(probes)
	coll := &collector{}
	chain := filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), codec, coll})
	conn := newConn(chain)

	conn.Feed(frame("too long"))
	chain.Process(conn, api.EventRead, fake.NewHandler())
	assert.ErrorIs(t, conn.CloseCause(), api.ErrProtocol)
	assert.Equal(t, 1, conn.ClosedEvents())
	assert.Empty(t, coll.got())
	assert.Equal(t, 1, probes.Count("OnTransformError"))
}

func TestPeerEOFClosesConnection(t *testing.T) {
	chain := filterchain.New([]filterchain.Filter{filterchain.NewTransportFilter(0), &collector{}})
	conn := newConn(chain)
	conn.FeedEOF()

	chain.Process(conn, api.EventRead, fake.NewHandler())
	assert.ErrorIs(t, conn.CloseCause(), api.ErrPeerClosed)
	assert.Equal(t, api.StateClosed, conn.State())
}

func TestCloseReleasesStoredRemainder(t *testing.T) {
	mem := pool.NewManager()
	chain := filterchain.New([]filterchain.Filter{
		filterchain.NewTransportFilter(0),
		filterchain.NewCodecFilter[api.Buffer, api.Buffer](transform.NewLengthFieldDecoder(0), nil),
		&collector{},
	})
	conn := fake.NewConn(mem)
	conn.SetProcessor(chain)

	conn.Feed(frame("partial")[:6])
	chain.Process(conn, api.EventRead, fake.NewHandler())
	assert.EqualValues(t, 1, mem.Stats().InUse)

	require.NoError(t, conn.Close())
	assert.EqualValues(t, 0, mem.Stats().InUse)
}
