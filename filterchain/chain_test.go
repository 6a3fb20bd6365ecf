package filterchain_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/fake"
	"github.com/momentics/hioload-nio/filterchain"
	"github.com/momentics/hioload-nio/pool"
)

// trace records which filters saw which events.
type trace struct {
	mu  sync.Mutex
	log []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	t.log = append(t.log, s)
	t.mu.Unlock()
}

func (t *trace) get() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.log...)
}

type recorder struct {
	filterchain.BaseFilter
	name       string
	tr         *trace
	closeStop  bool
	exceptions int
}

func (r *recorder) HandleRead(*filterchain.Context) (filterchain.NextAction, error) {
	r.tr.add(r.name + ":read")
	return filterchain.Continue(), nil
}

func (r *recorder) HandleClose(*filterchain.Context) (filterchain.NextAction, error) {
	r.tr.add(r.name + ":close")
	if r.closeStop {
		return filterchain.Stop(), nil
	}
	return filterchain.Continue(), nil
}

func (r *recorder) ExceptionOccurred(*filterchain.Context, error) { r.exceptions++ }

// suspender parks the first read and hands the context out.
type suspender struct {
	filterchain.BaseFilter
	tr     *trace
	once   sync.Once
	parked chan *filterchain.Context
}

func newSuspender(tr *trace) *suspender {
	return &suspender{tr: tr, parked: make(chan *filterchain.Context, 1)}
}

func (s *suspender) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	s.tr.add("suspender:read")
	action := filterchain.Continue()
	s.once.Do(func() {
		action = ctx.Suspend()
		s.parked <- ctx
	})
	return action, nil
}

func newConn(chain *filterchain.Chain) *fake.Conn {
	conn := fake.NewConn(pool.NewManager())
	conn.SetProcessor(chain)
	return conn
}

func TestSuspendResumeContinuesAtNextFilter(t *testing.T) {
	tr := &trace{}
	susp := newSuspender(tr)
	chain := filterchain.NewBuilder().
		Add(&recorder{name: "a", tr: tr}, susp, &recorder{name: "c", tr: tr}).
		Build()
	conn := newConn(chain)
	h := fake.NewHandler()

	res := chain.Process(conn, api.EventRead, h)
	assert.Equal(t, api.ProcessSuspended, res)
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Suspends())
	assert.Empty(t, h.Completes())
	assert.Equal(t, []string{"a:read", "suspender:read"}, tr.get())

	ctx := <-susp.parked
	require.NoError(t, ctx.Resume())
	assert.Equal(t, []string{"a:read", "suspender:read", "c:read"}, tr.get())
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Completes())

	assert.ErrorIs(t, ctx.Resume(), filterchain.ErrNotSuspended)
}

func TestResumeBeforeFilterReturns(t *testing.T) {
	tr := &trace{}
	early := &resumeInline{tr: tr}
	chain := filterchain.New([]filterchain.Filter{early, &recorder{name: "b", tr: tr}})
	conn := newConn(chain)
	h := fake.NewHandler()

	res := chain.Process(conn, api.EventRead, h)
	assert.Equal(t, api.ProcessComplete, res)
	assert.Equal(t, []string{"early:read", "b:read"}, tr.get())
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Completes())
}

type resumeInline struct {
	filterchain.BaseFilter
	tr *trace
}

func (r *resumeInline) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	r.tr.add("early:read")
	action := ctx.Suspend()
	if err := ctx.Resume(); err != nil {
		return filterchain.Stop(), err
	}
	return action, nil
}

func TestResumeFromAnotherGoroutine(t *testing.T) {
	tr := &trace{}
	susp := newSuspender(tr)
	chain := filterchain.New([]filterchain.Filter{susp, &recorder{name: "b", tr: tr}})
	conn := newConn(chain)
	h := fake.NewHandler()

	go func() {
		ctx := <-susp.parked
		_ = ctx.Resume()
	}()
	chain.Process(conn, api.EventRead, h)

	ev, ok := h.WaitComplete(testTimeout)
	require.True(t, ok)
	assert.Equal(t, api.EventRead, ev)
	assert.Equal(t, []string{"suspender:read", "b:read"}, tr.get())
	assert.Len(t, h.Suspends(), 1)
}

func TestCloseWhileSuspendedCancelsContext(t *testing.T) {
	tr := &trace{}
	susp := newSuspender(tr)
	chain := filterchain.New([]filterchain.Filter{
		&recorder{name: "a", tr: tr}, susp, &recorder{name: "c", tr: tr},
	})
	conn := newConn(chain)
	h := fake.NewHandler()

	require.Equal(t, api.ProcessSuspended, chain.Process(conn, api.EventRead, h))
	ctx := <-susp.parked

	require.NoError(t, conn.Close())
	assert.Equal(t, 1, conn.ClosedEvents())
	assert.Equal(t, api.StateClosed, conn.State())
	assert.True(t, ctx.Cancelled())
	assert.ErrorIs(t, ctx.Resume(), filterchain.ErrContextCancelled)
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Completes(), "suspended event still completes once")
	assert.NotContains(t, tr.get(), "c:read")
	assert.Contains(t, tr.get(), "c:close")

	require.NoError(t, conn.Close())
	chain.Process(conn, api.EventClosed, h)
	assert.Equal(t, 1, conn.ClosedEvents())
}

func TestCloseReachesEveryFilter(t *testing.T) {
	tr := &trace{}
	chain := filterchain.New([]filterchain.Filter{
		&recorder{name: "a", tr: tr, closeStop: true},
		&recorder{name: "b", tr: tr},
	})
	conn := newConn(chain)
	require.NoError(t, conn.Close())
	assert.Equal(t, []string{"a:close", "b:close"}, tr.get())
}

func TestEventsQueueBehindSuspendedEvent(t *testing.T) {
	tr := &trace{}
	susp := newSuspender(tr)
	chain := filterchain.New([]filterchain.Filter{susp, &recorder{name: "b", tr: tr}})
	conn := newConn(chain)
	h := fake.NewHandler()

	require.Equal(t, api.ProcessSuspended, chain.Process(conn, api.EventRead, h))
	assert.Equal(t, api.ProcessDeferred, chain.Process(conn, api.EventRead, h))
	assert.Equal(t, []string{"suspender:read"}, tr.get())

	require.NoError(t, (<-susp.parked).Resume())
	assert.Equal(t, []string{"suspender:read", "b:read", "suspender:read", "b:read"}, tr.get())
	assert.Equal(t, []api.IOEvent{api.EventRead, api.EventRead}, h.Completes())
}

type failing struct {
	filterchain.BaseFilter
	err   error
	panic bool
}

func (f *failing) HandleRead(*filterchain.Context) (filterchain.NextAction, error) {
	if f.panic {
		panic("boom")
	}
	return filterchain.Stop(), f.err
}

func TestFilterErrorNotifiesEveryFilterAndCloses(t *testing.T) {
	tr := &trace{}
	a, c := &recorder{name: "a", tr: tr}, &recorder{name: "c", tr: tr}
	errBad := errors.New("bad input")
	chain := filterchain.New([]filterchain.Filter{a, &failing{err: errBad}, c})
	conn := newConn(chain)
	h := fake.NewHandler()

	assert.Equal(t, api.ProcessComplete, chain.Process(conn, api.EventRead, h))
	assert.Equal(t, 1, a.exceptions)
	assert.Equal(t, 1, c.exceptions)
	assert.ErrorIs(t, conn.CloseCause(), errBad)
	assert.Equal(t, 1, conn.ClosedEvents())
	assert.Equal(t, []string{"a:read", "a:close", "c:close"}, tr.get())
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Completes())
}

func TestFilterPanicBecomesError(t *testing.T) {
	chain := filterchain.New([]filterchain.Filter{&failing{panic: true}})
	conn := newConn(chain)
	h := fake.NewHandler()

	assert.NotPanics(t, func() { chain.Process(conn, api.EventRead, h) })
	assert.ErrorIs(t, conn.CloseCause(), filterchain.ErrFilterPanic)
	assert.Equal(t, 1, conn.ClosedEvents())
	assert.Len(t, h.Completes(), 1)
}

func TestProcessAfterCloseCompletesImmediately(t *testing.T) {
	tr := &trace{}
	chain := filterchain.New([]filterchain.Filter{&recorder{name: "a", tr: tr}})
	conn := newConn(chain)
	require.NoError(t, conn.Close())

	h := fake.NewHandler()
	assert.Equal(t, api.ProcessComplete, chain.Process(conn, api.EventRead, h))
	assert.Equal(t, []string{"a:close"}, tr.get())
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Completes())
}

type readOnly struct{ filterchain.BaseFilter }

func (readOnly) Interests() api.Interest { return api.InterestRead }

func TestInterestedInUnionOfFilters(t *testing.T) {
	chain := filterchain.New([]filterchain.Filter{readOnly{}})
	assert.True(t, chain.InterestedIn(api.EventRead))
	assert.False(t, chain.InterestedIn(api.EventAccepted))
	assert.True(t, chain.InterestedIn(api.EventClosed), "closed is always delivered")

	all := filterchain.New([]filterchain.Filter{readOnly{}, filterchain.BaseFilter{}})
	assert.True(t, all.InterestedIn(api.EventAccepted))
	assert.Equal(t, api.InterestAll, all.Interests())
}

func TestWriteWithoutSenderFails(t *testing.T) {
	chain := filterchain.New([]filterchain.Filter{filterchain.BaseFilter{}})
	conn := newConn(chain)
	var got error
	err := chain.Write(conn, []byte("x"), func(_ int, err error) { got = err })
	assert.ErrorIs(t, err, filterchain.ErrWriteUnhandled)
	assert.ErrorIs(t, got, filterchain.ErrWriteUnhandled)
}

// writeParker tries to park outbound writes.
type writeParker struct {
	filterchain.BaseFilter
	ctx *filterchain.Context
}

func (w *writeParker) HandleWrite(ctx *filterchain.Context) (filterchain.NextAction, error) {
	w.ctx = ctx
	return ctx.Suspend(), nil
}

func TestWriteCannotBeSuspended(t *testing.T) {
	wp := &writeParker{}
	chain := filterchain.New([]filterchain.Filter{filterchain.BaseFilter{}, wp})
	conn := newConn(chain)
	var got error
	err := chain.Write(conn, []byte("x"), func(_ int, err error) { got = err })
	assert.ErrorIs(t, err, filterchain.ErrWriteSuspended)
	assert.ErrorIs(t, got, filterchain.ErrWriteSuspended)

	require.NotNil(t, wp.ctx)
	assert.False(t, wp.ctx.Cancelled())
	assert.ErrorIs(t, wp.ctx.Resume(), filterchain.ErrNotSuspended)
}

func TestEventsAfterClosedSkipTheChain(t *testing.T) {
	tr := &trace{}
	chain := filterchain.New([]filterchain.Filter{&recorder{name: "a", tr: tr}})
	conn := newConn(chain)
	require.NoError(t, conn.Close())
	<-conn.Done()
	conn.Attributes().Clear()

	h := fake.NewHandler()
	assert.Equal(t, api.ProcessComplete, chain.Process(conn, api.EventRead, h))
	assert.Equal(t, []api.IOEvent{api.EventRead}, h.Completes())
	assert.Equal(t, []string{"a:close"}, tr.get())
	assert.Empty(t, conn.Attributes().Names(), "a closed connection gets no new gate")
}
