// File: filters/chunking.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filters

import (
	"sync"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/filterchain"
)

// ChunkingFilter limits buffer messages to at most Size bytes in both
// directions. Oversized reads are delivered piece by piece; oversized writes
// are sent as consecutive pieces with a single completion for the whole.
type ChunkingFilter struct {
	filterchain.BaseFilter
	size int
}

func NewChunkingFilter(size int) *ChunkingFilter {
	if size <= 0 {
		panic("filters: chunk size must be positive")
	}
	return &ChunkingFilter{size: size}
}

func (f *ChunkingFilter) Size() int { return f.size }

func (f *ChunkingFilter) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	buf, ok := ctx.Message().(api.Buffer)
	if !ok || buf.Remaining() <= f.size {
		return filterchain.Continue(), nil
	}
	pos := buf.Position()
	ctx.SetMessage(buf.Slice(pos, pos+f.size))
	buf.SetPosition(pos + f.size)
	return filterchain.ContinueWithRemainder(buf), nil
}

func (f *ChunkingFilter) HandleWrite(ctx *filterchain.Context) (filterchain.NextAction, error) {
	var buf api.Buffer
	switch m := ctx.Message().(type) {
	case api.Buffer:
		buf = m
	case []byte:
		buf = ctx.Connection().MemoryManager().Wrap(m)
	default:
		return filterchain.Continue(), nil
	}
	if buf.Remaining() <= f.size {
		ctx.SetMessage(buf)
		return filterchain.Continue(), nil
	}

	var pieces []api.Buffer
	for buf.HasRemaining() {
		pos := buf.Position()
		end := min(pos+f.size, buf.Limit())
		pieces = append(pieces, buf.Slice(pos, end))
		buf.SetPosition(end)
	}
	buf.Release()

	done := joinCompletions(len(pieces), ctx.CompletionHandler())
	for i, p := range pieces {
		if err := ctx.WriteTo(ctx.Address(), p, done); err != nil {
			// The failed piece already reported through done and closed
			// the connection.
			for _, rest := range pieces[i+1:] {
				rest.Release()
			}
			return filterchain.Stop(), nil
		}
	}
	return filterchain.Stop(), nil
}

func (f *ChunkingFilter) Interests() api.Interest {
	return api.InterestRead | api.InterestWrite
}

// joinCompletions calls done once after n pieces completed, or on the first
// failure.
func joinCompletions(n int, done api.CompletionHandler) api.CompletionHandler {
	if done == nil {
		return nil
	}
	var (
		mu     sync.Mutex
		total  int
		left   = n
		called bool
	)
	return func(written int, err error) {
		mu.Lock()
		if called {
			mu.Unlock()
			return
		}
		total += written
		left--
		fire := err != nil || left == 0
		called = fire
		sum := total
		mu.Unlock()
		if fire {
			done(sum, err)
		}
	}
}
