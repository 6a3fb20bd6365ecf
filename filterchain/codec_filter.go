// File: filterchain/codec_filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filterchain

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/attribute"
	"github.com/momentics/hioload-nio/control"
	"github.com/momentics/hioload-nio/pool"
	"github.com/momentics/hioload-nio/transform"
)

var codecSeq atomic.Uint64

// CodecFilter decodes incoming buffers into D messages and, when an encoder
// is set, encodes outgoing E messages into buffers. Bytes left over by an
// incomplete decode are kept in the connection attributes and prepended to
// the next read.
type CodecFilter[D, E any] struct {
	BaseFilter
	dec       transform.Decoder[D]
	enc       transform.Transformer[E, api.Buffer]
	remainder *attribute.Attribute[api.Buffer]
	probes    control.ProbeSet[api.TransformerProbe]
}

// NewCodecFilter builds a codec filter. enc may be nil for read-only codecs.
func NewCodecFilter[D, E any](dec transform.Decoder[D], enc transform.Transformer[E, api.Buffer]) *CodecFilter[D, E] {
	name := fmt.Sprintf("filterchain.codec.%s.remainder#%d", dec.Name(), codecSeq.Add(1))
	return &CodecFilter[D, E]{
		dec:       dec,
		enc:       enc,
		remainder: attribute.New[api.Buffer](name),
	}
}

// AddProbe registers transformer probes.
func (f *CodecFilter[D, E]) AddProbe(p ...api.TransformerProbe) { f.probes.Add(p...) }

func (f *CodecFilter[D, E]) HandleRead(ctx *Context) (NextAction, error) {
	input, ok := ctx.Message().(api.Buffer)
	if !ok {
		return Continue(), nil
	}
	store := ctx.Connection().Attributes()
	if rem, ok := f.remainder.Remove(store); ok && rem != nil {
		input = pool.Compose(rem, input)
	}

	r := f.dec.Transform(store, input)
	f.observe(f.dec.Name(), r.Status, r.Err)
	switch r.Status {
	case transform.Incomplete:
		if input.HasRemaining() {
			f.remainder.Set(store, input.Slice(input.Position(), input.Limit()))
		}
		input.Release()
		return Stop(), nil
	case transform.Error:
		input.Release()
		f.dec.Release(store)
		return Stop(), fmt.Errorf("%s: %w", f.dec.Name(), wrapProtocol(r.Err))
	}
	ctx.SetMessage(r.Message)
	if r.Remainder != nil {
		return ContinueWithRemainder(input), nil
	}
	input.Release()
	return Continue(), nil
}

func (f *CodecFilter[D, E]) HandleWrite(ctx *Context) (NextAction, error) {
	if f.enc == nil {
		return Continue(), nil
	}
	msg, ok := ctx.Message().(E)
	if !ok {
		return Continue(), nil
	}
	r := f.enc.Transform(ctx.Connection().Attributes(), msg)
	f.observe(f.enc.Name(), r.Status, r.Err)
	switch r.Status {
	case transform.Completed:
		ctx.SetMessage(r.Message)
		return Continue(), nil
	case transform.Error:
		return Stop(), fmt.Errorf("%s: %w", f.enc.Name(), wrapProtocol(r.Err))
	}
	return Stop(), nil
}

func (f *CodecFilter[D, E]) HandleClose(ctx *Context) (NextAction, error) {
	store := ctx.Connection().Attributes()
	if rem, ok := f.remainder.Remove(store); ok && rem != nil {
		rem.Release()
	}
	f.dec.Release(store)
	if f.enc != nil {
		f.enc.Release(store)
	}
	return Continue(), nil
}

func (f *CodecFilter[D, E]) Interests() api.Interest {
	i := api.InterestRead | api.InterestClose
	if f.enc != nil {
		i |= api.InterestWrite
	}
	return i
}

func (f *CodecFilter[D, E]) observe(name string, st transform.Status, err error) {
	for _, p := range f.probes.Snapshot() {
		notifyTransform(p, name, st, err)
	}
}

func notifyTransform(p api.TransformerProbe, name string, st transform.Status, err error) {
	defer func() { _ = recover() }()
	if st == transform.Error {
		p.OnTransformError(name, err)
		return
	}
	p.OnTransform(name, st.String())
}

func wrapProtocol(err error) error {
	if err == nil {
		return api.ErrProtocol
	}
	return err
}
