// File: filters/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filters

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/filterchain"
)

// LoggingFilter logs every event passing its position at debug level.
type LoggingFilter struct {
	log *zap.Logger
}

var _ filterchain.Filter = (*LoggingFilter)(nil)

func NewLoggingFilter(l *zap.Logger) *LoggingFilter {
	if l == nil {
		l = zap.NewNop()
	}
	return &LoggingFilter{log: l.Named("flow")}
}

func (f *LoggingFilter) trace(ctx *filterchain.Context) (filterchain.NextAction, error) {
	if ce := f.log.Check(zap.DebugLevel, "event"); ce != nil {
		fields := []zap.Field{
			zap.Uint64("conn_id", ctx.Connection().ID()),
			zap.Stringer("event", ctx.Event()),
			zap.Int("filter", ctx.Index()),
		}
		switch m := ctx.Message().(type) {
		case nil:
		case api.Buffer:
			fields = append(fields, zap.Int("bytes", m.Remaining()))
		case []byte:
			fields = append(fields, zap.Int("bytes", len(m)))
		default:
			fields = append(fields, zap.String("message", typeName(m)))
		}
		ce.Write(fields...)
	}
	return filterchain.Continue(), nil
}

func (f *LoggingFilter) HandleAccept(ctx *filterchain.Context) (filterchain.NextAction, error) {
	return f.trace(ctx)
}

func (f *LoggingFilter) HandleConnect(ctx *filterchain.Context) (filterchain.NextAction, error) {
	return f.trace(ctx)
}

func (f *LoggingFilter) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	return f.trace(ctx)
}

func (f *LoggingFilter) HandleWrite(ctx *filterchain.Context) (filterchain.NextAction, error) {
	return f.trace(ctx)
}

func (f *LoggingFilter) HandleClose(ctx *filterchain.Context) (filterchain.NextAction, error) {
	f.log.Debug("closed",
		zap.Uint64("conn_id", ctx.Connection().ID()),
		zap.NamedError("cause", ctx.Connection().CloseCause()))
	return filterchain.Continue(), nil
}

func (f *LoggingFilter) ExceptionOccurred(ctx *filterchain.Context, err error) {
	f.log.Warn("exception",
		zap.Uint64("conn_id", ctx.Connection().ID()),
		zap.Stringer("event", ctx.Event()),
		zap.Error(err))
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
