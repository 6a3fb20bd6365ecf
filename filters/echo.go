// File: filters/echo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package filters

import (
	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/filterchain"
)

// EchoFilter writes every inbound message back to the peer.
type EchoFilter struct {
	filterchain.BaseFilter
}

func (EchoFilter) HandleRead(ctx *filterchain.Context) (filterchain.NextAction, error) {
	msg := ctx.Message()
	if msg == nil {
		return filterchain.Stop(), nil
	}
	return filterchain.Stop(), ctx.Write(msg, nil)
}

func (EchoFilter) Interests() api.Interest { return api.InterestRead }
