// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"

	"github.com/momentics/hioload-nio/api"
)

// Probes records every probe callback by name.
type Probes struct {
	mu     sync.Mutex
	counts map[string]int
	errs   []error
}

var (
	_ api.MemoryProbe      = (*Probes)(nil)
	_ api.ConnectionProbe  = (*Probes)(nil)
	_ api.TransportProbe   = (*Probes)(nil)
	_ api.TransformerProbe = (*Probes)(nil)
	_ api.ExecutorProbe    = (*Probes)(nil)
)

func NewProbes() *Probes { return &Probes{counts: make(map[string]int)} }

func (p *Probes) hit(name string, err error) {
	p.mu.Lock()
	p.counts[name]++
	if err != nil {
		p.errs = append(p.errs, err)
	}
	p.mu.Unlock()
}

// Count returns how many times the named callback ran.
func (p *Probes) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Errors returns the errors passed to error callbacks.
func (p *Probes) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.errs...)
}

func (p *Probes) OnBufferAllocate(int)         { p.hit("OnBufferAllocate", nil) }
func (p *Probes) OnBufferAllocateFromPool(int) { p.hit("OnBufferAllocateFromPool", nil) }
func (p *Probes) OnBufferRelease(int)          { p.hit("OnBufferRelease", nil) }

func (p *Probes) OnAccept(api.Connection)                       { p.hit("OnAccept", nil) }
func (p *Probes) OnConnect(api.Connection)                      { p.hit("OnConnect", nil) }
func (p *Probes) OnRead(api.Connection, int)                    { p.hit("OnRead", nil) }
func (p *Probes) OnWrite(api.Connection, int)                   { p.hit("OnWrite", nil) }
func (p *Probes) OnIOEventReady(api.Connection, api.IOEvent)    { p.hit("OnIOEventReady", nil) }
func (p *Probes) OnInterestChange(api.Connection, api.Interest) { p.hit("OnInterestChange", nil) }
func (p *Probes) OnClose(api.Connection)                        { p.hit("OnClose", nil) }
func (p *Probes) OnError(_ api.Connection, err error)           { p.hit("OnError", err) }
func (p *Probes) OnStart()                                      { p.hit("OnStart", nil) }
func (p *Probes) OnStop()                                       { p.hit("OnStop", nil) }
func (p *Probes) OnTransportError(err error)                    { p.hit("OnTransportError", err) }
func (p *Probes) OnTransform(name, status string)               { p.hit("OnTransform:"+status, nil) }
func (p *Probes) OnTransformError(_ string, err error)          { p.hit("OnTransformError", err) }
func (p *Probes) OnTaskRejected(err error)                      { p.hit("OnTaskRejected", err) }
func (p *Probes) OnPoolResize(int)                              { p.hit("OnPoolResize", nil) }
