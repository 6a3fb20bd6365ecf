// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-nio/api"
	"github.com/momentics/hioload-nio/reactor"
)

// Poller is an in-memory level-triggered reactor.Poller. Tests inject
// readiness with Trigger; readiness not covered by the current interest stays
// pending until the interest allows it, as with a real level-triggered poller.
type Poller struct {
	mu       sync.Mutex
	interest map[uint64]api.Interest
	fds      map[int]uint64
	ready    map[uint64]reactor.Readiness
	order    []uint64
	closed   bool
	wake     chan struct{}
	waits    int
	maxWait  int
	inWait   int
}

var _ reactor.Poller = (*Poller)(nil)

func NewPoller() *Poller {
	return &Poller{
		interest: make(map[uint64]api.Interest),
		fds:      make(map[int]uint64),
		ready:    make(map[uint64]reactor.Readiness),
		wake:     make(chan struct{}, 1),
	}
}

// Trigger marks token ready.
func (p *Poller) Trigger(token uint64, r reactor.Readiness) {
	p.mu.Lock()
	if _, ok := p.ready[token]; !ok {
		p.order = append(p.order, token)
	}
	p.ready[token] |= r
	p.mu.Unlock()
	p.signal()
}

// Interest returns the interest registered for token.
func (p *Poller) Interest(token uint64) (api.Interest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.interest[token]
	return i, ok
}

// Registered returns the number of registered descriptors.
func (p *Poller) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.interest)
}

// MaxConcurrentWaits reports the highest number of simultaneous Wait calls.
func (p *Poller) MaxConcurrentWaits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxWait
}

// Waits counts Wait calls.
func (p *Poller) Waits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

func (p *Poller) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) Add(fd int, token uint64, interest api.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return reactor.ErrPollerClosed
	}
	if _, ok := p.fds[fd]; ok {
		return api.ErrInvalidArgument
	}
	p.fds[fd] = token
	p.interest[token] = interest
	return nil
}

func (p *Poller) Modify(fd int, token uint64, interest api.Interest) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return reactor.ErrPollerClosed
	}
	if t, ok := p.fds[fd]; !ok || t != token {
		p.mu.Unlock()
		return api.ErrNotFound
	}
	p.interest[token] = interest
	p.mu.Unlock()
	p.signal()
	return nil
}

func (p *Poller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return reactor.ErrPollerClosed
	}
	if token, ok := p.fds[fd]; ok {
		delete(p.fds, fd)
		delete(p.interest, token)
		delete(p.ready, token)
	}
	return nil
}

func mask(i api.Interest) reactor.Readiness {
	r := reactor.ReadyHangup | reactor.ReadyError
	if i&(api.InterestRead|api.InterestAccept) != 0 {
		r |= reactor.ReadyRead
	}
	if i&(api.InterestWrite|api.InterestConnect) != 0 {
		r |= reactor.ReadyWrite
	}
	return r
}

// collect moves deliverable readiness into events. Callers hold mu.
func (p *Poller) collect(events []reactor.PollEvent) int {
	n := 0
	kept := p.order[:0]
	for _, token := range p.order {
		r := p.ready[token]
		interest, ok := p.interest[token]
		if !ok {
			// Not registered yet; level readiness shows up once it is.
			kept = append(kept, token)
			continue
		}
		deliver := r & mask(interest)
		if deliver == 0 || n == len(events) {
			kept = append(kept, token)
			continue
		}
		events[n] = reactor.PollEvent{Token: token, Ready: deliver}
		n++
		if rest := r &^ deliver; rest != 0 {
			p.ready[token] = rest
			kept = append(kept, token)
		} else {
			delete(p.ready, token)
		}
	}
	p.order = kept
	return n
}

func (p *Poller) Wait(events []reactor.PollEvent, timeout time.Duration) (int, error) {
	p.mu.Lock()
	p.waits++
	p.inWait++
	p.maxWait = max(p.maxWait, p.inWait)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inWait--
		p.mu.Unlock()
	}()

	var timer <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, reactor.ErrPollerClosed
	}
	n := p.collect(events)
	p.mu.Unlock()
	if n > 0 {
		return n, nil
	}
	select {
	case <-p.wake:
		// A wake with nothing ready still returns, like an eventfd.
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return 0, reactor.ErrPollerClosed
		}
		return p.collect(events), nil
	case <-timer:
		return 0, nil
	}
}

func (p *Poller) Wake() error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return reactor.ErrPollerClosed
	}
	p.signal()
	return nil
}

func (p *Poller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.signal()
	return nil
}
