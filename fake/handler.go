// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-nio/api"
)

// Handler records ProcessingHandler callbacks.
type Handler struct {
	mu        sync.Mutex
	suspends  []api.IOEvent
	completes []api.IOEvent
	done      chan api.IOEvent
}

var _ api.ProcessingHandler = (*Handler)(nil)

func NewHandler() *Handler {
	return &Handler{done: make(chan api.IOEvent, 1024)}
}

func (h *Handler) OnSuspend(_ api.Connection, ev api.IOEvent) {
	h.mu.Lock()
	h.suspends = append(h.suspends, ev)
	h.mu.Unlock()
}

func (h *Handler) OnComplete(_ api.Connection, ev api.IOEvent) {
	h.mu.Lock()
	h.completes = append(h.completes, ev)
	h.mu.Unlock()
	h.done <- ev
}

// Suspends returns the events reported suspended.
func (h *Handler) Suspends() []api.IOEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.IOEvent(nil), h.suspends...)
}

// Completes returns the events reported complete, in order.
func (h *Handler) Completes() []api.IOEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]api.IOEvent(nil), h.completes...)
}

// WaitComplete waits for the next completion.
func (h *Handler) WaitComplete(timeout time.Duration) (api.IOEvent, bool) {
	select {
	case ev := <-h.done:
		return ev, true
	case <-time.After(timeout):
		return 0, false
	}
}
