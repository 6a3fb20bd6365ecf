// File: attribute/holder.go
// Package attribute
// Author: momentics <momentics@gmail.com>
//
// Indexed per-entity attribute storage. The backing slice grows only when a
// value is set past its end, so stores of lightweight objects stay small.

package attribute

import "sync"

type slot struct {
	val any
	set bool
}

// Holder stores attribute values for one entity (connection, context).
type Holder struct {
	mu      sync.RWMutex
	slots   []slot
	builder *Builder
}

// NewHolder creates an empty holder resolving names against the default
// builder.
func NewHolder() *Holder {
	return &Holder{builder: defaultBuilder}
}

// NewHolderIn creates an empty holder bound to b.
func NewHolderIn(b *Builder) *Holder {
	return &Holder{builder: b}
}

func (h *Holder) getIndex(idx int) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if idx < 0 || idx >= len(h.slots) {
		return nil, false
	}
	s := h.slots[idx]
	return s.val, s.set
}

// grow extends slots to hold idx. Callers hold mu.
func (h *Holder) grow(idx int) {
	if idx < len(h.slots) {
		return
	}
	n := idx + 1
	if c := cap(h.slots); n <= c {
		h.slots = h.slots[:n]
		return
	}
	next := make([]slot, n, n+n/2)
	copy(next, h.slots)
	h.slots = next
}

func (h *Holder) setIndex(idx int, v any) {
	h.mu.Lock()
	h.grow(idx)
	h.slots[idx] = slot{val: v, set: true}
	h.mu.Unlock()
}

func (h *Holder) setIndexIfAbsent(idx int, v any) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.grow(idx)
	if s := h.slots[idx]; s.set {
		return s.val
	}
	h.slots[idx] = slot{val: v, set: true}
	return v
}

func (h *Holder) removeIndex(idx int) (any, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx < 0 || idx >= len(h.slots) {
		return nil, false
	}
	s := h.slots[idx]
	h.slots[idx] = slot{}
	return s.val, s.set
}

// Get returns the value stored under name.
func (h *Holder) Get(name string) (any, bool) {
	idx, ok := h.builder.IndexOf(name)
	if !ok {
		return nil, false
	}
	return h.getIndex(idx)
}

// Set stores a value under name, interning the name if needed.
func (h *Holder) Set(name string, v any) {
	h.setIndex(h.builder.intern(name), v)
}

// Remove clears the value stored under name.
func (h *Holder) Remove(name string) (any, bool) {
	idx, ok := h.builder.IndexOf(name)
	if !ok {
		return nil, false
	}
	return h.removeIndex(idx)
}

// Names returns the names of all set attributes.
func (h *Holder) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.slots))
	for i, s := range h.slots {
		if !s.set {
			continue
		}
		if n, ok := h.builder.NameOf(i); ok {
			names = append(names, n)
		}
	}
	return names
}

// Len returns the backing slice length, set or not.
func (h *Holder) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.slots)
}

// Clear unsets every value, keeping the allocated slice.
func (h *Holder) Clear() {
	h.mu.Lock()
	clear(h.slots)
	h.mu.Unlock()
}

// Copy returns a shallow copy of the holder.
func (h *Holder) Copy() *Holder {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make([]slot, len(h.slots))
	copy(cp, h.slots)
	return &Holder{slots: cp, builder: h.builder}
}
