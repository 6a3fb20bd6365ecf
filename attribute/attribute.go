// File: attribute/attribute.go
// Package attribute
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package attribute

// Option customizes an Attribute at creation time.
type Option[T any] func(*Attribute[T])

// WithInitializer sets the factory used by GetOrInit.
func WithInitializer[T any](fn func() T) Option[T] {
	return func(a *Attribute[T]) { a.init = fn }
}

// Attribute is a typed key with a fixed index into every Holder.
type Attribute[T any] struct {
	name    string
	index   int
	builder *Builder
	init    func() T
}

// Name returns the attribute name.
func (a *Attribute[T]) Name() string { return a.name }

// Index returns the global index.
func (a *Attribute[T]) Index() int { return a.index }

// Get returns the value stored in h.
func (a *Attribute[T]) Get(h *Holder) (T, bool) {
	v, ok := h.getIndex(a.index)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// GetOrInit returns the stored value, creating it with the initializer when
// unset. Without an initializer the zero value is stored.
func (a *Attribute[T]) GetOrInit(h *Holder) T {
	if v, ok := a.Get(h); ok {
		return v
	}
	var v T
	if a.init != nil {
		v = a.init()
	}
	return h.setIndexIfAbsent(a.index, v).(T)
}

// Set stores v in h.
func (a *Attribute[T]) Set(h *Holder, v T) {
	h.setIndex(a.index, v)
}

// Remove clears the value in h and returns the previous one.
func (a *Attribute[T]) Remove(h *Holder) (T, bool) {
	v, ok := h.removeIndex(a.index)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// IsSet reports whether h holds a value for the attribute.
func (a *Attribute[T]) IsSet(h *Holder) bool {
	_, ok := h.getIndex(a.index)
	return ok
}
