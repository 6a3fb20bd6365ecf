// File: attribute/builder.go
// Package attribute
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide attribute registry. Names are interned once into stable,
// monotonically assigned indices so hot-path lookups are a slice index.

package attribute

import (
	"fmt"
	"reflect"
	"sync"
)

// Builder interns attribute names into indices.
type Builder struct {
	mu     sync.RWMutex
	byName map[string]*entry
	names  []string
}

type entry struct {
	index int
	attr  any // *Attribute[T]
	typ   reflect.Type
}

var defaultBuilder = NewBuilder()

// DefaultBuilder returns the process-wide builder.
func DefaultBuilder() *Builder { return defaultBuilder }

// NewBuilder creates an isolated registry. Holders bound to it resolve names
// against it.
func NewBuilder() *Builder {
	return &Builder{byName: make(map[string]*entry)}
}

// IndexOf returns the index assigned to name.
func (b *Builder) IndexOf(name string) (int, bool) {
	b.mu.RLock()
	e, ok := b.byName[name]
	b.mu.RUnlock()
	if !ok {
		return -1, false
	}
	return e.index, true
}

// NameOf returns the name registered under index.
func (b *Builder) NameOf(index int) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if index < 0 || index >= len(b.names) {
		return "", false
	}
	return b.names[index], true
}

// Len is the number of registered attributes.
func (b *Builder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.names)
}

// intern returns the index for name, assigning the next one on first sight.
func (b *Builder) intern(name string) int {
	if idx, ok := b.IndexOf(name); ok {
		return idx
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.byName[name]; ok {
		return e.index
	}
	idx := len(b.names)
	b.names = append(b.names, name)
	b.byName[name] = &entry{index: idx}
	return idx
}

// New returns the attribute called name from the default builder, creating
// it on first use.
func New[T any](name string, opts ...Option[T]) *Attribute[T] {
	return NewIn[T](defaultBuilder, name, opts...)
}

// NewIn returns the attribute called name from b. Repeated calls with the same
// name return the same attribute; a different value type panics.
func NewIn[T any](b *Builder, name string, opts ...Option[T]) *Attribute[T] {
	typ := reflect.TypeOf((*T)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byName[name]
	if ok && e.attr != nil {
		if e.typ != typ {
			panic(fmt.Sprintf("attribute: %q already registered with type %v, requested %v", name, e.typ, typ))
		}
		return e.attr.(*Attribute[T])
	}
	if !ok {
		e = &entry{index: len(b.names)}
		b.names = append(b.names, name)
		b.byName[name] = e
	}
	a := &Attribute[T]{name: name, index: e.index, builder: b}
	for _, o := range opts {
		o(a)
	}
	e.attr = a
	e.typ = typ
	return a
}
