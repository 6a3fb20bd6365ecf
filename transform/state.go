// File: transform/state.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transform

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-nio/attribute"
)

var stateSeq atomic.Uint64

// State keeps one transformer's partial progress in a connection store.
// Every State gets its own attribute, so two instances of the same codec in
// one chain never share progress.
type State[S any] struct {
	attr *attribute.Attribute[*S]
}

// NewState creates the attribute backing a transformer's state.
func NewState[S any](owner string) *State[S] {
	name := fmt.Sprintf("transform.%s.state#%d", owner, stateSeq.Add(1))
	return &State[S]{
		attr: attribute.New[*S](name, attribute.WithInitializer(func() *S { return new(S) })),
	}
}

// Get returns the state in store, creating it on first use.
func (s *State[S]) Get(store *attribute.Holder) *S {
	return s.attr.GetOrInit(store)
}

// Peek returns the state if present.
func (s *State[S]) Peek(store *attribute.Holder) (*S, bool) {
	return s.attr.Get(store)
}

// Clear drops the state.
func (s *State[S]) Clear(store *attribute.Holder) {
	s.attr.Remove(store)
}
