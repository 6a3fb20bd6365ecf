// Package pool
// Author: momentics <momentics@gmail.com>
//
// Pooled, reference-counted byte buffers.
//
// A Manager hands out api.Buffer handles backed by blocks from power-of-two
// size classes. Each class keeps its free blocks in a lock-free MPMC queue.
// Handles share blocks through Slice, Split and Share; a block returns to its
// class only when its last handle is released. Composite concatenates
// buffers without copying so codecs can accumulate partial input.
package pool
