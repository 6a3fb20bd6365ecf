// Package attribute implements per-connection and per-request key/value
// storage with O(1) indexed access.
//
// Attributes are created once per process through a Builder that interns
// each name into a stable index. A Holder keeps values in a slice addressed by
// that index, grown lazily, so the hot path costs one slice access instead of
// a hashed lookup.
package attribute
