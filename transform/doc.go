// Package transform
// Author: momentics <momentics@gmail.com>
//
// Restartable incremental codecs.
//
// A Transformer is shared by every connection of a chain, exactly like a
// filter, so it keeps no per-connection fields. Partial progress (bytes of
// an unfinished chunk, a half-read integer, the elements of a sequence) is
// stored in the connection's attribute.Holder through a State. When a
// transformer reports Incomplete, calling it again with the same store and
// the unconsumed input followed by new bytes resumes where it stopped.
package transform
