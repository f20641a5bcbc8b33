// Package wire owns the binary field codec.
//
// Ownership boundary:
// - bounded write cursor and read cursor
// - primitive fields (little-endian integers, bool, fixed arrays)
// - length-prefixed byte sequences and element sequences
//
// The wire layout has no type tags: a composite is the concatenation of its
// fields in declaration order. Composite types implement Codec by hand.
//
// Decoded byte sequences are views into the input span. They do not own
// their memory and must not be used after the input buffer is released or
// reused.
package wire
