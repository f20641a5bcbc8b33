// Package buffer provides the byte buffers that move frames across the
// transport codec boundary.
//
// Ownership boundary:
//   - A Handle is held by exactly one layer at a time and released once.
//   - After release Bytes returns nil; views taken earlier must not be used.
//   - Acquired buffers are not zeroed.
package buffer

import (
	"errors"
	"fmt"
)

var (
	ErrExhausted   = errors.New("buffer: pool exhausted")
	ErrInvalidSize = errors.New("buffer: invalid size")
)

// Strategy hands out buffers and takes them back.
type Strategy interface {
	Acquire(n int) (*Handle, error)
	Release(h *Handle)
}

// Handle is an exclusively owned, possibly pooled buffer.
type Handle struct {
	buf      []byte
	n        int
	owner    Strategy
	released bool
}

// NewHandle wraps buf with length n. owner receives the handle on Release;
// a nil owner drops the buffer.
func NewHandle(buf []byte, n int, owner Strategy) *Handle {
	if n < 0 || n > cap(buf) {
		n = 0
	}
	return &Handle{buf: buf[:cap(buf)], n: n, owner: owner}
}

// Bytes returns the first Len bytes, or nil once released.
func (h *Handle) Bytes() []byte {
	if h == nil || h.released {
		return nil
	}
	return h.buf[:h.n]
}

func (h *Handle) Len() int {
	if h == nil || h.released {
		return 0
	}
	return h.n
}

func (h *Handle) Cap() int {
	if h == nil || h.released {
		return 0
	}
	return len(h.buf)
}

// SetLen changes the visible length within capacity.
func (h *Handle) SetLen(n int) error {
	if h == nil || h.released {
		return fmt.Errorf("%w: handle released", ErrInvalidSize)
	}
	if n < 0 || n > len(h.buf) {
		return fmt.Errorf("%w: length %d outside [0, %d]", ErrInvalidSize, n, len(h.buf))
	}
	h.n = n
	return nil
}

// Released reports whether the handle was given back.
func (h *Handle) Released() bool {
	return h == nil || h.released
}

// Release returns the handle to its owner. Later calls are no-ops.
func (h *Handle) Release() {
	if h == nil || h.released {
		return
	}
	if h.owner != nil {
		h.owner.Release(h)
		return
	}
	h.Reclaim()
}

// Reclaim marks the handle released and returns its backing buffer the
// first time it is called. Strategies call it from Release.
func (h *Handle) Reclaim() ([]byte, bool) {
	if h == nil || h.released {
		return nil, false
	}
	buf := h.buf
	h.released = true
	h.buf = nil
	h.n = 0
	return buf, true
}

// Reserve makes room for n more bytes after Len, growing through s when
// capacity runs out. A nil h acquires a fresh handle. The returned handle
// replaces h, which must not be used afterwards.
func Reserve(s Strategy, h *Handle, n int) (*Handle, error) {
	if n < 0 {
		return h, fmt.Errorf("%w: reserve %d", ErrInvalidSize, n)
	}
	if h == nil {
		return s.Acquire(n)
	}
	if h.Released() {
		return nil, fmt.Errorf("%w: reserve on released handle", ErrInvalidSize)
	}
	need := h.n + n
	if need <= len(h.buf) {
		return h, nil
	}
	grown, err := s.Acquire(growSize(len(h.buf), need))
	if err != nil {
		return h, err
	}
	copy(grown.buf, h.buf[:h.n])
	grown.n = h.n
	h.Release()
	return grown, nil
}

// Append appends p, growing through s when capacity runs out.
func Append(s Strategy, h *Handle, p []byte) (*Handle, error) {
	h, err := Reserve(s, h, len(p))
	if err != nil {
		return h, err
	}
	copy(h.buf[h.n:h.n+len(p)], p)
	h.n += len(p)
	return h, nil
}

func growSize(have, need int) int {
	next := 2 * have
	if next < need {
		next = need
	}
	return next
}

// Heap allocates every buffer and lets the GC reclaim it.
type Heap struct{}

func (Heap) Acquire(n int) (*Handle, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	return &Handle{buf: make([]byte, n), owner: Heap{}}, nil
}

func (Heap) Release(h *Handle) {
	h.Reclaim()
}
