package buffer

import (
	"fmt"
	"math/bits"
	"sync"
)

const (
	minClassShift = 8
	maxClassShift = 25
)

// Pool recycles power-of-two size classes through sync.Pool. A positive
// budget caps the bytes held by outstanding handles. Safe for concurrent use.
type Pool struct {
	classes [maxClassShift - minClassShift + 1]sync.Pool
	budget  int

	mu          sync.Mutex
	outstanding int
}

// NewPool returns a pool; budget <= 0 means unlimited.
func NewPool(budget int) *Pool {
	return &Pool{budget: budget}
}

func classFor(n int) (int, bool) {
	if n <= 1<<minClassShift {
		return 0, true
	}
	shift := bits.Len(uint(n - 1))
	if shift > maxClassShift {
		return 0, false
	}
	return shift - minClassShift, true
}

func (p *Pool) Acquire(n int) (*Handle, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	class, pooled := classFor(n)
	size := n
	if pooled {
		size = 1 << (class + minClassShift)
	}
	if err := p.reserve(size); err != nil {
		return nil, err
	}
	if pooled {
		if v, ok := p.classes[class].Get().(*[]byte); ok {
			return &Handle{buf: (*v)[:size], owner: p}, nil
		}
	}
	return &Handle{buf: make([]byte, size), owner: p}, nil
}

func (p *Pool) Release(h *Handle) {
	buf, ok := h.Reclaim()
	if !ok {
		return
	}
	p.mu.Lock()
	p.outstanding -= len(buf)
	p.mu.Unlock()
	if class, pooled := classFor(len(buf)); pooled && len(buf) == 1<<(class+minClassShift) {
		p.classes[class].Put(&buf)
	}
}

// Outstanding is the capacity currently held by unreleased handles.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

func (p *Pool) reserve(size int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.budget > 0 && p.outstanding+size > p.budget {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrExhausted, size, p.outstanding, p.budget)
	}
	p.outstanding += size
	return nil
}
