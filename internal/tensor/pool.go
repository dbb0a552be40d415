package tensor

import (
	"sync"
)

type shapeKey struct {
	rows, cols int
}

// Pool is a shape-keyed free list for scratch tensors. The training loop
// allocates the same activation shapes every step, so recycling them keeps
// steady-state allocation near zero.
//
// Tensors returned by Get have undefined contents; callers overwrite.
type Pool struct {
	mu   sync.Mutex
	free map[shapeKey][]*Tensor
}

func NewPool() *Pool {
	return &Pool{
		free: make(map[shapeKey][]*Tensor),
	}
}

func (p *Pool) Get(rows, cols int) *Tensor {
	key := shapeKey{rows, cols}
	p.mu.Lock()
	list := p.free[key]
	if n := len(list); n > 0 {
		t := list[n-1]
		p.free[key] = list[:n-1]
		p.mu.Unlock()
		return t
	}
	p.mu.Unlock()
	return New(rows, cols)
}

func (p *Pool) Put(t *Tensor) {
	if t == nil {
		return
	}
	key := shapeKey{t.rows, t.cols}
	p.mu.Lock()
	p.free[key] = append(p.free[key], t)
	p.mu.Unlock()
}

// Free drops every pooled tensor.
func (p *Pool) Free() {
	p.mu.Lock()
	p.free = make(map[shapeKey][]*Tensor)
	p.mu.Unlock()
}
