// Package bufpool pools the fixed-size chunk buffers used by the streaming
// pipeline so file-read buffers are reused instead of allocated per file.
package bufpool

import "sync"

// Pool hands out byte slices of exactly one size.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a pool of size-byte buffers. Size must be positive.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	return &Pool{
		size: size,
		pool: sync.Pool{New: func() any { return make([]byte, size) }},
	}
}

// Get returns a buffer of exactly the pool size.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.size {
		return make([]byte, p.size)
	}
	return buf[:p.size]
}

// Put returns a buffer for reuse. Undersized buffers are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// Size returns the buffer size this pool serves.
func (p *Pool) Size() int {
	return p.size
}
