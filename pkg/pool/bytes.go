// Package pool recycles scratch buffers used while encoding cached bodies.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// DefaultMaxRetained is the largest buffer capacity put back into a pool.
// Bigger buffers are dropped so one huge body does not pin memory.
const DefaultMaxRetained = 1 << 20

// BufferPool hands out reset *bytes.Buffer values
type BufferPool struct {
	pool        sync.Pool
	maxRetained int
	metrics     Metrics
}

// Metrics tracks pool usage
type Metrics struct {
	TotalGet     int64
	TotalNew     int64
	TotalPut     int64
	TotalDropped int64
}

// NewBufferPool creates a pool that keeps buffers up to maxRetained bytes.
// A non-positive maxRetained uses DefaultMaxRetained.
func NewBufferPool(maxRetained int) *BufferPool {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	p := &BufferPool{maxRetained: maxRetained}
	p.pool.New = func() any {
		atomic.AddInt64(&p.metrics.TotalNew, 1)
		return new(bytes.Buffer)
	}
	return p
}

// Get returns an empty buffer
func (p *BufferPool) Get() *bytes.Buffer {
	atomic.AddInt64(&p.metrics.TotalGet, 1)
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. The caller must not use buf afterwards.
func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > p.maxRetained {
		atomic.AddInt64(&p.metrics.TotalDropped, 1)
		return
	}
	atomic.AddInt64(&p.metrics.TotalPut, 1)
	p.pool.Put(buf)
}

// Metrics returns a snapshot of the counters
func (p *BufferPool) Metrics() Metrics {
	return Metrics{
		TotalGet:     atomic.LoadInt64(&p.metrics.TotalGet),
		TotalNew:     atomic.LoadInt64(&p.metrics.TotalNew),
		TotalPut:     atomic.LoadInt64(&p.metrics.TotalPut),
		TotalDropped: atomic.LoadInt64(&p.metrics.TotalDropped),
	}
}
