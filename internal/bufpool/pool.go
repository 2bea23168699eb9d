// Package bufpool recycles fixed-shape image buffers so the analysis
// pipeline does not allocate a fresh Mat for every frame.
package bufpool

import (
	"sync"

	"gocv.io/x/gocv"
)

// DefaultMaxSize is the number of idle buffers the pool retains. Buffers
// released beyond this bound are freed, capping worst-case memory no matter
// how the checkout pattern churns.
const DefaultMaxSize = 4

// Buffer state words. Transitions: checkedOut -> pooled -> checkedOut,
// checkedOut/pooled -> discarded (terminal).
const (
	stateCheckedOut = iota
	statePooled
	stateDiscarded
)

// Buffer is a pooled image buffer tagged with its shape. While checked out
// it is owned by exactly one caller; afterwards it belongs to the pool again
// or has been freed.
type Buffer struct {
	Mat gocv.Mat

	width   int
	height  int
	matType gocv.MatType

	state int
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Type returns the pixel format of the buffer.
func (b *Buffer) Type() gocv.MatType { return b.matType }

// Pool is a bounded recycler of image buffers. Acquire and Release are
// mutually exclusive critical sections and may be called from any goroutine.
type Pool struct {
	mu      sync.Mutex
	free    []*Buffer
	maxSize int
}

// New creates a Pool retaining at most maxSize idle buffers. Values less
// than 1 fall back to DefaultMaxSize.
func New(maxSize int) *Pool {
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	return &Pool{maxSize: maxSize}
}

// Acquire returns a buffer of exactly the requested shape. A pooled buffer
// with a matching shape is cleared and reused; otherwise a new one is
// allocated. The caller owns the buffer until Release.
func (p *Pool) Acquire(width, height int, matType gocv.MatType) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, b := range p.free {
		if b.width == width && b.height == height && b.matType == matType {
			p.free = append(p.free[:i], p.free[i+1:]...)
			b.Mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
			b.state = stateCheckedOut
			return b
		}
	}

	return &Buffer{
		Mat:     gocv.NewMatWithSize(height, width, matType),
		width:   width,
		height:  height,
		matType: matType,
		state:   stateCheckedOut,
	}
}

// Release returns a buffer to the pool. If the pool already holds maxSize
// idle buffers the buffer is freed instead of retained. Releasing the same
// buffer twice, or a buffer that was already discarded, is a no-op.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if b.state != stateCheckedOut {
		return
	}

	if len(p.free) >= p.maxSize {
		b.state = stateDiscarded
		b.Mat.Close()
		return
	}

	b.state = statePooled
	p.free = append(p.free, b)
}

// IdleCount returns the number of buffers currently retained by the pool.
func (p *Pool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close frees every idle buffer. Checked-out buffers are freed when they
// are released after Close only if the pool is full; callers shutting down
// should release buffers before closing the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, b := range p.free {
		b.state = stateDiscarded
		b.Mat.Close()
	}
	p.free = nil
}
