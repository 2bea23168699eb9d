package perf

import (
	"runtime"
	"sync"
)

// WorkerPool is a bounded pool of background goroutines for inference work.
// Go offers no portable way to lower goroutine scheduling priority, so the
// pool bound itself is what keeps background work from starving the
// delivery goroutines.
type WorkerPool struct {
	tasks chan func()
	stop  chan struct{}
	once  sync.Once
	size  int
}

// DefaultWorkerCount returns clamp(cores-1, 1..).
func DefaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// NewWorkerPool starts size worker goroutines. Sizes less than 1 fall back
// to DefaultWorkerCount.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = DefaultWorkerCount()
	}

	p := &WorkerPool{
		tasks: make(chan func(), size),
		stop:  make(chan struct{}),
		size:  size,
	}

	for i := 0; i < size; i++ {
		go p.worker()
	}

	return p
}

func (p *WorkerPool) worker() {
	for {
		select {
		case <-p.stop:
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// Submit hands a task to the pool without blocking. It returns false when
// the pool is stopped or saturated; callers treat that as load shedding.
func (p *WorkerPool) Submit(task func()) bool {
	select {
	case <-p.stop:
		return false
	default:
	}

	select {
	case p.tasks <- task:
		return true
	case <-p.stop:
		return false
	default:
		return false
	}
}

// Size returns the number of worker goroutines.
func (p *WorkerPool) Size() int {
	return p.size
}

// Stop signals all workers to exit. It does not wait for in-flight tasks;
// cancellation is best-effort and the caller returns immediately.
// Idempotent.
func (p *WorkerPool) Stop() {
	p.once.Do(func() {
		close(p.stop)
	})
}
