// Package perf tracks realized frame cadence, publishes performance
// snapshots, selects analysis resolutions, and owns the shared background
// worker pool.
package perf

import (
	"sync"
	"time"

	"github.com/ayusman/drishti/internal/bus"
	"github.com/ayusman/drishti/internal/pace"
)

const (
	// WindowSize is the number of inter-frame intervals retained.
	WindowSize = 30

	// MinSamples is how many intervals must exist before the snapshot
	// leaves Idle.
	MinSamples = 5

	// MaxAnalysisWidth and MaxAnalysisHeight cap both the preview and
	// analysis resolutions to device-practical bounds.
	MaxAnalysisWidth  = 1280
	MaxAnalysisHeight = 960
)

// SnapshotState distinguishes an idle pipeline from a measured one.
type SnapshotState int

const (
	Idle SnapshotState = iota
	Running
)

// Snapshot is an immutable performance report. Transitions only
// Idle -> Running -> Idle.
type Snapshot struct {
	State          SnapshotState
	CurrentFPS     float64
	TargetFPS      int
	AvgFrameTimeMs float64
}

// Monitor couples rate limiting with cadence measurement: every frame
// accepted through ShouldProcessFrame is both gated and measured exactly
// once. The rolling window is written only from the frame-delivery
// goroutine, but Release and snapshot readers run elsewhere, so state is
// mutex-protected.
type Monitor struct {
	limiter *pace.Limiter

	mu        sync.Mutex
	intervals []float64 // seconds, newest last, len <= WindowSize
	lastFrame int64
	released  bool

	snapshots *bus.Stream[Snapshot]
	pool      *WorkerPool
}

// NewMonitor creates a Monitor targeting the given frame rate (clamped to
// the limiter's legal range) with a worker pool of the given size.
func NewMonitor(targetFPS, workers int) *Monitor {
	return &Monitor{
		limiter:   pace.NewLimiter(targetFPS),
		snapshots: bus.NewStream[Snapshot](),
		pool:      NewWorkerPool(workers),
	}
}

// Snapshots returns the published performance stream.
func (m *Monitor) Snapshots() *bus.Stream[Snapshot] {
	return m.snapshots
}

// Workers returns the shared background worker pool.
func (m *Monitor) Workers() *WorkerPool {
	return m.pool
}

// TargetFPS returns the clamped target frame rate.
func (m *Monitor) TargetFPS() int {
	return m.limiter.TargetFPS()
}

// ShouldProcessFrame gates a frame on the rate limiter and, on acceptance,
// records the inter-frame interval in the rolling window and republishes
// the snapshot. Rejected frames leave the window untouched.
func (m *Monitor) ShouldProcessFrame(nowNanos int64) bool {
	if !m.limiter.ShouldProcess(nowNanos) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return false
	}

	if m.lastFrame != 0 {
		interval := time.Duration(nowNanos - m.lastFrame).Seconds()
		if interval > 0 {
			m.intervals = append(m.intervals, interval)
			if len(m.intervals) > WindowSize {
				m.intervals = m.intervals[1:]
			}
		}
	}
	m.lastFrame = nowNanos

	m.publishLocked()
	return true
}

// publishLocked republishes the snapshot from the current window.
// Caller holds m.mu.
func (m *Monitor) publishLocked() {
	if len(m.intervals) < MinSamples {
		m.snapshots.Publish(Snapshot{State: Idle})
		return
	}

	var sum float64
	for _, v := range m.intervals {
		sum += v
	}
	avg := sum / float64(len(m.intervals))

	m.snapshots.Publish(Snapshot{
		State:          Running,
		CurrentFPS:     1 / avg,
		TargetFPS:      m.limiter.TargetFPS(),
		AvgFrameTimeMs: avg * 1000,
	})
}

// Reset clears the rolling window and the limiter so the next frame is
// accepted unconditionally and measurement starts fresh.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intervals = nil
	m.lastFrame = 0
	m.limiter.Reset()
	m.snapshots.Publish(Snapshot{State: Idle})
}

// Release shuts down the worker pool, clears the window, and republishes
// Idle. It does not wait for in-flight tasks. Idempotent.
func (m *Monitor) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return
	}
	m.released = true

	m.pool.Stop()
	m.intervals = nil
	m.lastFrame = 0
	m.snapshots.Publish(Snapshot{State: Idle})
}

// SelectResolutions picks the preview and analysis resolutions for a
// camera's native size. Both are capped to the device-practical bound and
// the analysis resolution never exceeds the preview, preserving aspect.
func SelectResolutions(nativeW, nativeH int) (previewW, previewH, analysisW, analysisH int) {
	previewW, previewH = capResolution(nativeW, nativeH, MaxAnalysisWidth, MaxAnalysisHeight)

	// Analysis runs at half the preview area unless already small.
	analysisW, analysisH = previewW, previewH
	if previewW > 640 || previewH > 480 {
		analysisW, analysisH = capResolution(previewW, previewH, previewW/2, previewH/2)
	}
	return previewW, previewH, analysisW, analysisH
}

// capResolution scales (w, h) down to fit (maxW, maxH), preserving aspect.
// Sizes already inside the bound are returned unchanged.
func capResolution(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return maxW, maxH
	}
	if w <= maxW && h <= maxH {
		return w, h
	}

	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}
