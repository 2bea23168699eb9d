// Package pace provides frame-rate governance for the analysis pipeline.
package pace

import (
	"sync"
	"time"
)

// Frame rate bounds. Requests outside this range are clamped, not rejected,
// so a misconfigured caller still gets a working limiter.
const (
	MinFPS = 1
	MaxFPS = 60
)

// Limiter decides whether the next frame should be accepted or dropped to
// hold a target cadence. It resynchronizes to ideal tick boundaries rather
// than measuring from the last actual accept, so a burst of late frames does
// not accumulate timing skew.
//
// A single Limiter instance is shared between the frame-delivery goroutine
// and the background worker, so all state is mutex-protected.
type Limiter struct {
	mu           sync.Mutex
	intervalNs   int64
	lastAccepted int64
	targetFPS    int
}

// NewLimiter creates a Limiter for the given target frame rate in Hz.
// Rates outside [MinFPS, MaxFPS] are silently clamped.
func NewLimiter(targetFPS int) *Limiter {
	if targetFPS < MinFPS {
		targetFPS = MinFPS
	}
	if targetFPS > MaxFPS {
		targetFPS = MaxFPS
	}

	return &Limiter{
		intervalNs: time.Second.Nanoseconds() / int64(targetFPS),
		targetFPS:  targetFPS,
	}
}

// ShouldProcess reports whether a frame arriving at nowNanos should be
// processed. The first call after construction or Reset always accepts.
//
// On acceptance the internal clock advances by a whole number of periods
// (elapsed minus its remainder), not to nowNanos, so late calls re-sync to
// the ideal cadence instead of drifting.
func (l *Limiter) ShouldProcess(nowNanos int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastAccepted == 0 {
		l.lastAccepted = nowNanos
		return true
	}

	elapsed := nowNanos - l.lastAccepted
	if elapsed < l.intervalNs {
		return false
	}

	l.lastAccepted += elapsed - elapsed%l.intervalNs
	return true
}

// Reset forces the next ShouldProcess call to accept unconditionally.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastAccepted = 0
}

// TargetFPS returns the clamped target frame rate.
func (l *Limiter) TargetFPS() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetFPS
}

// Interval returns the period between accepted frames.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.intervalNs)
}
