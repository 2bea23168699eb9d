// Package pipeline schedules frame analysis: it gates incoming frames on
// the pacing predicate, enforces at-most-one-in-flight inference, converts
// frames through the buffer pool, invokes the external inference engine,
// and republishes shaped results and timing.
package pipeline

import (
	"fmt"
	"image"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/bufpool"
	"github.com/ayusman/drishti/internal/bus"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/perf"
)

// DefaultStallWarnAfter is how long an inference call may run before a
// warning is logged. There is no forced timeout: the single-flight slot is
// held until the engine returns or the pipeline is released, because
// abandoning the call would either leak it or break the at-most-one
// invariant. The warning makes a stalled engine visible.
const DefaultStallWarnAfter = 3 * time.Second

// PacingFunc decides whether a frame arriving at the given timestamp
// should be processed.
type PacingFunc func(nowNanos int64) bool

// Config holds pipeline options.
type Config struct {
	// AnalysisWidth and AnalysisHeight define the analysis buffer shape
	// frames are converted into.
	AnalysisWidth  int
	AnalysisHeight int

	// Detector shapes raw engine output (confidence floor, overlap
	// suppression, result cap).
	Detector detector.Config

	// StallWarnAfter is the slow-inference warning threshold. Zero uses
	// DefaultStallWarnAfter.
	StallWarnAfter time.Duration
}

// DefaultConfig returns a pipeline Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AnalysisWidth:  320,
		AnalysisHeight: 240,
		Detector:       detector.DefaultConfig(),
		StallWarnAfter: DefaultStallWarnAfter,
	}
}

// Timing reports the wall-clock cost of one processed frame, conversion
// through postprocessing.
type Timing struct {
	FrameID string
	Elapsed time.Duration
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Submitted uint64
	Accepted  uint64
	Rejected  uint64
	Published uint64
	Failed    uint64
}

// Pipeline is the single-flight frame scheduler. Frames arriving while one
// is being processed are rejected immediately (load shedding), never
// queued.
type Pipeline struct {
	cfg     Config
	engine  detector.Engine
	buffers *bufpool.Pool
	workers *perf.WorkerPool
	pacing  PacingFunc

	// busy is the single-flight flag: set by CAS in Submit, cleared in
	// the guaranteed cleanup after processing.
	busy     atomic.Bool
	released atomic.Bool

	mu  sync.Mutex
	vis *bufpool.Buffer // latest analysis buffer, for visualization

	detections *bus.Stream[detector.Batch]
	timings    *bus.Stream[Timing]

	submitted atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a Pipeline. The engine is consumed as a black box; the
// buffer pool and worker pool are injected and owned by the caller. The
// pacing predicate may be nil.
func New(cfg Config, engine detector.Engine, buffers *bufpool.Pool, workers *perf.WorkerPool, pacing PacingFunc) *Pipeline {
	if cfg.AnalysisWidth <= 0 || cfg.AnalysisHeight <= 0 {
		cfg.AnalysisWidth = DefaultConfig().AnalysisWidth
		cfg.AnalysisHeight = DefaultConfig().AnalysisHeight
	}
	if cfg.StallWarnAfter <= 0 {
		cfg.StallWarnAfter = DefaultStallWarnAfter
	}

	return &Pipeline{
		cfg:        cfg,
		engine:     engine,
		buffers:    buffers,
		workers:    workers,
		pacing:     pacing,
		detections: bus.NewStream[detector.Batch](),
		timings:    bus.NewStream[Timing](),
	}
}

// Detections returns the published detection stream.
func (p *Pipeline) Detections() *bus.Stream[detector.Batch] {
	return p.detections
}

// Timings returns the per-frame timing stream.
func (p *Pipeline) Timings() *bus.Stream[Timing] {
	return p.timings
}

// Stats returns a snapshot of the cumulative counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Accepted:  p.accepted.Load(),
		Rejected:  p.rejected.Load(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// Submit offers a frame to the pipeline. Ownership of the frame transfers
// here: whether the frame is accepted or rejected, the pipeline releases it
// exactly once. Returns true when the frame was accepted for processing.
func (p *Pipeline) Submit(frame *capture.Frame) bool {
	p.submitted.Add(1)

	if p.released.Load() {
		p.reject(frame)
		return false
	}

	if p.pacing != nil && !p.pacing(frame.Timestamp) {
		p.reject(frame)
		return false
	}

	if !p.busy.CompareAndSwap(false, true) {
		p.reject(frame)
		return false
	}

	if !p.workers.Submit(func() { p.process(frame) }) {
		frame.Close()
		p.busy.Store(false)
		p.rejected.Add(1)
		return false
	}

	p.accepted.Add(1)
	return true
}

func (p *Pipeline) reject(frame *capture.Frame) {
	frame.Close()
	p.rejected.Add(1)
}

// process runs on a background worker while the single-flight flag is held.
func (p *Pipeline) process(frame *capture.Frame) {
	defer func() {
		// Guaranteed cleanup: any panic in conversion or publication is
		// contained here, the frame is released exactly once, and the
		// single-flight flag is cleared.
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Printf("pipeline: frame %s failed: %v", frame.ID, r)
		}
		frame.Close()
		p.busy.Store(false)
	}()

	if p.released.Load() {
		return
	}

	start := time.Now()

	// Convert the raw frame into the analysis shape.
	analysis := p.buffers.Acquire(p.cfg.AnalysisWidth, p.cfg.AnalysisHeight, gocv.MatTypeCV8UC3)
	gocv.Resize(frame.Mat, &analysis.Mat, image.Pt(p.cfg.AnalysisWidth, p.cfg.AnalysisHeight),
		0, 0, gocv.InterpolationLinear)

	// Hand the finished buffer over for visualization; the previous one
	// goes back to the pool only now, so readers never see a half-written
	// frame.
	p.mu.Lock()
	prev := p.vis
	p.vis = analysis
	p.mu.Unlock()
	p.buffers.Release(prev)

	// Preprocess to the engine's fixed input shape.
	inW, inH := p.engine.InputSize()
	input := p.buffers.Acquire(inW, inH, gocv.MatTypeCV8UC3)
	gocv.Resize(analysis.Mat, &input.Mat, image.Pt(inW, inH), 0, 0, gocv.InterpolationLinear)

	warn := time.AfterFunc(p.cfg.StallWarnAfter, func() {
		log.Printf("pipeline: inference for frame %s still running after %v", frame.ID, p.cfg.StallWarnAfter)
	})
	raw, err := p.invoke(input.Mat)
	warn.Stop()
	p.buffers.Release(input)

	if err != nil {
		p.failed.Add(1)
		log.Printf("pipeline: inference failed for frame %s: %v", frame.ID, err)
		return
	}

	if p.released.Load() {
		return
	}

	batch := detector.Postprocess(raw, p.cfg.Detector)
	p.detections.Publish(batch)
	p.timings.Publish(Timing{FrameID: frame.ID, Elapsed: time.Since(start)})
	p.published.Add(1)
}

// invoke calls the engine, converting a panic into a per-frame error so a
// misbehaving engine can never take the pipeline down.
func (p *Pipeline) invoke(img gocv.Mat) (dets []detector.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()
	return p.engine.Infer(img)
}

// Visualization runs fn with the latest analysis buffer under the
// pipeline's lock, or with nil if none exists yet. The buffer must not be
// retained past fn.
func (p *Pipeline) Visualization(fn func(*bufpool.Buffer)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.vis)
}

// Release shuts the pipeline down: the worker pool is signalled to stop,
// in-flight work is abandoned (best-effort, non-blocking), the
// visualization buffer returns to the pool, published results are cleared,
// and the single-flight flag is cleared. A worker still inside the engine
// finishes naturally but its result is discarded.
func (p *Pipeline) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}

	p.workers.Stop()

	p.mu.Lock()
	vis := p.vis
	p.vis = nil
	p.mu.Unlock()
	p.buffers.Release(vis)

	p.detections.Publish(detector.Batch{})
	p.busy.Store(false)
}
