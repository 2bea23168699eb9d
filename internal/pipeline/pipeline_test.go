package pipeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/drishti/internal/bufpool"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/perf"
)

func testFrame() *capture.Frame {
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	return capture.NewFrame(mat, time.Now().UnixNano())
}

func testPipeline(engine detector.Engine, pacing PacingFunc) (*Pipeline, *perf.WorkerPool) {
	pool := bufpool.New(4)
	workers := perf.NewWorkerPool(2)
	cfg := DefaultConfig()
	cfg.Detector.MinConfidence = 0.1
	return New(cfg, engine, pool, workers, pacing), workers
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestPipeline_ProcessesAndPublishes(t *testing.T) {
	engine := detector.NewMockEngine()
	engine.SetDetections([]detector.Detection{
		{Label: "person", Confidence: 0.9, Box: detector.Box{Left: 0.1, Top: 0.1, Right: 0.4, Bottom: 0.8}},
	})

	p, workers := testPipeline(engine, nil)
	defer workers.Stop()
	defer p.Release()

	if !p.Submit(testFrame()) {
		t.Fatal("expected the first frame to be accepted")
	}

	waitFor(t, time.Second, func() bool { return p.Stats().Published == 1 })

	batch := p.Detections().Latest()
	if len(batch) != 1 || batch[0].Label != "person" {
		t.Errorf("unexpected published batch %v", batch)
	}

	timing := p.Timings().Latest()
	if timing.FrameID == "" || timing.Elapsed <= 0 {
		t.Errorf("expected a timing sample, got %+v", timing)
	}
}

func TestPipeline_SingleFlightRejectsConcurrentFrames(t *testing.T) {
	engine := detector.NewMockEngine()
	engine.Block()

	p, workers := testPipeline(engine, nil)
	defer workers.Stop()
	defer p.Release()

	if !p.Submit(testFrame()) {
		t.Fatal("expected the first frame to be accepted")
	}
	waitFor(t, time.Second, func() bool { return engine.Calls() == 1 })

	// While one frame is in flight, every competing submission is
	// rejected immediately, regardless of how many goroutines race.
	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	rejectedFrames := make([]*capture.Frame, 0, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := testFrame()
			if p.Submit(f) {
				t.Error("expected rejection while a frame is in flight")
			}
			mu.Lock()
			rejectedFrames = append(rejectedFrames, f)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, f := range rejectedFrames {
		if !f.Closed() {
			t.Error("rejected frame was not closed")
		}
	}

	stats := p.Stats()
	if stats.Accepted != 1 || stats.Rejected != n {
		t.Errorf("expected 1 accepted / %d rejected, got %+v", n, stats)
	}

	engine.Unblock()
	waitFor(t, time.Second, func() bool { return p.Stats().Published == 1 })

	// The single-flight slot is free again.
	if !p.Submit(testFrame()) {
		t.Error("expected acceptance after the in-flight frame completed")
	}
}

func TestPipeline_PacingPredicateRejects(t *testing.T) {
	engine := detector.NewMockEngine()
	p, workers := testPipeline(engine, func(int64) bool { return false })
	defer workers.Stop()
	defer p.Release()

	f := testFrame()
	if p.Submit(f) {
		t.Error("expected the pacing predicate to reject the frame")
	}
	if !f.Closed() {
		t.Error("rejected frame was not closed")
	}
	if engine.Calls() != 0 {
		t.Error("rejected frame must not reach the engine")
	}
}

func TestPipeline_EngineErrorIsPerFrameFailure(t *testing.T) {
	engine := detector.NewMockEngine()
	engine.SetError(errors.New("model exploded"))

	p, workers := testPipeline(engine, nil)
	defer workers.Stop()
	defer p.Release()

	f := testFrame()
	if !p.Submit(f) {
		t.Fatal("expected acceptance")
	}

	waitFor(t, time.Second, func() bool { return p.Stats().Failed == 1 })

	if !f.Closed() {
		t.Error("failed frame was not closed")
	}
	if len(p.Detections().Latest()) != 0 {
		t.Error("a failed frame must not publish detections")
	}

	// The pipeline keeps running: fix the engine, submit again.
	engine.SetError(nil)
	engine.SetDetections([]detector.Detection{
		{Label: "cat", Confidence: 0.8, Box: detector.Box{Left: 0.1, Top: 0.1, Right: 0.2, Bottom: 0.2}},
	})
	if !p.Submit(testFrame()) {
		t.Fatal("expected acceptance after a failure")
	}
	waitFor(t, time.Second, func() bool { return p.Stats().Published == 1 })
}

func TestPipeline_EnginePanicIsContained(t *testing.T) {
	engine := detector.NewMockEngine()
	engine.SetPanic("segfault in native code")

	p, workers := testPipeline(engine, nil)
	defer workers.Stop()
	defer p.Release()

	f := testFrame()
	if !p.Submit(f) {
		t.Fatal("expected acceptance")
	}

	waitFor(t, time.Second, func() bool { return p.Stats().Failed == 1 })

	if !f.Closed() {
		t.Error("frame from a panicking engine was not closed")
	}

	// Flag must be clear so the pipeline accepts the next frame.
	engine.SetPanic("")
	if !p.Submit(testFrame()) {
		t.Error("expected acceptance after the panic was contained")
	}
}

func TestPipeline_ResultsAreShaped(t *testing.T) {
	engine := detector.NewMockEngine()
	engine.SetDetections([]detector.Detection{
		{Label: "low", Confidence: 0.2, Box: detector.Box{Left: 0.0, Top: 0.0, Right: 0.1, Bottom: 0.1}},
		{Label: "c", Confidence: 0.5, Box: detector.Box{Left: 0.2, Top: 0.2, Right: 0.3, Bottom: 0.3}},
		{Label: "a", Confidence: 0.9, Box: detector.Box{Left: 0.4, Top: 0.4, Right: 0.5, Bottom: 0.5}},
		{Label: "b", Confidence: 0.7, Box: detector.Box{Left: 0.6, Top: 0.6, Right: 0.7, Bottom: 0.7}},
	})

	pool := bufpool.New(4)
	workers := perf.NewWorkerPool(1)
	defer workers.Stop()

	cfg := DefaultConfig()
	cfg.Detector.MinConfidence = 0.4
	cfg.Detector.MaxResults = 2

	p := New(cfg, engine, pool, workers, nil)
	defer p.Release()

	p.Submit(testFrame())
	waitFor(t, time.Second, func() bool { return p.Stats().Published == 1 })

	batch := p.Detections().Latest()
	if len(batch) != 2 {
		t.Fatalf("expected the batch truncated to 2, got %d", len(batch))
	}
	if batch[0].Label != "a" || batch[1].Label != "b" {
		t.Errorf("expected descending confidence order [a b], got %v", batch)
	}
}

func TestPipeline_VisualizationBufferTracksLatestFrame(t *testing.T) {
	engine := detector.NewMockEngine()
	p, workers := testPipeline(engine, nil)
	defer workers.Stop()
	defer p.Release()

	p.Visualization(func(b *bufpool.Buffer) {
		if b != nil {
			t.Error("expected no visualization buffer before the first frame")
		}
	})

	p.Submit(testFrame())
	waitFor(t, time.Second, func() bool { return p.Stats().Published == 1 })

	p.Visualization(func(b *bufpool.Buffer) {
		if b == nil {
			t.Fatal("expected a visualization buffer after processing")
		}
		if b.Width() != DefaultConfig().AnalysisWidth || b.Height() != DefaultConfig().AnalysisHeight {
			t.Errorf("expected analysis shape, got %dx%d", b.Width(), b.Height())
		}
	})
}

func TestPipeline_ReleaseClearsResultsAndRejects(t *testing.T) {
	engine := detector.NewMockEngine()
	engine.SetDetections([]detector.Detection{
		{Label: "dog", Confidence: 0.9, Box: detector.Box{Left: 0.1, Top: 0.1, Right: 0.2, Bottom: 0.2}},
	})

	p, workers := testPipeline(engine, nil)
	defer workers.Stop()

	p.Submit(testFrame())
	waitFor(t, time.Second, func() bool { return p.Stats().Published == 1 })

	p.Release()
	p.Release() // idempotent

	if len(p.Detections().Latest()) != 0 {
		t.Error("expected published results cleared after Release")
	}

	f := testFrame()
	if p.Submit(f) {
		t.Error("expected rejection after Release")
	}
	if !f.Closed() {
		t.Error("frame submitted after Release was not closed")
	}

	p.Visualization(func(b *bufpool.Buffer) {
		if b != nil {
			t.Error("expected the visualization buffer returned to the pool")
		}
	})
}
