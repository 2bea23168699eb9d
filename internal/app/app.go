// Package app composes camera frame delivery, orientation estimation, the
// frame analysis pipeline, and performance monitoring into one lifecycle,
// and exposes a single combined state snapshot to the UI layer.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ayusman/drishti/internal/bufpool"
	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/detector"
	"github.com/ayusman/drishti/internal/orientation"
	"github.com/ayusman/drishti/internal/perf"
	"github.com/ayusman/drishti/internal/pipeline"
	"github.com/ayusman/drishti/internal/store"
)

// Config holds configuration options for the coordinator.
type Config struct {
	Camera  capture.Camera
	Sensors capture.SensorSource
	Engine  detector.Engine

	// Store persists the calibration bias across restarts. Optional.
	Store *store.Store

	// TargetFPS is the analysis cadence, clamped to the limiter's range.
	TargetFPS int

	// Workers sizes the shared background pool. Zero means cores-1.
	Workers int

	// PoolMaxSize bounds the buffer pool. Zero means the pool default.
	PoolMaxSize int

	// AnalysisWidth and AnalysisHeight override the analysis resolution.
	// Zero selects it from the camera resolution via the monitor policy.
	AnalysisWidth  int
	AnalysisHeight int

	Detector    detector.Config
	Orientation orientation.Config
}

// Snapshot is the combined pipeline state published to the UI layer.
// All fields are immutable value snapshots.
type Snapshot struct {
	Running     bool
	Orientation orientation.RotationSample
	Detections  detector.Batch
	Performance perf.Snapshot
}

// Coordinator owns the pipeline lifecycle: start, stop, calibrate, and the
// combined snapshot.
type Coordinator struct {
	cfg Config

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	buffers   *bufpool.Pool
	monitor   *perf.Monitor
	estimator *orientation.Estimator
	pipe      *pipeline.Pipeline
}

// New creates a Coordinator. Nothing starts until Start is called.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Camera == nil {
		return nil, fmt.Errorf("coordinator requires a camera")
	}
	if cfg.Sensors == nil {
		return nil, fmt.Errorf("coordinator requires a sensor source")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("coordinator requires an inference engine")
	}

	return &Coordinator{cfg: cfg}, nil
}

// Start opens the camera, registers the sensors, restores any persisted
// calibration, and spawns the frame delivery loop. Calling Start on a
// running coordinator is a no-op.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if err := c.cfg.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	nativeW, nativeH := c.cfg.Camera.Resolution()
	_, _, analysisW, analysisH := perf.SelectResolutions(nativeW, nativeH)
	if c.cfg.AnalysisWidth > 0 && c.cfg.AnalysisHeight > 0 {
		analysisW, analysisH = c.cfg.AnalysisWidth, c.cfg.AnalysisHeight
	}

	c.buffers = bufpool.New(c.cfg.PoolMaxSize)
	c.monitor = perf.NewMonitor(c.cfg.TargetFPS, c.cfg.Workers)

	pipeCfg := pipeline.Config{
		AnalysisWidth:  analysisW,
		AnalysisHeight: analysisH,
		Detector:       c.cfg.Detector,
	}
	c.pipe = pipeline.New(pipeCfg, c.cfg.Engine, c.buffers, c.monitor.Workers(),
		c.monitor.ShouldProcessFrame)

	c.estimator = orientation.NewEstimator(c.cfg.Orientation)
	if err := c.estimator.Start(c.cfg.Sensors); err != nil {
		c.monitor.Release()
		c.buffers.Close()
		c.cfg.Camera.Close()
		return fmt.Errorf("start orientation estimator: %w", err)
	}

	c.restoreCalibration()

	c.stopCh = make(chan struct{})
	go c.deliverFrames(c.stopCh)

	c.running = true
	log.Printf("pipeline started: analysis %dx%d, target %d FPS, %d workers",
		analysisW, analysisH, c.monitor.TargetFPS(), c.monitor.Workers().Size())
	return nil
}

// restoreCalibration loads a persisted gyroscope bias, if any.
// Caller holds c.mu.
func (c *Coordinator) restoreCalibration() {
	if c.cfg.Store == nil {
		return
	}

	cal, ok, err := c.cfg.Store.LoadCalibration(store.GyroscopeProfile)
	if err != nil {
		log.Printf("failed to load calibration: %v", err)
		return
	}
	if !ok {
		return
	}

	c.estimator.SetBias(orientation.Bias{X: cal.BiasX, Y: cal.BiasY, Z: cal.BiasZ})
	log.Printf("restored gyroscope calibration from %s", cal.CalibratedAt.Format(time.RFC3339))
}

// deliverFrames is the frame delivery loop. It reads frames at the
// camera's cadence and submits them to the pipeline, which applies the
// monitor's pacing gate and single-flight load shedding.
func (c *Coordinator) deliverFrames(stopCh <-chan struct{}) {
	fps := c.cfg.Camera.FPS()
	if fps <= 0 {
		fps = capture.DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			frame, err := c.cfg.Camera.ReadFrame()
			if err != nil {
				if err != capture.ErrCameraNotOpen {
					log.Printf("error reading frame: %v", err)
				}
				continue
			}
			// Ownership transfers to the pipeline, accepted or not.
			c.pipe.Submit(frame)
		}
	}
}

// Calibrate runs a gyroscope calibration pass and persists the resulting
// bias when a store is configured. Blocks for the calibration window.
func (c *Coordinator) Calibrate(ctx context.Context) error {
	c.mu.Lock()
	est := c.estimator
	c.mu.Unlock()

	if est == nil {
		return fmt.Errorf("coordinator is not started")
	}

	if err := est.Calibrate(ctx); err != nil {
		return err
	}

	bias, _ := est.Bias()
	if c.cfg.Store != nil {
		err := c.cfg.Store.SaveCalibration(store.Calibration{
			Profile: store.GyroscopeProfile,
			BiasX:   bias.X,
			BiasY:   bias.Y,
			BiasZ:   bias.Z,
		})
		if err != nil {
			log.Printf("failed to persist calibration: %v", err)
		}
	}
	return nil
}

// Snapshot returns the combined pipeline state. Safe to call at any time;
// before Start it reports a zero snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return Snapshot{}
	}

	return Snapshot{
		Running:     true,
		Orientation: c.estimator.Rotations().Latest(),
		Detections:  c.pipe.Detections().Latest(),
		Performance: c.monitor.Snapshots().Latest(),
	}
}

// Pipeline returns the frame analysis pipeline, or nil before Start.
func (c *Coordinator) Pipeline() *pipeline.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipe
}

// Estimator returns the orientation estimator, or nil before Start.
func (c *Coordinator) Estimator() *orientation.Estimator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimator
}

// Monitor returns the performance monitor, or nil before Start.
func (c *Coordinator) Monitor() *perf.Monitor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monitor
}

// Stop tears the lifecycle down: delivery loop, pipeline, estimator,
// monitor, camera, buffers. Non-blocking with respect to in-flight
// inference (signal and return). Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.running = false

	close(c.stopCh)
	c.pipe.Release()
	c.estimator.Stop()
	c.monitor.Release()

	if err := c.cfg.Camera.Close(); err != nil {
		log.Printf("error closing camera: %v", err)
	}
	c.buffers.Close()
}
