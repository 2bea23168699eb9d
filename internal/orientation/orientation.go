// Package orientation fuses gyroscope, accelerometer, and magnetometer
// samples into a continuous rotation estimate with a calibration mode.
package orientation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/drishti/internal/bus"
	"github.com/ayusman/drishti/internal/capture"
)

// State is the estimator lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateActive
	StateCalibrating
	StateStopped
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateCalibrating:
		return "calibrating"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotActive is returned by Calibrate when the estimator is not running.
var ErrNotActive = errors.New("estimator is not active")

// ErrNoCalibrationSamples is returned when the calibration window closed
// without collecting a single gyroscope sample; the previous bias is kept.
var ErrNoCalibrationSamples = errors.New("no samples collected during calibration window")

// RotationSample is one published rotation estimate. In gyroscope-only mode
// the components are bias-corrected angular rates in rad/s; in fused mode
// they are the complementary-filter blend of integrated gyro angles and the
// accelerometer/magnetometer-derived angles. A sample is replaced wholesale
// on every publication and never mutated afterwards.
type RotationSample struct {
	X, Y, Z   float64
	Magnitude float64
	Timestamp int64
	RateHz    float64
}

// Bias is the per-axis additive offset subtracted from raw gyroscope
// samples. Valid only after a completed calibration pass.
type Bias struct {
	X, Y, Z float64
}

// Config holds tuning parameters for the estimator. The blend and low-pass
// constants are configuration defaults carried over from common practice,
// not physically derived values, so they are exposed as tunables.
type Config struct {
	// Alpha is the complementary-filter blend weight of the gyroscope
	// term; the derived term gets 1-Alpha. Must be in (0,1).
	Alpha float64

	// Beta is the low-pass weight applied to the previous filtered
	// accelerometer/magnetometer value. Must be in (0,1).
	Beta float64

	// NoiseThreshold is the angular-rate magnitude in rad/s below which a
	// gyroscope-only sample is treated as stationary jitter and not
	// published.
	NoiseThreshold float64

	// MaxSampleGap is the largest accepted delta between consecutive
	// gyroscope samples. Larger gaps (or non-positive ones) discard the
	// sample as a clock anomaly or stall.
	MaxSampleGap time.Duration

	// CalibrationWindow is how long Calibrate collects raw samples.
	CalibrationWindow time.Duration

	// FuseMagnetometer enables fused mode. When false the estimator runs
	// gyroscope-only and the accelerometer/magnetometer are not
	// registered.
	FuseMagnetometer bool
}

// DefaultConfig returns the stock estimator tuning.
func DefaultConfig() Config {
	return Config{
		Alpha:             0.98,
		Beta:              0.8,
		NoiseThreshold:    0.05,
		MaxSampleGap:      100 * time.Millisecond,
		CalibrationWindow: 2 * time.Second,
	}
}

// Estimator turns raw sensor samples into published RotationSamples.
// Sample handlers run on the sensor driver's delivery goroutine; all state
// is mutex-protected because Calibrate, Stop, and snapshot accessors are
// called from other goroutines.
type Estimator struct {
	cfg Config

	mu          sync.Mutex
	state       State
	stateReason error
	src         capture.SensorSource

	bias       Bias
	calibrated bool
	calSamples []r3.Vec

	lastGyroTS    int64
	angles        r3.Vec // integrated/blended angles, fused mode only
	filteredAccel r3.Vec
	haveAccel     bool
	filteredMag   r3.Vec
	haveMag       bool

	rotations *bus.Stream[RotationSample]
}

// NewEstimator creates an estimator in the Initializing state.
func NewEstimator(cfg Config) *Estimator {
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = DefaultConfig().Alpha
	}
	if cfg.Beta <= 0 || cfg.Beta >= 1 {
		cfg.Beta = DefaultConfig().Beta
	}
	if cfg.NoiseThreshold < 0 {
		cfg.NoiseThreshold = DefaultConfig().NoiseThreshold
	}
	if cfg.MaxSampleGap <= 0 {
		cfg.MaxSampleGap = DefaultConfig().MaxSampleGap
	}
	if cfg.CalibrationWindow <= 0 {
		cfg.CalibrationWindow = DefaultConfig().CalibrationWindow
	}

	return &Estimator{
		cfg:       cfg,
		state:     StateInitializing,
		rotations: bus.NewStream[RotationSample](),
	}
}

// Rotations returns the published rotation stream.
func (e *Estimator) Rotations() *bus.Stream[RotationSample] {
	return e.rotations
}

// State returns the current lifecycle state.
func (e *Estimator) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the reason the estimator entered the Error state, or nil.
func (e *Estimator) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateReason
}

// Bias returns the current calibration bias and whether a calibration pass
// has completed.
func (e *Estimator) Bias() (Bias, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bias, e.calibrated
}

// SetBias installs a previously persisted calibration bias, marking the
// estimator calibrated without a new calibration pass.
func (e *Estimator) SetBias(b Bias) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bias = b
	e.calibrated = true
}

// Start registers the sensors and transitions to Active. A registration
// failure leaves the estimator in the Error state with the cause recorded;
// the caller may fix the source and call Start again.
func (e *Estimator) Start(src capture.SensorSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateActive || e.state == StateCalibrating {
		return nil
	}

	if err := src.Register(capture.Gyroscope, e.handleSample); err != nil {
		e.state = StateError
		e.stateReason = fmt.Errorf("register gyroscope: %w", err)
		return e.stateReason
	}

	if e.cfg.FuseMagnetometer {
		if err := src.Register(capture.Accelerometer, e.handleSample); err != nil {
			src.Unregister(capture.Gyroscope)
			e.state = StateError
			e.stateReason = fmt.Errorf("register accelerometer: %w", err)
			return e.stateReason
		}
		if err := src.Register(capture.Magnetometer, e.handleSample); err != nil {
			src.Unregister(capture.Gyroscope)
			src.Unregister(capture.Accelerometer)
			e.state = StateError
			e.stateReason = fmt.Errorf("register magnetometer: %w", err)
			return e.stateReason
		}
	}

	e.src = src
	e.state = StateActive
	e.stateReason = nil
	e.lastGyroTS = 0
	return nil
}

// Stop unregisters all sensors, discards in-flight state, resets the
// published sample to its zero value, and transitions to Stopped.
// Idempotent.
func (e *Estimator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return
	}

	if e.src != nil {
		e.src.Unregister(capture.Gyroscope)
		if e.cfg.FuseMagnetometer {
			e.src.Unregister(capture.Accelerometer)
			e.src.Unregister(capture.Magnetometer)
		}
		e.src = nil
	}

	e.lastGyroTS = 0
	e.angles = r3.Vec{}
	e.filteredAccel = r3.Vec{}
	e.filteredMag = r3.Vec{}
	e.haveAccel = false
	e.haveMag = false
	e.calSamples = nil
	e.state = StateStopped

	e.rotations.Publish(RotationSample{})
}

// Calibrate transitions to Calibrating, collects raw gyroscope samples for
// the configured window at the driver's cadence, and installs the per-axis
// mean as the new bias. A window with zero samples fails and leaves the
// prior bias untouched. Blocks until the window closes or ctx is done.
func (e *Estimator) Calibrate(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return ErrNotActive
	}
	e.state = StateCalibrating
	e.calSamples = nil
	e.mu.Unlock()

	timer := time.NewTimer(e.cfg.CalibrationWindow)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		e.mu.Lock()
		e.calSamples = nil
		e.state = StateActive
		e.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	samples := e.calSamples
	e.calSamples = nil
	e.state = StateActive

	if len(samples) == 0 {
		return ErrNoCalibrationSamples
	}

	var sum r3.Vec
	for _, s := range samples {
		sum = r3.Add(sum, s)
	}
	n := float64(len(samples))
	e.bias = Bias{X: sum.X / n, Y: sum.Y / n, Z: sum.Z / n}
	e.calibrated = true

	log.Printf("gyroscope calibrated from %d samples: bias=(%.5f, %.5f, %.5f)",
		len(samples), e.bias.X, e.bias.Y, e.bias.Z)
	return nil
}

// handleSample is the sensor driver callback.
func (e *Estimator) handleSample(s capture.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateActive && e.state != StateCalibrating {
		return
	}

	switch s.Kind {
	case capture.Gyroscope:
		e.onGyro(s)
	case capture.Accelerometer:
		e.filteredAccel = e.lowPass(e.filteredAccel, r3.Vec{X: s.X, Y: s.Y, Z: s.Z}, &e.haveAccel)
	case capture.Magnetometer:
		e.filteredMag = e.lowPass(e.filteredMag, r3.Vec{X: s.X, Y: s.Y, Z: s.Z}, &e.haveMag)
	}
}

// lowPass applies filtered = beta*filtered + (1-beta)*raw. The first sample
// seeds the filter directly.
func (e *Estimator) lowPass(filtered, raw r3.Vec, seeded *bool) r3.Vec {
	if !*seeded {
		*seeded = true
		return raw
	}
	return r3.Add(r3.Scale(e.cfg.Beta, filtered), r3.Scale(1-e.cfg.Beta, raw))
}

// onGyro processes one gyroscope sample. Caller holds e.mu.
func (e *Estimator) onGyro(s capture.Sample) {
	if e.lastGyroTS == 0 {
		// First sample after start: no delta to validate against yet.
		e.lastGyroTS = s.Timestamp
		if e.state == StateCalibrating {
			e.calSamples = append(e.calSamples, r3.Vec{X: s.X, Y: s.Y, Z: s.Z})
		}
		return
	}

	delta := time.Duration(s.Timestamp - e.lastGyroTS)
	if delta <= 0 || delta > e.cfg.MaxSampleGap {
		// Clock anomaly or stall: drop the sample wholesale so one large
		// delta cannot corrupt the estimate, but advance the clock so the
		// stream recovers on the next sample.
		e.lastGyroTS = s.Timestamp
		return
	}
	e.lastGyroTS = s.Timestamp

	if e.state == StateCalibrating {
		// Calibration measures the raw sensor, before bias correction.
		e.calSamples = append(e.calSamples, r3.Vec{X: s.X, Y: s.Y, Z: s.Z})
		return
	}

	rate := r3.Vec{X: s.X - e.bias.X, Y: s.Y - e.bias.Y, Z: s.Z - e.bias.Z}
	dt := delta.Seconds()
	rateHz := 1 / dt

	if e.cfg.FuseMagnetometer && e.haveAccel && e.haveMag {
		if derived, ok := deriveAngles(e.filteredAccel, e.filteredMag); ok {
			integrated := r3.Add(e.angles, r3.Scale(dt, rate))
			blended := r3.Add(
				r3.Scale(e.cfg.Alpha, integrated),
				r3.Scale(1-e.cfg.Alpha, derived),
			)
			e.angles = blended

			e.rotations.Publish(RotationSample{
				X:         blended.X,
				Y:         blended.Y,
				Z:         blended.Z,
				Magnitude: r3.Norm(blended),
				Timestamp: s.Timestamp,
				RateHz:    rateHz,
			})
			return
		}
		// Degenerate accel/mag input: fall back to gyroscope-only for
		// this sample.
	}

	magnitude := r3.Norm(rate)
	if magnitude <= e.cfg.NoiseThreshold {
		// Stationary jitter: suppress instead of flooding downstream.
		return
	}

	e.rotations.Publish(RotationSample{
		X:         rate.X,
		Y:         rate.Y,
		Z:         rate.Z,
		Magnitude: magnitude,
		Timestamp: s.Timestamp,
		RateHz:    rateHz,
	})
}

// deriveAngles computes orientation angles (azimuth, pitch, roll) from the
// filtered gravity and geomagnetic vectors, using the conventional rotation
// matrix construction: east = mag x gravity, north = gravity x east. Input
// is degenerate when the device is in free fall or the field vectors are
// near parallel.
func deriveAngles(accel, mag r3.Vec) (r3.Vec, bool) {
	east := r3.Cross(mag, accel)
	if r3.Norm(east) < 0.1 || r3.Norm(accel) < 1e-9 {
		return r3.Vec{}, false
	}

	eastU := r3.Unit(east)
	gravU := r3.Unit(accel)
	northU := r3.Cross(gravU, eastU)

	azimuth := math.Atan2(eastU.Y, northU.Y)
	pitch := math.Asin(clamp(-gravU.Y, -1, 1))
	roll := math.Atan2(-gravU.X, gravU.Z)

	return r3.Vec{X: roll, Y: pitch, Z: azimuth}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
