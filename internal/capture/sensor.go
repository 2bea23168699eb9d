package capture

import (
	"fmt"
	"sync"
)

// SensorKind identifies the sensor that produced a sample.
type SensorKind int

const (
	Gyroscope SensorKind = iota
	Accelerometer
	Magnetometer
)

// String returns a human-readable sensor name.
func (k SensorKind) String() string {
	switch k {
	case Gyroscope:
		return "gyroscope"
	case Accelerometer:
		return "accelerometer"
	case Magnetometer:
		return "magnetometer"
	default:
		return fmt.Sprintf("sensor(%d)", int(k))
	}
}

// Sample is a single three-axis sensor reading. Gyroscope samples are in
// rad/s, accelerometer in m/s², magnetometer in µT. Timestamp is monotonic
// nanoseconds.
type Sample struct {
	Kind      SensorKind
	X, Y, Z   float64
	Timestamp int64
}

// SampleHandler receives sensor samples on the driver's delivery goroutine.
// Handlers must be fast and must not block.
type SampleHandler func(Sample)

// SensorSource delivers raw sensor samples from the platform driver.
// Register may fail when the device lacks the requested sensor.
type SensorSource interface {
	Register(kind SensorKind, h SampleHandler) error
	Unregister(kind SensorKind)
	Close() error
}

// MockSensorSource is a test SensorSource driven by explicit Emit calls.
type MockSensorSource struct {
	mu       sync.Mutex
	handlers map[SensorKind]SampleHandler
	failKind map[SensorKind]error
	closed   bool
}

// NewMockSensorSource creates an empty mock source.
func NewMockSensorSource() *MockSensorSource {
	return &MockSensorSource{
		handlers: make(map[SensorKind]SampleHandler),
		failKind: make(map[SensorKind]error),
	}
}

// FailRegistration makes Register return err for the given sensor kind.
func (s *MockSensorSource) FailRegistration(kind SensorKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKind[kind] = err
}

// Register installs a handler for the given sensor kind.
func (s *MockSensorSource) Register(kind SensorKind, h SampleHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sensor source is closed")
	}
	if err := s.failKind[kind]; err != nil {
		return err
	}

	s.handlers[kind] = h
	return nil
}

// Unregister removes the handler for the given sensor kind.
func (s *MockSensorSource) Unregister(kind SensorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, kind)
}

// Close drops all handlers.
func (s *MockSensorSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = make(map[SensorKind]SampleHandler)
	s.closed = true
	return nil
}

// Emit delivers a sample to the registered handler, if any. It mirrors the
// platform driver: delivery happens synchronously on the caller's goroutine.
func (s *MockSensorSource) Emit(sample Sample) {
	s.mu.Lock()
	h := s.handlers[sample.Kind]
	s.mu.Unlock()

	if h != nil {
		h(sample)
	}
}

// Registered reports whether a handler is installed for the given kind.
func (s *MockSensorSource) Registered(kind SensorKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handlers[kind]
	return ok
}
