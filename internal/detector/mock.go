package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockEngine is a test implementation of the Engine interface. It allows
// tests to script results, force errors or panics, and block Infer until
// released to exercise the pipeline's single-flight behavior.
type MockEngine struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	panicMsg   string
	calls      int
	inputW     int
	inputH     int
	gate       chan struct{}
}

// NewMockEngine creates a MockEngine with a 300x300 input shape.
func NewMockEngine() *MockEngine {
	return &MockEngine{inputW: 300, inputH: 300}
}

// SetDetections sets the detections that will be returned by Infer.
func (m *MockEngine) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = dets
}

// SetError sets the error that will be returned by Infer.
func (m *MockEngine) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetPanic makes the next Infer calls panic with the given message.
func (m *MockEngine) SetPanic(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
}

// SetInputSize overrides the engine input shape.
func (m *MockEngine) SetInputSize(w, h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputW, m.inputH = w, h
}

// Block makes Infer wait until Unblock is called. Used to hold the
// single-flight slot open while a test submits competing frames.
func (m *MockEngine) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// Unblock releases a pending blocked Infer call.
func (m *MockEngine) Unblock() {
	m.mu.Lock()
	gate := m.gate
	m.gate = nil
	m.mu.Unlock()

	if gate != nil {
		close(gate)
	}
}

// Calls returns how many times Infer has been invoked.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// InputSize returns the configured input shape.
func (m *MockEngine) InputSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputW, m.inputH
}

// Infer returns the scripted detections, error, or panic.
func (m *MockEngine) Infer(img gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	err := m.err
	panicMsg := m.panicMsg
	dets := m.detections
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panicMsg != "" {
		panic(panicMsg)
	}
	if err != nil {
		return nil, err
	}
	return dets, nil
}

// Close is a no-op for the mock engine.
func (m *MockEngine) Close() error {
	return nil
}
