package capture

import (
	"sync/atomic"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

// Frame is a captured image with metadata and a single logical owner.
// The producer owns it until it is handed to the pipeline; the pipeline
// owns it until it is processed or dropped. Exactly one party releases it,
// and Close is idempotent so a double release is harmless.
type Frame struct {
	ID        string
	Mat       gocv.Mat
	Width     int
	Height    int
	Format    gocv.MatType
	Timestamp int64

	closed atomic.Bool
}

// NewFrame wraps a Mat into an owned Frame. The Frame takes ownership of
// the Mat; the caller must not close it separately.
func NewFrame(mat gocv.Mat, timestampNanos int64) *Frame {
	return &Frame{
		ID:        uuid.NewString(),
		Mat:       mat,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Format:    mat.Type(),
		Timestamp: timestampNanos,
	}
}

// Close releases the underlying image buffer. Safe to call more than once
// and from the goroutine that currently owns the frame.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	if f.closed.CompareAndSwap(false, true) {
		f.Mat.Close()
	}
}

// Closed reports whether the frame has been released.
func (f *Frame) Closed() bool {
	return f.closed.Load()
}
