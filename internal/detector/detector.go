// Package detector defines the detection data model and the contract for
// the external inference engine that turns a preprocessed image into raw
// detections.
package detector

import "gocv.io/x/gocv"

// Box is a normalized bounding box with all coordinates in [0,1].
// A well-formed box has Right > Left and Bottom > Top.
type Box struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// Valid reports whether the box has positive extent on both axes.
func (b Box) Valid() bool {
	return b.Right > b.Left && b.Bottom > b.Top
}

// Area returns the box area in normalized units.
func (b Box) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return (b.Right - b.Left) * (b.Bottom - b.Top)
}

// Detection is a single detected object.
type Detection struct {
	Label      string
	Confidence float64
	Box        Box
}

// Batch is an ordered sequence of detections, descending by confidence.
type Batch []Detection

// Engine is the external inference engine, consumed as a black box. Infer
// may return an error or panic; callers contain both and treat them as a
// per-frame failure, never propagating past the frame that triggered them.
type Engine interface {
	// InputSize returns the fixed input shape the engine expects,
	// width by height in pixels.
	InputSize() (int, int)

	// Infer runs detection on a preprocessed image and returns raw,
	// unfiltered detections in normalized coordinates.
	Infer(img gocv.Mat) ([]Detection, error)

	// Close releases any resources held by the engine.
	Close() error
}

// Config holds result-shaping options applied to raw engine output.
type Config struct {
	// MaxResults is the maximum number of detections kept per frame.
	MaxResults int

	// MinConfidence is the minimum confidence threshold (0.0-1.0).
	MinConfidence float64

	// IoUThreshold is the overlap ratio above which the lower-confidence
	// of two boxes is suppressed (0.0-1.0).
	IoUThreshold float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxResults:    10,
		MinConfidence: 0.5,
		IoUThreshold:  0.45,
	}
}
