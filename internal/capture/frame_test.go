package capture

import (
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func TestFrame_CloseIsIdempotent(t *testing.T) {
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	f := NewFrame(mat, time.Now().UnixNano())

	f.Close()
	f.Close() // must not double-free

	if !f.Closed() {
		t.Error("expected frame to report closed")
	}
}

func TestFrame_CapturesMetadata(t *testing.T) {
	mat := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	f := NewFrame(mat, 42)
	defer f.Close()

	if f.Width != 320 || f.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", f.Width, f.Height)
	}
	if f.Format != gocv.MatTypeCV8UC3 {
		t.Errorf("unexpected format %v", f.Format)
	}
	if f.Timestamp != 42 {
		t.Errorf("expected timestamp 42, got %d", f.Timestamp)
	}
	if f.ID == "" {
		t.Error("expected a non-empty frame ID")
	}
}

func TestFrame_NilCloseIsSafe(t *testing.T) {
	var f *Frame
	f.Close()
}
