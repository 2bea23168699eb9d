package detector

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func det(label string, conf float64, l, t, r, b float64) Detection {
	return Detection{Label: label, Confidence: conf, Box: Box{Left: l, Top: t, Right: r, Bottom: b}}
}

func TestPostprocess_FiltersLowConfidence(t *testing.T) {
	cfg := Config{MaxResults: 10, MinConfidence: 0.5}

	raw := []Detection{
		det("cat", 0.9, 0.1, 0.1, 0.2, 0.2),
		det("dog", 0.4, 0.5, 0.5, 0.6, 0.6),
		det("bird", 0.5, 0.7, 0.7, 0.8, 0.8),
	}

	got := Postprocess(raw, cfg)

	if len(got) != 2 {
		t.Fatalf("expected 2 detections at or above 0.5, got %d", len(got))
	}
	for _, d := range got {
		if d.Confidence < 0.5 {
			t.Errorf("detection %q below threshold slipped through (%.2f)", d.Label, d.Confidence)
		}
	}
}

func TestPostprocess_SortsDescendingByConfidence(t *testing.T) {
	cfg := Config{MaxResults: 10, MinConfidence: 0.1}

	raw := []Detection{
		det("low", 0.3, 0.0, 0.0, 0.1, 0.1),
		det("high", 0.9, 0.2, 0.2, 0.3, 0.3),
		det("mid", 0.6, 0.4, 0.4, 0.5, 0.5),
	}

	got := Postprocess(raw, cfg)

	want := []string{"high", "mid", "low"}
	for i, label := range want {
		if got[i].Label != label {
			t.Errorf("position %d: expected %q, got %q", i, label, got[i].Label)
		}
	}
}

func TestPostprocess_TruncatesToMaxResults(t *testing.T) {
	cfg := Config{MaxResults: 2, MinConfidence: 0.1}

	raw := []Detection{
		det("a", 0.9, 0.0, 0.0, 0.1, 0.1),
		det("b", 0.8, 0.2, 0.2, 0.3, 0.3),
		det("c", 0.7, 0.4, 0.4, 0.5, 0.5),
	}

	got := Postprocess(raw, cfg)

	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Label != "a" || got[1].Label != "b" {
		t.Errorf("expected the two highest-confidence detections, got %v", got)
	}
}

func TestPostprocess_DropsMalformedBoxes(t *testing.T) {
	cfg := Config{MaxResults: 10, MinConfidence: 0.1}

	raw := []Detection{
		det("inverted", 0.9, 0.5, 0.5, 0.4, 0.4),
		det("flat", 0.9, 0.1, 0.1, 0.2, 0.1),
		det("ok", 0.9, 0.1, 0.1, 0.2, 0.2),
	}

	got := Postprocess(raw, cfg)

	if len(got) != 1 || got[0].Label != "ok" {
		t.Errorf("expected only the well-formed box to survive, got %v", got)
	}
}

func TestPostprocess_SuppressesOverlappingDuplicate(t *testing.T) {
	// Two nearly identical boxes: the lower-confidence one is suppressed.
	cfg := Config{MaxResults: 10, MinConfidence: 0.1, IoUThreshold: 0.45}

	raw := []Detection{
		det("weak", 0.6, 0.10, 0.10, 0.30, 0.30),
		det("strong", 0.9, 0.11, 0.11, 0.31, 0.31),
		det("elsewhere", 0.7, 0.70, 0.70, 0.90, 0.90),
	}

	got := Postprocess(raw, cfg)

	want := Batch{
		det("strong", 0.9, 0.11, 0.11, 0.31, 0.31),
		det("elsewhere", 0.7, 0.70, 0.70, 0.90, 0.90),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected batch after suppression (-want +got):\n%s", diff)
	}
}

func TestIoU_IdenticalBoxes(t *testing.T) {
	b := Box{Left: 0.1, Top: 0.1, Right: 0.5, Bottom: 0.5}

	if got := IoU(b, b); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("expected IoU 1.0 for identical boxes, got %f", got)
	}
}

func TestIoU_DisjointBoxes(t *testing.T) {
	a := Box{Left: 0.0, Top: 0.0, Right: 0.2, Bottom: 0.2}
	b := Box{Left: 0.5, Top: 0.5, Right: 0.7, Bottom: 0.7}

	if got := IoU(a, b); got != 0 {
		t.Errorf("expected IoU 0 for disjoint boxes, got %f", got)
	}
}

func TestIoU_HalfOverlap(t *testing.T) {
	// Two unit-area boxes sharing half their area: IoU = 0.5/1.5 = 1/3.
	a := Box{Left: 0.0, Top: 0.0, Right: 0.2, Bottom: 0.2}
	b := Box{Left: 0.1, Top: 0.0, Right: 0.3, Bottom: 0.2}

	want := (0.1 * 0.2) / (0.04 + 0.04 - 0.02)
	if got := IoU(a, b); math.Abs(got-want) > 1e-9 {
		t.Errorf("expected IoU %f, got %f", want, got)
	}
}
