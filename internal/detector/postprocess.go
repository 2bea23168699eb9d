package detector

import (
	"math"
	"sort"
)

// Postprocess shapes raw engine output into a publishable Batch: drop
// detections below the confidence floor, suppress overlapping duplicates,
// sort descending by confidence, and truncate to the result cap.
func Postprocess(raw []Detection, cfg Config) Batch {
	filtered := make([]Detection, 0, len(raw))
	for _, d := range raw {
		if d.Confidence >= cfg.MinConfidence && d.Box.Valid() {
			filtered = append(filtered, d)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Confidence > filtered[j].Confidence
	})

	kept := suppressOverlaps(filtered, cfg.IoUThreshold)

	if cfg.MaxResults > 0 && len(kept) > cfg.MaxResults {
		kept = kept[:cfg.MaxResults]
	}

	return kept
}

// suppressOverlaps performs non-maximum suppression on a confidence-sorted
// slice: a box overlapping an already-kept box beyond the IoU threshold is
// dropped. A threshold outside (0,1) disables suppression.
func suppressOverlaps(sorted []Detection, iouThreshold float64) []Detection {
	if iouThreshold <= 0 || iouThreshold >= 1 {
		return sorted
	}

	kept := make([]Detection, 0, len(sorted))
	for _, cand := range sorted {
		suppressed := false
		for _, k := range kept {
			if IoU(cand.Box, k.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}

// IoU computes the Intersection-over-Union of two boxes. Disjoint boxes
// yield 0; identical boxes yield 1.
func IoU(a, b Box) float64 {
	left := math.Max(a.Left, b.Left)
	top := math.Max(a.Top, b.Top)
	right := math.Min(a.Right, b.Right)
	bottom := math.Min(a.Bottom, b.Bottom)

	intersection := math.Max(0, right-left) * math.Max(0, bottom-top)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
