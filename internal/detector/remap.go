package detector

import "image"

// ScaleBox maps a box through independent linear scale factors on each
// axis. It is a pure function: applying the inverse factors round-trips the
// box within floating-point tolerance.
func ScaleBox(b Box, scaleX, scaleY float64) Box {
	return Box{
		Left:   b.Left * scaleX,
		Top:    b.Top * scaleY,
		Right:  b.Right * scaleX,
		Bottom: b.Bottom * scaleY,
	}
}

// ToPixels maps a normalized box from the analysis coordinate space to
// pixel coordinates of a target image of the given size.
func ToPixels(b Box, width, height int) image.Rectangle {
	scaled := ScaleBox(b, float64(width), float64(height))
	return image.Rect(
		int(scaled.Left+0.5),
		int(scaled.Top+0.5),
		int(scaled.Right+0.5),
		int(scaled.Bottom+0.5),
	)
}
