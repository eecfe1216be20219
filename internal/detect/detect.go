package detect

import (
	"context"
	"image"
)

// Detection is one detector hit in pixel coordinates.
type Detection struct {
	Box        image.Rectangle
	Confidence float64
	Class      string
}

// Track is a tracker output for the current frame.
type Track struct {
	ID        int
	Box       image.Rectangle
	Confirmed bool
}

// Centroid returns the integer centre of the box, truncated toward zero.
func (t Track) Centroid() image.Point {
	return image.Pt((t.Box.Min.X+t.Box.Max.X)/2, (t.Box.Min.Y+t.Box.Max.Y)/2)
}

// Detector finds people in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, confidence float64) ([]Detection, error)
}

// Tracker assigns stable identities to detections across frames.
type Tracker interface {
	Update(dets []Detection, frame image.Image) []Track
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := area(inter)
	union := area(a) + area(b) - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}

func area(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}
