package counting

import "math"

// Point is an integer pixel coordinate in image space (Y grows downward).
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DistanceTo returns the Euclidean distance between p and q.
func (p Point) DistanceTo(q Point) float64 {
	return math.Hypot(float64(p.X-q.X), float64(p.Y-q.Y))
}

// Detection is one frame's raw evidence of a single object. Detections are
// supplied fresh on every Update call and are not retained.
type Detection struct {
	BBox       [4]int  `json:"bbox"` // x1, y1, x2, y2
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Center     Point   `json:"center"`
	Area       int     `json:"area"` // pixels²
}

// NewDetection builds a Detection from box corners, deriving the center
// (integer midpoint) and area.
func NewDetection(x1, y1, x2, y2 int, confidence float64, classID int) Detection {
	return Detection{
		BBox:       [4]int{x1, y1, x2, y2},
		Confidence: confidence,
		ClassID:    classID,
		Center:     BBoxCenter(x1, y1, x2, y2),
		Area:       BBoxArea(x1, y1, x2, y2),
	}
}

// BBoxCenter returns the integer midpoint of a box.
func BBoxCenter(x1, y1, x2, y2 int) Point {
	return Point{X: (x1 + x2) / 2, Y: (y1 + y2) / 2}
}

// BBoxArea returns the box area, or 0 for a degenerate or inverted box.
func BBoxArea(x1, y1, x2, y2 int) int {
	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// sanitizedArea treats a negative area as 0.
func (d Detection) sanitizedArea() int {
	if d.Area < 0 {
		return 0
	}
	return d.Area
}
