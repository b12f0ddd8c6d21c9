package capability

import (
	"math"
	"strings"
	"time"
)

// Point is a 2D coordinate in the robot base frame, millimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pose is a 6-DOF Cartesian pose in the robot base frame: position in
// millimetres, orientation in degrees.
type Pose struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	RX float64 `json:"rx"`
	RY float64 `json:"ry"`
	RZ float64 `json:"rz"`
}

// Axis identifies a jog axis.
type Axis string

// Jog axes.
const (
	AxisX  Axis = "X"
	AxisY  Axis = "Y"
	AxisZ  Axis = "Z"
	AxisRX Axis = "RX"
	AxisRY Axis = "RY"
	AxisRZ Axis = "RZ"
)

// ParseAxis validates an external axis string at the boundary. Axis names
// are matched case-insensitively.
func ParseAxis(s string) (Axis, bool) {
	a := Axis(strings.ToUpper(s))
	switch a {
	case AxisX, AxisY, AxisZ, AxisRX, AxisRY, AxisRZ:
		return a, true
	}
	return "", false
}

// Direction identifies a jog direction.
type Direction string

// Jog directions.
const (
	DirectionPositive Direction = "positive"
	DirectionNegative Direction = "negative"
)

// ParseDirection validates an external direction string at the boundary.
// The short forms "plus" and "minus" used in command paths are accepted.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(s) {
	case "positive", "plus", "+":
		return DirectionPositive, true
	case "negative", "minus", "-":
		return DirectionNegative, true
	}
	return "", false
}

// Contour is a closed polygon in the robot base frame. The last point is
// implicitly connected back to the first.
type Contour []Point

// Area returns the enclosed area via the shoelace formula, always
// non-negative.
func (c Contour) Area() float64 {
	if len(c) < 3 {
		return 0
	}
	sum := 0.0
	for i, p := range c {
		q := c[(i+1)%len(c)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(sum) / 2
}

// Perimeter returns the closed-path length of the contour.
func (c Contour) Perimeter() float64 {
	if len(c) < 2 {
		return 0
	}
	sum := 0.0
	for i, p := range c {
		q := c[(i+1)%len(c)]
		sum += math.Hypot(q.X-p.X, q.Y-p.Y)
	}
	return sum
}

// Centroid returns the arithmetic mean of the contour's vertices.
func (c Contour) Centroid() Point {
	if len(c) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range c {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(c))
	return Point{X: sx / n, Y: sy / n}
}

// BoundingBox returns the axis-aligned bounding box as (min, max) corners.
func (c Contour) BoundingBox() (Point, Point) {
	if len(c) == 0 {
		return Point{}, Point{}
	}
	minP := c[0]
	maxP := c[0]
	for _, p := range c[1:] {
		minP.X = math.Min(minP.X, p.X)
		minP.Y = math.Min(minP.Y, p.Y)
		maxP.X = math.Max(maxP.X, p.X)
		maxP.Y = math.Max(maxP.Y, p.Y)
	}
	return minP, maxP
}

// Translate returns a copy of the contour shifted by (dx, dy).
func (c Contour) Translate(dx, dy float64) Contour {
	out := make(Contour, len(c))
	for i, p := range c {
		out[i] = Point{X: p.X + dx, Y: p.Y + dy}
	}
	return out
}

// Rotate returns a copy of the contour rotated by angle radians around its
// centroid.
func (c Contour) Rotate(angle float64) Contour {
	centre := c.Centroid()
	sin, cos := math.Sincos(angle)
	out := make(Contour, len(c))
	for i, p := range c {
		dx := p.X - centre.X
		dy := p.Y - centre.Y
		out[i] = Point{
			X: centre.X + dx*cos - dy*sin,
			Y: centre.Y + dx*sin + dy*cos,
		}
	}
	return out
}

// Capture is the result of one sensing acquisition: the raw frame plus the
// contours detected in it, already transformed to the robot base frame.
// The camera-to-robot transform is always applied inside the Sensing
// capability; the core never sees pixel coordinates.
type Capture struct {
	Image    []byte    `json:"image,omitempty"`
	Contours []Contour `json:"contours"`
	TakenAt  time.Time `json:"taken_at"`
}

// CalibrationKind selects which calibration a Sensing capability performs.
type CalibrationKind string

// Calibration kinds.
const (
	CalibrationCamera CalibrationKind = "camera"
	CalibrationMotion CalibrationKind = "motion"
)

// CalibrationResult reports the outcome of a calibration run.
type CalibrationResult struct {
	Kind    CalibrationKind `json:"kind"`
	Score   float64         `json:"score"`
	Message string          `json:"message"`
}
