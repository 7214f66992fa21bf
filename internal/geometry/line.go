package geometry

import "math"

// Point is a position in processing-resolution pixel coordinates.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Line is a segment between two points.
type Line struct {
	Start Point `json:"start" yaml:"start"`
	End   Point `json:"end" yaml:"end"`
}

// Pt is shorthand for building a Point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// IsDegenerate reports whether both endpoints coincide.
func (l Line) IsDegenerate() bool {
	return l.Start == l.End
}

// Determinant returns the scalar cross product of (L2-L1) and (P-L1).
// Its sign tells which side of the line p lies on; zero means collinear.
func Determinant(l Line, p Point) float64 {
	l1, l2 := l.Start, l.End
	return (l2.Y-l1.Y)*p.X - (l2.X-l1.X)*p.Y + l2.X*l1.Y - l2.Y*l1.X
}

// Crosses reports whether the motion from prev to cur crosses the line.
// Only strictly opposite signs count; a point lying on the line never does.
func Crosses(l Line, prev, cur Point) bool {
	return Determinant(l, prev)*Determinant(l, cur) < 0
}

// Centroid returns the center of an [x1, y1, x2, y2] bounding box.
func Centroid(bbox [4]float64) Point {
	return Point{
		X: (bbox[0] + bbox[2]) / 2,
		Y: (bbox[1] + bbox[3]) / 2,
	}
}

// ExtendLine stretches the segment along its slope until both ends touch the
// border of a width x height frame. The result is for drawing only.
func ExtendLine(l Line, width, height float64) Line {
	x1, y1 := l.Start.X, l.Start.Y
	x2, y2 := l.End.X, l.End.Y

	switch {
	case x1 == x2 && y1 == y2:
		return l
	case x1 == x2:
		return Line{Start: Pt(x1, 0), End: Pt(x1, height)}
	case y1 == y2:
		return Line{Start: Pt(0, y1), End: Pt(width, y1)}
	}

	slope := (y2 - y1) / (x2 - x1)
	intercept := y1 - slope*x1

	return Line{
		Start: clampToFrame(0, intercept, slope, intercept, height),
		End:   clampToFrame(width, slope*width+intercept, slope, intercept, height),
	}
}

// clampToFrame moves an edge point that fell outside [0, height] onto the top
// or bottom edge, solving x from y = slope*x + intercept.
func clampToFrame(x, y, slope, intercept, height float64) Point {
	switch {
	case y < 0:
		return Pt((0-intercept)/slope, 0)
	case y > height:
		return Pt((height-intercept)/slope, height)
	}
	return Pt(x, y)
}

// Round returns the point snapped to the nearest integer pixel.
func (p Point) Round() (int, int) {
	return int(math.Round(p.X)), int(math.Round(p.Y))
}
