package viewport

import "math"

// Matrix2D represents a 2D affine transformation matrix.
// Layout: [a, b, c, d, e, f] representing:
// | a  c  e |
// | b  d  f |
// | 0  0  1 |
//
// The pipeline only produces axis-aligned scale + translate matrices, so b
// and c stay zero in practice.
type Matrix2D [6]float64

// Identity returns the identity matrix.
func Identity() Matrix2D {
	return Matrix2D{1, 0, 0, 1, 0, 0}
}

// Translate returns a translation matrix.
func Translate(tx, ty float64) Matrix2D {
	return Matrix2D{1, 0, 0, 1, tx, ty}
}

// Scale returns a scale matrix.
func Scale(sx, sy float64) Matrix2D {
	return Matrix2D{sx, 0, 0, sy, 0, 0}
}

// Multiply multiplies this matrix by another: result = m * other
// This applies 'other' first, then 'm'.
func (m Matrix2D) Multiply(other Matrix2D) Matrix2D {
	return Matrix2D{
		m[0]*other[0] + m[2]*other[1],        // a
		m[1]*other[0] + m[3]*other[1],        // b
		m[0]*other[2] + m[2]*other[3],        // c
		m[1]*other[2] + m[3]*other[3],        // d
		m[0]*other[4] + m[2]*other[5] + m[4], // e
		m[1]*other[4] + m[3]*other[5] + m[5], // f
	}
}

// TransformPoint applies the matrix to a point.
func (m Matrix2D) TransformPoint(p Point) Point {
	return Point{
		X: m[0]*p.X + m[2]*p.Y + m[4],
		Y: m[1]*p.X + m[3]*p.Y + m[5],
	}
}

// TransformRect transforms a rectangle and returns its axis-aligned bounding box.
func (m Matrix2D) TransformRect(r Rect) Rect {
	p0 := m.TransformPoint(Point{r.X, r.Y})
	p1 := m.TransformPoint(Point{r.X + r.Width, r.Y})
	p2 := m.TransformPoint(Point{r.X + r.Width, r.Y + r.Height})
	p3 := m.TransformPoint(Point{r.X, r.Y + r.Height})

	minX := min(p0.X, p1.X, p2.X, p3.X)
	minY := min(p0.Y, p1.Y, p2.Y, p3.Y)
	maxX := max(p0.X, p1.X, p2.X, p3.X)
	maxY := max(p0.Y, p1.Y, p2.Y, p3.Y)

	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Determinant returns the determinant of the matrix.
func (m Matrix2D) Determinant() float64 {
	return m[0]*m[3] - m[1]*m[2]
}

// Invert returns the inverse of the matrix, or Identity if not invertible.
func (m Matrix2D) Invert() Matrix2D {
	det := m.Determinant()
	if det == 0 {
		return Identity()
	}

	invDet := 1.0 / det
	return Matrix2D{
		m[3] * invDet,
		-m[1] * invDet,
		-m[2] * invDet,
		m[0] * invDet,
		(m[2]*m[5] - m[3]*m[4]) * invDet,
		(m[1]*m[4] - m[0]*m[5]) * invDet,
	}
}

// ScaleFactor returns the horizontal and vertical scale of an axis-aligned matrix.
func (m Matrix2D) ScaleFactor() (float64, float64) {
	return math.Hypot(m[0], m[1]), math.Hypot(m[2], m[3])
}

// Point is a 2D coordinate in one of the pipeline spaces.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect represents an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromPoints returns the rectangle spanned by two corners. Width and
// Height keep the sign of b - a so callers can normalize explicitly.
func RectFromPoints(a, b Point) Rect {
	return Rect{X: a.X, Y: a.Y, Width: b.X - a.X, Height: b.Y - a.Y}
}
