package sketch

import (
	"image"
	"math"
)

// Rect represents an axis-aligned rectangle in canvas space.
// Min is the top-left corner (minimum coordinates).
// Max is the bottom-right corner (maximum coordinates).
type Rect struct {
	Min, Max Point
}

// RectI is an integer pixel rectangle. It is the unit of dirty regions and
// tile addressing; half-open like image.Rectangle.
type RectI = image.Rectangle

// NewRect creates a rectangle from two points.
// The points are normalized so Min <= Max.
func NewRect(p1, p2 Point) Rect {
	return Rect{
		Min: Point{X: math.Min(p1.X, p2.X), Y: math.Min(p1.Y, p2.Y)},
		Max: Point{X: math.Max(p1.X, p2.X), Y: math.Max(p1.Y, p2.Y)},
	}
}

// Width returns the width of the rectangle.
func (r Rect) Width() float64 {
	return r.Max.X - r.Min.X
}

// Height returns the height of the rectangle.
func (r Rect) Height() float64 {
	return r.Max.Y - r.Min.Y
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Min.X >= r.Max.X || r.Min.Y >= r.Max.Y
}

// Union returns the smallest rectangle containing both r and other.
// An empty operand is ignored.
func (r Rect) Union(other Rect) Rect {
	if r.Empty() {
		return other
	}
	if other.Empty() {
		return r
	}
	return Rect{
		Min: Point{X: math.Min(r.Min.X, other.Min.X), Y: math.Min(r.Min.Y, other.Min.Y)},
		Max: Point{X: math.Max(r.Max.X, other.Max.X), Y: math.Max(r.Max.Y, other.Max.Y)},
	}
}

// Inset returns the rectangle grown by d on every side (shrunk if d < 0).
func (r Rect) Inset(d float64) Rect {
	return Rect{
		Min: Point{X: r.Min.X - d, Y: r.Min.Y - d},
		Max: Point{X: r.Max.X + d, Y: r.Max.Y + d},
	}
}

// Contains returns true if the point is inside the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Pixels returns the smallest integer rectangle covering r.
func (r Rect) Pixels() RectI {
	if r.Empty() {
		return RectI{}
	}
	return image.Rect(
		int(math.Floor(r.Min.X)), int(math.Floor(r.Min.Y)),
		int(math.Ceil(r.Max.X)), int(math.Ceil(r.Max.Y)),
	)
}

// CubicBez represents a cubic Bézier curve.
type CubicBez struct {
	P0, P1, P2, P3 Point
}

// NewCubicBez creates a new cubic Bézier curve.
func NewCubicBez(p0, p1, p2, p3 Point) CubicBez {
	return CubicBez{P0: p0, P1: p1, P2: p2, P3: p3}
}

// Eval evaluates the curve at parameter t (0 to 1).
func (c CubicBez) Eval(t float64) Point {
	mt := 1 - t
	mt2 := mt * mt
	t2 := t * t
	a := mt2 * mt
	b := 3 * mt2 * t
	cc := 3 * mt * t2
	d := t2 * t
	return Point{
		X: a*c.P0.X + b*c.P1.X + cc*c.P2.X + d*c.P3.X,
		Y: a*c.P0.Y + b*c.P1.Y + cc*c.P2.Y + d*c.P3.Y,
	}
}

// Start returns the starting point of the curve.
func (c CubicBez) Start() Point { return c.P0 }

// End returns the ending point of the curve.
func (c CubicBez) End() Point { return c.P3 }

// Deriv returns the first derivative of the curve at t.
func (c CubicBez) Deriv(t float64) Point {
	mt := 1 - t
	a := c.P1.Sub(c.P0).Mul(3 * mt * mt)
	b := c.P2.Sub(c.P1).Mul(6 * mt * t)
	d := c.P3.Sub(c.P2).Mul(3 * t * t)
	return a.Add(b).Add(d)
}

// Subdivide splits the curve at t=0.5 using de Casteljau's algorithm.
func (c CubicBez) Subdivide() (CubicBez, CubicBez) {
	pm := c.P1.Lerp(c.P2, 0.5)
	p01 := c.P0.Lerp(c.P1, 0.5)
	p23 := c.P2.Lerp(c.P3, 0.5)
	p012 := p01.Lerp(pm, 0.5)
	p123 := pm.Lerp(p23, 0.5)
	mid := p012.Lerp(p123, 0.5)
	return CubicBez{c.P0, p01, p012, mid}, CubicBez{mid, p123, p23, c.P3}
}

// extrema returns the parameter values in (0, 1) where either coordinate
// of the derivative vanishes.
func (c CubicBez) extrema() []float64 {
	var out []float64
	solve := func(p0, p1, p2, p3 float64) {
		// Derivative coefficients: a t^2 + b t + c.
		a := 3 * (-p0 + 3*p1 - 3*p2 + p3)
		b := 6 * (p0 - 2*p1 + p2)
		cc := 3 * (p1 - p0)
		if math.Abs(a) < 1e-12 {
			if math.Abs(b) > 1e-12 {
				if t := -cc / b; t > 0 && t < 1 {
					out = append(out, t)
				}
			}
			return
		}
		disc := b*b - 4*a*cc
		if disc < 0 {
			return
		}
		sq := math.Sqrt(disc)
		for _, t := range [2]float64{(-b + sq) / (2 * a), (-b - sq) / (2 * a)} {
			if t > 0 && t < 1 {
				out = append(out, t)
			}
		}
	}
	solve(c.P0.X, c.P1.X, c.P2.X, c.P3.X)
	solve(c.P0.Y, c.P1.Y, c.P2.Y, c.P3.Y)
	return out
}

// BoundingBox returns the tight axis-aligned bounding box of the curve.
func (c CubicBez) BoundingBox() Rect {
	bbox := NewRect(c.P0, c.P3)
	for _, t := range c.extrema() {
		p := c.Eval(t)
		bbox.Min.X = math.Min(bbox.Min.X, p.X)
		bbox.Min.Y = math.Min(bbox.Min.Y, p.Y)
		bbox.Max.X = math.Max(bbox.Max.X, p.X)
		bbox.Max.Y = math.Max(bbox.Max.Y, p.Y)
	}
	return bbox
}

// flatSteps is the number of chords used to approximate curve length and
// distance queries.
const flatSteps = 32

// Length returns the arc length of the curve approximated by chords.
func (c CubicBez) Length() float64 {
	var l float64
	prev := c.P0
	for i := 1; i <= flatSteps; i++ {
		p := c.Eval(float64(i) / flatSteps)
		l += prev.Distance(p)
		prev = p
	}
	return l
}

// Distance returns the approximate shortest distance from p to the curve.
func (c CubicBez) Distance(p Point) float64 {
	best := math.Inf(1)
	prev := c.P0
	for i := 1; i <= flatSteps; i++ {
		q := c.Eval(float64(i) / flatSteps)
		if d := segmentDistance(p, prev, q); d < best {
			best = d
		}
		prev = q
	}
	return best
}

// segmentDistance returns the distance from p to the segment ab.
func segmentDistance(p, a, b Point) float64 {
	ab := b.Sub(a)
	den := ab.Dot(ab)
	if den == 0 {
		return p.Distance(a)
	}
	t := p.Sub(a).Dot(ab) / den
	t = math.Max(0, math.Min(1, t))
	return p.Distance(a.Add(ab.Mul(t)))
}
