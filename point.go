package sketch

import (
	"math"
	"time"
)

// Point represents a 2D point or vector in canvas pixels.
type Point struct {
	X, Y float64
}

// Pt is a convenience function to create a Point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns the sum of two points (vector addition).
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns the difference of two points (vector subtraction).
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Mul returns the point scaled by a scalar.
func (p Point) Mul(s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s}
}

// Dot returns the dot product of two vectors.
func (p Point) Dot(q Point) float64 {
	return p.X*q.X + p.Y*q.Y
}

// Length returns the length of the vector.
func (p Point) Length() float64 {
	return math.Hypot(p.X, p.Y)
}

// Distance returns the distance between two points.
func (p Point) Distance(q Point) float64 {
	return p.Sub(q).Length()
}

// Lerp performs linear interpolation between two points.
// t=0 returns p, t=1 returns q.
func (p Point) Lerp(q Point, t float64) Point {
	return Point{
		X: p.X + (q.X-p.X)*t,
		Y: p.Y + (q.Y-p.Y)*t,
	}
}

// In reports whether p lies inside the pixel rectangle r.
func (p Point) In(r RectI) bool {
	return p.X >= float64(r.Min.X) && p.X < float64(r.Max.X) &&
		p.Y >= float64(r.Min.Y) && p.Y < float64(r.Max.Y)
}

// Sample is one pointer or stylus input event.
//
// Pressure is normalized to [0, 1]; hosts without pressure hardware should
// report 0.5. TiltX and TiltY are the pen tilt in degrees from vertical,
// in [-90, 90]. Time is the capture timestamp relative to any fixed epoch;
// samples of one stroke must be strictly increasing in Time.
type Sample struct {
	Point
	Pressure float64
	TiltX    float64
	TiltY    float64
	Time     time.Duration
}

// Tilt returns the tilt magnitude normalized to [0, 1].
func (s Sample) Tilt() float64 {
	t := math.Hypot(s.TiltX, s.TiltY) / 90
	if t > 1 {
		return 1
	}
	return t
}

// Lerp interpolates every channel of the sample, including the timestamp.
func (s Sample) Lerp(o Sample, t float64) Sample {
	return Sample{
		Point:    s.Point.Lerp(o.Point, t),
		Pressure: s.Pressure + (o.Pressure-s.Pressure)*t,
		TiltX:    s.TiltX + (o.TiltX-s.TiltX)*t,
		TiltY:    s.TiltY + (o.TiltY-s.TiltY)*t,
		Time:     s.Time + time.Duration(float64(o.Time-s.Time)*t),
	}
}
