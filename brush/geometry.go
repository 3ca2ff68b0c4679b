package brush

import (
	"math"

	"github.com/gogpu/sketch"
)

// Segment is one fitted cubic of a stroke and the dabs placed along it.
type Segment struct {
	Curve sketch.CubicBez
	Dabs  []Dab
}

// Bounds returns the pixels the segment's dabs may touch.
func (s Segment) Bounds() sketch.RectI {
	var r sketch.RectI
	for _, d := range s.Dabs {
		r = r.Union(d.Bounds())
	}
	return r
}

// Curve is the append-only piecewise cubic of a stroke.
type Curve struct {
	Segments []sketch.CubicBez
}

// Bounds returns the tight bounding box of all segments.
func (c Curve) Bounds() sketch.Rect {
	var r sketch.Rect
	for i, s := range c.Segments {
		if i == 0 {
			r = s.BoundingBox()
			continue
		}
		r = r.Union(s.BoundingBox())
	}
	return r
}

// Distance returns the shortest distance from p to the curve, or +Inf for
// an empty curve.
func (c Curve) Distance(p sketch.Point) float64 {
	best := math.Inf(1)
	for _, s := range c.Segments {
		if !s.BoundingBox().Inset(best).Contains(p) {
			continue
		}
		best = math.Min(best, s.Distance(p))
	}
	return best
}

// HitTest reports whether p lies within tolerance of the curve.
func (c Curve) HitTest(p sketch.Point, tolerance float64) bool {
	for _, s := range c.Segments {
		if !s.BoundingBox().Inset(tolerance).Contains(p) {
			continue
		}
		if s.Distance(p) <= tolerance {
			return true
		}
	}
	return false
}

// Geometry is the finished, immutable result of a stroke.
type Geometry struct {
	ID     StrokeID
	Preset Preset
	Seed   uint64
	// Samples are the raw input samples, in order.
	Samples  []sketch.Sample
	Curve    Curve
	Segments []Segment
	// Bounds covers every dab of the stroke.
	Bounds sketch.RectI
}

// DabCount returns the number of dabs in the stroke.
func (g *Geometry) DabCount() int {
	n := 0
	for _, s := range g.Segments {
		n += len(s.Dabs)
	}
	return n
}

// HitTest reports whether p touches the stroke, using the largest dab
// radius plus tolerance.
func (g *Geometry) HitTest(p sketch.Point, tolerance float64) bool {
	if !g.Bounds.Empty() && !p.In(g.Bounds.Inset(-int(math.Ceil(tolerance)))) {
		return false
	}
	if len(g.Curve.Segments) == 0 {
		for _, s := range g.Segments {
			for _, d := range s.Dabs {
				if d.Center.Distance(p) <= d.Radius+tolerance {
					return true
				}
			}
		}
		return false
	}
	return g.Curve.HitTest(p, g.maxRadius()+tolerance)
}

func (g *Geometry) maxRadius() float64 {
	r := 0.0
	for _, s := range g.Segments {
		for _, d := range s.Dabs {
			r = math.Max(r, d.Radius)
		}
	}
	return r
}
