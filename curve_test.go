package sketch

import (
	"image"
	"math"
	"testing"
)

const epsilon = 1e-9

func pointsEqual(p1, p2 Point, eps float64) bool {
	return math.Abs(p1.X-p2.X) < eps && math.Abs(p1.Y-p2.Y) < eps
}

func TestRect_Union(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want Rect
	}{
		{"disjoint", NewRect(Pt(0, 0), Pt(1, 1)), NewRect(Pt(5, 5), Pt(6, 7)), NewRect(Pt(0, 0), Pt(6, 7))},
		{"empty left", Rect{}, NewRect(Pt(2, 2), Pt(3, 3)), NewRect(Pt(2, 2), Pt(3, 3))},
		{"empty right", NewRect(Pt(2, 2), Pt(3, 3)), Rect{}, NewRect(Pt(2, 2), Pt(3, 3))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Union(tt.b); got != tt.want {
				t.Errorf("Union = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRect_Pixels(t *testing.T) {
	r := NewRect(Pt(1.2, 3.7), Pt(10.1, 11))
	if got, want := r.Pixels(), image.Rect(1, 3, 11, 11); got != want {
		t.Errorf("Pixels = %v, want %v", got, want)
	}
	if got := (Rect{}).Pixels(); !got.Empty() {
		t.Errorf("empty Rect Pixels = %v", got)
	}
}

func TestCubicBez_EvalEndpoints(t *testing.T) {
	c := NewCubicBez(Pt(0, 0), Pt(1, 2), Pt(3, 2), Pt(4, 0))
	if !pointsEqual(c.Eval(0), c.P0, epsilon) || !pointsEqual(c.Eval(1), c.P3, epsilon) {
		t.Errorf("endpoints: %v %v", c.Eval(0), c.Eval(1))
	}
	a, b := c.Subdivide()
	if !pointsEqual(a.End(), c.Eval(0.5), epsilon) || !pointsEqual(b.Start(), c.Eval(0.5), epsilon) {
		t.Error("Subdivide midpoint mismatch")
	}
}

func TestCubicBez_BoundingBox(t *testing.T) {
	// Symmetric arch peaking at y=1.5.
	c := NewCubicBez(Pt(0, 0), Pt(0, 2), Pt(4, 2), Pt(4, 0))
	bb := c.BoundingBox()
	if math.Abs(bb.Max.Y-1.5) > 1e-9 {
		t.Errorf("Max.Y = %v, want 1.5", bb.Max.Y)
	}
	if bb.Min.X != 0 || bb.Max.X != 4 || bb.Min.Y != 0 {
		t.Errorf("bbox = %v", bb)
	}
}

func TestCubicBez_LengthAndDistance(t *testing.T) {
	line := NewCubicBez(Pt(0, 0), Pt(10.0/3, 0), Pt(20.0/3, 0), Pt(10, 0))
	if l := line.Length(); math.Abs(l-10) > 1e-6 {
		t.Errorf("Length = %v, want 10", l)
	}
	if d := line.Distance(Pt(5, 3)); math.Abs(d-3) > 1e-6 {
		t.Errorf("Distance = %v, want 3", d)
	}
	if d := line.Distance(Pt(-4, 3)); math.Abs(d-5) > 1e-6 {
		t.Errorf("Distance past start = %v, want 5", d)
	}
}

func TestCubicBez_Deriv(t *testing.T) {
	c := NewCubicBez(Pt(0, 0), Pt(1, 0), Pt(2, 0), Pt(3, 0))
	if d := c.Deriv(0.5); !pointsEqual(d, Pt(3, 0), epsilon) {
		t.Errorf("Deriv = %v, want (3,0)", d)
	}
}

func TestSample_Lerp(t *testing.T) {
	a := Sample{Point: Pt(0, 0), Pressure: 0.2, Time: 0}
	b := Sample{Point: Pt(10, 0), Pressure: 0.6, Time: 10}
	m := a.Lerp(b, 0.5)
	if m.X != 5 || math.Abs(m.Pressure-0.4) > epsilon || m.Time != 5 {
		t.Errorf("Lerp = %+v", m)
	}
	if tl := (Sample{TiltX: 90, TiltY: 90}).Tilt(); tl != 1 {
		t.Errorf("Tilt clamp = %v", tl)
	}
}
