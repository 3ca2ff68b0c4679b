package brush

import "github.com/gogpu/sketch"

// knot is a stabilized sample with the speed at which it was reached.
type knot struct {
	sketch.Sample
	speed float64
}

// fitter converts a growing knot sequence into Catmull-Rom segments
// expressed as cubic Béziers. Each knot beyond the second emits exactly one
// segment, lagging one knot behind the input; Finish emits the tail.
type fitter struct {
	knots []knot
	emit  int // index of the start knot of the next segment
}

// span is one fitted segment with the knots at its ends.
type span struct {
	curve  sketch.CubicBez
	k1, k2 knot
}

func (f *fitter) at(i int) knot {
	switch {
	case i < 0:
		return f.knots[0]
	case i >= len(f.knots):
		return f.knots[len(f.knots)-1]
	}
	return f.knots[i]
}

// add appends a knot and returns the segment it completes, if any.
func (f *fitter) add(k knot) (span, bool) {
	f.knots = append(f.knots, k)
	// Segment i..i+1 needs knot i+2 as its outgoing tangent.
	if len(f.knots) < f.emit+3 {
		return span{}, false
	}
	s := f.span(f.emit)
	f.emit++
	return s, true
}

// finish returns the final segment using a duplicated end knot.
func (f *fitter) finish() (span, bool) {
	if len(f.knots) < 2 || f.emit >= len(f.knots)-1 {
		return span{}, false
	}
	s := f.span(f.emit)
	f.emit++
	return s, true
}

// span builds the Catmull-Rom segment from knot i to i+1.
func (f *fitter) span(i int) span {
	q0, q1, q2, q3 := f.at(i-1), f.at(i), f.at(i+1), f.at(i+2)
	c := sketch.CubicBez{
		P0: q1.Point,
		P1: q1.Point.Add(q2.Point.Sub(q0.Point).Mul(1.0 / 6)),
		P2: q2.Point.Sub(q3.Point.Sub(q1.Point).Mul(1.0 / 6)),
		P3: q2.Point,
	}
	return span{curve: c, k1: q1, k2: q2}
}

// stabilizer smooths positions with an exponential moving average.
type stabilizer struct {
	strength float64
	last     sketch.Point
	started  bool
}

func (s *stabilizer) apply(in sketch.Sample) sketch.Sample {
	if !s.started || s.strength <= 0 {
		s.started = true
		s.last = in.Point
		return in
	}
	s.last = s.last.Lerp(in.Point, 1-s.strength)
	in.Point = s.last
	return in
}
