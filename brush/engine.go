package brush

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/sketch"
)

// StrokeID identifies an in-progress or finished stroke.
type StrokeID uuid.UUID

func (id StrokeID) String() string { return uuid.UUID(id).String() }

// stroke is the mutable state of one in-progress stroke.
type stroke struct {
	preset  Preset
	seed    uint64
	samples []sketch.Sample
	last    sketch.Sample // last raw sample
	stab    stabilizer
	fit     fitter
	place   placer

	curve    Curve
	segments []Segment
	pending  int // index of the first segment not yet drained
	bounds   sketch.RectI
}

// Engine tracks in-progress strokes. It is safe for concurrent use, but
// samples of one stroke must be delivered in order.
type Engine struct {
	mu      sync.Mutex
	strokes map[StrokeID]*stroke
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{strokes: make(map[StrokeID]*stroke)}
}

func validSample(s sketch.Sample) bool {
	for _, v := range [...]float64{s.X, s.Y, s.Pressure, s.TiltX, s.TiltY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// BeginStroke starts a stroke with a snapshot of preset. The preset must
// come from Validate (built-ins and LoadPresets already are).
func (e *Engine) BeginStroke(preset Preset, first sketch.Sample) (StrokeID, error) {
	if !preset.Validated() {
		return StrokeID{}, fmt.Errorf("%w: %q was not validated", ErrInvalidPreset, preset.Name)
	}
	if !validSample(first) {
		return StrokeID{}, ErrInvalidSample
	}

	id := StrokeID(uuid.New())
	seed := strokeSeed(first, preset.Name)
	st := &stroke{
		preset:  preset,
		seed:    seed,
		samples: []sketch.Sample{first},
		last:    first,
		stab:    stabilizer{strength: preset.Smoothing},
		place:   placer{preset: preset, seed: seed},
	}
	st.fit.add(knot{Sample: st.stab.apply(first)})

	e.mu.Lock()
	e.strokes[id] = st
	e.mu.Unlock()
	return id, nil
}

func (e *Engine) lookup(op string, id StrokeID) (*stroke, error) {
	st, ok := e.strokes[id]
	if !ok {
		return nil, &sketch.StrokeError{Op: op, Stroke: id.String(), Err: sketch.ErrInvalidStrokeState}
	}
	return st, nil
}

// AppendPoint adds a sample and returns the pixel rectangle covered by the
// dabs it produced (empty when the spline has not advanced yet). A sample
// whose timestamp is not after the previous one is rejected with
// ErrOutOfOrderSample and leaves the stroke unchanged.
func (e *Engine) AppendPoint(id StrokeID, s sketch.Sample) (sketch.RectI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookup("append", id)
	if err != nil {
		return sketch.RectI{}, err
	}
	if s.Time <= st.last.Time {
		return sketch.RectI{}, &sketch.StrokeError{Op: "append", Stroke: id.String(), Err: sketch.ErrOutOfOrderSample}
	}
	if !validSample(s) {
		return sketch.RectI{}, &sketch.StrokeError{Op: "append", Stroke: id.String(), Err: ErrInvalidSample}
	}
	st.samples = append(st.samples, s)
	return st.push(s), nil
}

// push runs a raw sample through stabilizer, fitter and placer.
func (st *stroke) push(raw sketch.Sample) sketch.RectI {
	v := speed(st.last, raw)
	st.last = raw
	sp, ok := st.fit.add(knot{Sample: st.stab.apply(raw), speed: v})
	if !ok {
		return sketch.RectI{}
	}
	return st.addSpan(sp)
}

func (st *stroke) addSpan(sp span) sketch.RectI {
	if sp.k1.Distance(sp.k2.Point) < 1e-9 {
		return sketch.RectI{}
	}
	seg := Segment{Curve: sp.curve, Dabs: st.place.place(sp)}
	st.curve.Segments = append(st.curve.Segments, sp.curve)
	st.segments = append(st.segments, seg)
	r := seg.Bounds()
	st.bounds = st.bounds.Union(r)
	return r
}

// Segments returns the segments fitted since the previous call.
func (e *Engine) Segments(id StrokeID) ([]Segment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.lookup("segments", id)
	if err != nil {
		return nil, err
	}
	out := st.segments[st.pending:]
	st.pending = len(st.segments)
	return out, nil
}

// EndStroke fits the tail of the stroke and returns its geometry. The
// stroke id is invalid afterwards. Segments not yet drained are the last
// entries of Geometry.Segments.
func (e *Engine) EndStroke(id StrokeID) (*Geometry, error) {
	e.mu.Lock()
	st, err := e.lookup("end", id)
	if err == nil {
		delete(e.strokes, id)
	}
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Let a smoothed stroke catch up with the pointer.
	if st.preset.Smoothing > 0 && st.stab.last.Distance(st.last.Point) > 0.5 {
		tail := st.last
		tail.Time += MinSampleInterval
		st.push(tail)
	}
	if sp, ok := st.fit.finish(); ok {
		st.addSpan(sp)
	}
	if len(st.segments) == 0 {
		d := st.place.single(st.fit.knots[0])
		seg := Segment{Curve: sketch.CubicBez{P0: d.Center, P1: d.Center, P2: d.Center, P3: d.Center}, Dabs: []Dab{d}}
		st.segments = append(st.segments, seg)
		st.bounds = seg.Bounds()
	}

	return &Geometry{
		ID:       id,
		Preset:   st.preset,
		Seed:     st.seed,
		Samples:  st.samples,
		Curve:    st.curve,
		Segments: st.segments,
		Bounds:   st.bounds,
	}, nil
}

// CancelStroke discards an in-progress stroke.
func (e *Engine) CancelStroke(id StrokeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.lookup("cancel", id); err != nil {
		return err
	}
	delete(e.strokes, id)
	return nil
}

// Active returns the number of in-progress strokes.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.strokes)
}

// Replay runs samples through a fresh stroke and returns its geometry. It
// is the deterministic reference used when strokes are re-rendered.
func Replay(preset Preset, samples []sketch.Sample) (*Geometry, error) {
	if len(samples) == 0 {
		return nil, ErrInvalidSample
	}
	e := NewEngine()
	id, err := e.BeginStroke(preset, samples[0])
	if err != nil {
		return nil, err
	}
	for _, s := range samples[1:] {
		if _, err := e.AppendPoint(id, s); err != nil {
			return nil, err
		}
	}
	return e.EndStroke(id)
}
