package bench

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
)

// SampleInterval is the time between generated samples, about a 125 Hz
// stylus.
const SampleInterval = 8 * time.Millisecond

// Scenario is a scripted drawing session.
type Scenario struct {
	Name   string
	Config sketch.Config

	// Presets adds to or overrides the built-in presets by name.
	Presets []brush.Preset

	// Layers is the number of layers to create; strokes address them by
	// index. Zero means one.
	Layers int

	// FrameEvery presents a frame every n appended samples, in addition to
	// one after each stroke. Zero presents only after strokes.
	FrameEvery int

	Strokes []StrokeScript
}

// StrokeScript is one stroke of a scenario.
type StrokeScript struct {
	Preset string
	// Color overrides the preset color when set.
	Color *sketch.Color
	// Layer is a layer index, starting at 0.
	Layer int
	// CancelAfter cancels the stroke after that many samples instead of
	// ending it. Zero ends the stroke normally.
	CancelAfter int
	Samples     []sketch.Sample
}

// Validate checks the scenario against its presets.
func (s *Scenario) Validate() error {
	bad := func(stroke int, format string, args ...any) error {
		return &ScenarioError{Scenario: s.Name, Stroke: stroke, Err: fmt.Errorf("%w: %s", ErrInvalidScenario, fmt.Sprintf(format, args...))}
	}
	if s.Name == "" {
		return bad(-1, "missing name")
	}
	if err := s.Config.Validate(); err != nil {
		return &ScenarioError{Scenario: s.Name, Stroke: -1, Err: err}
	}
	if s.FrameEvery < 0 {
		return bad(-1, "frame_every must not be negative")
	}
	presets := s.presetMap()
	layers := max(s.Layers, 1)
	for i, st := range s.Strokes {
		if _, ok := presets[st.Preset]; !ok {
			return &ScenarioError{Scenario: s.Name, Stroke: i, Err: fmt.Errorf("%w: %q", ErrUnknownPreset, st.Preset)}
		}
		if len(st.Samples) == 0 {
			return bad(i, "no samples")
		}
		if st.Layer < 0 || st.Layer >= layers {
			return bad(i, "layer %d out of range [0, %d)", st.Layer, layers)
		}
		if st.CancelAfter < 0 || st.CancelAfter > len(st.Samples) {
			return bad(i, "cancel_after %d out of range", st.CancelAfter)
		}
		for j := 1; j < len(st.Samples); j++ {
			if st.Samples[j].Time <= st.Samples[j-1].Time {
				return bad(i, "sample %d: %v", j, sketch.ErrOutOfOrderSample)
			}
		}
	}
	return nil
}

// presetMap indexes the built-in presets and the scenario's own.
func (s *Scenario) presetMap() map[string]brush.Preset {
	m := make(map[string]brush.Preset)
	for _, p := range brush.Builtins() {
		m[p.Name] = p
	}
	for _, p := range s.Presets {
		m[p.Name] = p
	}
	return m
}

// SampleCount returns the total number of samples in the scenario.
func (s *Scenario) SampleCount() int {
	n := 0
	for _, st := range s.Strokes {
		n += len(st.Samples)
	}
	return n
}

// Line returns samples along a straight line from a to b, about step
// pixels apart, with constant pressure. Times start at start and advance
// by SampleInterval.
func Line(a, b sketch.Point, step, pressure float64, start time.Duration) []sketch.Sample {
	if step <= 0 {
		step = 1
	}
	n := int(a.Distance(b)/step) + 1
	out := make([]sketch.Sample, n+1)
	for i := range out {
		out[i] = sketch.Sample{
			Point:    a.Lerp(b, float64(i)/float64(n)),
			Pressure: pressure,
			Time:     start + time.Duration(i)*SampleInterval,
		}
	}
	return out
}

// Generator parameterizes RandomScenario.
type Generator struct {
	Strokes int
	Seed    int64
	Preset  string
	// Length is the maximum stroke extent in pixels.
	Length float64
	// CancelEvery cancels every nth stroke halfway. Zero cancels none.
	CancelEvery int
}

// RandomScenario fills cfg's canvas with wobbling random strokes, clamped
// to the canvas. The same generator always produces the same scenario.
func RandomScenario(name string, cfg sketch.Config, g Generator) (Scenario, error) {
	strokes, err := g.generate(cfg)
	if err != nil {
		return Scenario{}, &ScenarioError{Scenario: name, Stroke: -1, Err: err}
	}
	sc := Scenario{Name: name, Config: cfg, Strokes: strokes}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

func (g Generator) generate(cfg sketch.Config) ([]StrokeScript, error) {
	if g.Strokes <= 0 {
		return nil, fmt.Errorf("%w: strokes must be positive", ErrInvalidScenario)
	}
	if g.Preset == "" {
		g.Preset = "pencil"
	}
	if g.Length <= 0 {
		g.Length = 150
	}
	rng := rand.New(rand.NewSource(g.Seed))
	w, h := float64(cfg.CanvasWidth), float64(cfg.CanvasHeight)

	out := make([]StrokeScript, g.Strokes)
	for i := range out {
		a := sketch.Pt(rng.Float64()*w, rng.Float64()*h)
		b := a.Add(sketch.Pt((rng.Float64()*2-1)*g.Length, (rng.Float64()*2-1)*g.Length))
		samples := Line(a, b, 4, 0.5, 0)
		// Perpendicular wobble and varying pressure.
		n := b.Sub(a)
		if l := n.Length(); l > 0 {
			n = sketch.Pt(-n.Y/l, n.X/l)
		}
		amp, phase := rng.Float64()*12, rng.Float64()*6
		for j := range samples {
			t := float64(j) / float64(len(samples))
			pt := samples[j].Add(n.Mul(amp * math.Sin(phase+t*6)))
			samples[j].Point = sketch.Pt(math.Max(0, math.Min(pt.X, w-1)), math.Max(0, math.Min(pt.Y, h-1)))
			samples[j].Pressure = 0.3 + 0.6*rng.Float64()
		}
		st := StrokeScript{Preset: g.Preset, Samples: samples}
		if g.CancelEvery > 0 && (i+1)%g.CancelEvery == 0 {
			st.CancelAfter = max(len(samples)/2, 1)
		}
		out[i] = st
	}
	return out, nil
}
