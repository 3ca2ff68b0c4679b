package brush

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/sketch"
)

// Kind enumerates the brush families.
type Kind uint8

const (
	KindPencil Kind = iota + 1
	KindMarker
	KindWatercolor
	KindAirbrush
	KindEraser
)

var kindNames = map[Kind]string{
	KindPencil:     "pencil",
	KindMarker:     "marker",
	KindWatercolor: "watercolor",
	KindAirbrush:   "airbrush",
	KindEraser:     "eraser",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the kind with the given name.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidPreset, s)
}

// Accumulates reports whether overlapping dabs of this kind build up
// opacity (airbrush, watercolor) instead of taking the maximum.
func (k Kind) Accumulates() bool {
	return k == KindAirbrush || k == KindWatercolor
}

// Params holds the fields specific to one brush kind.
// This is a sealed interface - only types in this package implement it.
type Params interface {
	paramsMarker()
	Kind() Kind
	check(bad func(field, format string, args ...any))
}

// PencilParams configures a textured hard-edged pencil.
type PencilParams struct {
	// Grain is the strength of the tip texture, [0, 1].
	Grain float64 `toml:"grain"`
}

// MarkerParams configures a chisel-tip marker.
type MarkerParams struct {
	// TipAspect is the minor/major axis ratio of the tip, (0, 1].
	TipAspect float64 `toml:"tip_aspect"`
	// TipAngle is the tip rotation in degrees.
	TipAngle float64 `toml:"tip_angle"`
}

// WatercolorParams configures a wet, translucent brush.
type WatercolorParams struct {
	// Wetness darkens dab edges, [0, 1].
	Wetness float64 `toml:"wetness"`
	// HueJitter is the maximum per-dab hue rotation in degrees, [0, 180].
	HueJitter float64 `toml:"hue_jitter"`
}

// AirbrushParams configures a soft spray.
type AirbrushParams struct {
	// Falloff is the exponent of the radial falloff, (0, 8].
	Falloff float64 `toml:"falloff"`
}

// EraserParams configures the eraser. It has no kind-specific fields.
type EraserParams struct{}

func (PencilParams) paramsMarker()     {}
func (MarkerParams) paramsMarker()     {}
func (WatercolorParams) paramsMarker() {}
func (AirbrushParams) paramsMarker()   {}
func (EraserParams) paramsMarker()     {}

func (PencilParams) Kind() Kind     { return KindPencil }
func (MarkerParams) Kind() Kind     { return KindMarker }
func (WatercolorParams) Kind() Kind { return KindWatercolor }
func (AirbrushParams) Kind() Kind   { return KindAirbrush }
func (EraserParams) Kind() Kind     { return KindEraser }

func (p PencilParams) check(bad func(string, string, ...any)) {
	inRange(bad, "pencil.grain", p.Grain, 0, 1)
}

func (p MarkerParams) check(bad func(string, string, ...any)) {
	if !(p.TipAspect > 0 && p.TipAspect <= 1) {
		bad("marker.tip_aspect", "must be in (0, 1], got %g", p.TipAspect)
	}
	if math.IsNaN(p.TipAngle) || math.IsInf(p.TipAngle, 0) {
		bad("marker.tip_angle", "must be finite")
	}
}

func (p WatercolorParams) check(bad func(string, string, ...any)) {
	inRange(bad, "watercolor.wetness", p.Wetness, 0, 1)
	inRange(bad, "watercolor.hue_jitter", p.HueJitter, 0, 180)
}

func (p AirbrushParams) check(bad func(string, string, ...any)) {
	if !(p.Falloff > 0 && p.Falloff <= 8) {
		bad("airbrush.falloff", "must be in (0, 8], got %g", p.Falloff)
	}
}

func (EraserParams) check(func(string, string, ...any)) {}

// Dynamics maps input channels to footprint changes.
type Dynamics struct {
	// PressureSize is how strongly pressure scales size, [0, 1].
	PressureSize float64 `toml:"pressure_size"`
	// PressureOpacity is how strongly pressure scales dab opacity, [0, 1].
	PressureOpacity float64 `toml:"pressure_opacity"`
	// PressureGamma shapes the pressure response; 1 is linear.
	PressureGamma float64 `toml:"pressure_gamma"`
	// TiltSize grows the footprint with pen tilt, [0, 2].
	TiltSize float64 `toml:"tilt_size"`
	// VelocitySize shrinks (positive) or grows (negative) the footprint
	// with speed, [-1, 1].
	VelocitySize float64 `toml:"velocity_size"`
	// VelocityRef is the speed in px/s at which VelocitySize applies fully.
	VelocityRef float64 `toml:"velocity_ref"`
}

// Preset is an immutable brush description. Copy it freely; a stroke keeps
// the copy it was started with.
type Preset struct {
	Name string
	// Size is the full-pressure dab diameter in pixels.
	Size float64
	// MinSize is the diameter at zero pressure as a fraction of Size.
	MinSize float64
	// Opacity caps the coverage of a whole stroke.
	Opacity float64
	// Flow is the opacity of a single dab.
	Flow float64
	// Spacing is the dab distance as a fraction of the diameter.
	Spacing float64
	// Scatter jitters dab centers by up to Scatter × diameter.
	Scatter float64
	// Smoothing is the stabilizer strength, [0, 0.99]; 0 disables it.
	Smoothing float64
	// Hardness is the fraction of the radius drawn at full coverage.
	Hardness float64
	Blend    sketch.BlendMode
	// Texture names a tip texture; empty means a plain disc.
	Texture  string
	Color    sketch.Color
	Dynamics Dynamics
	Params   Params

	validated bool
}

// Kind returns the kind of the preset's params, or 0 when unset.
func (p Preset) Kind() Kind {
	if p.Params == nil {
		return 0
	}
	return p.Params.Kind()
}

// Validated reports whether p came out of Validate.
func (p Preset) Validated() bool { return p.validated }

// WithColor returns a copy of p painting with c. Validation is kept.
func (p Preset) WithColor(c sketch.Color) Preset {
	p.Color = c
	return p
}

// Validate checks every field and returns a validated copy. Unset
// PressureGamma defaults to 1. All problems are joined into one error.
func (p Preset) Validate() (Preset, error) {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &PresetError{Preset: p.Name, Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if p.Name == "" {
		bad("name", "must not be empty")
	}
	if !(p.Size > 0 && p.Size <= 1024) {
		bad("size", "must be in (0, 1024], got %g", p.Size)
	}
	inRange(bad, "min_size", p.MinSize, 0, 1)
	if !(p.Opacity > 0 && p.Opacity <= 1) {
		bad("opacity", "must be in (0, 1], got %g", p.Opacity)
	}
	if !(p.Flow > 0 && p.Flow <= 1) {
		bad("flow", "must be in (0, 1], got %g", p.Flow)
	}
	inRange(bad, "spacing", p.Spacing, 0.01, 10)
	inRange(bad, "scatter", p.Scatter, 0, 5)
	inRange(bad, "smoothing", p.Smoothing, 0, 0.99)
	inRange(bad, "hardness", p.Hardness, 0, 1)
	if p.Blend > sketch.BlendErase {
		bad("blend", "unknown mode %d", p.Blend)
	}

	d := &p.Dynamics
	if d.PressureGamma == 0 {
		d.PressureGamma = 1
	}
	inRange(bad, "dynamics.pressure_size", d.PressureSize, 0, 1)
	inRange(bad, "dynamics.pressure_opacity", d.PressureOpacity, 0, 1)
	inRange(bad, "dynamics.pressure_gamma", d.PressureGamma, 0.1, 10)
	inRange(bad, "dynamics.tilt_size", d.TiltSize, 0, 2)
	inRange(bad, "dynamics.velocity_size", d.VelocitySize, -1, 1)
	if d.VelocityRef < 0 || math.IsNaN(d.VelocityRef) {
		bad("dynamics.velocity_ref", "must not be negative")
	}

	if p.Params == nil {
		bad("kind", "must be set")
	} else {
		p.Params.check(bad)
		isEraser := p.Params.Kind() == KindEraser
		if isEraser != (p.Blend == sketch.BlendErase) {
			bad("blend", "erase mode is reserved for and required by the eraser")
		}
	}

	if len(errs) > 0 {
		return Preset{}, errors.Join(errs...)
	}
	p.validated = true
	return p, nil
}

func inRange(bad func(string, string, ...any), field string, v, lo, hi float64) {
	if !(v >= lo && v <= hi) {
		bad(field, "must be in [%g, %g], got %g", lo, hi, v)
	}
}
