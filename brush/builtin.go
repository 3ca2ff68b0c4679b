package brush

import "github.com/gogpu/sketch"

func mustValidate(p Preset) Preset {
	v, err := p.Validate()
	if err != nil {
		panic(err)
	}
	return v
}

// Pencil returns the built-in pencil: small, hard, grainy and
// pressure-sensitive in size.
func Pencil() Preset {
	return mustValidate(Preset{
		Name:     "pencil",
		Size:     4,
		MinSize:  0.3,
		Opacity:  0.95,
		Flow:     0.9,
		Spacing:  0.15,
		Hardness: 0.9,
		Texture:  "grain",
		Color:    sketch.Direct(sketch.RGB(0.1, 0.1, 0.12)),
		Dynamics: Dynamics{PressureSize: 0.8, PressureOpacity: 0.5, PressureGamma: 1.2, TiltSize: 0.6},
		Params:   PencilParams{Grain: 0.35},
	})
}

// Marker returns the built-in chisel marker with constant opacity.
func Marker() Preset {
	return mustValidate(Preset{
		Name:     "marker",
		Size:     14,
		MinSize:  0.8,
		Opacity:  0.8,
		Flow:     1,
		Spacing:  0.08,
		Hardness: 0.95,
		Blend:    sketch.BlendMultiply,
		Color:    sketch.Direct(sketch.RGB(0.95, 0.75, 0.1)),
		Dynamics: Dynamics{PressureSize: 0.2, PressureGamma: 1},
		Params:   MarkerParams{TipAspect: 0.35, TipAngle: 30},
	})
}

// Watercolor returns the built-in watercolor: large, translucent and
// smoothed, with slight hue variation.
func Watercolor() Preset {
	return mustValidate(Preset{
		Name:      "watercolor",
		Size:      36,
		MinSize:   0.5,
		Opacity:   0.6,
		Flow:      0.12,
		Spacing:   0.2,
		Scatter:   0.05,
		Smoothing: 0.4,
		Hardness:  0.2,
		Color:     sketch.Direct(sketch.RGB(0.15, 0.35, 0.8)),
		Dynamics:  Dynamics{PressureSize: 0.5, PressureOpacity: 0.7, PressureGamma: 1, VelocitySize: 0.3, VelocityRef: 2000},
		Params:    WatercolorParams{Wetness: 0.6, HueJitter: 8},
	})
}

// Airbrush returns the built-in airbrush: soft falloff, build-up with
// repeated passes.
func Airbrush() Preset {
	return mustValidate(Preset{
		Name:     "airbrush",
		Size:     48,
		MinSize:  0.6,
		Opacity:  1,
		Flow:     0.05,
		Spacing:  0.1,
		Scatter:  0.1,
		Hardness: 0,
		Color:    sketch.Direct(sketch.RGB(0.8, 0.2, 0.3)),
		Dynamics: Dynamics{PressureOpacity: 1, PressureGamma: 1.5},
		Params:   AirbrushParams{Falloff: 2},
	})
}

// Eraser returns the built-in eraser.
func Eraser() Preset {
	return mustValidate(Preset{
		Name:     "eraser",
		Size:     24,
		MinSize:  0.5,
		Opacity:  1,
		Flow:     1,
		Spacing:  0.1,
		Hardness: 0.8,
		Blend:    sketch.BlendErase,
		Color:    sketch.Direct(sketch.RGB(0, 0, 0)),
		Dynamics: Dynamics{PressureSize: 0.5, PressureGamma: 1},
		Params:   EraserParams{},
	})
}

// Builtins returns all built-in presets.
func Builtins() []Preset {
	return []Preset{Pencil(), Marker(), Watercolor(), Airbrush(), Eraser()}
}

// builtinFor returns the built-in preset of kind k.
func builtinFor(k Kind) Preset {
	switch k {
	case KindPencil:
		return Pencil()
	case KindMarker:
		return Marker()
	case KindWatercolor:
		return Watercolor()
	case KindAirbrush:
		return Airbrush()
	default:
		return Eraser()
	}
}
