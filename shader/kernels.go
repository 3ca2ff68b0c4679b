package shader

import (
	"image"
	"math"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/internal/blend"
)

// StampParams configures a stamp pass. It mirrors the uniform block of
// stamp.wgsl plus the tip texture.
type StampParams struct {
	// Falloff > 0 selects a power falloff (airbrush); 0 a smoothstep edge.
	Falloff float64
	// Wetness darkens the rim of each dab.
	Wetness float64
	// Grain is the tip texture strength.
	Grain float64
	// Texture returns the tip texture at the given diameter, or nil.
	Texture func(size int) *image.Gray
	// Clip bounds the stamped pixels; empty means unbounded.
	Clip image.Rectangle
}

// StampParamsFor derives stamp parameters from a preset.
func StampParamsFor(p brush.Preset, textures *brush.TextureLibrary, clip image.Rectangle) StampParams {
	sp := StampParams{Clip: clip}
	switch params := p.Params.(type) {
	case brush.AirbrushParams:
		sp.Falloff = params.Falloff
	case brush.WatercolorParams:
		sp.Wetness = params.Wetness
	case brush.PencilParams:
		sp.Grain = params.Grain
	}
	if p.Texture != "" && textures != nil && textures.Has(p.Texture) {
		if sp.Grain == 0 {
			sp.Grain = 1
		}
		name := p.Texture
		sp.Texture = func(size int) *image.Gray {
			g, _ := textures.Scaled(name, size)
			return g
		}
	}
	return sp
}

// CompositeParams configures a composite pass. It mirrors the uniform
// block of composite.wgsl.
type CompositeParams struct {
	// Color is the straight-alpha stroke color.
	Color sketch.RGBA
	// Opacity caps the coverage.
	Opacity float64
	Mode    sketch.BlendMode
}

// CompositeParamsFor derives composite parameters from a preset, resolving
// palette references.
func CompositeParamsFor(p brush.Preset, palette *sketch.Palette) CompositeParams {
	return CompositeParams{Color: p.Color.Resolve(palette), Opacity: p.Opacity, Mode: p.Blend}
}

// stampDabs runs the stamp kernel for each dab in order.
func stampDabs(cov *Coverage, dabs []brush.Dab, sp StampParams) {
	for _, d := range dabs {
		stampDab(cov, d, sp)
	}
}

func stampDab(cov *Coverage, d brush.Dab, sp StampParams) {
	r := d.Bounds()
	if !sp.Clip.Empty() {
		r = r.Intersect(sp.Clip)
	}
	if r.Empty() || d.Opacity <= 0 || d.Radius <= 0 {
		return
	}

	var tex *image.Gray
	var texOrigin image.Point
	if sp.Texture != nil && sp.Grain > 0 {
		tex = sp.Texture(int(math.Ceil(2 * d.Radius)))
		texOrigin = image.Pt(int(math.Floor(d.Center.X-d.Radius)), int(math.Floor(d.Center.Y-d.Radius)))
	}
	sin, cos := math.Sincos(-d.Angle)
	aspect := d.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	hue := float32(d.HueShift)

	for y := r.Min.Y; y < r.Max.Y; y++ {
		qy := float64(y) + 0.5 - d.Center.Y
		for x := r.Min.X; x < r.Max.X; x++ {
			qx := float64(x) + 0.5 - d.Center.X
			lx := qx*cos - qy*sin
			ly := (qx*sin + qy*cos) / aspect
			a := dabCoverage(math.Hypot(lx, ly), d.Radius, d.Hardness, sp.Falloff, sp.Wetness)
			if a <= 0 {
				continue
			}
			if tex != nil {
				tp := image.Pt(x-texOrigin.X, y-texOrigin.Y)
				if tp.In(tex.Bounds()) {
					g := float64(tex.GrayAt(tp.X, tp.Y).Y) / 255
					a *= 1 - sp.Grain*(1-g)
				}
			}
			cov.Add(x, y, float32(a*d.Opacity), hue)
		}
	}
}

// dabCoverage is dab_coverage of stamp.wgsl without the opacity factor.
func dabCoverage(dist, radius, hardness, falloff, wetness float64) float64 {
	edge := clamp01(radius - dist + 0.5)
	if edge <= 0 {
		return 0
	}
	r := dist / math.Max(radius, 0.5)
	f := 1.0
	if r > hardness {
		t := clamp01((r - hardness) / math.Max(1-hardness, 1e-4))
		if falloff > 0 {
			f = math.Pow(1-t, falloff)
		} else {
			f = 1 - t*t*(3-2*t)
		}
		f = math.Min(1, f*(1+wetness*t*t))
	}
	return f * edge
}

// compositeTile runs the composite kernel over the part of dst covered by
// cov. It reports whether any pixel changed.
func compositeTile(dst *image.RGBA64, cov *Coverage, cp CompositeParams) bool {
	r := dst.Rect.Intersect(cov.Bounds())
	if r.Empty() || cp.Opacity <= 0 {
		return false
	}
	fn := blend.For(cp.Mode)
	src := blend.FromRGBA(cp.Color, 1)
	if cp.Mode == sketch.BlendErase {
		src = blend.Pixel{A: 65535}
	}
	hue := cp.Mode != sketch.BlendErase && cov.hasHue(r)
	shifted := make(map[int]blend.Pixel)
	ceil := float32(cp.Opacity)

	changed := false
	var row []float32
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row = cov.Row(y, r.Min.X, r.Max.X, row)
		for i, c := range row {
			if c > ceil {
				row[i] = ceil
			}
		}
		off := dst.PixOffset(r.Min.X, y)
		line := dst.Pix[off : off+8*r.Dx()]
		if !hue {
			changed = blend.CoverageSpan(line, src, row, fn) || changed
			continue
		}
		for i, c := range row {
			if c <= 0 {
				continue
			}
			deg := int(math.Round(float64(cov.HueAt(r.Min.X+i, y))))
			s, ok := shifted[deg]
			if !ok && deg == 0 {
				s, ok = src, true
			}
			if !ok {
				s = blend.FromRGBA(cp.Color.ShiftHue(float64(deg)), 1)
				shifted[deg] = s
			}
			changed = blend.CoverageSpan(line[i*8:i*8+8], s, row[i:i+1], fn) || changed
		}
	}
	return changed
}

func clamp01(x float64) float64 {
	switch {
	case x < 0 || math.IsNaN(x):
		return 0
	case x > 1:
		return 1
	}
	return x
}
