package shader

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
)

func roundDab(x, y, r float64) brush.Dab {
	return brush.Dab{Center: sketch.Pt(x, y), Radius: r, Opacity: 1, Aspect: 1, Hardness: 1}
}

func TestStampDab(t *testing.T) {
	tests := []struct {
		name   string
		dab    brush.Dab
		params StampParams
		inside []image.Point
		out    []image.Point
	}{
		{
			name:   "round",
			dab:    roundDab(10, 10, 4),
			inside: []image.Point{{9, 9}, {12, 10}},
			out:    []image.Point{{20, 20}, {15, 10}},
		},
		{
			name: "flat tip",
			dab: func() brush.Dab {
				d := roundDab(20, 20, 8)
				d.Aspect = 0.25
				return d
			}(),
			inside: []image.Point{{27, 20}},
			out:    []image.Point{{20, 27}},
		},
		{
			name: "rotated tip",
			dab: func() brush.Dab {
				d := roundDab(20, 20, 8)
				d.Aspect = 0.25
				d.Angle = math.Pi / 2
				return d
			}(),
			inside: []image.Point{{20, 27}},
			out:    []image.Point{{27, 20}},
		},
		{
			name:   "clipped",
			dab:    roundDab(10, 10, 4),
			params: StampParams{Clip: image.Rect(0, 0, 10, 10)},
			inside: []image.Point{{8, 8}},
			out:    []image.Point{{11, 11}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cov := NewCoverage(RuleMax)
			stampDabs(cov, []brush.Dab{tt.dab}, tt.params)
			for _, p := range tt.inside {
				if cov.At(p.X, p.Y) <= 0 {
					t.Errorf("%v not covered", p)
				}
			}
			for _, p := range tt.out {
				if v := cov.At(p.X, p.Y); v != 0 {
					t.Errorf("%v covered with %g", p, v)
				}
			}
		})
	}
}

func TestStampDab_Center(t *testing.T) {
	cov := NewCoverage(RuleMax)
	d := roundDab(10, 10, 4)
	d.Opacity = 0.4
	stampDab(cov, d, StampParams{})
	if v := cov.At(9, 9); !near(v, 0.4) {
		t.Errorf("center = %g, want 0.4", v)
	}
}

func TestStampDab_Grain(t *testing.T) {
	black := func(size int) *image.Gray { return image.NewGray(image.Rect(0, 0, size, size)) }
	cov := NewCoverage(RuleMax)
	stampDab(cov, roundDab(10, 10, 4), StampParams{Grain: 0.5, Texture: black})
	if v := cov.At(9, 9); !near(v, 0.5) {
		t.Errorf("grained center = %g, want 0.5", v)
	}
}

func TestDabCoverage_Falloff(t *testing.T) {
	// Soft tips fade monotonically toward the rim.
	prev := 2.0
	for dist := 0.0; dist <= 10; dist++ {
		v := dabCoverage(dist, 10, 0, 2, 0)
		if v > prev {
			t.Fatalf("coverage rises at %g: %g > %g", dist, v, prev)
		}
		prev = v
	}
	if dabCoverage(11, 10, 0, 2, 0) != 0 {
		t.Error("coverage beyond the rim")
	}
	if dabCoverage(3, 10, 0.5, 0, 0) != 1 {
		t.Error("hard core not fully covered")
	}
	if wet, dry := dabCoverage(8, 10, 0, 0, 1), dabCoverage(8, 10, 0, 0, 0); wet <= dry {
		t.Errorf("wet rim %g not darker than dry %g", wet, dry)
	}
}

func filled(cov float32) *Coverage {
	c := NewCoverage(RuleMax)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			c.Add(x, y, cov, 0)
		}
	}
	return c
}

func TestCompositeTile(t *testing.T) {
	white := color.RGBA64{0xffff, 0xffff, 0xffff, 0xffff}
	tests := []struct {
		name    string
		backing color.RGBA64
		cov     float32
		params  CompositeParams
		want    color.RGBA64
	}{
		{"opaque", color.RGBA64{}, 1,
			CompositeParams{Color: sketch.RGB(0, 0, 0), Opacity: 1},
			color.RGBA64{0, 0, 0, 0xffff}},
		{"opacity cap", color.RGBA64{}, 1,
			CompositeParams{Color: sketch.RGB(1, 1, 1), Opacity: 0.5},
			color.RGBA64{0x8000, 0x8000, 0x8000, 0x8000}},
		{"erase", white, 1,
			CompositeParams{Opacity: 1, Mode: sketch.BlendErase},
			color.RGBA64{}},
		{"multiply", white, 1,
			CompositeParams{Color: sketch.RGB(1, 0, 0), Opacity: 1, Mode: sketch.BlendMultiply},
			color.RGBA64{0xffff, 0, 0, 0xffff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := image.NewRGBA64(image.Rect(0, 0, 4, 4))
			for i := 0; i < 16; i++ {
				dst.SetRGBA64(i%4, i/4, tt.backing)
			}
			if !compositeTile(dst, filled(tt.cov), tt.params) {
				t.Fatal("compositeTile reported no change")
			}
			got := dst.RGBA64At(2, 2)
			for i, pair := range [][2]uint16{{got.R, tt.want.R}, {got.G, tt.want.G}, {got.B, tt.want.B}, {got.A, tt.want.A}} {
				if d := int(pair[0]) - int(pair[1]); d < -2 || d > 2 {
					t.Errorf("channel %d = %#x, want %#x", i, pair[0], pair[1])
				}
			}
		})
	}
}

func TestCompositeTile_NoCoverage(t *testing.T) {
	dst := image.NewRGBA64(image.Rect(64, 64, 128, 128))
	if compositeTile(dst, filled(1), CompositeParams{Color: sketch.RGB(0, 0, 0), Opacity: 1}) {
		t.Error("disjoint coverage changed the tile")
	}
	if compositeTile(image.NewRGBA64(image.Rect(0, 0, 4, 4)), filled(1), CompositeParams{Opacity: 0}) {
		t.Error("zero opacity changed the tile")
	}
}

func TestCompositeTile_HueShift(t *testing.T) {
	cov := NewCoverage(RuleBuildUp)
	cov.Add(0, 0, 1, 120)
	cov.Add(1, 0, 1, 0)
	dst := image.NewRGBA64(image.Rect(0, 0, 2, 1))
	compositeTile(dst, cov, CompositeParams{Color: sketch.RGB(1, 0, 0), Opacity: 1})

	shifted, plain := dst.RGBA64At(0, 0), dst.RGBA64At(1, 0)
	if shifted.G <= shifted.R {
		t.Errorf("shifted pixel %v is not green", shifted)
	}
	if plain.R != 0xffff || plain.G != 0 {
		t.Errorf("unshifted pixel %v is not red", plain)
	}
}

func TestCompositeParamsFor_Palette(t *testing.T) {
	pal := sketch.NewPalette(map[string]sketch.RGBA{"sky": sketch.RGB(0.2, 0.4, 0.9)})
	p := brush.Pencil().WithColor(sketch.PaletteRef("sky"))
	cp := CompositeParamsFor(p, pal)
	if cp.Color != sketch.RGB(0.2, 0.4, 0.9) {
		t.Errorf("color = %v", cp.Color)
	}
	if cp.Opacity != p.Opacity || cp.Mode != p.Blend {
		t.Errorf("params = %+v", cp)
	}
}

func TestStampParamsFor(t *testing.T) {
	lib := brush.NewTextureLibrary()
	sp := StampParamsFor(brush.Pencil(), lib, image.Rectangle{})
	if sp.Texture == nil || sp.Grain != brush.Pencil().Params.(brush.PencilParams).Grain {
		t.Errorf("pencil params = %+v", sp)
	}
	if img := sp.Texture(9); img == nil || img.Bounds().Dx() != 9 {
		t.Error("texture not scaled to the dab")
	}
	if sp := StampParamsFor(brush.Airbrush(), lib, image.Rectangle{}); sp.Falloff <= 0 {
		t.Errorf("airbrush falloff = %g", sp.Falloff)
	}
	if sp := StampParamsFor(brush.Watercolor(), nil, image.Rectangle{}); sp.Wetness <= 0 || sp.Texture != nil {
		t.Errorf("watercolor params = %+v", sp)
	}
}
