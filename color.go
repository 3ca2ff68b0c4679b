package sketch

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// RGBA represents a straight-alpha color with red, green, blue, and alpha
// components. Each component is in the range [0, 1].
type RGBA struct {
	R, G, B, A float64
}

// Transparent is the zero-alpha color.
var Transparent = RGBA{}

// Color converts RGBA to the standard color.Color interface.
func (c RGBA) Color() color.Color {
	return color.NRGBA{
		R: uint8(clamp255(c.R * 255)),
		G: uint8(clamp255(c.G * 255)),
		B: uint8(clamp255(c.B * 255)),
		A: uint8(clamp255(c.A * 255)),
	}
}

// FromColor converts a standard color.Color to RGBA.
func FromColor(c color.Color) RGBA {
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	return RGBA{
		R: float64(n.R) / 0xffff,
		G: float64(n.G) / 0xffff,
		B: float64(n.B) / 0xffff,
		A: float64(n.A) / 0xffff,
	}
}

// RGB creates an opaque color from RGB components.
func RGB(r, g, b float64) RGBA {
	return RGBA{R: r, G: g, B: b, A: 1.0}
}

// ParseHex parses "#RGB", "#RGBA", "#RRGGBB" or "#RRGGBBAA" (the leading
// '#' is optional).
func ParseHex(s string) (RGBA, error) {
	s = strings.TrimPrefix(s, "#")
	var v [4]uint8
	v[3] = 255
	switch len(s) {
	case 3, 4:
		for i := 0; i < len(s); i++ {
			n, ok := hexNibble(s[i])
			if !ok {
				return RGBA{}, fmt.Errorf("sketch: invalid hex color %q", s)
			}
			v[i] = n * 17
		}
	case 6, 8:
		for i := 0; i < len(s)/2; i++ {
			hi, ok1 := hexNibble(s[2*i])
			lo, ok2 := hexNibble(s[2*i+1])
			if !ok1 || !ok2 {
				return RGBA{}, fmt.Errorf("sketch: invalid hex color %q", s)
			}
			v[i] = hi<<4 | lo
		}
	default:
		return RGBA{}, fmt.Errorf("sketch: invalid hex color %q", s)
	}
	return RGBA{
		R: float64(v[0]) / 255,
		G: float64(v[1]) / 255,
		B: float64(v[2]) / 255,
		A: float64(v[3]) / 255,
	}, nil
}

// Hex creates a color from a hex string. Invalid input yields Transparent.
func Hex(s string) RGBA {
	c, err := ParseHex(s)
	if err != nil {
		return Transparent
	}
	return c
}

func hexNibble(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// Hex formats the color as "#rrggbbaa".
func (c RGBA) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x%02x",
		uint8(clamp255(c.R*255)), uint8(clamp255(c.G*255)),
		uint8(clamp255(c.B*255)), uint8(clamp255(c.A*255)))
}

// Premultiply returns a premultiplied version of the color.
func (c RGBA) Premultiply() RGBA {
	return RGBA{R: c.R * c.A, G: c.G * c.A, B: c.B * c.A, A: c.A}
}

// Lerp performs linear interpolation between two colors.
func (c RGBA) Lerp(other RGBA, t float64) RGBA {
	return RGBA{
		R: c.R + (other.R-c.R)*t,
		G: c.G + (other.G-c.G)*t,
		B: c.B + (other.B-c.B)*t,
		A: c.A + (other.A-c.A)*t,
	}
}

// Colorful converts the color channels to a go-colorful value (alpha is
// dropped).
func (c RGBA) Colorful() colorful.Color {
	return colorful.Color{R: clamp01(c.R), G: clamp01(c.G), B: clamp01(c.B)}
}

// FromColorful converts a go-colorful value back with the given alpha.
func FromColorful(c colorful.Color, alpha float64) RGBA {
	c = c.Clamped()
	return RGBA{R: c.R, G: c.G, B: c.B, A: alpha}
}

// ShiftHue rotates the hue by deg degrees in the perceptual HCL space,
// keeping chroma, luminance and alpha.
func (c RGBA) ShiftHue(deg float64) RGBA {
	h, ch, l := c.Colorful().Hcl()
	h = math.Mod(h+deg, 360)
	if h < 0 {
		h += 360
	}
	return FromColorful(colorful.Hcl(h, ch, l), c.A)
}

func clamp255(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return x + 0.5
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Color is a stroke color: either a direct RGBA value or a reference to a
// palette entry resolved at render time.
type Color struct {
	RGBA RGBA
	// Ref names a palette entry. When non-empty it takes precedence over
	// RGBA if the palette has the entry.
	Ref string
}

// Direct returns a Color holding a direct RGBA value.
func Direct(c RGBA) Color { return Color{RGBA: c} }

// PaletteRef returns a Color that refers to a palette entry by name.
func PaletteRef(name string) Color { return Color{Ref: name} }

// Resolve returns the concrete value of c. A reference missing from p
// falls back to the direct value.
func (c Color) Resolve(p *Palette) RGBA {
	if c.Ref != "" && p != nil {
		if v, ok := p.Lookup(c.Ref); ok {
			return v
		}
	}
	return c.RGBA
}

// String implements fmt.Stringer.
func (c Color) String() string {
	if c.Ref != "" {
		return "@" + c.Ref
	}
	return c.RGBA.Hex()
}

// UnmarshalText accepts "@name" palette references or hex colors.
func (c *Color) UnmarshalText(b []byte) error {
	s := string(b)
	if strings.HasPrefix(s, "@") {
		*c = PaletteRef(s[1:])
		return nil
	}
	v, err := ParseHex(s)
	if err != nil {
		return err
	}
	*c = Direct(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
