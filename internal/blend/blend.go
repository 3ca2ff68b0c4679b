package blend

import "github.com/gogpu/sketch"

// Pixel is a premultiplied 16-bit RGBA color.
type Pixel struct {
	R, G, B, A uint32
}

// FromRGBA premultiplies c and scales it by coverage.
func FromRGBA(c sketch.RGBA, coverage float64) Pixel {
	a := c.A * coverage
	return Pixel{R: Unit(c.R * a), G: Unit(c.G * a), B: Unit(c.B * a), A: Unit(a)}
}

// Func blends a premultiplied source over a premultiplied destination.
type Func func(s, d Pixel) Pixel

// For returns the kernel of mode. Unknown modes fall back to source-over.
func For(mode sketch.BlendMode) Func {
	switch mode {
	case sketch.BlendMultiply:
		return multiply
	case sketch.BlendScreen:
		return screen
	case sketch.BlendDarken:
		return darken
	case sketch.BlendLighten:
		return lighten
	case sketch.BlendErase:
		return destinationOut
	default:
		return sourceOver
	}
}

// sourceOver: S + D*(1-Sa)
func sourceOver(s, d Pixel) Pixel {
	if s.A == 0 {
		return d
	}
	ia := inv(s.A)
	return Pixel{
		R: clamp16(s.R + mul(d.R, ia)),
		G: clamp16(s.G + mul(d.G, ia)),
		B: clamp16(s.B + mul(d.B, ia)),
		A: clamp16(s.A + mul(d.A, ia)),
	}
}

// destinationOut: D*(1-Sa)
func destinationOut(s, d Pixel) Pixel {
	ia := inv(s.A)
	return Pixel{R: mul(d.R, ia), G: mul(d.G, ia), B: mul(d.B, ia), A: mul(d.A, ia)}
}

// separable applies the W3C separable blend formula in premultiplied form:
//
//	Co = Cs*(1-Da) + Cd*(1-Sa) + mix(Cs, Cd, Sa, Da)
//	Ao = Sa + Da - Sa*Da
//
// where mix returns Sa*Da*B(Cs/Sa, Cd/Da) expressed on premultiplied values.
func separable(s, d Pixel, mix func(sc, dc, sa, da uint32) uint32) Pixel {
	if s.A == 0 {
		return d
	}
	if d.A == 0 {
		return s
	}
	isa, ida := inv(s.A), inv(d.A)
	a := clamp16(s.A + d.A - mul(s.A, d.A))
	ch := func(sc, dc uint32) uint32 {
		return min(mul(sc, ida)+mul(dc, isa)+mix(sc, dc, s.A, d.A), a)
	}
	return Pixel{R: ch(s.R, d.R), G: ch(s.G, d.G), B: ch(s.B, d.B), A: a}
}

// multiply: B = Cs*Cd
func multiply(s, d Pixel) Pixel {
	return separable(s, d, func(sc, dc, _, _ uint32) uint32 { return mul(sc, dc) })
}

// screen: B = Cs + Cd - Cs*Cd
func screen(s, d Pixel) Pixel {
	return separable(s, d, func(sc, dc, sa, da uint32) uint32 {
		v, p := mul(sc, da)+mul(dc, sa), mul(sc, dc)
		if p > v {
			return 0
		}
		return v - p
	})
}

// darken: B = min(Cs, Cd)
func darken(s, d Pixel) Pixel {
	return separable(s, d, func(sc, dc, sa, da uint32) uint32 {
		return min(mul(sc, da), mul(dc, sa))
	})
}

// lighten: B = max(Cs, Cd)
func lighten(s, d Pixel) Pixel {
	return separable(s, d, func(sc, dc, sa, da uint32) uint32 {
		return max(mul(sc, da), mul(dc, sa))
	})
}
