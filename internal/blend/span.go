package blend

// Load reads the pixel at byte offset i of a big-endian RGBA64 buffer.
func Load(pix []uint8, i int) Pixel {
	return Pixel{
		R: uint32(pix[i+0])<<8 | uint32(pix[i+1]),
		G: uint32(pix[i+2])<<8 | uint32(pix[i+3]),
		B: uint32(pix[i+4])<<8 | uint32(pix[i+5]),
		A: uint32(pix[i+6])<<8 | uint32(pix[i+7]),
	}
}

// Store writes p at byte offset i of a big-endian RGBA64 buffer.
func Store(pix []uint8, i int, p Pixel) {
	pix[i+0], pix[i+1] = uint8(p.R>>8), uint8(p.R)
	pix[i+2], pix[i+3] = uint8(p.G>>8), uint8(p.G)
	pix[i+4], pix[i+5] = uint8(p.B>>8), uint8(p.B)
	pix[i+6], pix[i+7] = uint8(p.A>>8), uint8(p.A)
}

// Scale multiplies every channel of p by f (16-bit fixed point).
func (p Pixel) Scale(f uint32) Pixel {
	return Pixel{R: mul(p.R, f), G: mul(p.G, f), B: mul(p.B, f), A: mul(p.A, f)}
}

// CoverageSpan blends src, scaled per pixel by cov, into a row of
// big-endian RGBA64 pixels. dst must hold at least 8*len(cov) bytes.
// Pixels with zero coverage are left untouched. It reports whether any
// pixel changed.
func CoverageSpan(dst []uint8, src Pixel, cov []float32, fn Func) bool {
	changed := false
	for x, c := range cov {
		if c <= 0 {
			continue
		}
		i := x * 8
		d := Load(dst, i)
		o := fn(src.Scale(Unit(float64(c))), d)
		if o != d {
			Store(dst, i, o)
			changed = true
		}
	}
	return changed
}

// OverSpan composites a row of big-endian RGBA64 source pixels over dst
// with a constant opacity, using fn.
func OverSpan(dst, src []uint8, opacity uint32, fn Func) {
	for i := 0; i+8 <= len(src) && i+8 <= len(dst); i += 8 {
		s := Load(src, i)
		if s.A == 0 {
			continue
		}
		if opacity != 65535 {
			s = s.Scale(opacity)
		}
		Store(dst, i, fn(s, Load(dst, i)))
	}
}
