package brush

import (
	"encoding/binary"
	"hash/fnv"
	"image"
	"math"

	"github.com/gogpu/sketch"
)

// Dab is one stamp of the brush tip.
type Dab struct {
	Center sketch.Point
	Radius float64
	// Opacity is the dab's own opacity before the stroke-level cap.
	Opacity float64
	// Angle rotates the tip, in radians.
	Angle float64
	// Aspect is the minor/major axis ratio of the tip; 1 is round.
	Aspect   float64
	Hardness float64
	// HueShift rotates the stroke color for this dab, in degrees.
	HueShift float64
	Index    int
}

// Bounds returns the pixels the dab may touch.
func (d Dab) Bounds() image.Rectangle {
	return sketch.NewRect(d.Center, d.Center).Inset(d.Radius + 1).Pixels()
}

// strokeSeed derives the PRNG seed of a stroke from its first sample and
// preset name.
func strokeSeed(first sketch.Sample, preset string) uint64 {
	h := fnv.New64a()
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:], math.Float64bits(first.X))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(first.Y))
	binary.LittleEndian.PutUint64(b[16:], uint64(first.Time))
	h.Write(b[:])
	h.Write([]byte(preset))
	return h.Sum64()
}

// splitmix64 is a stateless mixer; each (seed, dab, channel) triple maps
// to an independent uniform value.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func unit(seed uint64, index, channel int) float64 {
	v := splitmix64(seed ^ splitmix64(uint64(index)<<2|uint64(channel)))
	return float64(v>>11) / (1 << 53)
}

// placer walks segments by arc length, carrying the distance to the next
// dab across segment boundaries.
type placer struct {
	preset Preset
	seed   uint64
	next   float64 // arc length until the next dab
	index  int
}

// chords returns the chord count used to walk a segment of length l.
func chords(l float64) int {
	n := int(math.Ceil(l / 2))
	return max(4, min(n, 512))
}

// place emits dabs along sp.
func (p *placer) place(sp span) []Dab {
	c := sp.curve
	l := c.Length()
	n := chords(l)

	var dabs []Dab
	prev := c.P0
	prevT := 0.0
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		pt := c.Eval(t)
		chord := prev.Distance(pt)
		pos := 0.0
		for pos+p.next <= chord {
			pos += p.next
			u := prevT
			if chord > 0 {
				u += (t - prevT) * pos / chord
			}
			d := p.dab(sp, u, prev.Lerp(pt, safeDiv(pos, chord)))
			dabs = append(dabs, d)
			p.next = p.preset.spacing(2 * d.Radius)
		}
		p.next -= chord - pos
		prev, prevT = pt, t
	}
	return dabs
}

// single emits the dab of a one-sample stroke.
func (p *placer) single(k knot) Dab {
	sp := span{curve: sketch.CubicBez{P0: k.Point, P1: k.Point, P2: k.Point, P3: k.Point}, k1: k, k2: k}
	return p.dab(sp, 0, k.Point)
}

func (p *placer) dab(sp span, t float64, at sketch.Point) Dab {
	s := sp.k1.Sample.Lerp(sp.k2.Sample, t)
	fp := p.preset.Footprint(s, lerp(sp.k1.speed, sp.k2.speed, t))
	i := p.index
	p.index++

	d := Dab{
		Center:   at,
		Radius:   fp.Diameter / 2,
		Opacity:  fp.Opacity,
		Aspect:   1,
		Hardness: p.preset.Hardness,
		Index:    i,
	}
	if sc := p.preset.Scatter; sc > 0 {
		r := sc * fp.Diameter * unit(p.seed, i, 0)
		a := 2 * math.Pi * unit(p.seed, i, 1)
		d.Center = d.Center.Add(sketch.Pt(r*math.Cos(a), r*math.Sin(a)))
	}
	switch params := p.preset.Params.(type) {
	case MarkerParams:
		d.Aspect = params.TipAspect
		d.Angle = params.TipAngle * math.Pi / 180
	case WatercolorParams:
		d.HueShift = (2*unit(p.seed, i, 2) - 1) * params.HueJitter
	}
	return d
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
