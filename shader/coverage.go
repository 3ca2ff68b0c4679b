package shader

import (
	"image"

	"github.com/gogpu/sketch/brush"
)

// Rule selects how overlapping dabs combine.
type Rule uint8

const (
	// RuleMax keeps the strongest dab per pixel, so a stroke never darkens
	// where it crosses itself.
	RuleMax Rule = iota
	// RuleBuildUp takes the alpha union (a + b - ab), so repeated passes
	// build up.
	RuleBuildUp
)

// RuleFor returns the accumulation rule of a brush kind.
func RuleFor(k brush.Kind) Rule {
	if k.Accumulates() {
		return RuleBuildUp
	}
	return RuleMax
}

const chunkSize = 64

// chunk is one chunkSize × chunkSize block of coverage. hue is allocated
// only when a dab with a hue shift touched the block and holds the
// coverage-weighted mean shift in degrees.
type chunk struct {
	cov [chunkSize * chunkSize]float32
	hue []float32
}

// Coverage is a sparse float32 coverage buffer in canvas coordinates.
// Only 64 × 64 blocks that were touched are allocated.
type Coverage struct {
	rule   Rule
	chunks map[image.Point]*chunk
	bounds image.Rectangle
}

// NewCoverage returns an empty coverage buffer.
func NewCoverage(rule Rule) *Coverage {
	return &Coverage{rule: rule, chunks: make(map[image.Point]*chunk)}
}

// Rule returns the accumulation rule.
func (c *Coverage) Rule() Rule { return c.rule }

// Bounds returns the rectangle of all touched pixels.
func (c *Coverage) Bounds() image.Rectangle { return c.bounds }

// Empty reports whether nothing was stamped.
func (c *Coverage) Empty() bool { return c.bounds.Empty() }

// Chunks returns the number of allocated blocks.
func (c *Coverage) Chunks() int { return len(c.chunks) }

// Bytes returns the memory held by the buffer.
func (c *Coverage) Bytes() int64 {
	var n int64
	for _, ch := range c.chunks {
		n += chunkSize * chunkSize * 4
		n += int64(len(ch.hue)) * 4
	}
	return n
}

// Reset clears the buffer.
func (c *Coverage) Reset() {
	clear(c.chunks)
	c.bounds = image.Rectangle{}
}

func chunkOf(x, y int) (image.Point, int) {
	cx, cy := floorDiv(x, chunkSize), floorDiv(y, chunkSize)
	return image.Pt(cx, cy), (y-cy*chunkSize)*chunkSize + (x - cx*chunkSize)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// At returns the coverage at pixel (x, y).
func (c *Coverage) At(x, y int) float32 {
	p, i := chunkOf(x, y)
	ch, ok := c.chunks[p]
	if !ok {
		return 0
	}
	return ch.cov[i]
}

// HueAt returns the hue shift in degrees at pixel (x, y).
func (c *Coverage) HueAt(x, y int) float32 {
	p, i := chunkOf(x, y)
	ch, ok := c.chunks[p]
	if !ok || ch.hue == nil {
		return 0
	}
	return ch.hue[i]
}

// Add accumulates a at pixel (x, y) with the buffer's rule. hue is the
// dab's hue shift in degrees.
func (c *Coverage) Add(x, y int, a, hue float32) {
	if a <= 0 {
		return
	}
	p, i := chunkOf(x, y)
	ch, ok := c.chunks[p]
	if !ok {
		ch = &chunk{}
		c.chunks[p] = ch
	}
	old := ch.cov[i]
	var v float32
	if c.rule == RuleBuildUp {
		v = old + a - old*a
	} else {
		v = max(old, a)
	}
	if v > 1 {
		v = 1
	}
	if hue != 0 || ch.hue != nil {
		if ch.hue == nil {
			ch.hue = make([]float32, len(ch.cov))
		}
		if w := old + a; w > 0 {
			ch.hue[i] = (ch.hue[i]*old + hue*a) / w
		}
	}
	ch.cov[i] = v
	c.bounds = c.bounds.Union(image.Rect(x, y, x+1, y+1))
}

// Row copies the coverage of row y over [x0, x1) into dst, which is grown
// as needed, and returns it.
func (c *Coverage) Row(y, x0, x1 int, dst []float32) []float32 {
	n := x1 - x0
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	clear(dst)
	for x := x0; x < x1; {
		p, i := chunkOf(x, y)
		end := min(x1, (p.X+1)*chunkSize)
		if ch, ok := c.chunks[p]; ok {
			copy(dst[x-x0:end-x0], ch.cov[i:i+end-x])
		}
		x = end
	}
	return dst
}

// setRow stores vals as the coverage of row y from x0. Zeros do not
// allocate blocks.
func (c *Coverage) setRow(y, x0 int, vals []float32) {
	lo, hi := -1, -1
	for i, v := range vals {
		x := x0 + i
		p, j := chunkOf(x, y)
		ch, ok := c.chunks[p]
		if !ok {
			if v <= 0 {
				continue
			}
			ch = &chunk{}
			c.chunks[p] = ch
		}
		ch.cov[j] = v
		if v > 0 {
			if lo < 0 {
				lo = x
			}
			hi = x
		}
	}
	if lo >= 0 {
		c.bounds = c.bounds.Union(image.Rect(lo, y, hi+1, y+1))
	}
}

// hasHue reports whether any block in r carries hue shifts.
func (c *Coverage) hasHue(r image.Rectangle) bool {
	for p, ch := range c.chunks {
		if ch.hue == nil {
			continue
		}
		cr := image.Rect(p.X*chunkSize, p.Y*chunkSize, (p.X+1)*chunkSize, (p.Y+1)*chunkSize)
		if cr.Overlaps(r) {
			return true
		}
	}
	return false
}
