package brush

import (
	"math"
	"time"

	"github.com/gogpu/sketch"
)

// MinSampleInterval is the smallest time delta used for velocity, so that
// samples arriving in the same millisecond do not produce infinite speed.
const MinSampleInterval = time.Millisecond

// minDiameter keeps dabs visible at zero pressure.
const minDiameter = 0.5

// Footprint is the ink footprint at one point of a stroke.
type Footprint struct {
	Diameter float64
	Opacity  float64
}

// Footprint evaluates the preset dynamics for a sample moving at speed
// pixels per second.
func (p Preset) Footprint(s sketch.Sample, speed float64) Footprint {
	d := p.Dynamics
	gamma := d.PressureGamma
	if gamma <= 0 {
		gamma = 1
	}
	pr := math.Pow(clamp01(s.Pressure), gamma)

	pressureScale := p.MinSize + (1-p.MinSize)*pr
	size := p.Size * lerp(1, pressureScale, d.PressureSize)
	size *= 1 + d.TiltSize*s.Tilt()
	if d.VelocitySize != 0 && d.VelocityRef > 0 {
		v := math.Min(speed/d.VelocityRef, 1)
		size *= 1 - d.VelocitySize*v
	}
	size = math.Max(size, minDiameter)

	opacity := p.Flow * lerp(1, pr, d.PressureOpacity)
	return Footprint{Diameter: size, Opacity: clamp01(opacity)}
}

// spacing returns the arc length between dabs of the given diameter.
func (p Preset) spacing(diameter float64) float64 {
	return math.Max(p.Spacing*diameter, 0.5)
}

// speed returns the velocity between two samples in px/s.
func speed(a, b sketch.Sample) float64 {
	dt := b.Time - a.Time
	if dt < MinSampleInterval {
		dt = MinSampleInterval
	}
	return a.Distance(b.Point) / dt.Seconds()
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func clamp01(x float64) float64 {
	switch {
	case x < 0 || math.IsNaN(x):
		return 0
	case x > 1:
		return 1
	}
	return x
}
