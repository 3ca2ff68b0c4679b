package shader

import (
	"image"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
)

// Backend executes the stamp and composite programs.
//
// Device loss is observed at pass boundaries: Begin fails with a
// *sketch.RenderContextLostError once the backend is lost, and keeps failing
// until Init succeeds again. Stamp and Composite are only called after a
// successful Begin.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Format returns the pixel format frames are presented in.
	Format() gputypes.TextureFormat

	// Init creates or recreates the programs and device resources.
	Init() error

	// Begin starts a pass.
	Begin() error

	// Stamp accumulates dabs into dst. A failed Stamp leaves dst unchanged.
	Stamp(dst *Coverage, dabs []brush.Dab, params StampParams) error

	// Composite blends src into the 16-bit premultiplied tile dst and
	// reports whether any pixel changed. A failed Composite leaves dst
	// unchanged.
	Composite(dst *image.RGBA64, src *Coverage, params CompositeParams) (bool, error)

	// Close releases device resources.
	Close() error
}

// SoftwareBackend runs the programs' math on the CPU. It is the reference
// implementation and the fallback when no GPU device is available.
type SoftwareBackend struct {
	lost atomic.Bool
}

var _ Backend = (*SoftwareBackend)(nil)

// NewSoftwareBackend creates a CPU backend.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{}
}

func (b *SoftwareBackend) Name() string { return "software" }

func (b *SoftwareBackend) Format() gputypes.TextureFormat { return gputypes.TextureFormatRGBA8Unorm }

// Init clears a simulated context loss.
func (b *SoftwareBackend) Init() error {
	b.lost.Store(false)
	return nil
}

func (b *SoftwareBackend) Begin() error {
	if b.lost.Load() {
		return &sketch.RenderContextLostError{Backend: b.Name(), Cause: ErrSimulatedLoss}
	}
	return nil
}

// LoseContext simulates a device loss; every pass fails until Init.
func (b *SoftwareBackend) LoseContext() {
	b.lost.Store(true)
}

func (b *SoftwareBackend) Stamp(dst *Coverage, dabs []brush.Dab, params StampParams) error {
	stampDabs(dst, dabs, params)
	return nil
}

func (b *SoftwareBackend) Composite(dst *image.RGBA64, src *Coverage, params CompositeParams) (bool, error) {
	return compositeTile(dst, src, params), nil
}

func (b *SoftwareBackend) Close() error { return nil }
