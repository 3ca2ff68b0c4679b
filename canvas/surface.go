// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package canvas

import (
	"fmt"
	"image"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/sketch/shader"
)

// TextureDrawer draws host textures. It matches the draw context of a
// gogpu window.
type TextureDrawer interface {
	DrawTexture(tex any, x, y float32) error
	Renderer() any
}

// textureCreator is implemented by renderers that create textures.
type textureCreator interface {
	NewTextureFromRGBA(width, height int, data []byte) (any, error)
}

// textureUpdater is implemented by textures that accept new pixels.
type textureUpdater interface {
	UpdateData(data []byte)
}

// textureDestroyer is implemented by textures that hold GPU memory.
type textureDestroyer interface {
	Destroy()
}

// pendingTexture holds pixels until a renderer is available to create the
// texture.
type pendingTexture struct {
	width  int
	height int
	data   []byte
}

// Surface keeps the host's copy of presented frames in a GPU texture. It
// copies only the damaged parts of each frame and uploads when something
// changed.
//
// Surface is not safe for concurrent use.
type Surface struct {
	provider    gpucontext.DeviceProvider
	format      gputypes.TextureFormat
	pix         *image.RGBA
	texture     any
	oldTexture  any
	dirty       bool
	sizeChanged bool
	fresh       bool // next Update copies the whole frame
	closed      bool
}

// NewSurface creates a surface of the given size on provider's device.
func NewSurface(provider gpucontext.DeviceProvider, width, height int) (*Surface, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	return &Surface{
		provider: provider,
		format:   shader.NegotiateFormat(provider.SurfaceFormat()),
		pix:      image.NewRGBA(image.Rect(0, 0, width, height)),
		dirty:    true,
		fresh:    true,
	}, nil
}

// Format returns the channel order the host surface expects.
func (s *Surface) Format() gputypes.TextureFormat { return s.format }

// Size returns the surface dimensions.
func (s *Surface) Size() (width, height int) {
	return s.pix.Rect.Dx(), s.pix.Rect.Dy()
}

// IsDirty reports whether the texture needs an upload.
func (s *Surface) IsDirty() bool { return s.dirty }

// Update copies the damaged regions of f. A frame of a different size
// resizes the surface and is copied whole.
func (s *Surface) Update(f *shader.Frame) error {
	if s.closed {
		return ErrClosed
	}
	size := f.Viewport.Size()
	if size != s.pix.Rect.Size() {
		s.pix = image.NewRGBA(image.Rectangle{Max: size})
		s.sizeChanged = true
		s.fresh = true
	}
	origin := f.Viewport.Min
	if s.fresh {
		xdraw.Copy(s.pix, image.Point{}, f.Image, f.Viewport, xdraw.Src, nil)
		s.fresh = false
		s.dirty = true
		return nil
	}
	for _, r := range f.Damage {
		r = r.Intersect(f.Viewport)
		if r.Empty() {
			continue
		}
		xdraw.Copy(s.pix, r.Min.Sub(origin), f.Image, r, xdraw.Src, nil)
		s.dirty = true
	}
	return nil
}

// Flush uploads the surface if it changed and returns the texture. The
// texture is created on the first RenderTo, when a renderer is known.
func (s *Surface) Flush() (any, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.sizeChanged {
		if s.texture != nil {
			s.destroyOld()
			s.oldTexture = s.texture
			s.texture = nil
		}
		s.sizeChanged = false
	}
	if !s.dirty && s.texture != nil {
		return s.texture, nil
	}
	if s.texture == nil {
		w, h := s.Size()
		s.texture = &pendingTexture{width: w, height: h, data: s.pix.Pix}
		s.dirty = false
		return s.texture, nil
	}
	if u, ok := s.texture.(textureUpdater); ok {
		u.UpdateData(s.pix.Pix)
	}
	s.dirty = false
	return s.texture, nil
}

// RenderTo uploads pending changes and draws the surface at (x, y).
func (s *Surface) RenderTo(dc TextureDrawer, x, y float32) error {
	tex, err := s.Flush()
	if err != nil {
		return err
	}
	if pending, ok := tex.(*pendingTexture); ok {
		creator, ok := dc.Renderer().(textureCreator)
		if !ok {
			return ErrInvalidRenderer
		}
		created, err := creator.NewTextureFromRGBA(pending.width, pending.height, pending.data)
		if err != nil {
			return fmt.Errorf("canvas: create texture: %w", err)
		}
		// Frame pixels are premultiplied.
		if pt, ok := created.(interface{ SetPremultiplied(bool) }); ok {
			pt.SetPremultiplied(true)
		}
		s.texture = created
		tex = created
		s.destroyOld()
	}
	return dc.DrawTexture(tex, x, y)
}

func (s *Surface) destroyOld() {
	if d, ok := s.oldTexture.(textureDestroyer); ok {
		d.Destroy()
	}
	s.oldTexture = nil
}

// Close destroys the textures. It is idempotent.
func (s *Surface) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.destroyOld()
	if d, ok := s.texture.(textureDestroyer); ok {
		d.Destroy()
	}
	s.texture = nil
	s.provider = nil
	return nil
}
