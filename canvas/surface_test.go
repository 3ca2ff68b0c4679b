// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package canvas

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/sketch/shader"
)

type mockDevice struct{}

func (m *mockDevice) Poll(wait bool) {}
func (m *mockDevice) Destroy()       {}

type mockQueue struct{}

type mockAdapter struct{}

// mockProvider implements gpucontext.DeviceProvider for testing.
type mockProvider struct {
	format gputypes.TextureFormat
}

func (m *mockProvider) Device() gpucontext.Device             { return &mockDevice{} }
func (m *mockProvider) Queue() gpucontext.Queue               { return &mockQueue{} }
func (m *mockProvider) Adapter() gpucontext.Adapter           { return &mockAdapter{} }
func (m *mockProvider) SurfaceFormat() gputypes.TextureFormat { return m.format }

type mockTexture struct {
	width, height int
	data          []byte
	updates       int
	premultiplied bool
	destroyed     bool
}

func (t *mockTexture) UpdateData(data []byte) {
	t.data = append(t.data[:0], data...)
	t.updates++
}

func (t *mockTexture) SetPremultiplied(v bool) { t.premultiplied = v }
func (t *mockTexture) Destroy()                { t.destroyed = true }

type mockRenderer struct {
	created []*mockTexture
	err     error
}

func (r *mockRenderer) NewTextureFromRGBA(w, h int, data []byte) (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	tex := &mockTexture{width: w, height: h, data: append([]byte(nil), data...)}
	r.created = append(r.created, tex)
	return tex, nil
}

type mockDrawContext struct {
	renderer any
	drawn    []any
}

func (dc *mockDrawContext) DrawTexture(tex any, _, _ float32) error {
	dc.drawn = append(dc.drawn, tex)
	return nil
}

func (dc *mockDrawContext) Renderer() any { return dc.renderer }

func testFrame(w, h int, damage ...image.Rectangle) *shader.Frame {
	vp := image.Rect(0, 0, w, h)
	return &shader.Frame{Image: image.NewRGBA(vp), Viewport: vp, Damage: damage}
}

func TestNewSurface_Errors(t *testing.T) {
	if _, err := NewSurface(nil, 10, 10); !errors.Is(err, ErrNilProvider) {
		t.Errorf("nil provider err = %v", err)
	}
	for _, size := range [][2]int{{0, 10}, {10, 0}, {-1, -1}} {
		if _, err := NewSurface(&mockProvider{}, size[0], size[1]); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("NewSurface(%v) err = %v", size, err)
		}
	}
}

func TestSurface_Format(t *testing.T) {
	tests := []struct {
		host gputypes.TextureFormat
		want gputypes.TextureFormat
	}{
		{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8Unorm},
		{gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8Unorm},
		{gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA8Unorm},
	}
	for _, tt := range tests {
		s, err := NewSurface(&mockProvider{format: tt.host}, 4, 4)
		if err != nil {
			t.Fatal(err)
		}
		if s.Format() != tt.want {
			t.Errorf("host %v: format = %v, want %v", tt.host, s.Format(), tt.want)
		}
	}
}

func TestSurface_RenderLifecycle(t *testing.T) {
	s, err := NewSurface(&mockProvider{}, 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	r := &mockRenderer{}
	dc := &mockDrawContext{renderer: r}

	f := testFrame(64, 64)
	f.Image.SetRGBA(5, 5, color.RGBA{255, 0, 0, 255})
	if err := s.Update(f); err != nil {
		t.Fatal(err)
	}
	if err := s.RenderTo(dc, 0, 0); err != nil {
		t.Fatal(err)
	}
	if len(r.created) != 1 {
		t.Fatalf("created %d textures, want 1", len(r.created))
	}
	tex := r.created[0]
	if !tex.premultiplied {
		t.Error("texture not marked premultiplied")
	}
	if off := 5*64*4 + 5*4; tex.data[off] != 255 {
		t.Errorf("uploaded pixel = %v", tex.data[off:off+4])
	}
	if s.IsDirty() {
		t.Error("dirty after render")
	}

	// Unchanged frame: no upload.
	if err := s.Update(testFrame(64, 64)); err != nil {
		t.Fatal(err)
	}
	if err := s.RenderTo(dc, 0, 0); err != nil {
		t.Fatal(err)
	}
	if tex.updates != 0 || len(r.created) != 1 {
		t.Errorf("updates = %d, created = %d", tex.updates, len(r.created))
	}

	// Damage copies only the damaged region.
	f = testFrame(64, 64, image.Rect(32, 32, 64, 64))
	f.Image.SetRGBA(40, 40, color.RGBA{0, 255, 0, 255})
	f.Image.SetRGBA(1, 1, color.RGBA{0, 0, 255, 255})
	if err := s.Update(f); err != nil {
		t.Fatal(err)
	}
	if !s.IsDirty() {
		t.Error("damage did not dirty the surface")
	}
	if err := s.RenderTo(dc, 0, 0); err != nil {
		t.Fatal(err)
	}
	if tex.updates != 1 {
		t.Fatalf("updates = %d, want 1", tex.updates)
	}
	if off := 40*64*4 + 40*4; tex.data[off+1] != 255 {
		t.Errorf("damaged pixel = %v", tex.data[off:off+4])
	}
	if off := 1*64*4 + 1*4; tex.data[off+2] != 0 {
		t.Errorf("undamaged pixel copied: %v", tex.data[off:off+4])
	}
	if len(dc.drawn) != 3 {
		t.Errorf("drawn %d times", len(dc.drawn))
	}
}

func TestSurface_Resize(t *testing.T) {
	s, err := NewSurface(&mockProvider{}, 32, 32)
	if err != nil {
		t.Fatal(err)
	}
	r := &mockRenderer{}
	dc := &mockDrawContext{renderer: r}
	if err := s.RenderTo(dc, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(testFrame(48, 16)); err != nil {
		t.Fatal(err)
	}
	if w, h := s.Size(); w != 48 || h != 16 {
		t.Errorf("Size = %dx%d", w, h)
	}
	if err := s.RenderTo(dc, 0, 0); err != nil {
		t.Fatal(err)
	}
	if len(r.created) != 2 {
		t.Fatalf("created %d textures, want 2", len(r.created))
	}
	if !r.created[0].destroyed || r.created[1].destroyed {
		t.Error("old texture not destroyed on resize")
	}
	if got := r.created[1]; got.width != 48 || got.height != 16 {
		t.Errorf("new texture %dx%d", got.width, got.height)
	}
}

func TestSurface_RendererErrors(t *testing.T) {
	s, err := NewSurface(&mockProvider{}, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RenderTo(&mockDrawContext{}, 0, 0); !errors.Is(err, ErrInvalidRenderer) {
		t.Errorf("nil renderer err = %v", err)
	}

	s, err = NewSurface(&mockProvider{}, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("out of memory")
	if err := s.RenderTo(&mockDrawContext{renderer: &mockRenderer{err: boom}}, 0, 0); !errors.Is(err, boom) {
		t.Errorf("create err = %v", err)
	}
}

func TestSurface_Close(t *testing.T) {
	s, err := NewSurface(&mockProvider{}, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	r := &mockRenderer{}
	if err := s.RenderTo(&mockDrawContext{renderer: r}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !r.created[0].destroyed {
		t.Error("texture not destroyed")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := s.Update(testFrame(8, 8)); !errors.Is(err, ErrClosed) {
		t.Errorf("Update err = %v", err)
	}
	if err := s.RenderTo(&mockDrawContext{renderer: r}, 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("RenderTo err = %v", err)
	}
}
