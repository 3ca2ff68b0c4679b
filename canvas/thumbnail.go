package canvas

import (
	"context"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/sketch"
)

// Thumbnail renders the whole canvas scaled to fit width×height. Visible
// layers are combined with their opacity using normal blending; live
// strokes are not included. Tiles are read one at a time, so evicted tiles
// are loaded but the canvas is never materialized at full size.
func (e *Engine) Thumbnail(ctx context.Context, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, &sketch.ConfigError{Field: "thumbnail", Message: "dimensions must be positive"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	cw, ch := e.bounds.Dx(), e.bounds.Dy()
	sx, sy := float64(width)/float64(cw), float64(height)/float64(ch)
	scale := min(sx, sy)
	tw, th := max(1, int(float64(cw)*scale)), max(1, int(float64(ch)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))

	for _, l := range e.layers {
		if l.hidden || l.opacity == 0 {
			continue
		}
		opts := &xdraw.Options{SrcMask: image.NewUniform(color.Alpha16{A: uint16(l.opacity * 0xffff)})}
		for _, key := range e.tiles.Keys(l.id) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			t, err := e.tiles.GetTile(ctx, key)
			if err != nil {
				return nil, err
			}
			if t.Absent() {
				continue
			}
			sr := t.Bounds()
			dr := image.Rect(
				int(float64(sr.Min.X)*scale), int(float64(sr.Min.Y)*scale),
				int(float64(sr.Max.X)*scale+0.5), int(float64(sr.Max.Y)*scale+0.5),
			)
			if dr.Empty() {
				continue
			}
			xdraw.ApproxBiLinear.Scale(dst, dr, t.Image(), sr, xdraw.Over, opts)
		}
	}
	return dst, nil
}
