package tilemem

import (
	"bytes"
	"image"
	"image/draw"
)

// Tile is a read-only snapshot of a tile's content as returned by
// Manager.GetTile. It owns its pixel copy; later writes to the manager do
// not affect it.
type Tile struct {
	Key      Key
	State    State
	Revision uint64
	Size     int

	pix []uint8 // nil for an absent tile
}

// Absent reports whether the tile has no content.
func (t Tile) Absent() bool { return t.pix == nil }

// Bounds returns the canvas-space rectangle covered by the tile.
func (t Tile) Bounds() image.Rectangle { return t.Key.Rect(t.Size) }

// Image returns the tile as a 16-bit premultiplied image positioned at its
// canvas-space bounds. Absent tiles yield a transparent image.
func (t Tile) Image() *image.RGBA64 {
	img := image.NewRGBA64(t.Bounds())
	if t.pix != nil {
		copy(img.Pix, t.pix)
	}
	return img
}

// Pix returns the raw 16-bit big-endian RGBA samples, or nil when absent.
// The slice must not be modified.
func (t Tile) Pix() []uint8 { return t.pix }

// SameContent reports whether both tiles hold identical pixels. An absent
// tile equals a fully transparent one.
func (t Tile) SameContent(o Tile) bool {
	switch {
	case t.pix == nil && o.pix == nil:
		return true
	case t.pix == nil:
		return allZero(o.pix)
	case o.pix == nil:
		return allZero(t.pix)
	}
	return bytes.Equal(t.pix, o.pix)
}

// DrawTo draws the tile over dst with the given operator.
func (t Tile) DrawTo(dst draw.Image, op draw.Op) {
	if t.pix == nil {
		if op == draw.Src {
			draw.Draw(dst, t.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
		return
	}
	src := &image.RGBA64{Pix: t.pix, Stride: t.Size * 8, Rect: t.Bounds()}
	draw.Draw(dst, t.Bounds(), src, t.Bounds().Min, op)
}

func allZero(b []uint8) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
