package tilemem

import (
	"fmt"
	"image"
)

// LayerID identifies a raster layer.
type LayerID uint32

// Key addresses one tile: layer plus tile grid coordinates.
type Key struct {
	Layer LayerID
	X, Y  int
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%d/%d,%d", k.Layer, k.X, k.Y)
}

// Rect returns the canvas-space pixel rectangle covered by the tile.
func (k Key) Rect(tileSize int) image.Rectangle {
	return image.Rect(k.X*tileSize, k.Y*tileSize, (k.X+1)*tileSize, (k.Y+1)*tileSize)
}

// KeysIn returns the keys of all tiles of layer intersecting r, row-major.
func KeysIn(layer LayerID, r image.Rectangle, tileSize int) []Key {
	if r.Empty() {
		return nil
	}
	x0, y0 := floorDiv(r.Min.X, tileSize), floorDiv(r.Min.Y, tileSize)
	x1, y1 := floorDiv(r.Max.X-1, tileSize), floorDiv(r.Max.Y-1, tileSize)
	keys := make([]Key, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			keys = append(keys, Key{Layer: layer, X: x, Y: y})
		}
	}
	return keys
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// State is the residency state of a tile.
type State uint8

const (
	// StateAbsent means the tile was never written; it reads as transparent.
	StateAbsent State = iota
	// StateResidentUncompressed means raw pixels are in memory.
	StateResidentUncompressed
	// StateResidentCompressed means a compressed payload is in memory.
	StateResidentCompressed
	// StateEvicted means the tile lives only in the persistent store (or
	// in the write-behind queue on its way there).
	StateEvicted
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateResidentUncompressed:
		return "resident-uncompressed"
	case StateResidentCompressed:
		return "resident-compressed"
	case StateEvicted:
		return "evicted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Resident reports whether the state holds bytes in memory.
func (s State) Resident() bool {
	return s == StateResidentUncompressed || s == StateResidentCompressed
}
