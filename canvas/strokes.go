package canvas

import (
	"context"
	"fmt"
	"image"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/tilemem"
)

// hitTolerance widens stroke hit tests, in pixels.
const hitTolerance = 2

type loggedStroke struct {
	geom   *brush.Geometry
	preset brush.Preset
	// flattened holds the base tiles an interrupted flatten already reached.
	flattened map[tilemem.Key]bool
}

// logStrokeLocked appends cs to the layer's recolor log and flattens the
// oldest entries beyond the limit into the layer's base.
func (e *Engine) logStrokeLocked(ctx context.Context, l *layer, cs *committed) {
	limit := e.cfg.StrokeLogLimit
	if limit == 0 {
		return
	}
	l.log = append(l.log, &loggedStroke{geom: cs.geom, preset: cs.preset})
	for len(l.log) > limit {
		oldest := l.log[0]
		if oldest.flattened == nil {
			oldest.flattened = make(map[tilemem.Key]bool)
		}
		cov, err := e.rasterize(oldest.geom, oldest.preset)
		if err == nil {
			_, err = e.pipe.ResumeComposite(ctx, baseOf(l.id), cov, oldest.preset, oldest.flattened)
		}
		if err != nil {
			// The log stays over its limit until the next commit.
			sketch.Logger().Warn("canvas: flatten failed", "layer", l.id, "err", err)
			return
		}
		l.log[0] = nil
		l.log = l.log[1:]
		l.flattened++
	}
}

// ColorDrop recolors a stroke by dropping a color on it.
type ColorDrop struct {
	At    sketch.Point
	Color sketch.Color
}

// ColorDrop recolors the topmost logged stroke under drop.At on a visible
// layer and re-renders the tiles it covers. Eraser strokes are skipped. It
// reports whether a stroke was hit.
func (e *Engine) ColorDrop(ctx context.Context, drop ColorDrop) (brush.StrokeID, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return brush.StrokeID{}, false, ErrClosed
	}
	for i := len(e.layers) - 1; i >= 0; i-- {
		l := e.layers[i]
		if l.hidden {
			continue
		}
		for j := len(l.log) - 1; j >= 0; j-- {
			s := l.log[j]
			if s.preset.Kind() == brush.KindEraser || !s.geom.HitTest(drop.At, hitTolerance) {
				continue
			}
			if e.pipe.Lost() {
				return s.geom.ID, true, fmt.Errorf("canvas: color drop: %w", sketch.ErrRenderContextLost)
			}
			if len(e.pending) > 0 {
				return s.geom.ID, true, fmt.Errorf("canvas: color drop: %w", ErrStrokesPending)
			}
			s.preset = s.preset.WithColor(drop.Color)
			sketch.Logger().Debug("canvas: color drop", "stroke", s.geom.ID, "layer", l.id, "color", drop.Color)
			return s.geom.ID, true, e.rerenderLocked(ctx, l, s.geom.Bounds)
		}
	}
	return brush.StrokeID{}, false, nil
}

// rerenderLocked rebuilds the tiles of l under r from the base and the
// logged strokes.
func (e *Engine) rerenderLocked(ctx context.Context, l *layer, r image.Rectangle) error {
	ts := e.cfg.TileSize
	keys := tilemem.KeysIn(l.id, r, ts)
	var region image.Rectangle
	for _, k := range keys {
		if err := e.restoreTile(ctx, k); err != nil {
			return err
		}
		region = region.Union(k.Rect(ts))
	}
	for _, s := range l.log {
		if !s.geom.Bounds.Overlaps(region) {
			continue
		}
		cov, err := e.rasterize(s.geom, s.preset)
		if err != nil {
			return err
		}
		if _, err := e.pipe.CompositeRegion(ctx, l.id, cov, s.preset, region); err != nil {
			return err
		}
	}
	return nil
}

// restoreTile resets a layer tile to its flattened base.
func (e *Engine) restoreTile(ctx context.Context, k tilemem.Key) error {
	base, err := e.tiles.GetTile(ctx, tilemem.Key{Layer: baseOf(k.Layer), X: k.X, Y: k.Y})
	if err != nil {
		return err
	}
	img, err := e.tiles.Pin(ctx, k)
	if err != nil {
		return err
	}
	if base.Absent() {
		clear(img.Pix)
	} else {
		copy(img.Pix, base.Pix())
	}
	return e.tiles.Unpin(k, true)
}
