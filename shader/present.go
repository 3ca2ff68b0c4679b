package shader

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"image"
	"math"

	"github.com/gogpu/gputypes"
	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/internal/blend"
	"github.com/gogpu/sketch/tilemem"
)

// Layer describes one layer of a presented frame, bottom to top.
type Layer struct {
	ID      tilemem.LayerID
	Hidden  bool
	Opacity float64
	Blend   sketch.BlendMode
	// Live holds coverage of in-progress strokes drawn over the layer.
	Live []Overlay
}

// Overlay is uncommitted coverage drawn over a layer.
type Overlay struct {
	Coverage *Coverage
	Params   CompositeParams
}

// Frame is a presented 8-bit image of a viewport.
type Frame struct {
	// Image covers Viewport; its pixels are in Format channel order.
	Image    *image.RGBA
	Viewport image.Rectangle
	Format   gputypes.TextureFormat
	// Damage lists the tile rectangles (clipped to the viewport) that were
	// redrawn since the previous frame.
	Damage []image.Rectangle
	Seq    uint64
}

// presentedTile is the cached 8-bit composite of every layer at one tile.
type presentedTile struct {
	fingerprint uint64
	img         *image.RGBA
}

// tileRev identifies the content of one layer tile without its pixels.
type tileRev struct {
	rev     uint64
	present bool
}

// Present composites the layers over the viewport and quantizes them to 8
// bits. Tiles whose layer revisions did not change since the last Present
// are copied from the frame cache without reading the layer tiles, so an
// unchanged frame never decodes or loads. GetTile may block on evicted
// tiles that must be redrawn.
func (p *Pipeline) Present(ctx context.Context, viewport image.Rectangle, layers []Layer) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLocked(); err != nil {
		return nil, err
	}
	if viewport.Empty() {
		return nil, &sketch.ConfigError{Field: "viewport", Message: "must not be empty"}
	}
	p.seq++
	frame := &Frame{
		Image:    image.NewRGBA(viewport),
		Viewport: viewport,
		Format:   p.backend.Format(),
		Seq:      p.seq,
	}

	ts := p.tileSize
	revs := make([]tileRev, len(layers))
	tiles := make([]tilemem.Tile, len(layers))
	for _, key := range tilemem.KeysIn(0, viewport, ts) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect := key.Rect(ts)
		live := false
		for i, l := range layers {
			if l.Hidden {
				continue
			}
			rev, ok := p.tiles.Revision(tilemem.Key{Layer: l.ID, X: key.X, Y: key.Y})
			revs[i] = tileRev{rev: rev, present: ok}
			for _, o := range l.Live {
				if o.Coverage != nil && o.Coverage.Bounds().Overlaps(rect) {
					live = true
				}
			}
		}

		pos := image.Pt(key.X, key.Y)
		cached, ok := p.frames.Get(pos)
		if ok && !live && cached.fingerprint == fingerprint(layers, revs) {
			p.stats.TilesReused++
		} else {
			for i, l := range layers {
				if l.Hidden {
					continue
				}
				t, err := p.tiles.GetTile(ctx, tilemem.Key{Layer: l.ID, X: key.X, Y: key.Y})
				if err != nil {
					return nil, err
				}
				tiles[i] = t
				revs[i] = tileRev{rev: t.Revision, present: !t.Absent()}
			}
			img, err := p.composeTile(rect, layers, tiles)
			if err != nil {
				return nil, p.failLocked(err)
			}
			fp := fingerprint(layers, revs)
			if live {
				// Never reuse a tile that showed an uncommitted stroke.
				fp = 0
			}
			cached = &presentedTile{fingerprint: fp, img: img}
			p.frames.Set(pos, cached)
			frame.Damage = append(frame.Damage, rect.Intersect(viewport))
			p.stats.TilesPresented++
			clear(tiles)
		}
		r := rect.Intersect(viewport)
		xdraw.Copy(frame.Image, r.Min, cached.img, r, xdraw.Src, nil)
	}

	if frame.Format == gputypes.TextureFormatBGRA8Unorm {
		swizzleRB(frame.Image)
	}
	p.stats.Frames++
	return frame, nil
}

// composeTile blends the layers' 16-bit tiles and live overlays at rect and
// quantizes the result.
func (p *Pipeline) composeTile(rect image.Rectangle, layers []Layer, tiles []tilemem.Tile) (*image.RGBA, error) {
	acc := image.NewRGBA64(rect)
	for i, l := range layers {
		if l.Hidden {
			continue
		}
		op := blend.Unit(l.Opacity)
		if src := tiles[i].Pix(); src != nil && op > 0 {
			fn := blend.For(l.Blend)
			stride := rect.Dx() * 8
			for y := 0; y < rect.Dy(); y++ {
				row := y * stride
				blend.OverSpan(acc.Pix[row:row+stride], src[row:row+stride], op, fn)
			}
		}
		for _, o := range l.Live {
			if o.Coverage == nil || !o.Coverage.Bounds().Overlaps(rect) {
				continue
			}
			params := o.Params
			params.Opacity *= l.Opacity
			if _, err := p.backend.Composite(acc, o.Coverage, params); err != nil {
				return nil, err
			}
		}
	}
	out := image.NewRGBA(rect)
	xdraw.Draw(out, rect, acc, rect.Min, xdraw.Src)
	return out, nil
}

// fingerprint hashes what a presented tile depends on.
func fingerprint(layers []Layer, revs []tileRev) uint64 {
	h := fnv.New64a()
	var b [24]byte
	for i, l := range layers {
		if l.Hidden {
			continue
		}
		binary.LittleEndian.PutUint32(b[0:], uint32(l.ID))
		binary.LittleEndian.PutUint64(b[4:], revs[i].rev)
		binary.LittleEndian.PutUint64(b[12:], math.Float64bits(l.Opacity))
		b[20] = byte(l.Blend)
		b[21] = 0
		if !revs[i].present {
			b[21] = 1
		}
		h.Write(b[:22])
	}
	return h.Sum64() | 1
}

func swizzleRB(img *image.RGBA) {
	for y := 0; y < img.Rect.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+img.Rect.Dx()*4]
		for i := 0; i+3 < len(row); i += 4 {
			row[i], row[i+2] = row[i+2], row[i]
		}
	}
}
