package shader

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/internal/cache"
	"github.com/gogpu/sketch/tilemem"
)

// TileStore is the tile access the pipeline needs. *tilemem.Manager
// implements it.
type TileStore interface {
	TileSize() int
	Revision(key tilemem.Key) (rev uint64, ok bool)
	GetTile(ctx context.Context, key tilemem.Key) (tilemem.Tile, error)
	Pin(ctx context.Context, key tilemem.Key) (*image.RGBA64, error)
	Unpin(key tilemem.Key, modified bool) error
}

var _ TileStore = (*tilemem.Manager)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTextures sets the tip texture library.
func WithTextures(l *brush.TextureLibrary) Option {
	return func(p *Pipeline) { p.textures = l }
}

// WithPalette sets the palette used to resolve color references.
func WithPalette(pal *sketch.Palette) Option {
	return func(p *Pipeline) { p.palette = pal }
}

// WithClip bounds stamping to the canvas rectangle.
func WithClip(r image.Rectangle) Option {
	return func(p *Pipeline) { p.clip = r }
}

// WithFrameCache sets how many presented 8-bit tiles are cached.
func WithFrameCache(tiles int) Option {
	return func(p *Pipeline) { p.frameCacheSize = tiles }
}

const defaultFrameCache = 1024

// Pipeline turns stroke geometry into coverage, composites coverage into
// layer tiles and presents tiles as 8-bit frames. It is driven by a single
// render goroutine; the mutex only guards against misuse.
type Pipeline struct {
	mu             sync.Mutex
	backend        Backend
	tiles          TileStore
	tileSize       int
	textures       *brush.TextureLibrary
	palette        *sketch.Palette
	clip           image.Rectangle
	frameCacheSize int
	frames         *cache.Cache[image.Point, *presentedTile]
	lost           error
	closed         bool
	seq            uint64
	stats          Stats
}

// New creates a pipeline on backend, initializing it.
func New(backend Backend, tiles TileStore, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		backend:        backend,
		tiles:          tiles,
		tileSize:       tiles.TileSize(),
		textures:       brush.NewTextureLibrary(),
		frameCacheSize: defaultFrameCache,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.frames = cache.New[image.Point, *presentedTile](p.frameCacheSize)
	if err := backend.Init(); err != nil {
		return nil, err
	}
	sketch.Logger().Info("shader: pipeline ready", "backend", backend.Name(), "tile_size", p.tileSize)
	return p, nil
}

// Backend returns the pipeline's backend.
func (p *Pipeline) Backend() Backend { return p.backend }

// Palette returns the palette used to resolve stroke colors.
func (p *Pipeline) Palette() *sketch.Palette { return p.palette }

// Textures returns the tip texture library.
func (p *Pipeline) Textures() *brush.TextureLibrary { return p.textures }

// begin checks that a pass may run. Callers hold p.mu.
func (p *Pipeline) beginLocked() error {
	if p.closed {
		return ErrClosed
	}
	if p.lost != nil {
		return p.lost
	}
	if err := p.backend.Begin(); err != nil {
		return p.failLocked(err)
	}
	return nil
}

// failLocked records a context loss reported by the backend and returns err.
func (p *Pipeline) failLocked(err error) error {
	var lerr *sketch.RenderContextLostError
	if errors.As(err, &lerr) && p.lost == nil {
		p.lost = err
		p.stats.Losses++
		sketch.Logger().Warn("shader: render context lost", "backend", lerr.Backend, "err", lerr.Cause)
	}
	return err
}

// Lost reports whether the pipeline is waiting for Rebuild.
func (p *Pipeline) Lost() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lost != nil
}

// RasterizeFootprint stamps the dabs of seg into dst and returns it. A nil
// dst allocates a buffer with the preset's accumulation rule. Coverage of
// one stroke must be built in a single buffer so that overlapping
// segments follow the rule.
func (p *Pipeline) RasterizeFootprint(seg brush.Segment, preset brush.Preset, dst *Coverage) (*Coverage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.beginLocked(); err != nil {
		return dst, err
	}
	if dst == nil {
		dst = NewCoverage(RuleFor(preset.Kind()))
	}
	if err := p.backend.Stamp(dst, seg.Dabs, StampParamsFor(preset, p.textures, p.clip)); err != nil {
		return dst, p.failLocked(err)
	}
	p.stats.Stamps++
	p.stats.Dabs += uint64(len(seg.Dabs))
	return dst, nil
}

// CompositeLayer blends cov into the tiles of layer it touches, with the
// preset's color, opacity cap and blend mode. Each tile is pinned for the
// duration of its composite. It returns the damaged rectangle.
//
// A lost context is detected before any tile is touched, so a failed call
// leaves the layer unchanged.
func (p *Pipeline) CompositeLayer(ctx context.Context, layer tilemem.LayerID, cov *Coverage, preset brush.Preset) (image.Rectangle, error) {
	if cov == nil {
		return p.CompositeRegion(ctx, layer, nil, preset, image.Rectangle{})
	}
	return p.CompositeRegion(ctx, layer, cov, preset, cov.Bounds())
}

// CompositeRegion is CompositeLayer limited to the pixels of region.
func (p *Pipeline) CompositeRegion(ctx context.Context, layer tilemem.LayerID, cov *Coverage, preset brush.Preset, region image.Rectangle) (image.Rectangle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compositeLocked(ctx, layer, cov, preset, region, nil)
}

// ResumeComposite is CompositeLayer for a composite that may have stopped
// partway, for example on a cancelled ctx. done holds the tiles already
// blended: they are skipped, and every tile blended by this call is added,
// so repeating a failed call never blends a tile twice.
func (p *Pipeline) ResumeComposite(ctx context.Context, layer tilemem.LayerID, cov *Coverage, preset brush.Preset, done map[tilemem.Key]bool) (image.Rectangle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var region image.Rectangle
	if cov != nil {
		region = cov.Bounds()
	}
	return p.compositeLocked(ctx, layer, cov, preset, region, done)
}

func (p *Pipeline) compositeLocked(ctx context.Context, layer tilemem.LayerID, cov *Coverage, preset brush.Preset, region image.Rectangle, done map[tilemem.Key]bool) (image.Rectangle, error) {
	if err := p.beginLocked(); err != nil {
		return image.Rectangle{}, err
	}
	if cov == nil || cov.Empty() {
		return image.Rectangle{}, nil
	}
	region = region.Intersect(cov.Bounds())
	if region.Empty() {
		return image.Rectangle{}, nil
	}
	params := CompositeParamsFor(preset, p.palette)

	var damage image.Rectangle
	for _, key := range tilemem.KeysIn(layer, region, p.tileSize) {
		if done[key] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return damage, err
		}
		img, err := p.tiles.Pin(ctx, key)
		if err != nil {
			return damage, err
		}
		dst := img.SubImage(region).(*image.RGBA64)
		changed, err := p.backend.Composite(dst, cov, params)
		if err != nil {
			// dst is untouched when the backend fails.
			_ = p.tiles.Unpin(key, false)
			return damage, p.failLocked(err)
		}
		if err := p.tiles.Unpin(key, changed); err != nil {
			return damage, err
		}
		if done != nil {
			done[key] = true
		}
		p.stats.TilesComposited++
		if changed {
			damage = damage.Union(dst.Rect)
		}
	}
	p.stats.Composites++
	return damage, nil
}

// Rebuild reinitializes the backend after a context loss and drops every
// presented tile, so the next Present redraws the whole viewport from the
// tile store.
func (p *Pipeline) Rebuild() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if err := p.backend.Init(); err != nil {
		return err
	}
	p.lost = nil
	p.frames.Clear()
	p.stats.Rebuilds++
	sketch.Logger().Info("shader: pipeline rebuilt", "backend", p.backend.Name())
	return nil
}

// Close releases the backend.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.frames.Clear()
	return p.backend.Close()
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Stamps          uint64
	Dabs            uint64
	Composites      uint64
	TilesComposited uint64
	Frames          uint64
	TilesPresented  uint64
	TilesReused     uint64
	Losses          uint64
	Rebuilds        uint64
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
