package canvas

import (
	"context"
	"errors"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/shader"
	"github.com/gogpu/sketch/tilemem"
)

// liveStroke is an in-progress stroke and the coverage stamped so far.
type liveStroke struct {
	id     brush.StrokeID
	layer  tilemem.LayerID
	preset brush.Preset
	segs   []brush.Segment
	cov    *shader.Coverage
}

// committed is an ended stroke waiting to be composited. done holds the
// tiles it was already blended into by an interrupted composite.
type committed struct {
	layer  tilemem.LayerID
	geom   *brush.Geometry
	preset brush.Preset
	cov    *shader.Coverage
	done   map[tilemem.Key]bool
}

// Engine is a drawing canvas. Input, frames and recovery are expected from
// one goroutine; the methods are nevertheless safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	cfg      sketch.Config
	bounds   image.Rectangle
	viewport image.Rectangle

	brushes *brush.Engine
	tiles   *tilemem.Manager
	pipe    *shader.Pipeline

	backend         shader.Backend
	palette         *sketch.Palette
	textures        *brush.TextureLibrary
	instr           Instrument
	tileOpts        []tilemem.Option
	onPersistFailed func(*sketch.TilePersistError)

	layers      []*layer
	nextLayer   tilemem.LayerID
	live        map[brush.StrokeID]*liveStroke
	order       []brush.StrokeID // live strokes in begin order
	pending     []*committed
	interactive bool
	inputAt     time.Time // first input not yet presented
	closed      bool
}

// New creates an engine with one empty layer. Tiles persist to store.
func New(cfg sketch.Config, store tilemem.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		bounds:    image.Rect(0, 0, cfg.CanvasWidth, cfg.CanvasHeight),
		brushes:   brush.NewEngine(),
		instr:     nopInstrument{},
		nextLayer: 1,
		live:      make(map[brush.StrokeID]*liveStroke),
	}
	e.viewport = e.bounds
	for _, opt := range opts {
		opt(e)
	}
	if e.backend == nil {
		e.backend = shader.NewSoftwareBackend()
	}
	if e.palette == nil {
		e.palette = sketch.NewPalette(nil)
	}
	if e.textures == nil {
		e.textures = brush.NewTextureLibrary()
	}

	tileOpts := append(slices.Clone(e.tileOpts), tilemem.WithPersistFailureHandler(e.persistFailed))
	tiles, err := tilemem.New(cfg, store, tileOpts...)
	if err != nil {
		return nil, err
	}
	pipe, err := shader.New(e.backend, tiles,
		shader.WithTextures(e.textures),
		shader.WithPalette(e.palette),
		shader.WithClip(e.bounds),
	)
	if err != nil {
		_ = tiles.Close()
		return nil, err
	}
	e.tiles, e.pipe = tiles, pipe
	e.addLayerLocked("")

	sketch.Logger().Info("canvas: engine ready",
		"size", e.bounds.Size(), "tile_size", cfg.TileSize, "budget", cfg.ResidentByteBudget)
	return e, nil
}

func (e *Engine) persistFailed(err *sketch.TilePersistError) {
	sketch.Logger().Warn("canvas: tile kept in memory", "err", err)
	if e.onPersistFailed != nil {
		e.onPersistFailed(err)
	}
}

// Bounds returns the drawable canvas rectangle.
func (e *Engine) Bounds() image.Rectangle { return e.bounds }

// Palette returns the palette resolving color references.
func (e *Engine) Palette() *sketch.Palette { return e.palette }

// Tiles returns the engine's memory manager.
func (e *Engine) Tiles() *tilemem.Manager { return e.tiles }

// Pipeline returns the engine's shader pipeline.
func (e *Engine) Pipeline() *shader.Pipeline { return e.pipe }

// SetViewport selects the canvas region presented by Frame. It is clipped
// to the canvas.
func (e *Engine) SetViewport(r image.Rectangle) error {
	r = r.Intersect(e.bounds)
	if r.Empty() {
		return &sketch.ConfigError{Field: "viewport", Message: "must overlap the canvas"}
	}
	e.mu.Lock()
	e.viewport = r
	e.mu.Unlock()
	return nil
}

func (e *Engine) strokeError(op string, id brush.StrokeID) error {
	return &sketch.StrokeError{Op: op, Stroke: id.String(), Err: sketch.ErrInvalidStrokeState}
}

// BeginStroke starts a stroke on layer with a snapshot of preset.
func (e *Engine) BeginStroke(layer tilemem.LayerID, preset brush.Preset, first sketch.Sample) (brush.StrokeID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return brush.StrokeID{}, ErrClosed
	}
	if _, err := e.layerLocked(layer); err != nil {
		return brush.StrokeID{}, err
	}
	id, err := e.brushes.BeginStroke(preset, first)
	if err != nil {
		return brush.StrokeID{}, err
	}
	e.live[id] = &liveStroke{id: id, layer: layer, preset: preset}
	e.order = append(e.order, id)
	e.setInteractiveLocked()
	return id, nil
}

// AppendPoint adds a sample to a stroke, stamps the segments it completed
// and returns the affected pixel rectangle.
func (e *Engine) AppendPoint(id brush.StrokeID, s sketch.Sample) (sketch.RectI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	ls, ok := e.live[id]
	if !ok {
		return sketch.RectI{}, e.strokeError("append", id)
	}
	rect, err := e.brushes.AppendPoint(id, s)
	if err != nil {
		return sketch.RectI{}, err
	}
	segs, err := e.brushes.Segments(id)
	if err != nil {
		return rect, err
	}
	if err := e.stampLocked(ls, segs); err != nil {
		return rect, err
	}
	if !rect.Empty() && e.inputAt.IsZero() {
		e.inputAt = now
	}
	return rect, nil
}

// stampLocked records segs and stamps them into the stroke's coverage.
// After a context loss the segments are only recorded; Recover stamps
// them.
func (e *Engine) stampLocked(ls *liveStroke, segs []brush.Segment) error {
	ls.segs = append(ls.segs, segs...)
	if e.pipe.Lost() {
		return nil
	}
	for _, seg := range segs {
		cov, err := e.pipe.RasterizeFootprint(seg, ls.preset, ls.cov)
		if err != nil {
			if errors.Is(err, sketch.ErrRenderContextLost) {
				return nil
			}
			return err
		}
		ls.cov = cov
	}
	return nil
}

// EndStroke finishes a stroke and composites it into its layer. If the
// render context is lost the stroke is queued until Recover; the returned
// geometry is valid either way.
func (e *Engine) EndStroke(ctx context.Context, id brush.StrokeID) (*brush.Geometry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.live[id]
	if !ok {
		return nil, e.strokeError("end", id)
	}
	geom, err := e.brushes.EndStroke(id)
	if err != nil {
		return nil, err
	}
	e.removeLiveLocked(id)

	lost := e.pipe.Lost()
	if err := e.stampLocked(ls, geom.Segments[len(ls.segs):]); err != nil {
		return geom, err
	}
	cs := &committed{layer: ls.layer, geom: geom, preset: ls.preset, cov: ls.cov}
	if lost || e.pipe.Lost() || len(e.pending) > 0 {
		e.queueLocked(cs)
		return geom, nil
	}
	if err := e.commitLocked(ctx, cs); err != nil {
		if errors.Is(err, sketch.ErrRenderContextLost) {
			e.queueLocked(cs)
			return geom, nil
		}
		if ctx.Err() != nil {
			// Recover finishes the tiles the composite did not reach.
			e.queueLocked(cs)
		}
		return geom, err
	}
	if e.inputAt.IsZero() {
		e.inputAt = time.Now()
	}
	return geom, nil
}

func (e *Engine) queueLocked(cs *committed) {
	cs.cov = nil
	e.pending = append(e.pending, cs)
	sketch.Logger().Warn("canvas: stroke queued until recovery", "stroke", cs.geom.ID, "pending", len(e.pending))
}

// CancelStroke discards an in-progress stroke. Layer tiles are not
// touched; the next frame drops the stroke's overlay.
func (e *Engine) CancelStroke(id brush.StrokeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.live[id]; !ok {
		return e.strokeError("cancel", id)
	}
	if err := e.brushes.CancelStroke(id); err != nil {
		return err
	}
	e.removeLiveLocked(id)
	return nil
}

func (e *Engine) removeLiveLocked(id brush.StrokeID) {
	delete(e.live, id)
	e.order = slices.DeleteFunc(e.order, func(o brush.StrokeID) bool { return o == id })
	e.setInteractiveLocked()
}

// setInteractiveLocked defers eviction I/O while any stroke is live.
func (e *Engine) setInteractiveLocked() {
	on := len(e.live) > 0
	if on == e.interactive {
		return
	}
	e.interactive = on
	e.tiles.SetInteractive(on)
	if !on {
		e.tiles.NotifyPressure()
	}
}

// ActiveStrokes returns the number of in-progress strokes.
func (e *Engine) ActiveStrokes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// rasterize stamps every segment of a finished stroke.
func (e *Engine) rasterize(g *brush.Geometry, preset brush.Preset) (*shader.Coverage, error) {
	var cov *shader.Coverage
	for _, seg := range g.Segments {
		var err error
		if cov, err = e.pipe.RasterizeFootprint(seg, preset, cov); err != nil {
			return nil, err
		}
	}
	return cov, nil
}

// commitLocked composites an ended stroke and adds it to the layer log.
func (e *Engine) commitLocked(ctx context.Context, cs *committed) error {
	start := time.Now()
	if cs.cov == nil {
		cov, err := e.rasterize(cs.geom, cs.preset)
		if err != nil {
			return err
		}
		cs.cov = cov
	}
	if cs.done == nil {
		cs.done = make(map[tilemem.Key]bool)
	}
	damage, err := e.pipe.ResumeComposite(ctx, cs.layer, cs.cov, cs.preset, cs.done)
	if err != nil {
		return err
	}
	cs.cov, cs.done = nil, nil
	e.instr.CompositeDone(time.Since(start), len(tilemem.KeysIn(cs.layer, damage, e.cfg.TileSize)))

	if l, err := e.layerLocked(cs.layer); err == nil {
		e.logStrokeLocked(ctx, l, cs)
	}
	return nil
}

// Frame presents the viewport: committed layer content plus the overlays
// of live strokes.
func (e *Engine) Frame(ctx context.Context) (*shader.Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	start := time.Now()
	layers := make([]shader.Layer, len(e.layers))
	for i, l := range e.layers {
		layers[i] = shader.Layer{ID: l.id, Hidden: l.hidden, Opacity: l.opacity, Blend: l.blend}
	}
	for _, id := range e.order {
		ls := e.live[id]
		if ls.cov == nil {
			continue
		}
		for i := range layers {
			if layers[i].ID == ls.layer {
				layers[i].Live = append(layers[i].Live, shader.Overlay{
					Coverage: ls.cov,
					Params:   shader.CompositeParamsFor(ls.preset, e.palette),
				})
			}
		}
	}

	f, err := e.pipe.Present(ctx, e.viewport, layers)
	if err != nil {
		return nil, err
	}
	e.instr.FrameDone(time.Since(start), len(f.Damage))
	if !e.inputAt.IsZero() && len(f.Damage) > 0 {
		e.instr.StrokeLatency(time.Since(e.inputAt))
		e.inputAt = time.Time{}
	}
	e.instr.ResidentBytes(e.tiles.ResidentBytes())
	return f, nil
}

// TakeDamage returns the canvas regions whose committed content changed
// since the previous call, for consumers other than Frame such as
// autosave or thumbnails.
func (e *Engine) TakeDamage() []image.Rectangle {
	return e.tiles.TakeDamage()
}

// Recover rebuilds a pipeline that lost its render context, re-stamps live
// strokes and composites queued strokes: those ended while the context was
// lost and those whose composite was cut short by a cancelled context.
// Tiles an interrupted composite already reached are not blended again.
// It is a no-op when nothing was lost or queued.
func (e *Engine) Recover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if !e.pipe.Lost() && len(e.pending) == 0 {
		return nil
	}
	if e.pipe.Lost() {
		if err := e.pipe.Rebuild(); err != nil {
			return err
		}
	}
	for _, id := range e.order {
		ls := e.live[id]
		ls.cov = nil
		for _, seg := range ls.segs {
			cov, err := e.pipe.RasterizeFootprint(seg, ls.preset, ls.cov)
			if err != nil {
				return err
			}
			ls.cov = cov
		}
	}
	n := len(e.pending)
	for len(e.pending) > 0 {
		if err := e.commitLocked(ctx, e.pending[0]); err != nil {
			return err
		}
		e.pending = e.pending[1:]
	}
	e.inputAt = time.Now()
	sketch.Logger().Info("canvas: recovered", "strokes", n, "live", len(e.live))
	return nil
}

// Pending returns the number of strokes waiting for Recover.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Flush persists every modified tile.
func (e *Engine) Flush(ctx context.Context) error {
	return e.tiles.Flush(ctx)
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Pipeline       shader.Stats
	Tiles          tilemem.Stats
	LiveStrokes    int
	PendingStrokes int
	LoggedStrokes  int
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{
		Pipeline:       e.pipe.Stats(),
		Tiles:          e.tiles.Stats(),
		LiveStrokes:    len(e.live),
		PendingStrokes: len(e.pending),
	}
	for _, l := range e.layers {
		s.LoggedStrokes += len(l.log)
	}
	return s
}

// Close cancels live strokes and releases the pipeline and the memory
// manager. Modified tiles are not flushed; call Flush first to keep them.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for _, id := range e.order {
		_ = e.brushes.CancelStroke(id)
	}
	clear(e.live)
	e.order = nil
	return errors.Join(e.pipe.Close(), e.tiles.Close())
}
