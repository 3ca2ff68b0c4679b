package canvas

import (
	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/shader"
	"github.com/gogpu/sketch/tilemem"
)

// Option configures an Engine.
type Option func(*Engine)

// WithBackend selects the render backend. The default is a
// shader.SoftwareBackend.
func WithBackend(b shader.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithPalette sets the palette that resolves color references.
func WithPalette(p *sketch.Palette) Option {
	return func(e *Engine) { e.palette = p }
}

// WithTextures sets the brush tip texture library.
func WithTextures(l *brush.TextureLibrary) Option {
	return func(e *Engine) { e.textures = l }
}

// WithInstrument registers timing hooks.
func WithInstrument(in Instrument) Option {
	return func(e *Engine) { e.instr = in }
}

// WithPersistFailureHandler is called once per tile write that failed
// after all retries, in addition to the engine's own logging.
func WithPersistFailureHandler(fn func(*sketch.TilePersistError)) Option {
	return func(e *Engine) { e.onPersistFailed = fn }
}

// WithTileOptions passes options to the memory manager.
func WithTileOptions(opts ...tilemem.Option) Option {
	return func(e *Engine) { e.tileOpts = append(e.tileOpts, opts...) }
}
