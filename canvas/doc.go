// Package canvas drives the drawing engine: it feeds pointer samples
// through the brush engine, stamps and composites them with the shader
// pipeline and keeps layer tiles in the tiered memory manager.
//
// # Strokes
//
// BeginStroke, AppendPoint and EndStroke follow one stroke. While a stroke
// is in progress its coverage is drawn over its layer as a live overlay;
// EndStroke composites it into the layer tiles and CancelStroke drops it
// without touching them.
//
// # Frames
//
// The host calls Frame once per vsync. Only tiles whose layers changed are
// redrawn; Frame.Damage lists them. A Surface uploads frames to a host
// texture.
//
// # Recoloring
//
// Each layer keeps a log of its most recent strokes (Config.StrokeLogLimit).
// ColorDrop recolors the topmost logged stroke under a point and re-renders
// the tiles it covers. Strokes that fall off the log are flattened into a
// hidden base layer.
//
// # Recovery
//
// When the render backend loses its device, Frame returns an error matching
// sketch.ErrRenderContextLost. Strokes ended meanwhile are queued. Recover
// rebuilds the pipeline and composites the queue.
package canvas
