// Package sketch is the root of a drawing engine that turns pointer and
// stylus samples into brush strokes, rasterizes them through a shader
// pipeline and keeps the resulting layer tiles inside a bounded memory
// budget.
//
// # Overview
//
// The engine is split into leaf packages that the host application wires
// together, usually through [github.com/gogpu/sketch/canvas]:
//
//   - brush: stroke smoothing, footprint dynamics and dab placement
//   - shader: stamp and composite programs behind a backend interface
//   - tilemem: tile cache, compression, eviction and persistence
//   - bench, integration: load scenarios and end-to-end checks
//
// This package holds the primitives shared by all of them: [Point],
// [Sample], [Rect], [CubicBez], [RGBA], [Color], [Palette], [BlendMode],
// the engine [Config] and the error taxonomy.
//
// # Quick Start
//
//	cfg := sketch.DefaultConfig()
//	cfg.ResidentByteBudget = 64 << 20
//
//	eng, err := canvas.New(cfg, tilemem.NewMemStore(0))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	id, _ := eng.BeginStroke(brush.Pencil(), sketch.Sample{Point: sketch.Pt(10, 10), Pressure: 0.5})
//	eng.AppendPoint(id, sketch.Sample{Point: sketch.Pt(40, 25), Pressure: 0.6, Time: 8 * time.Millisecond})
//	eng.EndStroke(ctx, id)
//	frame, _ := eng.Frame(ctx, image.Rect(0, 0, 512, 512))
//
// # Coordinate System
//
// Canvas space uses pixels with the origin at the top-left corner, X to the
// right and Y down. Tiles are addressed by integer grid coordinates
// (pixel / tile size).
//
// # Logging
//
// The engine is silent by default. Call [SetLogger] to route diagnostics
// from all sub-packages to a [log/slog] logger.
package sketch
