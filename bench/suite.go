package bench

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/canvas"
	"github.com/gogpu/sketch/tilemem"
)

// Option configures a suite run.
type Option func(*runner)

type runner struct {
	window     int
	store      func(Scenario) (tilemem.Store, error)
	server     *StatsServer
	liveEvery  time.Duration
	engineOpts []canvas.Option
}

// WithWindow sets the rolling window size of each recorder.
func WithWindow(n int) Option {
	return func(r *runner) { r.window = n }
}

// WithStore supplies the tile store of each scenario. The default is an
// unlimited tilemem.MemStore.
func WithStore(fn func(Scenario) (tilemem.Store, error)) Option {
	return func(r *runner) { r.store = fn }
}

// WithServer publishes snapshots to s while scenarios run and the final
// stats when each one ends.
func WithServer(s *StatsServer) Option {
	return func(r *runner) { r.server = s }
}

// WithLiveInterval sets how often in-progress snapshots are published.
func WithLiveInterval(d time.Duration) Option {
	return func(r *runner) { r.liveEvery = d }
}

// WithEngineOptions passes options to every canvas.Engine.
func WithEngineOptions(opts ...canvas.Option) Option {
	return func(r *runner) { r.engineOpts = append(r.engineOpts, opts...) }
}

// RunSuite runs the scenarios in order on fresh engines. It stops at the
// first failing scenario and returns the stats gathered so far with the
// error.
func RunSuite(ctx context.Context, scenarios []Scenario, opts ...Option) ([]PerformanceStats, error) {
	r := &runner{window: DefaultWindow, liveEvery: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(r)
	}
	out := make([]PerformanceStats, 0, len(scenarios))
	for i := range scenarios {
		st, err := r.run(ctx, &scenarios[i])
		if err != nil {
			return out, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Run runs a single scenario.
func Run(ctx context.Context, sc Scenario, opts ...Option) (PerformanceStats, error) {
	stats, err := RunSuite(ctx, []Scenario{sc}, opts...)
	if err != nil {
		return PerformanceStats{}, err
	}
	return stats[0], nil
}

func (r *runner) run(ctx context.Context, sc *Scenario) (PerformanceStats, error) {
	if err := sc.Validate(); err != nil {
		return PerformanceStats{}, err
	}
	var store tilemem.Store = tilemem.NewMemStore(0)
	if r.store != nil {
		s, err := r.store(*sc)
		if err != nil {
			return PerformanceStats{}, &ScenarioError{Scenario: sc.Name, Stroke: -1, Err: err}
		}
		store = s
	}

	rec := NewRecorder(r.window)
	opts := append([]canvas.Option{canvas.WithInstrument(rec)}, r.engineOpts...)
	eng, err := canvas.New(sc.Config, store, opts...)
	if err != nil {
		return PerformanceStats{}, &ScenarioError{Scenario: sc.Name, Stroke: -1, Err: err}
	}
	defer func() { _ = eng.Close() }()

	layers := []tilemem.LayerID{1}
	for len(layers) < max(sc.Layers, 1) {
		id, err := eng.AddLayer("")
		if err != nil {
			return PerformanceStats{}, &ScenarioError{Scenario: sc.Name, Stroke: -1, Err: err}
		}
		layers = append(layers, id)
	}

	sketch.Logger().Info("bench: scenario started",
		"scenario", sc.Name, "strokes", len(sc.Strokes), "samples", sc.SampleCount(),
		"canvas", fmt.Sprintf("%dx%d", sc.Config.CanvasWidth, sc.Config.CanvasHeight),
		"budget", sc.Config.ResidentByteBudget)

	presets := sc.presetMap()
	start := time.Now()
	lastLive := start
	result := PerformanceStats{Scenario: sc.Name}
	snapshot := func(done bool) PerformanceStats {
		st := rec.Snapshot()
		st.Scenario, st.Strokes, st.Cancelled = sc.Name, result.Strokes, result.Cancelled
		st.Elapsed, st.Done = time.Since(start), done
		st.Tiles = eng.Stats().Tiles
		return st
	}

	for i, script := range sc.Strokes {
		if err := ctx.Err(); err != nil {
			return snapshot(false), err
		}
		preset := presets[script.Preset]
		if script.Color != nil {
			preset = preset.WithColor(*script.Color)
		}
		cancelled, err := r.stroke(ctx, eng, layers[script.Layer], preset, script, sc.FrameEvery)
		if err != nil {
			return snapshot(false), &ScenarioError{Scenario: sc.Name, Stroke: i, Err: err}
		}
		if cancelled {
			result.Cancelled++
		} else {
			result.Strokes++
		}
		if err := r.frame(ctx, eng); err != nil {
			return snapshot(false), &ScenarioError{Scenario: sc.Name, Stroke: i, Err: err}
		}
		if r.server != nil && time.Since(lastLive) >= r.liveEvery {
			r.server.Publish(snapshot(false))
			lastLive = time.Now()
		}
	}

	result = snapshot(true)
	if r.server != nil {
		r.server.Publish(result)
	}
	sketch.Logger().Info("bench: scenario done",
		"scenario", sc.Name, "elapsed", result.Elapsed, "fps", result.FPS(),
		"frame_p95", result.FrameTime.P95, "latency_p95", result.StrokeLatency.P95,
		"peak_resident", result.Tiles.PeakResidentBytes, "evictions", result.Tiles.Evictions)
	return result, nil
}

// stroke replays one scripted stroke and reports whether it was cancelled.
func (r *runner) stroke(ctx context.Context, eng *canvas.Engine, layer tilemem.LayerID, preset brush.Preset, script StrokeScript, frameEvery int) (bool, error) {
	id, err := eng.BeginStroke(layer, preset, script.Samples[0])
	if err != nil {
		return false, err
	}
	for n, s := range script.Samples[1:] {
		if script.CancelAfter > 0 && n+1 >= script.CancelAfter {
			break
		}
		if _, err := eng.AppendPoint(id, s); err != nil {
			_ = eng.CancelStroke(id)
			return false, err
		}
		if frameEvery > 0 && (n+1)%frameEvery == 0 {
			if err := r.frame(ctx, eng); err != nil {
				_ = eng.CancelStroke(id)
				return false, err
			}
		}
	}
	if script.CancelAfter > 0 {
		return true, eng.CancelStroke(id)
	}
	_, err = eng.EndStroke(ctx, id)
	return false, err
}

// frame presents a frame, recovering once from a lost render context.
func (r *runner) frame(ctx context.Context, eng *canvas.Engine) error {
	_, err := eng.Frame(ctx)
	if errors.Is(err, sketch.ErrRenderContextLost) {
		if err := eng.Recover(ctx); err != nil {
			return err
		}
		_, err = eng.Frame(ctx)
	}
	return err
}
