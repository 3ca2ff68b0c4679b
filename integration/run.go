package integration

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"slices"
	"time"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/canvas"
	"github.com/gogpu/sketch/shader"
	"github.com/gogpu/sketch/tilemem"
)

// Check names, in execution order.
const (
	CheckInit           = "init"
	CheckRoundTrip      = "round-trip"
	CheckBudget         = "budget"
	CheckCancel         = "cancel-isolation"
	CheckOutOfOrder     = "out-of-order"
	CheckContextLoss    = "context-loss"
	CheckPersistFailure = "persist-failure"
)

type checkFunc func(ctx context.Context, h *harness) (detail string, err error)

var checks = []struct {
	name string
	fn   checkFunc
}{
	{CheckInit, checkInit},
	{CheckRoundTrip, checkRoundTrip},
	{CheckBudget, checkBudget},
	{CheckCancel, checkCancel},
	{CheckOutOfOrder, checkOutOfOrder},
	{CheckContextLoss, checkContextLoss},
	{CheckPersistFailure, checkPersistFailure},
}

// Checks returns the names of all checks in execution order.
func Checks() []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = c.name
	}
	return out
}

// Option configures Run.
type Option func(*harness)

// WithStore supplies the tile store of each engine a check creates. The
// argument is the check name. Stores implementing io.Closer are closed
// after the check. The default is a fresh tilemem.MemStore.
func WithStore(fn func(check string) (tilemem.Store, error)) Option {
	return func(h *harness) { h.store = fn }
}

// WithBackend supplies the shader backend of each engine. The
// context-loss check always uses a software backend.
func WithBackend(fn func() shader.Backend) Option {
	return func(h *harness) { h.backend = fn }
}

// WithChecks limits the run to the named checks. Init always runs.
func WithChecks(names ...string) Option {
	return func(h *harness) {
		h.only = make(map[string]bool, len(names))
		for _, n := range names {
			h.only[n] = true
		}
	}
}

type harness struct {
	cfg     sketch.Config
	store   func(check string) (tilemem.Store, error)
	backend func() shader.Backend
	only    map[string]bool
}

// Run executes the checks against engines built from cfg. A failing init
// check ends the run, since later checks need a working engine.
func Run(ctx context.Context, cfg sketch.Config, opts ...Option) Report {
	h := &harness{cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		h.store = func(string) (tilemem.Store, error) { return tilemem.NewMemStore(0), nil }
	}

	start := time.Now()
	var r Report
	for _, c := range checks {
		if h.only != nil && c.name != CheckInit && !h.only[c.name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.Checks = append(r.Checks, Check{Name: c.name, Err: err})
			continue
		}
		t := time.Now()
		detail, err := c.fn(ctx, h)
		res := Check{Name: c.name, Passed: err == nil, Duration: time.Since(t), Detail: detail, Err: err}
		r.Checks = append(r.Checks, res)

		if err != nil {
			sketch.Logger().Warn("integration: check failed", "check", c.name, "elapsed", res.Duration, "err", err)
			if c.name == CheckInit {
				break
			}
			continue
		}
		sketch.Logger().Info("integration: check passed", "check", c.name, "elapsed", res.Duration, "detail", detail)
	}
	r.Elapsed = time.Since(start)
	return r
}

// engine creates an engine for check with a probe-sized viewport. The
// returned func closes the engine and its store.
func (h *harness) engine(check string, cfg sketch.Config, opts ...canvas.Option) (*canvas.Engine, func(), error) {
	store, err := h.store(check)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	closeStore := func() {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}
	if h.backend != nil {
		opts = append([]canvas.Option{canvas.WithBackend(h.backend())}, opts...)
	}
	e, err := canvas.New(cfg, store, opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if err := e.SetViewport(probeViewport(cfg)); err != nil {
		_ = e.Close()
		closeStore()
		return nil, nil, err
	}
	return e, func() {
		_ = e.Close()
		closeStore()
	}, nil
}

// probeViewport covers the area probe strokes are drawn in.
func probeViewport(cfg sketch.Config) image.Rectangle {
	ts := cfg.TileSize
	return image.Rect(0, 0, min(cfg.CanvasWidth, 4*ts), min(cfg.CanvasHeight, 3*ts))
}

// present renders a frame and returns a copy of its pixels.
func present(ctx context.Context, e *canvas.Engine) ([]uint8, error) {
	f, err := e.Frame(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(f.Image.Pix), nil
}

// snapshot copies the content of every tile of layer.
func snapshot(ctx context.Context, m *tilemem.Manager, layer tilemem.LayerID) (map[tilemem.Key]tilemem.Tile, error) {
	out := make(map[tilemem.Key]tilemem.Tile)
	for _, k := range m.Keys(layer) {
		t, err := m.GetTile(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = t
	}
	return out, nil
}

// diverged returns the first key whose content differs between a and b.
func diverged(a, b map[tilemem.Key]tilemem.Tile) (tilemem.Key, bool) {
	for k, ta := range a {
		if !ta.SameContent(b[k]) {
			return k, true
		}
	}
	for k, tb := range b {
		if _, ok := a[k]; !ok && !tb.SameContent(tilemem.Tile{}) {
			return k, true
		}
	}
	return tilemem.Key{}, false
}

// recoverFrame presents a frame, recovering once from a lost context.
func recoverFrame(ctx context.Context, e *canvas.Engine) ([]uint8, error) {
	pix, err := present(ctx, e)
	if errors.Is(err, sketch.ErrRenderContextLost) {
		if err := e.Recover(ctx); err != nil {
			return nil, err
		}
		return present(ctx, e)
	}
	return pix, err
}
