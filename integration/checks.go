package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/bench"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/canvas"
	"github.com/gogpu/sketch/shader"
	"github.com/gogpu/sketch/tilemem"
)

const layer tilemem.LayerID = 1

var (
	black = sketch.RGB(0, 0, 0)
	red   = sketch.RGB(0.85, 0.1, 0.1)
)

// probe returns an opaque hard pencil without texture or pressure
// dynamics, sized for the tile size.
func probe(cfg sketch.Config, c sketch.RGBA) (brush.Preset, error) {
	p := brush.Pencil()
	p.Name = "probe"
	p.Size = float64(min(max(cfg.TileSize/4, 2), 32))
	p.MinSize = 1
	p.Opacity, p.Flow, p.Hardness = 1, 1, 1
	p.Texture = ""
	p.Color = sketch.Direct(c)
	p.Dynamics = brush.Dynamics{PressureGamma: 1}
	p.Params = brush.PencilParams{}
	return p.Validate()
}

// probeLine returns samples of a stroke crossing several tiles of the
// probe viewport.
func probeLine(cfg sketch.Config, from, to sketch.Point) []sketch.Sample {
	step := max(float64(cfg.TileSize)/16, 1)
	return bench.Line(from, to, step, 0.6, 0)
}

// probeEnds returns the corners of the diagonal probe stroke.
func probeEnds(cfg sketch.Config) (sketch.Point, sketch.Point) {
	vp := probeViewport(cfg)
	ts := float64(cfg.TileSize)
	a := sketch.Pt(ts/2, ts/2)
	b := sketch.Pt(float64(vp.Dx())-ts/3, float64(vp.Dy())-ts/3)
	return a, b
}

func drawStroke(ctx context.Context, e *canvas.Engine, p brush.Preset, samples []sketch.Sample) error {
	id, err := e.BeginStroke(layer, p, samples[0])
	if err != nil {
		return err
	}
	for _, s := range samples[1:] {
		if _, err := e.AppendPoint(id, s); err != nil {
			_ = e.CancelStroke(id)
			return err
		}
	}
	_, err = e.EndStroke(ctx, id)
	return err
}

func checkInit(ctx context.Context, h *harness) (string, error) {
	if err := h.cfg.Validate(); err != nil {
		return "", err
	}
	e, done, err := h.engine(CheckInit, h.cfg)
	if err != nil {
		return "", err
	}
	defer done()

	if n := len(e.Layers()); n != 1 {
		return "", failf("new engine has %d layers, want 1", n)
	}
	st := e.Stats()
	if st.Tiles.ResidentBytes != 0 || st.LiveStrokes != 0 {
		return "", failf("new engine not empty: %d resident bytes, %d live strokes", st.Tiles.ResidentBytes, st.LiveStrokes)
	}
	if st.Tiles.Budget != h.cfg.ResidentByteBudget {
		return "", failf("budget %d, configured %d", st.Tiles.Budget, h.cfg.ResidentByteBudget)
	}
	f, err := e.Frame(ctx)
	if err != nil {
		return "", fmt.Errorf("first frame: %w", err)
	}
	if f.Image.Bounds().Size() != probeViewport(h.cfg).Size() {
		return "", failf("frame %v, viewport %v", f.Image.Bounds(), probeViewport(h.cfg))
	}
	for _, v := range f.Image.Pix {
		if v != 0 {
			return "", failf("empty canvas presented non-transparent pixels")
		}
	}
	return fmt.Sprintf("backend %s, %dx%d canvas, %d px tiles, format %v",
		e.Pipeline().Backend().Name(), h.cfg.CanvasWidth, h.cfg.CanvasHeight, h.cfg.TileSize, f.Format), nil
}

func checkRoundTrip(ctx context.Context, h *harness) (string, error) {
	e, done, err := h.engine(CheckRoundTrip, h.cfg)
	if err != nil {
		return "", err
	}
	defer done()

	p, err := probe(h.cfg, black)
	if err != nil {
		return "", err
	}
	a, b := probeEnds(h.cfg)
	if err := drawStroke(ctx, e, p, probeLine(h.cfg, a, b)); err != nil {
		return "", err
	}
	before, err := present(ctx, e)
	if err != nil {
		return "", err
	}
	tiles := e.Tiles()
	want, err := snapshot(ctx, tiles, layer)
	if err != nil {
		return "", err
	}
	if len(want) == 0 {
		return "", failf("stroke produced no tiles")
	}

	tiles.Evict(0)
	if err := e.Flush(ctx); err != nil {
		return "", fmt.Errorf("flush after eviction: %w", err)
	}
	evicted := tiles.Stats().Evicted
	if evicted == 0 {
		return "", failf("no tile evicted")
	}

	got, err := snapshot(ctx, tiles, layer)
	if err != nil {
		return "", fmt.Errorf("reload: %w", err)
	}
	if k, bad := diverged(want, got); bad {
		return "", failf("tile %s diverged after reload", k)
	}
	after, err := present(ctx, e)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(before, after) {
		return "", failf("frame changed after reload")
	}
	return fmt.Sprintf("%d tiles, %d evicted, %d loaded", len(want), evicted, tiles.Stats().Loads), nil
}

func checkBudget(ctx context.Context, h *harness) (string, error) {
	cfg := h.cfg
	if cfg.ResidentByteBudget == 0 {
		cfg.ResidentByteBudget = 16 * cfg.TileBytes()
	}
	e, done, err := h.engine(CheckBudget, cfg)
	if err != nil {
		return "", err
	}
	defer done()

	sc, err := bench.RandomScenario(CheckBudget, cfg, bench.Generator{Strokes: 48, Seed: 1, Length: 4 * float64(cfg.TileSize)})
	if err != nil {
		return "", err
	}
	p := brush.Pencil()
	for i, st := range sc.Strokes {
		if err := drawStroke(ctx, e, p, st.Samples); err != nil {
			return "", fmt.Errorf("stroke %d: %w", i, err)
		}
		if s := e.Tiles().Stats(); s.PeakResidentBytes > cfg.ResidentByteBudget {
			return "", failf("stroke %d: peak resident %d over budget %d", i, s.PeakResidentBytes, cfg.ResidentByteBudget)
		}
	}
	if _, err := present(ctx, e); err != nil {
		return "", err
	}
	s := e.Tiles().Stats()
	if s.PeakResidentBytes > cfg.ResidentByteBudget {
		return "", failf("peak resident %d over budget %d", s.PeakResidentBytes, cfg.ResidentByteBudget)
	}
	if s.BudgetOverruns > 0 {
		return "", failf("%d budget overruns", s.BudgetOverruns)
	}
	return fmt.Sprintf("peak %d of %d bytes, %d compressions, %d evictions",
		s.PeakResidentBytes, cfg.ResidentByteBudget, s.Compressions, s.Evictions), nil
}

func checkCancel(ctx context.Context, h *harness) (string, error) {
	base, err := probe(h.cfg, black)
	if err != nil {
		return "", err
	}
	over, err := probe(h.cfg, red)
	if err != nil {
		return "", err
	}
	a, b := probeEnds(h.cfg)
	first := probeLine(h.cfg, sketch.Pt(a.X, b.Y), sketch.Pt(b.X, a.Y))
	second := probeLine(h.cfg, a, b)

	ref, doneRef, err := h.engine(CheckCancel, h.cfg)
	if err != nil {
		return "", err
	}
	defer doneRef()
	if err := drawStroke(ctx, ref, base, first); err != nil {
		return "", err
	}
	want, err := present(ctx, ref)
	if err != nil {
		return "", err
	}

	e, done, err := h.engine(CheckCancel, h.cfg)
	if err != nil {
		return "", err
	}
	defer done()
	if err := drawStroke(ctx, e, base, first); err != nil {
		return "", err
	}
	id, err := e.BeginStroke(layer, over, second[0])
	if err != nil {
		return "", err
	}
	for _, s := range second[1 : len(second)/2+1] {
		if _, err := e.AppendPoint(id, s); err != nil {
			return "", err
		}
	}
	live, err := present(ctx, e)
	if err != nil {
		return "", err
	}
	if bytes.Equal(live, want) {
		return "", failf("live stroke not presented")
	}
	if err := e.CancelStroke(id); err != nil {
		return "", err
	}
	if _, err := e.AppendPoint(id, second[len(second)-1]); !errors.Is(err, sketch.ErrInvalidStrokeState) {
		return "", failf("append after cancel returned %v", err)
	}
	got, err := present(ctx, e)
	if err != nil {
		return "", err
	}
	if !bytes.Equal(got, want) {
		return "", failf("frame differs after cancel")
	}

	wantTiles, err := snapshot(ctx, ref.Tiles(), layer)
	if err != nil {
		return "", err
	}
	gotTiles, err := snapshot(ctx, e.Tiles(), layer)
	if err != nil {
		return "", err
	}
	if k, bad := diverged(wantTiles, gotTiles); bad {
		return "", failf("tile %s touched by cancelled stroke", k)
	}
	return fmt.Sprintf("%d tiles identical, %d of %d samples cancelled", len(wantTiles), len(second)/2+1, len(second)), nil
}

func checkOutOfOrder(ctx context.Context, h *harness) (string, error) {
	e, done, err := h.engine(CheckOutOfOrder, h.cfg)
	if err != nil {
		return "", err
	}
	defer done()
	p, err := probe(h.cfg, black)
	if err != nil {
		return "", err
	}
	a, b := probeEnds(h.cfg)
	samples := probeLine(h.cfg, a, b)
	if len(samples) < 4 {
		return "", failf("probe stroke too short")
	}

	id, err := e.BeginStroke(layer, p, samples[0])
	if err != nil {
		return "", err
	}
	if _, err := e.AppendPoint(id, samples[1]); err != nil {
		return "", err
	}
	rejected := 0
	for _, bad := range []sketch.Sample{samples[0], samples[1]} {
		bad.Point = bad.Add(sketch.Pt(1, 1))
		if _, err := e.AppendPoint(id, bad); !errors.Is(err, sketch.ErrOutOfOrderSample) {
			return "", failf("sample at %v after %v: got %v, want %v", bad.Time, samples[1].Time, err, sketch.ErrOutOfOrderSample)
		}
		rejected++
	}
	for _, s := range samples[2:] {
		if _, err := e.AppendPoint(id, s); err != nil {
			return "", fmt.Errorf("stroke unusable after rejection: %w", err)
		}
	}
	if _, err := e.EndStroke(ctx, id); err != nil {
		return "", err
	}
	if _, err := e.EndStroke(ctx, id); !errors.Is(err, sketch.ErrInvalidStrokeState) {
		return "", failf("second EndStroke returned %v", err)
	}
	if len(e.Tiles().Keys(layer)) == 0 {
		return "", failf("stroke left no content")
	}
	return fmt.Sprintf("%d samples rejected", rejected), nil
}

func checkContextLoss(ctx context.Context, h *harness) (string, error) {
	p, err := probe(h.cfg, black)
	if err != nil {
		return "", err
	}
	a, b := probeEnds(h.cfg)
	samples := probeLine(h.cfg, a, b)

	ref, doneRef, err := h.engine(CheckContextLoss, h.cfg, canvas.WithBackend(shader.NewSoftwareBackend()))
	if err != nil {
		return "", err
	}
	defer doneRef()
	if err := drawStroke(ctx, ref, p, samples); err != nil {
		return "", err
	}
	want, err := present(ctx, ref)
	if err != nil {
		return "", err
	}

	backend := shader.NewSoftwareBackend()
	e, done, err := h.engine(CheckContextLoss, h.cfg, canvas.WithBackend(backend))
	if err != nil {
		return "", err
	}
	defer done()
	id, err := e.BeginStroke(layer, p, samples[0])
	if err != nil {
		return "", err
	}
	half := len(samples) / 2
	for _, s := range samples[1:half] {
		if _, err := e.AppendPoint(id, s); err != nil {
			return "", err
		}
	}
	backend.LoseContext()
	for _, s := range samples[max(half, 1):] {
		if _, err := e.AppendPoint(id, s); err != nil {
			return "", fmt.Errorf("append while lost: %w", err)
		}
	}
	if _, err := e.EndStroke(ctx, id); err != nil {
		return "", fmt.Errorf("end while lost: %w", err)
	}
	if _, err := e.Frame(ctx); !errors.Is(err, sketch.ErrRenderContextLost) {
		return "", failf("frame on lost context returned %v", err)
	}
	pending := e.Pending()
	got, err := recoverFrame(ctx, e)
	if err != nil {
		return "", err
	}
	if e.Pending() != 0 {
		return "", failf("%d strokes still pending after recovery", e.Pending())
	}
	if !bytes.Equal(got, want) {
		return "", failf("recovered frame differs from uninterrupted rendering")
	}
	return fmt.Sprintf("%d stroke recovered, %d rebuilds", pending, e.Pipeline().Stats().Rebuilds), nil
}

// failingStore fails the first failures writes.
type failingStore struct {
	tilemem.Store
	mu       sync.Mutex
	failures int
}

var errStoreDown = errors.New("store unavailable")

func (s *failingStore) Put(ctx context.Context, k tilemem.StoreKey, v []byte) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errStoreDown
	}
	s.mu.Unlock()
	return s.Store.Put(ctx, k, v)
}

func (s *failingStore) Close() error {
	if c, ok := s.Store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func checkPersistFailure(ctx context.Context, h *harness) (string, error) {
	cfg := h.cfg
	cfg.ResidentByteBudget = 0

	var (
		mu      sync.Mutex
		reports []*sketch.TilePersistError
		states  []tilemem.State
		tiles   *tilemem.Manager
	)
	store := h.store
	h2 := *h
	h2.store = func(check string) (tilemem.Store, error) {
		s, err := store(check)
		if err != nil {
			return nil, err
		}
		return &failingStore{Store: s, failures: cfg.PersistAttempts}, nil
	}
	e, done, err := h2.engine(CheckPersistFailure, cfg, canvas.WithPersistFailureHandler(func(perr *sketch.TilePersistError) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, perr)
		states = append(states, tiles.State(tilemem.Key{Layer: tilemem.LayerID(perr.Layer), X: perr.X, Y: perr.Y}))
	}))
	if err != nil {
		return "", err
	}
	defer done()
	mu.Lock()
	tiles = e.Tiles()
	mu.Unlock()

	// A short stroke in the middle of the first tile.
	p, err := probe(cfg, black)
	if err != nil {
		return "", err
	}
	ts := float64(cfg.TileSize)
	if err := drawStroke(ctx, e, p, probeLine(cfg, sketch.Pt(ts*3/8, ts/2), sketch.Pt(ts*5/8, ts/2))); err != nil {
		return "", err
	}
	keys := tiles.Keys(layer)
	if len(keys) != 1 {
		return "", failf("probe stroke touched %d tiles, want 1", len(keys))
	}
	key := keys[0]
	want, err := tiles.GetTile(ctx, key)
	if err != nil {
		return "", err
	}

	tiles.Evict(0)
	// Flush waits for the failing background write, then retries the tile.
	if err := e.Flush(ctx); err != nil {
		return "", fmt.Errorf("flush after failure: %w", err)
	}

	mu.Lock()
	n, perr, state := len(reports), (*sketch.TilePersistError)(nil), tilemem.StateAbsent
	if n > 0 {
		perr, state = reports[0], states[0]
	}
	mu.Unlock()
	if n != 1 {
		return "", failf("%d failure reports, want 1", n)
	}
	if !errors.Is(perr, sketch.ErrTilePersistFailed) || !errors.Is(perr, errStoreDown) {
		return "", failf("report %v does not wrap the store error", perr)
	}
	if perr.Attempts != cfg.PersistAttempts {
		return "", failf("failed after %d attempts, want %d", perr.Attempts, cfg.PersistAttempts)
	}
	if state != tilemem.StateResidentCompressed {
		return "", failf("tile %v after failed write, want %v", state, tilemem.StateResidentCompressed)
	}
	if s := tiles.State(key); s == tilemem.StateAbsent {
		return "", failf("tile lost")
	}
	if s := tiles.Stats(); s.Failed != 0 {
		return "", failf("%d tiles still marked failed after flush", s.Failed)
	}

	tiles.Evict(0)
	if err := e.Flush(ctx); err != nil {
		return "", err
	}
	got, err := tiles.GetTile(ctx, key)
	if err != nil {
		return "", err
	}
	if !got.SameContent(want) {
		return "", failf("tile %s diverged after recovery", key)
	}
	return fmt.Sprintf("1 report after %d attempts, tile kept %v", perr.Attempts, state), nil
}
