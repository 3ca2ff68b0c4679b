package shader

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/brush"
	"github.com/gogpu/sketch/tilemem"
)

const testLayer tilemem.LayerID = 1

var canvasRect = image.Rect(0, 0, 256, 256)

func newTestPipeline(t *testing.T, backend Backend) (*Pipeline, *tilemem.Manager) {
	t.Helper()
	cfg := sketch.DefaultConfig()
	cfg.TileSize = 64
	cfg.ResidentByteBudget = 0
	cfg.PressureInterval = 0
	cfg.CanvasWidth, cfg.CanvasHeight = 256, 256
	m, err := tilemem.New(cfg, tilemem.NewMemStore(0))
	if err != nil {
		t.Fatalf("tilemem.New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	p, err := New(backend, m, WithClip(canvasRect))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, m
}

// ink is a hard, opaque, constant-width pen.
func ink(t *testing.T, c sketch.RGBA) brush.Preset {
	t.Helper()
	p := brush.Pencil()
	p.Name = "ink"
	p.Size, p.MinSize = 8, 1
	p.Opacity, p.Flow, p.Hardness = 1, 1, 1
	p.Texture = ""
	p.Color = sketch.Direct(c)
	p.Dynamics = brush.Dynamics{PressureGamma: 1}
	p.Params = brush.PencilParams{}
	v, err := p.Validate()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// hline draws a horizontal stroke from x0 to x1 at y.
func hline(t *testing.T, p *Pipeline, preset brush.Preset, x0, x1, y float64) *Coverage {
	t.Helper()
	var samples []sketch.Sample
	for i, x := 0, x0; x <= x1; i, x = i+1, x+10 {
		samples = append(samples, sketch.Sample{
			Point:    sketch.Pt(x, y),
			Pressure: 0.5,
			Time:     time.Duration(i) * 10 * time.Millisecond,
		})
	}
	g, err := brush.Replay(preset, samples)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	var cov *Coverage
	for _, seg := range g.Segments {
		if cov, err = p.RasterizeFootprint(seg, preset, cov); err != nil {
			t.Fatalf("RasterizeFootprint: %v", err)
		}
	}
	return cov
}

func present(t *testing.T, p *Pipeline, layers ...Layer) *Frame {
	t.Helper()
	f, err := p.Present(context.Background(), canvasRect, layers)
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	return f
}

func TestPipeline_CompositeAndPresent(t *testing.T) {
	p, m := newTestPipeline(t, NewSoftwareBackend())
	ctx := context.Background()
	black := ink(t, sketch.RGB(0, 0, 0))

	cov := hline(t, p, black, 10, 240, 100)
	damage, err := p.CompositeLayer(ctx, testLayer, cov, black)
	if err != nil {
		t.Fatalf("CompositeLayer: %v", err)
	}
	if !image.Pt(100, 100).In(damage) || damage.Min.Y < 90 || damage.Max.Y > 111 {
		t.Errorf("damage = %v", damage)
	}
	tile, err := m.GetTile(ctx, tilemem.Key{Layer: testLayer, X: 1, Y: 1})
	if err != nil {
		t.Fatal(err)
	}
	if a := tile.Image().RGBA64At(100, 100).A; a != 0xffff {
		t.Errorf("tile alpha = %#x, want 0xffff", a)
	}

	layers := []Layer{{ID: testLayer, Opacity: 1}}
	f := present(t, p, layers...)
	if len(f.Damage) != 16 {
		t.Errorf("first frame damage = %d tiles, want 16", len(f.Damage))
	}
	if got := f.Image.RGBAAt(100, 100); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("frame pixel = %v", got)
	}
	if got := f.Image.RGBAAt(100, 10); got.A != 0 {
		t.Errorf("unpainted pixel = %v", got)
	}

	f = present(t, p, layers...)
	if len(f.Damage) != 0 {
		t.Errorf("unchanged frame damage = %v", f.Damage)
	}
	if p.Stats().TilesReused != 16 {
		t.Errorf("TilesReused = %d, want 16", p.Stats().TilesReused)
	}
	if got := f.Image.RGBAAt(100, 100); got.A != 255 {
		t.Errorf("reused pixel = %v", got)
	}

	cov = hline(t, p, black, 10, 50, 20)
	if _, err := p.CompositeLayer(ctx, testLayer, cov, black); err != nil {
		t.Fatal(err)
	}
	f = present(t, p, layers...)
	if len(f.Damage) != 1 || f.Damage[0] != image.Rect(0, 0, 64, 64) {
		t.Errorf("second stroke damage = %v", f.Damage)
	}
}

func TestPipeline_HiddenAndOpacity(t *testing.T) {
	p, _ := newTestPipeline(t, NewSoftwareBackend())
	black := ink(t, sketch.RGB(0, 0, 0))
	if _, err := p.CompositeLayer(context.Background(), testLayer, hline(t, p, black, 10, 100, 100), black); err != nil {
		t.Fatal(err)
	}

	f := present(t, p, Layer{ID: testLayer, Hidden: true, Opacity: 1})
	if got := f.Image.RGBAAt(50, 100); got.A != 0 {
		t.Errorf("hidden layer drawn: %v", got)
	}
	f = present(t, p, Layer{ID: testLayer, Opacity: 0.5})
	if got := f.Image.RGBAAt(50, 100); got.A < 126 || got.A > 129 {
		t.Errorf("half-opacity alpha = %d", got.A)
	}
}

func TestPipeline_ContextLoss(t *testing.T) {
	backend := NewSoftwareBackend()
	p, m := newTestPipeline(t, backend)
	ctx := context.Background()
	black := ink(t, sketch.RGB(0, 0, 0))
	layers := []Layer{{ID: testLayer, Opacity: 1}}
	present(t, p, layers...)

	cov := hline(t, p, black, 10, 240, 100)
	key := tilemem.Key{Layer: testLayer, X: 1, Y: 1}
	before, _ := m.GetTile(ctx, key)

	backend.LoseContext()
	if _, err := p.CompositeLayer(ctx, testLayer, cov, black); !errors.Is(err, sketch.ErrRenderContextLost) {
		t.Fatalf("CompositeLayer err = %v, want ErrRenderContextLost", err)
	}
	if !p.Lost() {
		t.Error("pipeline not marked lost")
	}
	after, _ := m.GetTile(ctx, key)
	if after.Revision != before.Revision || !after.SameContent(before) {
		t.Error("failed composite modified the layer")
	}
	if _, err := p.Present(ctx, canvasRect, layers); !errors.Is(err, sketch.ErrRenderContextLost) {
		t.Errorf("Present err = %v", err)
	}

	if err := p.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if _, err := p.CompositeLayer(ctx, testLayer, cov, black); err != nil {
		t.Fatalf("CompositeLayer after rebuild: %v", err)
	}
	f := present(t, p, layers...)
	if len(f.Damage) != 16 {
		t.Errorf("damage after rebuild = %d tiles, want 16", len(f.Damage))
	}
	if got := f.Image.RGBAAt(100, 100); got.A != 255 {
		t.Errorf("re-composited pixel = %v", got)
	}
	st := p.Stats()
	if st.Losses != 1 || st.Rebuilds != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipeline_LiveOverlay(t *testing.T) {
	p, m := newTestPipeline(t, NewSoftwareBackend())
	red := ink(t, sketch.RGB(1, 0, 0))
	cov := hline(t, p, red, 10, 50, 200)

	live := Layer{ID: testLayer, Opacity: 1, Live: []Overlay{{Coverage: cov, Params: CompositeParamsFor(red, nil)}}}
	present(t, p, Layer{ID: testLayer, Opacity: 1})
	f := present(t, p, live)
	if len(f.Damage) != 1 || f.Damage[0] != image.Rect(0, 192, 64, 256) {
		t.Errorf("live damage = %v", f.Damage)
	}
	if got := f.Image.RGBAAt(30, 200); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("live pixel = %v", got)
	}
	if keys := m.Keys(testLayer); len(keys) != 0 {
		t.Errorf("live stroke reached the layer: %v", keys)
	}

	f = present(t, p, Layer{ID: testLayer, Opacity: 1})
	if len(f.Damage) != 1 {
		t.Errorf("cleared overlay damage = %v", f.Damage)
	}
	if got := f.Image.RGBAAt(30, 200); got.A != 0 {
		t.Errorf("overlay left behind: %v", got)
	}
}

func TestPipeline_CompositeRegion(t *testing.T) {
	p, m := newTestPipeline(t, NewSoftwareBackend())
	ctx := context.Background()
	black := ink(t, sketch.RGB(0, 0, 0))
	cov := hline(t, p, black, 10, 240, 100)

	region := image.Rect(0, 64, 64, 128)
	damage, err := p.CompositeRegion(ctx, testLayer, cov, black, region)
	if err != nil {
		t.Fatal(err)
	}
	if !damage.In(region) {
		t.Errorf("damage %v outside %v", damage, region)
	}
	if keys := m.Keys(testLayer); len(keys) != 1 || keys[0] != (tilemem.Key{Layer: testLayer, X: 0, Y: 1}) {
		t.Errorf("touched tiles = %v", keys)
	}
	tile, _ := m.GetTile(ctx, tilemem.Key{Layer: testLayer, X: 0, Y: 1})
	if tile.Image().RGBA64At(30, 100).A != 0xffff {
		t.Error("region not painted")
	}
}

type bgraBackend struct{ *SoftwareBackend }

func (bgraBackend) Format() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }

func TestPipeline_PresentBGRA(t *testing.T) {
	p, _ := newTestPipeline(t, bgraBackend{NewSoftwareBackend()})
	red := ink(t, sketch.RGB(1, 0, 0))
	if _, err := p.CompositeLayer(context.Background(), testLayer, hline(t, p, red, 10, 50, 30), red); err != nil {
		t.Fatal(err)
	}
	f := present(t, p, Layer{ID: testLayer, Opacity: 1})
	if f.Format != gputypes.TextureFormatBGRA8Unorm {
		t.Errorf("format = %v", f.Format)
	}
	i := f.Image.PixOffset(30, 30)
	if px := f.Image.Pix[i : i+4]; px[0] != 0 || px[2] != 255 || px[3] != 255 {
		t.Errorf("BGRA pixel = %v", px)
	}
}

func TestPipeline_Errors(t *testing.T) {
	p, _ := newTestPipeline(t, NewSoftwareBackend())
	if _, err := p.Present(context.Background(), image.Rectangle{}, nil); !errors.Is(err, sketch.ErrInvalidConfig) {
		t.Errorf("empty viewport err = %v", err)
	}
	if r, err := p.CompositeLayer(context.Background(), testLayer, NewCoverage(RuleMax), brush.Pencil()); err != nil || !r.Empty() {
		t.Errorf("empty coverage = %v, %v", r, err)
	}
	_ = p.Close()
	if _, err := p.RasterizeFootprint(brush.Segment{}, brush.Pencil(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("after Close err = %v", err)
	}
}

func TestSwizzleRB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	copy(img.Pix, []uint8{1, 2, 3, 4, 5, 6, 7, 8})
	swizzleRB(img)
	want := []uint8{3, 2, 1, 4, 7, 6, 5, 8}
	for i := range want {
		if img.Pix[i] != want[i] {
			t.Fatalf("Pix = %v, want %v", img.Pix, want)
		}
	}
}

// countingStore counts store reads.
type countingStore struct {
	*tilemem.MemStore
	gets atomic.Int32
}

func (s *countingStore) Get(ctx context.Context, k tilemem.StoreKey) ([]byte, error) {
	s.gets.Add(1)
	return s.MemStore.Get(ctx, k)
}

// countingTiles counts tile reads made by the pipeline.
type countingTiles struct {
	*tilemem.Manager
	gets int
}

func (c *countingTiles) GetTile(ctx context.Context, key tilemem.Key) (tilemem.Tile, error) {
	c.gets++
	return c.Manager.GetTile(ctx, key)
}

func TestPipeline_UnchangedFrameReadsNoTiles(t *testing.T) {
	ctx := context.Background()
	cfg := sketch.DefaultConfig()
	cfg.TileSize = 64
	cfg.ResidentByteBudget = 0
	cfg.PressureInterval = 0
	cfg.CanvasWidth, cfg.CanvasHeight = 256, 256
	store := &countingStore{MemStore: tilemem.NewMemStore(0)}
	m, err := tilemem.New(cfg, store)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	tiles := &countingTiles{Manager: m}
	p, err := New(NewSoftwareBackend(), tiles, WithClip(canvasRect))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })

	black := ink(t, sketch.RGB(0, 0, 0))
	if _, err := p.CompositeLayer(ctx, testLayer, hline(t, p, black, 10, 240, 100), black); err != nil {
		t.Fatal(err)
	}
	layers := []Layer{{ID: testLayer, Opacity: 1}}
	first := present(t, p, layers...)

	if err := m.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	m.Evict(0)
	tiles.gets = 0
	store.gets.Store(0)

	f := present(t, p, layers...)
	if len(f.Damage) != 0 {
		t.Errorf("unchanged frame damage = %v", f.Damage)
	}
	if tiles.gets != 0 {
		t.Errorf("unchanged frame read %d tiles, want 0", tiles.gets)
	}
	if n := store.gets.Load(); n != 0 {
		t.Errorf("unchanged frame made %d store loads, want 0", n)
	}
	if s := m.Stats(); s.Loads != 0 || s.Evicted == 0 {
		t.Errorf("tile stats after unchanged frame = %+v", s)
	}
	if !bytes.Equal(f.Image.Pix, first.Image.Pix) {
		t.Error("unchanged frame differs from the first")
	}

	// A stroke inside tile (0,0) redraws that tile only.
	if _, err := p.CompositeLayer(ctx, testLayer, hline(t, p, black, 10, 40, 20), black); err != nil {
		t.Fatal(err)
	}
	tiles.gets = 0
	f = present(t, p, layers...)
	if len(f.Damage) != 1 || f.Damage[0] != image.Rect(0, 0, 64, 64) {
		t.Errorf("damage = %v, want tile (0,0) only", f.Damage)
	}
	if tiles.gets != 1 {
		t.Errorf("read %d tiles, want 1", tiles.gets)
	}
}
