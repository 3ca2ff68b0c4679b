package tilemem

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/sketch"
)

const testTileSize = 16

func testConfig() sketch.Config {
	cfg := sketch.DefaultConfig()
	cfg.TileSize = testTileSize
	cfg.ResidentByteBudget = 8 * cfg.TileBytes()
	cfg.PressureInterval = 0
	cfg.PersistBackoff = 0
	cfg.PersistAttempts = 4
	return cfg
}

func newTestManager(t testing.TB, cfg sketch.Config, store Store, opts ...Option) *Manager {
	t.Helper()
	m, err := New(cfg, store, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// paint fills a pinned tile with reproducible noise and returns a copy.
func paint(t testing.TB, m *Manager, key Key, seed int64) []uint8 {
	t.Helper()
	img, err := m.Pin(context.Background(), key)
	if err != nil {
		t.Fatalf("Pin(%v): %v", key, err)
	}
	rng := rand.New(rand.NewSource(seed))
	// Sparse strokes compress like real tiles.
	for i := 0; i < len(img.Pix); i += 8 {
		if rng.Intn(4) == 0 {
			v := uint8(rng.Intn(256))
			img.Pix[i], img.Pix[i+2], img.Pix[i+4], img.Pix[i+6] = v, v/2, v/3, 0xff
			img.Pix[i+7] = 0xff
		}
	}
	want := append([]uint8(nil), img.Pix...)
	if err := m.Unpin(key, true); err != nil {
		t.Fatalf("Unpin(%v): %v", key, err)
	}
	return want
}

func mustTile(t testing.TB, m *Manager, key Key) Tile {
	t.Helper()
	tile, err := m.GetTile(context.Background(), key)
	if err != nil {
		t.Fatalf("GetTile(%v): %v", key, err)
	}
	return tile
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func samePix(a []uint8, tile Tile) bool {
	return tile.SameContent(Tile{pix: a})
}

func TestGetTile_AbsentPlaceholder(t *testing.T) {
	m := newTestManager(t, testConfig(), NewMemStore(0))
	tile := mustTile(t, m, Key{Layer: 1, X: 3, Y: 4})
	if !tile.Absent() || tile.State != StateAbsent {
		t.Fatalf("tile = %+v, want absent", tile)
	}
	if got, want := tile.Bounds(), image.Rect(48, 64, 64, 80); got != want {
		t.Errorf("Bounds = %v, want %v", got, want)
	}
	img := tile.Image()
	if img.Bounds() != tile.Bounds() || !allZero(img.Pix) {
		t.Error("absent tile image must be transparent")
	}
}

func TestPinUnpin(t *testing.T) {
	m := newTestManager(t, testConfig(), NewMemStore(0))
	key := Key{Layer: 1}

	want := paint(t, m, key, 1)
	tile := mustTile(t, m, key)
	if tile.Revision != 1 || tile.State != StateResidentUncompressed || !samePix(want, tile) {
		t.Fatalf("tile = rev %d state %v", tile.Revision, tile.State)
	}
	damage := m.TakeDamage()
	if len(damage) != 1 || damage[0] != key.Rect(testTileSize) {
		t.Errorf("damage = %v", damage)
	}
	if d := m.TakeDamage(); d != nil {
		t.Errorf("damage not cleared: %v", d)
	}

	if err := m.Unpin(key, false); !errors.Is(err, ErrNotPinned) {
		t.Errorf("Unpin without Pin = %v, want ErrNotPinned", err)
	}
}

func TestUnpinUnmodifiedDiscardsNewTile(t *testing.T) {
	m := newTestManager(t, testConfig(), NewMemStore(0))
	key := Key{Layer: 2, X: 1}
	if _, err := m.Pin(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if err := m.Unpin(key, false); err != nil {
		t.Fatal(err)
	}
	if s := m.State(key); s != StateAbsent {
		t.Errorf("State = %v, want absent", s)
	}
	if b := m.ResidentBytes(); b != 0 {
		t.Errorf("ResidentBytes = %d, want 0", b)
	}
}

func TestContentIdenticalAcrossStates(t *testing.T) {
	m := newTestManager(t, testConfig(), NewMemStore(0))
	key := Key{Layer: 1, X: 2, Y: 5}
	want := paint(t, m, key, 42)

	check := func(wantState State) {
		t.Helper()
		tile := mustTile(t, m, key)
		if tile.State != wantState {
			t.Fatalf("state = %v, want %v", tile.State, wantState)
		}
		if !samePix(want, tile) {
			t.Fatalf("content diverged in %v", wantState)
		}
	}

	check(StateResidentUncompressed)

	m.mu.Lock()
	m.reduceLocked(0, false)
	m.mu.Unlock()
	if s := m.State(key); s != StateResidentCompressed {
		t.Fatalf("after compress state = %v", s)
	}
	check(StateResidentCompressed)

	m.Evict(0)
	if s := m.State(key); s != StateEvicted {
		t.Fatalf("after Evict state = %v", s)
	}
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	check(StateResidentCompressed) // reloaded

	// Pin decompresses; pixels must still match.
	img, err := m.Pin(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if !samePix(img.Pix, Tile{pix: want}) {
		t.Fatal("pinned pixels diverged")
	}
	if err := m.Unpin(key, false); err != nil {
		t.Fatal(err)
	}
}

func TestEvictClean_NoRewrite(t *testing.T) {
	store := &flakyStore{MemStore: NewMemStore(0)}
	m := newTestManager(t, testConfig(), store)
	key := Key{Layer: 1}
	want := paint(t, m, key, 7)

	m.Evict(0)
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	mustTile(t, m, key)
	m.Evict(0)
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := store.putCount(); got != 1 {
		t.Errorf("puts = %d, want 1 (clean tile dropped without write)", got)
	}
	if !samePix(want, mustTile(t, m, key)) {
		t.Error("content diverged")
	}
}

func TestNewRevisionReplacesOld(t *testing.T) {
	store := NewMemStore(0)
	m := newTestManager(t, testConfig(), store)
	key := Key{Layer: 1}

	paint(t, m, key, 1)
	m.Evict(0)
	_ = m.waitIdle(context.Background())
	want := paint(t, m, key, 2)
	m.Evict(0)
	_ = m.waitIdle(context.Background())

	if n := store.Len(); n != 1 {
		t.Errorf("store holds %d values, want 1", n)
	}
	tile := mustTile(t, m, key)
	if tile.Revision != 2 || !samePix(want, tile) {
		t.Errorf("rev = %d", tile.Revision)
	}
}

func TestBudgetInvariant(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		runBudgetOps(t, seed, 300)
	}
}

func FuzzBudgetInvariant(f *testing.F) {
	f.Add(int64(1), uint16(100))
	f.Add(int64(99), uint16(400))
	f.Fuzz(func(t *testing.T, seed int64, n uint16) {
		runBudgetOps(t, seed, int(n%500))
	})
}

// runBudgetOps applies random pin/paint, read, evict and flush operations
// and checks the budget after each one and the content at the end.
func runBudgetOps(t *testing.T, seed int64, n int) {
	cfg := testConfig()
	m, err := New(cfg, NewMemStore(0))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	rng := rand.New(rand.NewSource(seed))
	model := make(map[Key][]uint8)
	randKey := func() Key { return Key{Layer: LayerID(rng.Intn(2)), X: rng.Intn(5), Y: rng.Intn(5)} }
	ctx := context.Background()

	for i := 0; i < n; i++ {
		switch op := rng.Intn(10); {
		case op < 5:
			k := randKey()
			model[k] = paint(t, m, k, rng.Int63())
		case op < 8:
			k := randKey()
			tile := mustTile(t, m, k)
			if want, ok := model[k]; ok && !samePix(want, tile) {
				t.Fatalf("seed %d op %d: %v diverged", seed, i, k)
			}
		case op < 9:
			m.Evict(rng.Int63n(cfg.ResidentByteBudget))
		default:
			if err := m.Flush(ctx); err != nil {
				t.Fatalf("Flush: %v", err)
			}
		}
		if r := m.ResidentBytes(); r > cfg.ResidentByteBudget {
			t.Fatalf("seed %d op %d: resident %d > budget %d", seed, i, r, cfg.ResidentByteBudget)
		}
	}
	for k, want := range model {
		if !samePix(want, mustTile(t, m, k)) {
			t.Fatalf("seed %d: final %v diverged", seed, k)
		}
	}
	if s := m.Stats(); s.BudgetOverruns != 0 {
		t.Errorf("overruns = %d", s.BudgetOverruns)
	}
}

func TestEvictionHappensUnderBudget(t *testing.T) {
	cfg := testConfig()
	m := newTestManager(t, cfg, NewMemStore(0))
	for x := 0; x < 32; x++ {
		paint(t, m, Key{Layer: 1, X: x}, int64(x))
	}
	s := m.Stats()
	if s.Compressions == 0 {
		t.Error("expected compressions")
	}
	if s.ResidentBytes > cfg.ResidentByteBudget || s.PeakResidentBytes > cfg.ResidentByteBudget {
		t.Errorf("resident %d peak %d budget %d", s.ResidentBytes, s.PeakResidentBytes, cfg.ResidentByteBudget)
	}
}

func TestPersist_RetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{MemStore: NewMemStore(0), failures: 3}
	var reported atomic.Int32
	m := newTestManager(t, testConfig(), store,
		WithPersistFailureHandler(func(*sketch.TilePersistError) { reported.Add(1) }))
	key := Key{Layer: 1}
	want := paint(t, m, key, 3)

	m.Evict(0)
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := reported.Load(); got != 0 {
		t.Errorf("reported %d failures, want 0", got)
	}
	if got := store.putCount(); got != 4 {
		t.Errorf("puts = %d, want 4", got)
	}
	if s := m.State(key); s != StateEvicted {
		t.Errorf("state = %v, want evicted", s)
	}
	if !samePix(want, mustTile(t, m, key)) {
		t.Error("content diverged after reload")
	}
}

func TestPersist_FailureReportedOncePerFlush(t *testing.T) {
	cfg := testConfig()
	cfg.PersistAttempts = 3
	store := &flakyStore{MemStore: NewMemStore(0), failures: 3}
	var mu sync.Mutex
	var reports []*sketch.TilePersistError
	m := newTestManager(t, cfg, store, WithPersistFailureHandler(func(e *sketch.TilePersistError) {
		mu.Lock()
		reports = append(reports, e)
		mu.Unlock()
	}))
	key := Key{Layer: 4, X: 1, Y: 1}
	want := paint(t, m, key, 9)

	m.Evict(0)
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	if len(reports) != 1 || reports[0].Attempts != 3 || !errors.Is(reports[0], sketch.ErrTilePersistFailed) {
		t.Fatalf("reports = %v", reports)
	}
	mu.Unlock()
	if s := m.State(key); s != StateResidentCompressed {
		t.Fatalf("state = %v, want resident-compressed", s)
	}

	// A failed tile is not an eviction candidate.
	m.Evict(0)
	if s := m.State(key); s != StateResidentCompressed {
		t.Fatalf("failed tile evicted: %v", s)
	}

	// The fourth write succeeds.
	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	if len(reports) != 1 {
		t.Errorf("reports after flush = %d, want 1", len(reports))
	}
	mu.Unlock()
	if s := m.Stats(); s.Failed != 0 || s.WriteFailures != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s := m.State(key); s == StateAbsent {
		t.Fatal("tile lost")
	}
	m.Evict(0)
	if !samePix(want, mustTile(t, m, key)) {
		t.Error("content diverged")
	}
}

func TestFlush_ReturnsPersistErrors(t *testing.T) {
	cfg := testConfig()
	cfg.PersistAttempts = 2
	store := NewMemStore(0)
	store.MaxValueSize = 1
	m := newTestManager(t, cfg, store)
	paint(t, m, Key{Layer: 1}, 1)
	paint(t, m, Key{Layer: 1, X: 1}, 2)

	err := m.Flush(context.Background())
	if !errors.Is(err, sketch.ErrTilePersistFailed) || !errors.Is(err, ErrStoreQuota) {
		t.Fatalf("Flush = %v", err)
	}
	var perr *sketch.TilePersistError
	if !errors.As(err, &perr) || perr.Attempts != 2 {
		t.Errorf("perr = %+v", perr)
	}
	if s := m.Stats(); s.Failed != 2 {
		t.Errorf("Failed = %d, want 2", s.Failed)
	}
}

func TestGetTile_LoadsDeduplicated(t *testing.T) {
	store := &slowStore{MemStore: NewMemStore(0), release: make(chan struct{})}
	m := newTestManager(t, testConfig(), store)
	key := Key{Layer: 1}
	want := paint(t, m, key, 5)
	m.Evict(0)
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tile, err := m.GetTile(context.Background(), key)
			if err != nil || !samePix(want, tile) {
				t.Errorf("GetTile: %v", err)
			}
		}()
	}
	waitFor(t, "first load", func() bool { return store.gets.Load() >= 1 })
	time.Sleep(10 * time.Millisecond)
	close(store.release)
	wg.Wait()

	if got := store.gets.Load(); got != 1 {
		t.Errorf("store gets = %d, want 1", got)
	}
}

func TestGetTile_ContextCancelled(t *testing.T) {
	store := &slowStore{MemStore: NewMemStore(0), release: make(chan struct{})}
	m := newTestManager(t, testConfig(), store)
	key := Key{Layer: 1}
	paint(t, m, key, 5)
	m.Evict(0)
	_ = m.waitIdle(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.GetTile(ctx, key); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetTile = %v, want deadline exceeded", err)
	}
	close(store.release)
	waitFor(t, "background load", func() bool { return m.State(key) == StateResidentCompressed })
}

func TestPressure_NoBudgetIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.ResidentByteBudget = 0
	m := newTestManager(t, cfg, NewMemStore(0))
	for x := 0; x < 6; x++ {
		paint(t, m, Key{Layer: 1, X: x}, int64(x))
	}
	m.NotifyPressure()
	time.Sleep(10 * time.Millisecond)
	if s := m.Stats(); s.PressureRuns != 0 || s.Compressions != 0 {
		t.Fatalf("pressure ran without a budget: %+v", s)
	}
}

func TestPressure_InteractiveCompressesOnly(t *testing.T) {
	cfg := testConfig()
	cfg.ResidentByteBudget = 6 * cfg.TileBytes()
	cfg.LowWaterMarkRatio = 0.02
	m := newTestManager(t, cfg, NewMemStore(0))
	for x := 0; x < 6; x++ {
		paint(t, m, Key{Layer: 1, X: x}, int64(x))
	}

	m.SetInteractive(true)
	m.NotifyPressure()
	waitFor(t, "interactive pressure run", func() bool { return m.Stats().PressureRuns == 1 })
	s := m.Stats()
	if s.Evicted != 0 || s.Writes != 0 {
		t.Fatalf("interactive pressure evicted: %+v", s)
	}
	if s.Compressed != 6 {
		t.Fatalf("compressed = %d, want 6", s.Compressed)
	}

	m.SetInteractive(false)
	m.NotifyPressure()
	waitFor(t, "pressure run", func() bool { return m.Stats().PressureRuns == 2 })
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}
	s = m.Stats()
	if s.Evicted == 0 {
		t.Error("expected evictions outside interactive mode")
	}
	if s.ResidentBytes > cfg.LowWaterMark() {
		t.Errorf("resident %d > low water %d", s.ResidentBytes, cfg.LowWaterMark())
	}
}

func TestEvents(t *testing.T) {
	m := newTestManager(t, testConfig(), NewMemStore(0))
	key := Key{Layer: 1}
	paint(t, m, key, 1)
	m.Evict(0)
	_ = m.waitIdle(context.Background())

	seen := map[EventKind]bool{}
	for len(m.Events()) > 0 {
		e := <-m.Events()
		seen[e.Kind] = true
	}
	for _, k := range []EventKind{EventCompressed, EventEvicted, EventPersisted} {
		if !seen[k] {
			t.Errorf("missing %v event", k)
		}
	}
}

func TestClose(t *testing.T) {
	m, err := New(testConfig(), NewMemStore(0))
	if err != nil {
		t.Fatal(err)
	}
	paint(t, m, Key{}, 1)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal("second Close:", err)
	}
	if _, err := m.GetTile(context.Background(), Key{}); !errors.Is(err, ErrClosed) {
		t.Errorf("GetTile after Close = %v", err)
	}
	for range m.Events() {
	}
}

func TestRevision_NoLoad(t *testing.T) {
	m := newTestManager(t, testConfig(), NewMemStore(0))
	key := Key{Layer: 1, X: 2}
	if rev, ok := m.Revision(key); ok || rev != 0 {
		t.Errorf("Revision(absent) = %d, %v", rev, ok)
	}
	paint(t, m, key, 1)
	paint(t, m, key, 2)
	m.Evict(0)
	if err := m.waitIdle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if rev, ok := m.Revision(key); !ok || rev != 2 {
		t.Errorf("Revision = %d, %v, want 2, true", rev, ok)
	}
	if got := m.State(key); got != StateEvicted {
		t.Errorf("state = %v, want evicted", got)
	}
	if s := m.Stats(); s.Loads != 0 {
		t.Errorf("loads = %d, want 0", s.Loads)
	}
}

func TestClose_StopsEvictionAndFlush(t *testing.T) {
	m, err := New(testConfig(), NewMemStore(0))
	if err != nil {
		t.Fatal(err)
	}
	key := Key{Layer: 1}
	paint(t, m, key, 1)
	before := m.State(key)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	for range m.Events() {
	}

	m.Evict(0)
	if got := m.State(key); got != before {
		t.Errorf("state after Close+Evict = %v, want %v", got, before)
	}
	if s := m.Stats(); s.PendingBytes != 0 || s.Evictions != 0 {
		t.Errorf("stats after Close+Evict = %+v", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := m.Flush(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TileSize = 17
	if _, err := New(cfg, NewMemStore(0)); !errors.Is(err, sketch.ErrInvalidConfig) {
		t.Errorf("New = %v", err)
	}
}

// flakyStore fails the first failures Put calls.
type flakyStore struct {
	*MemStore
	mu       sync.Mutex
	failures int
	puts     int
}

func (s *flakyStore) Put(ctx context.Context, k StoreKey, v []byte) error {
	s.mu.Lock()
	s.puts++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("store unavailable")
	}
	s.mu.Unlock()
	return s.MemStore.Put(ctx, k, v)
}

func (s *flakyStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// slowStore blocks Get until release is closed.
type slowStore struct {
	*MemStore
	release chan struct{}
	gets    atomic.Int32
}

func (s *slowStore) Get(ctx context.Context, k StoreKey) ([]byte, error) {
	s.gets.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.MemStore.Get(ctx, k)
}
