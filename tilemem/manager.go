package tilemem

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/internal/cache"
)

// record is the manager's bookkeeping for one tile. Exactly one of pix,
// payload or staged is set, matching state.
type record struct {
	key   Key
	state State

	pix     []uint8 // StateResidentUncompressed
	payload []byte  // StateResidentCompressed

	// staged holds the payload of an evicted tile whose newest revision is
	// still on its way to the store. It is not resident.
	staged    []byte
	stagedRev uint64

	rev          uint64 // content revision, bumped on every modifying Unpin
	persistedRev uint64 // newest revision known durable in the store

	pins          int
	node          *cache.Node[Key]
	writing       bool // a store write for this key is queued or in flight
	persistFailed bool
}

func (r *record) residentBytes() int64 {
	switch r.state {
	case StateResidentUncompressed:
		return int64(len(r.pix))
	case StateResidentCompressed:
		return int64(len(r.payload))
	}
	return 0
}

func (r *record) dirty() bool { return r.rev != r.persistedRev }

// Option configures a Manager.
type Option func(*Manager)

// WithPersistFailureHandler registers fn to be called once per tile write
// that failed after all retries. fn runs on a manager goroutine (or the
// Flush caller) without locks held.
func WithPersistFailureHandler(fn func(*sketch.TilePersistError)) Option {
	return func(m *Manager) { m.onPersistFailed = fn }
}

// WithEventBuffer sets the capacity of the Events channel (default 256).
func WithEventBuffer(n int) Option {
	return func(m *Manager) { m.eventBuffer = n }
}

// Manager owns all layer tiles. All methods are safe for concurrent use,
// but tile pixels obtained through Pin may only be written by the pinning
// goroutine until Unpin.
type Manager struct {
	cfg      sketch.Config
	tileSize int
	store    Store
	codec    *Codec

	mu          sync.Mutex
	records     map[Key]*record
	lru         *cache.List[Key]
	resident    int64
	pending     int64
	damage      []image.Rectangle
	interactive bool
	closed      bool
	overrun     bool
	outstanding int
	idle        chan struct{}
	stats       counters

	loads singleflight.Group

	queue       *writeQueue
	completions chan completion
	pressure    chan struct{}

	events       chan Event
	eventsClosed bool
	eventBuffer  int

	onPersistFailed func(*sketch.TilePersistError)

	bgCtx    context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	loopDone chan struct{}
}

// New creates a manager persisting to store and starts its background
// goroutines. Call Close to stop them.
func New(cfg sketch.Config, store Store, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("tilemem: nil store")
	}
	codec, err := NewCodec(cfg.TileSize, cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		tileSize:    cfg.TileSize,
		store:       store,
		codec:       codec,
		records:     make(map[Key]*record),
		lru:         cache.NewList[Key](),
		queue:       newWriteQueue(),
		completions: make(chan completion, cfg.PersistWorkers),
		pressure:    make(chan struct{}, 1),
		eventBuffer: 256,
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = make(chan Event, m.eventBuffer)
	m.bgCtx, m.cancel = context.WithCancel(context.Background())

	for i := 0; i < cfg.PersistWorkers; i++ {
		m.workers.Add(1)
		go m.worker()
	}
	go m.loop()

	sketch.Logger().Info("tilemem: manager started",
		"budget", cfg.ResidentByteBudget, "tile_size", cfg.TileSize, "workers", cfg.PersistWorkers)
	return m, nil
}

// TileSize returns the tile edge length in pixels.
func (m *Manager) TileSize() int { return m.tileSize }

// Budget returns the resident byte budget (0 = unlimited).
func (m *Manager) Budget() int64 { return m.cfg.ResidentByteBudget }

// GetTile returns a snapshot of the tile at key. Keys that were never
// written yield an absent (transparent) tile. For an evicted tile GetTile
// blocks until the payload is loaded and promotes it to
// resident-compressed; the load continues for other waiters if ctx is
// cancelled.
//
// The error is non-nil only when ctx ends, the manager is closed, or the
// store read keeps failing after retries; the tile content is not lost in
// the latter case and a later call may succeed.
func (m *Manager) GetTile(ctx context.Context, key Key) (Tile, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Tile{}, ErrClosed
	}
	rec, ok := m.records[key]
	if !ok {
		m.mu.Unlock()
		return m.absent(key), nil
	}

	if rec.state == StateEvicted && rec.staged != nil {
		m.promoteStagedLocked(rec)
	}

	switch rec.state {
	case StateResidentUncompressed:
		m.lru.MoveToFront(rec.node)
		t := Tile{Key: key, State: rec.state, Revision: rec.rev, Size: m.tileSize, pix: slices.Clone(rec.pix)}
		m.mu.Unlock()
		return t, nil

	case StateResidentCompressed:
		m.lru.MoveToFront(rec.node)
		payload, rev := rec.payload, rec.rev
		m.settleLocked()
		m.mu.Unlock()
		pix, err := m.codec.Decode(payload)
		if err != nil {
			return Tile{}, fmt.Errorf("tilemem: tile %s: %w", key, err)
		}
		return Tile{Key: key, State: StateResidentCompressed, Revision: rev, Size: m.tileSize, pix: pix}, nil
	}

	sk := StoreKey{Key: key, Revision: rec.persistedRev}
	m.mu.Unlock()
	return m.load(ctx, sk)
}

func (m *Manager) absent(key Key) Tile {
	return Tile{Key: key, State: StateAbsent, Size: m.tileSize}
}

// load reads an evicted tile from the store, deduplicating concurrent
// loads of the same revision.
func (m *Manager) load(ctx context.Context, sk StoreKey) (Tile, error) {
	ch := m.loads.DoChan(sk.String(), func() (any, error) {
		var data []byte
		err := m.retry(m.bgCtx, func() error {
			var err error
			data, err = m.store.Get(m.bgCtx, sk)
			if errors.Is(err, ErrNotFound) {
				return permanent(err)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		pix, err := m.codec.Decode(data)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.promoteLoadedLocked(sk, data)
		m.mu.Unlock()
		return pix, nil
	})

	select {
	case <-ctx.Done():
		return Tile{}, ctx.Err()
	case res := <-ch:
		if res.Err == nil {
			// The pixel slice is shared between waiters; Tile is read-only.
			return Tile{Key: sk.Key, State: StateResidentCompressed, Revision: sk.Revision, Size: m.tileSize, pix: res.Val.([]uint8)}, nil
		}
		if errors.Is(res.Err, ErrNotFound) {
			sketch.Logger().Warn("tilemem: evicted tile missing from store", "tile", sk.String())
			m.mu.Lock()
			if rec, ok := m.records[sk.Key]; ok && rec.state == StateEvicted && rec.staged == nil && rec.persistedRev == sk.Revision {
				delete(m.records, sk.Key)
			}
			m.mu.Unlock()
			return m.absent(sk.Key), nil
		}
		return Tile{}, fmt.Errorf("tilemem: load %s: %w", sk, res.Err)
	}
}

func (m *Manager) promoteLoadedLocked(sk StoreKey, data []byte) {
	rec, ok := m.records[sk.Key]
	if !ok || rec.state != StateEvicted || rec.staged != nil || rec.persistedRev != sk.Revision || m.closed {
		return
	}
	rec.state = StateResidentCompressed
	rec.payload = data
	rec.node = m.lru.PushFront(rec.key)
	m.resident += int64(len(data))
	m.stats.loads++
	m.emitLocked(Event{Kind: EventLoaded, Key: rec.key, State: rec.state, Revision: rec.rev})
	sketch.Logger().Debug("tilemem: tile loaded", "tile", rec.key.String(), "bytes", len(data))
	m.settleLocked()
}

func (m *Manager) promoteStagedLocked(rec *record) {
	rec.state = StateResidentCompressed
	rec.payload = rec.staged
	rec.staged = nil
	m.pending -= int64(len(rec.payload))
	rec.node = m.lru.PushFront(rec.key)
	m.resident += int64(len(rec.payload))
	m.emitLocked(Event{Kind: EventLoaded, Key: rec.key, State: rec.state, Revision: rec.rev})
}

// Pin promotes the tile to resident-uncompressed, protects it from
// compression and eviction, and returns an image aliasing its pixels in
// canvas coordinates. Absent tiles are created transparent. Pin blocks
// like GetTile when the tile must be loaded. Every Pin must be matched by
// Unpin.
func (m *Manager) Pin(ctx context.Context, key Key) (*image.RGBA64, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		rec, ok := m.records[key]
		if !ok {
			rec = &record{key: key, state: StateResidentUncompressed, pix: make([]uint8, m.codec.RawSize())}
			rec.node = m.lru.PushFront(key)
			m.records[key] = rec
			m.resident += int64(len(rec.pix))
		}
		if rec.state == StateEvicted && rec.staged != nil {
			m.promoteStagedLocked(rec)
		}

		switch rec.state {
		case StateResidentCompressed:
			pix, err := m.codec.Decode(rec.payload)
			if err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("tilemem: tile %s: %w", key, err)
			}
			m.resident += int64(len(pix)) - int64(len(rec.payload))
			rec.pix, rec.payload = pix, nil
			rec.state = StateResidentUncompressed
			fallthrough
		case StateResidentUncompressed:
			m.lru.MoveToFront(rec.node)
			rec.pins++
			m.settleLocked()
			img := &image.RGBA64{Pix: rec.pix, Stride: m.tileSize * 8, Rect: key.Rect(m.tileSize)}
			m.mu.Unlock()
			return img, nil
		}

		sk := StoreKey{Key: key, Revision: rec.persistedRev}
		m.mu.Unlock()
		if _, err := m.load(ctx, sk); err != nil {
			return nil, err
		}
	}
}

// Unpin releases a pin. modified bumps the tile revision and records the
// tile as damaged. A tile created by Pin and released unmodified is
// discarded.
func (m *Manager) Unpin(key Key, modified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || rec.pins == 0 {
		return fmt.Errorf("%w: %s", ErrNotPinned, key)
	}
	rec.pins--
	if modified {
		rec.rev++
		m.addDamageLocked(key.Rect(m.tileSize))
	}
	if rec.rev == 0 && rec.pins == 0 {
		m.lru.Remove(rec.node)
		m.resident -= rec.residentBytes()
		delete(m.records, key)
	}
	m.settleLocked()
	return nil
}

// MarkDirty records r as damaged so the next presented frame redraws it.
func (m *Manager) MarkDirty(r image.Rectangle) {
	if r.Empty() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addDamageLocked(r)
}

// maxDamageRects bounds the damage list; past it the list collapses to its
// union.
const maxDamageRects = 256

func (m *Manager) addDamageLocked(r image.Rectangle) {
	for _, d := range m.damage {
		if r.In(d) {
			return
		}
	}
	m.damage = append(m.damage, r)
	if len(m.damage) > maxDamageRects {
		u := m.damage[0]
		for _, d := range m.damage[1:] {
			u = u.Union(d)
		}
		m.damage = append(m.damage[:0], u)
	}
}

// TakeDamage returns and clears the damaged rectangles.
func (m *Manager) TakeDamage() []image.Rectangle {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.damage
	m.damage = nil
	return d
}

// Evict frees resident bytes until at most target remain, compressing
// first and then handing tiles to the store. Pinned tiles and tiles whose
// last write failed are skipped. It returns the resident byte count and
// does nothing once the manager is closed.
func (m *Manager) Evict(target int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.resident
	}
	m.reduceLocked(target, true)
	m.settleLocked()
	return m.resident
}

// Revision returns the content revision of key and whether the tile holds
// content. It never decodes or loads, so a presenter can tell unchanged
// tiles apart without touching their pixels.
func (m *Manager) Revision(key Key) (rev uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return 0, false
	}
	return rec.rev, true
}

// State returns the residency state of key.
func (m *Manager) State(key Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		return rec.state
	}
	return StateAbsent
}

// Keys returns the keys of layer that hold content, sorted by row then
// column.
func (m *Manager) Keys(layer LayerID) []Key {
	m.mu.Lock()
	keys := make([]Key, 0, len(m.records))
	for k := range m.records {
		if k.Layer == layer {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	slices.SortFunc(keys, func(a, b Key) int {
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})
	return keys
}

// settleLocked enforces the budget after a public operation and updates
// the peak. A closed manager no longer evicts.
func (m *Manager) settleLocked() {
	if m.closed {
		return
	}
	if budget := m.cfg.ResidentByteBudget; budget > 0 {
		m.reduceLocked(budget, true)
		if m.resident > budget {
			if !m.overrun {
				m.overrun = true
				m.stats.overruns++
				sketch.Logger().Warn("tilemem: resident bytes over budget, all candidates pinned or failed",
					"resident", m.resident, "budget", budget)
			}
		} else {
			m.overrun = false
		}
	}
	if m.resident > m.stats.peak {
		m.stats.peak = m.resident
	}
}

// reduceLocked walks the LRU from the oldest tile. The first pass
// compresses uncompressed tiles; the second (when allowIO) evicts
// compressed ones.
func (m *Manager) reduceLocked(target int64, allowIO bool) {
	if target < 0 {
		target = 0
	}
	for n := m.lru.Back(); n != nil && m.resident > target; {
		prev := n.Prev()
		if rec := m.records[n.Key]; rec.pins == 0 && rec.state == StateResidentUncompressed {
			m.compressLocked(rec)
		}
		n = prev
	}
	if !allowIO {
		return
	}
	for n := m.lru.Back(); n != nil && m.resident > target; {
		prev := n.Prev()
		if rec := m.records[n.Key]; rec.pins == 0 && rec.state == StateResidentCompressed && !rec.persistFailed {
			m.evictLocked(rec)
		}
		n = prev
	}
}

func (m *Manager) compressLocked(rec *record) {
	payload := m.codec.Encode(rec.pix)
	m.resident += int64(len(payload)) - int64(len(rec.pix))
	rec.payload, rec.pix = payload, nil
	rec.state = StateResidentCompressed
	m.stats.compressions++
	m.emitLocked(Event{Kind: EventCompressed, Key: rec.key, State: rec.state, Revision: rec.rev})
	sketch.Logger().Debug("tilemem: tile compressed", "tile", rec.key.String(), "bytes", len(payload))
}

func (m *Manager) evictLocked(rec *record) {
	m.lru.Remove(rec.node)
	rec.node = nil
	m.resident -= int64(len(rec.payload))
	if rec.dirty() {
		rec.staged, rec.stagedRev = rec.payload, rec.rev
		m.pending += int64(len(rec.staged))
		if !rec.writing {
			m.enqueueLocked(rec)
		}
	}
	rec.payload = nil
	rec.state = StateEvicted
	m.stats.evictions++
	m.emitLocked(Event{Kind: EventEvicted, Key: rec.key, State: rec.state, Revision: rec.rev})
	sketch.Logger().Debug("tilemem: tile evicted", "tile", rec.key.String(), "dirty", rec.staged != nil)
}

// Close stops the pressure monitor, drains queued writes and releases the
// codec. Dirty resident tiles are not written; call Flush first.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.queue.close()
	m.workers.Wait()
	close(m.completions)
	<-m.loopDone
	m.cancel()

	m.mu.Lock()
	m.eventsClosed = true
	close(m.events)
	m.mu.Unlock()

	m.codec.Close()
	sketch.Logger().Info("tilemem: manager closed")
	return nil
}
