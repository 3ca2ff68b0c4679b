package tilemem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/sketch"
)

// writeJob is one store write of a tile revision.
type writeJob struct {
	key     Key
	rev     uint64
	prev    uint64 // revision to delete once rev is durable
	payload []byte
}

// completion carries a finished write back to the manager loop.
type completion struct {
	job      writeJob
	attempts int
	err      error
}

// writeQueue is an unbounded FIFO so that eviction never blocks on I/O.
type writeQueue struct {
	mu     sync.Mutex
	jobs   []writeJob
	notify chan struct{}
	done   chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{notify: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *writeQueue) push(j writeJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *writeQueue) pop() (writeJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return writeJob{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = writeJob{}
	q.jobs = q.jobs[1:]
	return j, true
}

func (q *writeQueue) close() { close(q.done) }

// enqueueLocked queues the staged payload of rec for writing. The workers
// are gone after Close, so nothing is queued then.
func (m *Manager) enqueueLocked(rec *record) {
	if m.closed {
		return
	}
	rec.writing = true
	m.outstanding++
	m.queue.push(writeJob{key: rec.key, rev: rec.stagedRev, prev: rec.persistedRev, payload: rec.staged})
}

// worker drains the write queue until the manager closes and the queue is
// empty.
func (m *Manager) worker() {
	defer m.workers.Done()
	for {
		job, ok := m.queue.pop()
		if !ok {
			select {
			case <-m.queue.notify:
				continue
			case <-m.queue.done:
				if job, ok = m.queue.pop(); !ok {
					return
				}
			}
		}
		attempts, err := m.persist(m.bgCtx, job)
		m.completions <- completion{job: job, attempts: attempts, err: err}
	}
}

// loop applies write completions and runs the pressure monitor.
func (m *Manager) loop() {
	defer close(m.loopDone)

	var tick <-chan time.Time
	if d := m.cfg.PressureInterval.D(); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case c, ok := <-m.completions:
			if !ok {
				return
			}
			m.mu.Lock()
			perr := m.applyLocked(c.job, c.attempts, c.err)
			m.mu.Unlock()
			if perr != nil {
				m.reportFailure(perr)
			}
			// Flush waiters observe the report before they wake.
			m.mu.Lock()
			m.outstanding--
			if m.outstanding == 0 && m.idle != nil {
				close(m.idle)
				m.idle = nil
			}
			m.mu.Unlock()
		case <-tick:
			m.relievePressure()
		case <-m.pressure:
			m.relievePressure()
		}
	}
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.PersistBackoff.D()
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 64 * b.InitialInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retry runs op up to PersistAttempts times with exponential backoff.
func (m *Manager) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), uint64(m.cfg.PersistAttempts-1)), ctx)
	return backoff.Retry(op, b)
}

func permanent(err error) error { return backoff.Permanent(err) }

// persist writes one job, retrying with backoff. It returns the number of
// attempts made.
func (m *Manager) persist(ctx context.Context, job writeJob) (int, error) {
	attempts := 0
	sk := StoreKey{Key: job.key, Revision: job.rev}
	err := m.retry(ctx, func() error {
		attempts++
		err := m.store.Put(ctx, sk, job.payload)
		if err != nil {
			sketch.Logger().Debug("tilemem: write attempt failed", "tile", sk.String(), "attempt", attempts, "err", err)
			if ctx.Err() != nil {
				return permanent(err)
			}
		}
		return err
	})
	if err == nil && job.prev != 0 && job.prev != job.rev {
		if derr := m.store.Delete(ctx, StoreKey{Key: job.key, Revision: job.prev}); derr != nil {
			sketch.Logger().Debug("tilemem: delete old revision failed", "tile", job.key.String(), "rev", job.prev, "err", derr)
		}
	}
	return attempts, err
}

// applyLocked records the outcome of a write and returns the error to
// report, if any.
func (m *Manager) applyLocked(job writeJob, attempts int, err error) *sketch.TilePersistError {
	rec, ok := m.records[job.key]
	if !ok {
		return nil
	}
	rec.writing = false

	var perr *sketch.TilePersistError
	switch {
	case err == nil:
		m.stats.writes++
		if job.rev > rec.persistedRev {
			rec.persistedRev = job.rev
		}
		rec.persistFailed = false
		if rec.state == StateEvicted && rec.staged != nil && rec.stagedRev <= rec.persistedRev {
			m.pending -= int64(len(rec.staged))
			rec.staged = nil
		}
		m.emitLocked(Event{Kind: EventPersisted, Key: rec.key, State: rec.state, Revision: job.rev})

	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Flush caller gave up; the tile stays dirty.

	default:
		m.stats.writeFailures++
		rec.persistFailed = true
		if rec.state == StateEvicted && rec.staged != nil && rec.stagedRev == job.rev {
			rec.state = StateResidentCompressed
			rec.payload = rec.staged
			rec.staged = nil
			m.pending -= int64(len(rec.payload))
			m.resident += int64(len(rec.payload))
			rec.node = m.lru.PushFront(rec.key)
		}
		perr = &sketch.TilePersistError{
			Layer:    uint32(job.key.Layer),
			X:        job.key.X,
			Y:        job.key.Y,
			Revision: job.rev,
			Attempts: attempts,
			Cause:    err,
		}
		m.emitLocked(Event{Kind: EventPersistFailed, Key: rec.key, State: rec.state, Revision: job.rev, Err: perr})
	}

	if rec.state == StateEvicted && rec.staged != nil && rec.stagedRev > rec.persistedRev && !rec.writing && !m.closed {
		m.enqueueLocked(rec)
	}
	m.settleLocked()
	return perr
}

func (m *Manager) reportFailure(perr *sketch.TilePersistError) {
	sketch.Logger().Warn("tilemem: tile persist failed, keeping resident",
		"layer", perr.Layer, "x", perr.X, "y", perr.Y, "rev", perr.Revision,
		"attempts", perr.Attempts, "err", perr.Cause)
	if m.onPersistFailed != nil {
		m.onPersistFailed(perr)
	}
}

// waitIdle blocks until the write-behind queue is empty and no write is in
// flight.
func (m *Manager) waitIdle(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.outstanding == 0 {
			m.mu.Unlock()
			return nil
		}
		if m.idle == nil {
			m.idle = make(chan struct{})
		}
		ch := m.idle
		m.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flushJob pairs a write with the pixels to encode when the tile is held
// uncompressed.
type flushJob struct {
	writeJob
	pix []uint8
}

// Flush waits for queued background writes, then writes every dirty,
// unpinned resident tile (including tiles whose earlier write failed) with
// at most FlushConcurrency writes in parallel. It returns the joined
// *sketch.TilePersistError values of the tiles that still failed.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := m.waitIdle(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var jobs []flushJob
	for _, rec := range m.records {
		if !rec.state.Resident() || !rec.dirty() || rec.writing || rec.pins > 0 {
			continue
		}
		j := flushJob{writeJob: writeJob{key: rec.key, rev: rec.rev, prev: rec.persistedRev, payload: rec.payload}}
		if rec.state == StateResidentUncompressed {
			// Encoded outside the lock from a private copy.
			j.pix = append([]uint8(nil), rec.pix...)
		}
		rec.writing = true
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	errs := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(m.cfg.FlushConcurrency)
	for i := range jobs {
		g.Go(func() error {
			job := jobs[i].writeJob
			if jobs[i].pix != nil {
				job.payload = m.codec.Encode(jobs[i].pix)
			}
			attempts, err := m.persist(ctx, job)
			m.mu.Lock()
			perr := m.applyLocked(job, attempts, err)
			m.mu.Unlock()
			switch {
			case perr != nil:
				m.reportFailure(perr)
				errs[i] = perr
			case err != nil:
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
