package bench

import (
	"math"
	"slices"
)

// DefaultWindow is the number of samples a Recorder keeps per measurement.
const DefaultWindow = 1000

// Window keeps the most recent samples of one measurement in a ring
// buffer. It is not safe for concurrent use.
type Window[T ~int64] struct {
	buf   []T
	next  int
	full  bool
	count uint64
	peak  T
}

// NewWindow creates a window holding size samples.
func NewWindow[T ~int64](size int) *Window[T] {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window[T]{buf: make([]T, size)}
}

// Add records a sample, replacing the oldest once the window is full.
func (w *Window[T]) Add(v T) {
	w.buf[w.next] = v
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.count++
	if v > w.peak {
		w.peak = v
	}
}

// Len returns the number of samples in the window.
func (w *Window[T]) Len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Reset drops all samples and the peak.
func (w *Window[T]) Reset() {
	w.next, w.full, w.count, w.peak = 0, false, 0, 0
}

// Summary describes a window. Count and Peak cover every sample ever
// added; the other fields cover the samples still in the window.
type Summary[T ~int64] struct {
	Count uint64 `json:"count"`
	Last  T      `json:"last"`
	Min   T      `json:"min"`
	Max   T      `json:"max"`
	Mean  T      `json:"mean"`
	P50   T      `json:"p50"`
	P95   T      `json:"p95"`
	P99   T      `json:"p99"`
	Peak  T      `json:"peak"`
}

// Summary computes the window statistics.
func (w *Window[T]) Summary() Summary[T] {
	s := Summary[T]{Count: w.count, Peak: w.peak}
	n := w.Len()
	if n == 0 {
		return s
	}
	last := w.next - 1
	if last < 0 {
		last = len(w.buf) - 1
	}
	s.Last = w.buf[last]

	sorted := slices.Clone(w.buf[:n])
	slices.Sort(sorted)
	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	s.Min, s.Max = sorted[0], sorted[n-1]
	s.Mean = T(sum / float64(n))
	s.P50 = percentile(sorted, 50)
	s.P95 = percentile(sorted, 95)
	s.P99 = percentile(sorted, 99)
	return s
}

// percentile uses the nearest-rank method on sorted samples.
func percentile[T ~int64](sorted []T, p float64) T {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[max(rank-1, 0)]
}
