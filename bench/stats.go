package bench

import (
	"sync"
	"time"

	"github.com/gogpu/sketch/canvas"
	"github.com/gogpu/sketch/tilemem"
)

// PerformanceStats is the result of one scenario run.
type PerformanceStats struct {
	Scenario  string        `json:"scenario"`
	Strokes   int           `json:"strokes"`
	Cancelled int           `json:"cancelled"`
	Elapsed   time.Duration `json:"elapsed"`
	Done      bool          `json:"done"`

	FrameTime      Summary[time.Duration] `json:"frame_time"`
	StrokeLatency  Summary[time.Duration] `json:"stroke_latency"`
	CompositeCost  Summary[time.Duration] `json:"composite_cost"`
	DamagedTiles   Summary[int64]         `json:"damaged_tiles"`
	CompositeTiles Summary[int64]         `json:"composite_tiles"`
	ResidentBytes  Summary[int64]         `json:"resident_bytes"`

	Tiles tilemem.Stats `json:"tiles"`
}

// FPS returns the frame rate implied by the mean frame time.
func (s PerformanceStats) FPS() float64 {
	if s.FrameTime.Mean <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.FrameTime.Mean)
}

// Recorder collects engine measurements in rolling windows. It implements
// canvas.Instrument and is safe for concurrent use, so a diagnostics
// goroutine may take snapshots while the engine runs.
type Recorder struct {
	mu             sync.Mutex
	frames         *Window[time.Duration]
	latency        *Window[time.Duration]
	composite      *Window[time.Duration]
	damaged        *Window[int64]
	compositeTiles *Window[int64]
	resident       *Window[int64]
}

var _ canvas.Instrument = (*Recorder)(nil)

// NewRecorder creates a recorder keeping window samples per measurement.
func NewRecorder(window int) *Recorder {
	return &Recorder{
		frames:         NewWindow[time.Duration](window),
		latency:        NewWindow[time.Duration](window),
		composite:      NewWindow[time.Duration](window),
		damaged:        NewWindow[int64](window),
		compositeTiles: NewWindow[int64](window),
		resident:       NewWindow[int64](window),
	}
}

func (r *Recorder) FrameDone(elapsed time.Duration, damagedTiles int) {
	r.mu.Lock()
	r.frames.Add(elapsed)
	r.damaged.Add(int64(damagedTiles))
	r.mu.Unlock()
}

func (r *Recorder) StrokeLatency(elapsed time.Duration) {
	r.mu.Lock()
	r.latency.Add(elapsed)
	r.mu.Unlock()
}

func (r *Recorder) CompositeDone(elapsed time.Duration, tiles int) {
	r.mu.Lock()
	r.composite.Add(elapsed)
	r.compositeTiles.Add(int64(tiles))
	r.mu.Unlock()
}

func (r *Recorder) ResidentBytes(n int64) {
	r.mu.Lock()
	r.resident.Add(n)
	r.mu.Unlock()
}

// Snapshot returns the current window summaries.
func (r *Recorder) Snapshot() PerformanceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return PerformanceStats{
		FrameTime:      r.frames.Summary(),
		StrokeLatency:  r.latency.Summary(),
		CompositeCost:  r.composite.Summary(),
		DamagedTiles:   r.damaged.Summary(),
		CompositeTiles: r.compositeTiles.Summary(),
		ResidentBytes:  r.resident.Summary(),
	}
}

// Reset clears every window.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames.Reset()
	r.latency.Reset()
	r.composite.Reset()
	r.damaged.Reset()
	r.compositeTiles.Reset()
	r.resident.Reset()
}
