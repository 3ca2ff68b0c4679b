package canvas

import "time"

// Instrument receives measurements from the engine. Methods are called on
// the goroutine driving the engine, with the engine locked; they must not
// call back into it.
type Instrument interface {
	// FrameDone reports the time spent in Frame and the tiles it redrew.
	FrameDone(elapsed time.Duration, damagedTiles int)
	// StrokeLatency reports the time from the first unpresented input to
	// the frame that showed it.
	StrokeLatency(elapsed time.Duration)
	// CompositeDone reports the cost of committing one stroke.
	CompositeDone(elapsed time.Duration, tiles int)
	// ResidentBytes reports the memory manager's resident size after a
	// frame.
	ResidentBytes(n int64)
}

type nopInstrument struct{}

func (nopInstrument) FrameDone(time.Duration, int)     {}
func (nopInstrument) StrokeLatency(time.Duration)      {}
func (nopInstrument) CompositeDone(time.Duration, int) {}
func (nopInstrument) ResidentBytes(int64)              {}
