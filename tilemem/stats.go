package tilemem

// EventKind classifies a tile transition.
type EventKind uint8

const (
	EventCompressed EventKind = iota + 1
	EventEvicted
	EventLoaded
	EventPersisted
	EventPersistFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCompressed:
		return "compressed"
	case EventEvicted:
		return "evicted"
	case EventLoaded:
		return "loaded"
	case EventPersisted:
		return "persisted"
	case EventPersistFailed:
		return "persist-failed"
	}
	return "unknown"
}

// Event describes a tile state transition.
type Event struct {
	Kind     EventKind
	Key      Key
	State    State
	Revision uint64
	Err      error
}

// Events returns a channel of tile transitions. Events are dropped when
// the channel is full. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emitLocked(e Event) {
	if m.eventsClosed {
		return
	}
	select {
	case m.events <- e:
	default:
		m.stats.droppedEvents++
	}
}

type counters struct {
	peak          int64
	compressions  uint64
	evictions     uint64
	loads         uint64
	writes        uint64
	writeFailures uint64
	overruns      uint64
	pressureRuns  uint64
	droppedEvents uint64
}

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	Budget            int64
	ResidentBytes     int64
	PeakResidentBytes int64
	// PendingBytes are payloads of evicted tiles still queued for writing.
	PendingBytes int64

	Uncompressed int
	Compressed   int
	Evicted      int
	Pinned       int
	Failed       int

	Compressions   uint64
	Evictions      uint64
	Loads          uint64
	Writes         uint64
	WriteFailures  uint64
	BudgetOverruns uint64
	PressureRuns   uint64
	DroppedEvents  uint64
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Budget:            m.cfg.ResidentByteBudget,
		ResidentBytes:     m.resident,
		PeakResidentBytes: m.stats.peak,
		PendingBytes:      m.pending,
		Compressions:      m.stats.compressions,
		Evictions:         m.stats.evictions,
		Loads:             m.stats.loads,
		Writes:            m.stats.writes,
		WriteFailures:     m.stats.writeFailures,
		BudgetOverruns:    m.stats.overruns,
		PressureRuns:      m.stats.pressureRuns,
		DroppedEvents:     m.stats.droppedEvents,
	}
	for _, rec := range m.records {
		switch rec.state {
		case StateResidentUncompressed:
			s.Uncompressed++
		case StateResidentCompressed:
			s.Compressed++
		case StateEvicted:
			s.Evicted++
		}
		if rec.pins > 0 {
			s.Pinned++
		}
		if rec.persistFailed {
			s.Failed++
		}
	}
	return s
}

// ResidentBytes returns the exact resident byte count.
func (m *Manager) ResidentBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resident
}
