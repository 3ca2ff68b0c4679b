package tilemem

import "github.com/gogpu/sketch"

// NotifyPressure asks the monitor goroutine to evict toward the low-water
// mark now instead of waiting for the next tick. It never blocks.
func (m *Manager) NotifyPressure() {
	select {
	case m.pressure <- struct{}{}:
	default:
	}
}

// SetInteractive tells the monitor whether a stroke is in progress. While
// interactive, pressure eviction only compresses in memory and issues no
// store writes. Reactive eviction on budget overflow is unaffected.
func (m *Manager) SetInteractive(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactive = on
}

func (m *Manager) relievePressure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.cfg.ResidentByteBudget <= 0 {
		return
	}
	low := m.cfg.LowWaterMark()
	if m.resident <= low {
		return
	}
	before := m.resident
	m.reduceLocked(low, !m.interactive)
	m.stats.pressureRuns++
	sketch.Logger().Debug("tilemem: pressure eviction",
		"before", before, "after", m.resident, "low_water", low, "interactive", m.interactive)
}
