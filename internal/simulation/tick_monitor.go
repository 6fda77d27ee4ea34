package simulation

import (
	"sync"
	"time"
)

// TickMetricsSnapshot summarises the observed step durations.
type TickMetricsSnapshot struct {
	Samples int           `json:"samples"`
	Skipped int           `json:"skipped"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
}

// Load is the share of the step budget the average step used.
func (s TickMetricsSnapshot) Load(step time.Duration) float64 {
	if step <= 0 {
		return 0
	}
	return float64(s.Average) / float64(step)
}

// TickMonitor accumulates step timings. The loop writes and the stats
// endpoint reads, so it is safe for concurrent use.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	skipped int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

// Observe records the duration of a completed step.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration < 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	m.max = max(m.max, duration)
	m.last = duration
	m.mu.Unlock()
}

// Skip records steps dropped because the loop fell too far behind.
func (m *TickMonitor) Skip(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.skipped += n
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := TickMetricsSnapshot{Samples: m.samples, Skipped: m.skipped, Max: m.max, Last: m.last}
	if m.samples > 0 {
		snapshot.Average = m.total / time.Duration(m.samples)
	}
	return snapshot
}

// Reset clears the statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples, m.skipped = 0, 0
	m.total, m.max, m.last = 0, 0, 0
	m.mu.Unlock()
}
