// Package flowcontrol buffers timestamped message streams so they can be
// consumed at a steady rate despite network jitter.
//
// Messages arrive stamped with the sender's clock. The buffer learns the
// spread of (arrival - timestamp) offsets and holds each message until the
// local clock passes its timestamp plus the smallest observed offset plus a
// delay proportional to the observed jitter.
package flowcontrol

import (
	"sort"
	"time"
)

// Policy decides what happens to a message older than one already accepted.
type Policy int

const (
	// PolicyDrop discards out-of-order messages and counts them.
	PolicyDrop Policy = iota
	// PolicyReorder inserts out-of-order messages at their timestamp.
	PolicyReorder
)

const (
	DefaultWindowSize   = 16
	DefaultMinDelay     = 0
	DefaultMaxDelay     = 250 * time.Millisecond
	DefaultJitterFactor = 1.0
)

// Settings tunes the buffer.
type Settings struct {
	// WindowSize is how many offsets the jitter estimate remembers.
	WindowSize int
	MinDelay   time.Duration
	MaxDelay   time.Duration
	// JitterFactor scales the observed offset spread into a release delay.
	JitterFactor float64
	OutOfOrder   Policy
}

// DefaultSettings releases a lone message immediately and never buffers for
// more than DefaultMaxDelay.
func DefaultSettings() Settings {
	return Settings{
		WindowSize:   DefaultWindowSize,
		MinDelay:     DefaultMinDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		OutOfOrder:   PolicyDrop,
	}
}

// FlowStats is a read-only view of the buffer, reported to clients as part
// of connection statistics.
type FlowStats struct {
	Buffered  int
	Delay     time.Duration
	Jitter    time.Duration
	MinOffset time.Duration
	MaxOffset time.Duration
	Dropped   uint64
}

type pending[M any] struct {
	timestamp time.Duration
	msg       M
}

// FlowControl is a jitter buffer over messages of type M. It is not safe for
// concurrent use.
type FlowControl[M any] struct {
	settings Settings
	queue    []pending[M]
	offsets  *RollingSampler[time.Duration]
	last     time.Duration
	accepted bool
	dropped  uint64
}

// New constructs a FlowControl, filling unset settings from the defaults.
func New[M any](settings Settings) *FlowControl[M] {
	defaults := DefaultSettings()
	if settings.WindowSize <= 0 {
		settings.WindowSize = defaults.WindowSize
	}
	if settings.MaxDelay <= 0 {
		settings.MaxDelay = defaults.MaxDelay
	}
	if settings.MinDelay < 0 {
		settings.MinDelay = 0
	}
	if settings.MinDelay > settings.MaxDelay {
		settings.MinDelay = settings.MaxDelay
	}
	if settings.JitterFactor <= 0 {
		settings.JitterFactor = defaults.JitterFactor
	}
	return &FlowControl[M]{
		settings: settings,
		offsets:  NewRollingSampler[time.Duration](settings.WindowSize),
	}
}

// Settings returns the effective settings.
func (f *FlowControl[M]) Settings() Settings { return f.settings }

// Push records a message stamped with the sender's timestamp that arrived at
// the local arrival time.
func (f *FlowControl[M]) Push(timestamp, arrival time.Duration, msg M) {
	f.offsets.Push(arrival - timestamp)

	if f.accepted && timestamp < f.last {
		if f.settings.OutOfOrder == PolicyDrop {
			f.dropped++
			return
		}
		idx := sort.Search(len(f.queue), func(i int) bool { return f.queue[i].timestamp > timestamp })
		f.queue = append(f.queue, pending[M]{})
		copy(f.queue[idx+1:], f.queue[idx:])
		f.queue[idx] = pending[M]{timestamp: timestamp, msg: msg}
		return
	}

	f.queue = append(f.queue, pending[M]{timestamp: timestamp, msg: msg})
	f.last = timestamp
	f.accepted = true
}

// Pull returns the oldest buffered message once it is due at localtime. It
// never blocks; call it repeatedly to drain everything that is due.
func (f *FlowControl[M]) Pull(localtime time.Duration) (M, bool) {
	var zero M
	if len(f.queue) == 0 {
		return zero, false
	}
	head := f.queue[0]
	if localtime < head.timestamp+f.offsets.Min()+f.delay() {
		return zero, false
	}
	f.queue[0] = pending[M]{}
	f.queue = f.queue[1:]
	return head.msg, true
}

// Reset discards buffered messages. Jitter statistics survive so the next
// stream starts with a sensible delay.
func (f *FlowControl[M]) Reset() {
	f.queue = nil
	f.accepted = false
	f.last = 0
}

// Stats snapshots the current buffer state.
func (f *FlowControl[M]) Stats() FlowStats {
	return FlowStats{
		Buffered:  len(f.queue),
		Delay:     f.delay(),
		Jitter:    f.offsets.Max() - f.offsets.Min(),
		MinOffset: f.offsets.Min(),
		MaxOffset: f.offsets.Max(),
		Dropped:   f.dropped,
	}
}

func (f *FlowControl[M]) delay() time.Duration {
	spread := f.offsets.Max() - f.offsets.Min()
	delay := time.Duration(float64(spread) * f.settings.JitterFactor)
	if delay < f.settings.MinDelay {
		return f.settings.MinDelay
	}
	if delay > f.settings.MaxDelay {
		return f.settings.MaxDelay
	}
	return delay
}
