package networked

// NetMapDelta carries the changes of a NetMap. Inits holds initializers for
// elements the receiver has not seen. Deltas lists every live element; a nil
// pointer marks an element that did not change. Elements missing from both
// maps have been removed.
type NetMapDelta[I, D any] struct {
	Inits  map[PID]I
	Deltas map[PID]*D
	// Removed is set by the sender when elements left since the previous
	// collection. It is not transmitted; receivers infer removals from the
	// maps.
	Removed bool
}

// Structural reports whether the delta adds or removes elements. Such a
// delta is not derived again later and must reach every receiver.
func (d NetMapDelta[I, D]) Structural() bool {
	return d.Removed || len(d.Inits) > 0
}

type netEntry[E any] struct {
	value     E
	initSent  bool
	destroyed bool
}

// NetMap is a PID-keyed set of AutoNetworked elements that is itself
// AutoNetworked. It is not safe for concurrent use.
type NetMap[E AutoNetworked[I, D], I, D any] struct {
	entries map[PID]*netEntry[E]
	build   func(I) E
	removed bool
}

// NewNetMap constructs the set from an initializer. Elements built this way
// are considered already known to every receiver.
func NewNetMap[E AutoNetworked[I, D], I, D any](init map[PID]I, build func(I) E) *NetMap[E, I, D] {
	m := &NetMap[E, I, D]{
		entries: make(map[PID]*netEntry[E], len(init)),
		build:   build,
	}
	for pid, elemInit := range init {
		m.entries[pid] = &netEntry[E]{value: build(elemInit), initSent: true}
	}
	return m
}

// Put builds a new element at the smallest unused PID.
func (m *NetMap[E, I, D]) Put(init I) PID {
	pid := SmallestUnused(m.entries)
	m.entries[pid] = &netEntry[E]{value: m.build(init)}
	return pid
}

// Get returns the element at pid.
func (m *NetMap[E, I, D]) Get(pid PID) (E, bool) {
	entry, ok := m.entries[pid]
	if !ok {
		var zero E
		return zero, false
	}
	return entry.value, true
}

// Remove drops the element at pid. Receivers learn about the removal from
// the next collected delta.
func (m *NetMap[E, I, D]) Remove(pid PID) bool {
	if _, ok := m.entries[pid]; !ok {
		return false
	}
	release(m.entries[pid].value)
	delete(m.entries, pid)
	m.removed = true
	return true
}

// MarkDestroyed flags the element for removal by ApplyDestruction.
func (m *NetMap[E, I, D]) MarkDestroyed(pid PID) {
	if entry, ok := m.entries[pid]; ok {
		entry.destroyed = true
	}
}

// ApplyDestruction removes every flagged element and returns their PIDs.
func (m *NetMap[E, I, D]) ApplyDestruction() []PID {
	var gone []PID
	for _, pid := range SortedPIDs(m.entries) {
		if m.entries[pid].destroyed {
			release(m.entries[pid].value)
			delete(m.entries, pid)
			gone = append(gone, pid)
		}
	}
	if len(gone) > 0 {
		m.removed = true
	}
	return gone
}

// Len returns the number of live elements.
func (m *NetMap[E, I, D]) Len() int { return len(m.entries) }

// PIDs returns the live PIDs in ascending order.
func (m *NetMap[E, I, D]) PIDs() []PID { return SortedPIDs(m.entries) }

// ForEach visits elements in ascending PID order. Elements removed by fn
// before they are reached are skipped.
func (m *NetMap[E, I, D]) ForEach(fn func(PID, E)) {
	for _, pid := range SortedPIDs(m.entries) {
		if entry, ok := m.entries[pid]; ok {
			fn(pid, entry.value)
		}
	}
}

// CaptureInitializer returns initializers for every live element.
func (m *NetMap[E, I, D]) CaptureInitializer() map[PID]I {
	inits := make(map[PID]I, len(m.entries))
	for pid, entry := range m.entries {
		inits[pid] = entry.value.CaptureInitializer()
	}
	return inits
}

// CollectDelta gathers initializers for new elements and deltas for the
// rest. The result is worth sending when anything was added, changed or
// removed since the previous collection.
func (m *NetMap[E, I, D]) CollectDelta() (NetMapDelta[I, D], bool) {
	delta := NetMapDelta[I, D]{
		Inits:  make(map[PID]I),
		Deltas: make(map[PID]*D, len(m.entries)),
	}
	useful := m.removed
	delta.Removed = m.removed
	m.removed = false

	for pid, entry := range m.entries {
		if !entry.initSent {
			// The initializer already carries the current state; collecting
			// here resets the element's change tracking.
			entry.value.CollectDelta()
			delta.Inits[pid] = entry.value.CaptureInitializer()
			delta.Deltas[pid] = nil
			entry.initSent = true
			useful = true
			continue
		}
		if elemDelta, ok := entry.value.CollectDelta(); ok {
			d := elemDelta
			delta.Deltas[pid] = &d
			useful = true
		} else {
			delta.Deltas[pid] = nil
		}
	}
	return delta, useful
}

// ApplyDelta mirrors a collected delta: removals first, then element deltas,
// then initializers, which replace any element already at that PID.
func (m *NetMap[E, I, D]) ApplyDelta(delta NetMapDelta[I, D]) {
	for pid := range m.entries {
		_, live := delta.Deltas[pid]
		_, fresh := delta.Inits[pid]
		if !live && !fresh {
			release(m.entries[pid].value)
			delete(m.entries, pid)
		}
	}
	for pid, elemDelta := range delta.Deltas {
		if elemDelta == nil {
			continue
		}
		if entry, ok := m.entries[pid]; ok {
			entry.value.ApplyDelta(*elemDelta)
		}
	}
	for pid, init := range delta.Inits {
		if old, ok := m.entries[pid]; ok {
			release(old.value)
		}
		m.entries[pid] = &netEntry[E]{value: m.build(init), initSent: true}
	}
}

// Clear drops every element, releasing their resources. Receivers are not
// informed; Clear is meant for tearing the whole set down.
func (m *NetMap[E, I, D]) Clear() {
	for pid, entry := range m.entries {
		release(entry.value)
		delete(m.entries, pid)
	}
}

// Destroyer is implemented by elements holding resources, such as physics
// bodies, that must be freed when the element leaves its set.
type Destroyer interface {
	Destroy()
}

func release(value any) {
	if d, ok := value.(Destroyer); ok {
		d.Destroy()
	}
}
