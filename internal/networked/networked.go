// Package networked defines the initializer/delta contract every replicated
// value follows, and the PID-keyed component set built on top of it.
//
// A Networked value can describe its full state as an initializer and accept
// incremental deltas. An AutoNetworked value additionally tracks what changed
// since the last collection so the server can produce deltas without hand
// bookkeeping.
package networked

import "sort"

// PID identifies players and sky components. Allocation always picks the
// smallest value not currently in use.
type PID uint32

// Networked is a value that can be synchronized with an initializer followed
// by a stream of deltas.
type Networked[I, D any] interface {
	CaptureInitializer() I
	ApplyDelta(D)
}

// AutoNetworked collects its own deltas. CollectDelta is stateful: it resets
// the retained snapshot, so it must have exactly one consumer.
type AutoNetworked[I, D any] interface {
	Networked[I, D]
	CollectDelta() (D, bool)
}

// Verifier is implemented by every initializer and delta received from the
// network. VerifyStructure reports whether the value is safe to apply.
type Verifier interface {
	VerifyStructure() bool
}

// SmallestUnused returns the smallest PID that is not a key of m.
func SmallestUnused[V any](m map[PID]V) PID {
	var pid PID
	for {
		if _, taken := m[pid]; !taken {
			return pid
		}
		pid++
	}
}

// SortedPIDs returns the keys of m in ascending order.
func SortedPIDs[V any](m map[PID]V) []PID {
	pids := make([]PID, 0, len(m))
	for pid := range m {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// VerifyMap reports whether every value of m passes VerifyStructure.
func VerifyMap[K comparable, V Verifier](m map[K]V) bool {
	for _, value := range m {
		if !value.VerifyStructure() {
			return false
		}
	}
	return true
}

// VerifyOptional accepts nil or a pointer whose target verifies.
func VerifyOptional[T any, P interface {
	*T
	Verifier
}](p P) bool {
	return p == nil || p.VerifyStructure()
}
