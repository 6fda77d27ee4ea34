package networked

import "testing"

type counterInit struct{ Value int }

type counterDelta struct{ Value int }

type counter struct {
	value int
	last  int
}

func newCounter(init counterInit) *counter {
	return &counter{value: init.Value, last: init.Value}
}

func (c *counter) CaptureInitializer() counterInit { return counterInit{Value: c.value} }

func (c *counter) ApplyDelta(d counterDelta) { c.value = d.Value }

func (c *counter) CollectDelta() (counterDelta, bool) {
	if c.value == c.last {
		return counterDelta{}, false
	}
	c.last = c.value
	return counterDelta{Value: c.value}, true
}

func newCounterMap(init map[PID]counterInit) *NetMap[*counter, counterInit, counterDelta] {
	return NewNetMap[*counter, counterInit, counterDelta](init, newCounter)
}

func TestSmallestUnused(t *testing.T) {
	if got := SmallestUnused(map[PID]bool{3: true, 1: true, 0: true}); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	full := map[PID]int{0: 0, 1: 1, 2: 2, 3: 3, 4: 4}
	if got := SmallestUnused(full); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	if got := SmallestUnused(map[PID]int{}); got != 0 {
		t.Fatalf("expected 0 for empty map, got %d", got)
	}
}

func TestNetMapReplicatesThroughDeltas(t *testing.T) {
	//1.- Server adds two elements, client starts empty.
	server := newCounterMap(map[PID]counterInit{})
	client := newCounterMap(server.CaptureInitializer())
	a := server.Put(counterInit{Value: 1})
	b := server.Put(counterInit{Value: 2})
	if a != 0 || b != 1 {
		t.Fatalf("unexpected pids %d %d", a, b)
	}

	delta, ok := server.CollectDelta()
	if !ok || len(delta.Inits) != 2 {
		t.Fatalf("expected two initializers, got %+v (useful=%v)", delta, ok)
	}
	client.ApplyDelta(delta)
	if client.Len() != 2 {
		t.Fatalf("client did not materialise elements: %d", client.Len())
	}

	//2.- Nothing changed, nothing to send.
	if _, ok := server.CollectDelta(); ok {
		t.Fatalf("expected no useful delta when clean")
	}

	//3.- A mutation travels as an element delta.
	elem, _ := server.Get(b)
	elem.value = 7
	delta, ok = server.CollectDelta()
	if !ok || len(delta.Inits) != 0 || delta.Deltas[b] == nil || delta.Deltas[a] != nil {
		t.Fatalf("unexpected delta after mutation: %+v", delta)
	}
	client.ApplyDelta(delta)
	if got, _ := client.Get(b); got.value != 7 {
		t.Fatalf("client value = %d, want 7", got.value)
	}

	//4.- A removal alone is still useful.
	server.Remove(a)
	delta, ok = server.CollectDelta()
	if !ok {
		t.Fatalf("removal must produce a useful delta")
	}
	client.ApplyDelta(delta)
	if _, exists := client.Get(a); exists || client.Len() != 1 {
		t.Fatalf("client kept removed element")
	}
}

func TestNetMapReusesFreedPID(t *testing.T) {
	m := newCounterMap(map[PID]counterInit{})
	m.Put(counterInit{})
	second := m.Put(counterInit{})
	m.Put(counterInit{})
	m.Remove(second)
	if pid := m.Put(counterInit{Value: 9}); pid != second {
		t.Fatalf("expected freed pid %d to be reused, got %d", second, pid)
	}
}

func TestNetMapInitReplacesExisting(t *testing.T) {
	m := newCounterMap(map[PID]counterInit{0: {Value: 1}})
	m.ApplyDelta(NetMapDelta[counterInit, counterDelta]{
		Inits:  map[PID]counterInit{0: {Value: 5}},
		Deltas: map[PID]*counterDelta{0: nil},
	})
	if got, _ := m.Get(0); got.value != 5 {
		t.Fatalf("expected initializer to replace element, got %d", got.value)
	}
}

func TestNetMapApplyDestruction(t *testing.T) {
	m := newCounterMap(map[PID]counterInit{0: {}, 1: {}, 2: {}})
	m.MarkDestroyed(1)
	m.MarkDestroyed(7)
	gone := m.ApplyDestruction()
	if len(gone) != 1 || gone[0] != 1 {
		t.Fatalf("unexpected destroyed set %v", gone)
	}
	if _, ok := m.CollectDelta(); !ok {
		t.Fatalf("destruction must mark the map dirty")
	}
	var visited []PID
	m.ForEach(func(pid PID, _ *counter) { visited = append(visited, pid) })
	if len(visited) != 2 || visited[0] != 0 || visited[1] != 2 {
		t.Fatalf("unexpected iteration order %v", visited)
	}
}

func TestNetMapDeltaStructural(t *testing.T) {
	m := newCounterMap(map[PID]counterInit{0: {}})

	//1.- A fresh element makes the delta structural.
	added := m.Put(counterInit{Value: 3})
	delta, _ := m.CollectDelta()
	if !delta.Structural() {
		t.Fatalf("a delta carrying an initializer must be structural")
	}

	//2.- Plain changes are not.
	if delta, _ := m.CollectDelta(); delta.Structural() {
		t.Fatalf("an unchanged set must not be structural")
	}

	//3.- A removal is, once.
	m.Remove(added)
	if delta, ok := m.CollectDelta(); !ok || !delta.Structural() {
		t.Fatalf("a removal must be structural")
	}
	if delta, _ := m.CollectDelta(); delta.Structural() {
		t.Fatalf("the removal is reported only once")
	}
}
