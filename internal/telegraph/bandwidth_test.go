package telegraph

import (
	"math"
	"testing"
	"time"
)

func TestBandwidthRegulatorEnforcesRate(t *testing.T) {
	current := time.Unix(0, 0)
	clock := func() time.Time { return current }
	regulator := NewBandwidthRegulator(100, clock)

	//1.- A fresh peer bursts up to the full bucket.
	if !regulator.Allow("peer-1", 60, false) {
		t.Fatalf("expected initial burst to be allowed")
	}
	if regulator.Allow("peer-1", 50, false) {
		t.Fatalf("expected payload to be throttled while tokens depleted")
	}

	//2.- Half a second refills half the rate.
	current = current.Add(500 * time.Millisecond)
	if !regulator.Allow("peer-1", 50, false) {
		t.Fatalf("expected payload to pass after partial refill")
	}

	current = current.Add(time.Second)
	sample, ok := regulator.SnapshotUsage()["peer-1"]
	if !ok {
		t.Fatalf("missing usage sample for peer")
	}
	if sample.Dropped != 1 {
		t.Fatalf("expected one dropped send, got %d", sample.Dropped)
	}
	expectedRate := float64(110) / sample.ObservedSeconds
	if math.Abs(sample.BytesPerSecond-expectedRate) > 1e-6 {
		t.Fatalf("unexpected throughput: got %.6f want %.6f", sample.BytesPerSecond, expectedRate)
	}

	//3.- Forgetting a peer keeps the global drop count.
	regulator.Forget("peer-1")
	if usage := regulator.SnapshotUsage(); len(usage) != 0 {
		t.Fatalf("expected usage map cleared after forget, got %d entries", len(usage))
	}
	if regulator.Dropped() != 1 {
		t.Fatalf("expected total drops to survive forget, got %d", regulator.Dropped())
	}
}

func TestBandwidthRegulatorAlwaysPassesReliable(t *testing.T) {
	current := time.Unix(0, 0)
	regulator := NewBandwidthRegulator(100, func() time.Time { return current })

	if !regulator.Allow("peer-1", 500, true) {
		t.Fatalf("reliable sends must pass over budget")
	}
	if regulator.Allow("peer-1", 1, false) {
		t.Fatalf("reliable traffic should have drained the bucket")
	}
	if regulator.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", regulator.Dropped())
	}
}

func TestNilRegulatorAllowsEverything(t *testing.T) {
	var regulator *BandwidthRegulator
	if !regulator.Allow("peer", 1<<20, false) {
		t.Fatalf("nil regulator must not throttle")
	}
	if regulator.Dropped() != 0 || regulator.SnapshotUsage() != nil {
		t.Fatalf("nil regulator reports no usage")
	}
}
