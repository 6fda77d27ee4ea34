package telegraph

import (
	"math"
	"sync"
	"time"
)

// DefaultBandwidthBytesPerSecond caps the unreliable traffic of one peer.
const DefaultBandwidthBytesPerSecond = 64000.0

// BandwidthUsage captures the throttling state of one peer.
type BandwidthUsage struct {
	PeerID          string    `json:"peerId"`
	AvailableBytes  float64   `json:"availableBytes"`
	BytesPerSecond  float64   `json:"bytesPerSecond"`
	ObservedSeconds float64   `json:"observedSeconds"`
	Dropped         int64     `json:"dropped"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

type bandwidthBucket struct {
	tokens  float64
	last    time.Time
	window  time.Time
	sent    int64
	dropped int64
}

// BandwidthRegulator keeps a token bucket per peer. Unreliable sends over
// budget are refused; reliable sends always pass and drain the bucket.
type BandwidthRegulator struct {
	mu       sync.Mutex
	buckets  map[string]*bandwidthBucket
	capacity float64
	refill   float64
	now      func() time.Time
	dropped  int64
}

// NewBandwidthRegulator enforces bytesPerSecond per peer. A nil clock uses
// time.Now.
func NewBandwidthRegulator(bytesPerSecond float64, clock func() time.Time) *BandwidthRegulator {
	if bytesPerSecond <= 0 {
		bytesPerSecond = DefaultBandwidthBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &BandwidthRegulator{
		buckets:  make(map[string]*bandwidthBucket),
		capacity: bytesPerSecond,
		refill:   bytesPerSecond,
		now:      clock,
	}
}

func (r *BandwidthRegulator) replenish(bucket *bandwidthBucket, now time.Time) {
	//1.- Skip negative intervals to protect against clock skew.
	if !now.After(bucket.last) {
		return
	}
	//2.- Accumulate fresh tokens using the configured refill rate.
	bucket.tokens = math.Min(r.capacity, bucket.tokens+now.Sub(bucket.last).Seconds()*r.refill)
	bucket.last = now
}

// Allow charges size bytes to peerID and reports whether the send may go
// ahead.
func (r *BandwidthRegulator) Allow(peerID string, size int, reliable bool) bool {
	if r == nil || peerID == "" || size <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	bucket := r.buckets[peerID]
	if bucket == nil {
		//1.- New peers start with a full bucket so they can burst immediately.
		bucket = &bandwidthBucket{tokens: r.capacity, last: now, window: now}
		r.buckets[peerID] = bucket
	}
	r.replenish(bucket, now)

	request := float64(size)
	if !reliable && request > bucket.tokens {
		bucket.dropped++
		r.dropped++
		return false
	}
	bucket.tokens = math.Max(0, bucket.tokens-request)
	bucket.sent += int64(size)
	return true
}

// Forget drops the bucket of a disconnected peer.
func (r *BandwidthRegulator) Forget(peerID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.buckets, peerID)
	r.mu.Unlock()
}

// Dropped returns the number of refused sends since the regulator started,
// including those of forgotten peers.
func (r *BandwidthRegulator) Dropped() int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// SnapshotUsage reports the current throttling state per peer.
func (r *BandwidthRegulator) SnapshotUsage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}

	now := r.now()
	snapshot := make(map[string]BandwidthUsage, len(r.buckets))
	for peerID, bucket := range r.buckets {
		r.replenish(bucket, now)
		observed := math.Max(0, now.Sub(bucket.window).Seconds())
		rate := 0.0
		if observed > 0 {
			rate = float64(bucket.sent) / observed
		}
		snapshot[peerID] = BandwidthUsage{
			PeerID:          peerID,
			AvailableBytes:  bucket.tokens,
			BytesPerSecond:  rate,
			ObservedSeconds: observed,
			Dropped:         bucket.dropped,
			LastUpdated:     bucket.last,
		}
	}
	return snapshot
}
