package server

import (
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/flowcontrol"
	"solemnsky/server/internal/networked"
)

// latencySamples is how many pongs the latency and offset means cover.
const latencySamples = 5

// PlayerLatency is the link estimate of one player.
type PlayerLatency struct {
	latency *flowcontrol.RollingSampler[time.Duration]
	offset  *flowcontrol.RollingSampler[time.Duration]
}

func newPlayerLatency() *PlayerLatency {
	return &PlayerLatency{
		latency: flowcontrol.NewRollingSampler[time.Duration](latencySamples),
		offset:  flowcontrol.NewRollingSampler[time.Duration](latencySamples),
	}
}

// registerPong folds in one round trip. pingTime is our uptime when the ping
// left, pongTime the client's uptime when it answered.
func (l *PlayerLatency) registerPong(now, pingTime, pongTime time.Duration) {
	l.latency.Push(now - pingTime)
	l.offset.Push(pongTime - (pingTime + l.Latency()/2))
}

// Latency is the mean round trip time.
func (l *PlayerLatency) Latency() time.Duration { return l.latency.Mean() }

// Offset is the mean difference between the client's clock and ours.
func (l *PlayerLatency) Offset() time.Duration { return l.offset.Mean() }

// LatencyTracker estimates each player's round trip time and clock offset
// from Ping/Pong exchanges.
type LatencyTracker struct {
	arena.Subsystem[PlayerLatency]
	arena.BaseListener
}

// NewLatencyTracker attaches a tracker to a.
func NewLatencyTracker(a *arena.Arena) *LatencyTracker {
	t := &LatencyTracker{}
	t.Attach(a, t)
	return t
}

func (t *LatencyTracker) RegisterPlayer(p *arena.Player) {
	t.SetPlayerData(p, newPlayerLatency())
}

func (t *LatencyTracker) UnregisterPlayer(p *arena.Player) {
	t.ClearPlayerData(p)
}

// RegisterPong records a pong from p.
func (t *LatencyTracker) RegisterPong(p *arena.Player, pingTime, pongTime time.Duration) {
	if data := t.PlayerData(p); data != nil {
		data.registerPong(t.Arena().Uptime(), pingTime, pongTime)
	}
}

// Latency returns the estimate for p.
func (t *LatencyTracker) Latency(p *arena.Player) *PlayerLatency { return t.PlayerData(p) }

// MakeUpdate builds the connection statistics delta of every player that
// has answered a ping, including the state of their input buffer in cache.
// It reports false when no player has statistics yet.
func (t *LatencyTracker) MakeUpdate(cache *SkyInputCache) (arena.ArenaDelta, bool) {
	deltas := make(map[networked.PID]arena.PlayerDelta)
	t.Arena().ForPlayers(func(p *arena.Player) {
		data := t.PlayerData(p)
		if data == nil || data.latency.Len() == 0 {
			return
		}
		delta := p.ZeroDelta()
		delta.Stats = &arena.ConnectionStats{
			Latency:     data.Latency(),
			ClockOffset: data.Offset(),
			Flow:        cache.PlayerStats(p),
		}
		deltas[p.PID()] = delta
	})
	if len(deltas) == 0 {
		return arena.ArenaDelta{}, false
	}
	return arena.PlayersDelta(deltas), true
}
