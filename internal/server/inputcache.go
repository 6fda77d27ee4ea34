package server

import (
	"time"

	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/flowcontrol"
	"solemnsky/server/internal/sky"
)

// SkyInputCache buffers each player's timestamped inputs and feeds them to
// the sky at a steady rate.
type SkyInputCache struct {
	arena.Subsystem[flowcontrol.FlowControl[sky.ParticipationInput]]
	arena.BaseListener

	handle   *sky.SkyHandle
	settings flowcontrol.Settings
}

// NewSkyInputCache attaches a cache feeding the sky of handle.
func NewSkyInputCache(a *arena.Arena, handle *sky.SkyHandle, settings flowcontrol.Settings) *SkyInputCache {
	c := &SkyInputCache{handle: handle, settings: settings}
	c.Attach(a, c)
	return c
}

func (c *SkyInputCache) RegisterPlayer(p *arena.Player) {
	c.SetPlayerData(p, flowcontrol.New[sky.ParticipationInput](c.settings))
}

func (c *SkyInputCache) UnregisterPlayer(p *arena.Player) {
	c.ClearPlayerData(p)
}

// Receive buffers an input p stamped with its own clock.
func (c *SkyInputCache) Receive(p *arena.Player, timestamp time.Duration, input sky.ParticipationInput) {
	if flow := c.PlayerData(p); flow != nil {
		flow.Push(timestamp, c.Arena().Uptime(), input)
	}
}

// OnPoll applies every input that is due. Without a sky the buffers are
// emptied.
func (c *SkyInputCache) OnPoll() {
	s := c.handle.Sky()
	now := c.Arena().Uptime()
	c.Arena().ForPlayers(func(p *arena.Player) {
		flow := c.PlayerData(p)
		if flow == nil {
			return
		}
		if s == nil {
			flow.Reset()
			return
		}
		part := s.GetParticipation(p)
		for {
			input, ok := flow.Pull(now)
			if !ok {
				break
			}
			if part != nil {
				part.ApplyInput(input)
			}
		}
	})
}

// PlayerStats reports the buffer state of p.
func (c *SkyInputCache) PlayerStats(p *arena.Player) flowcontrol.FlowStats {
	if flow := c.PlayerData(p); flow != nil {
		return flow.Stats()
	}
	return flowcontrol.FlowStats{}
}
