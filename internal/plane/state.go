package plane

import (
	"math"

	"solemnsky/server/internal/physics"
)

// State is the variable part of a live plane. Afterburner, airspeed,
// throttle, energy, health and primary cooldown live in [0, 1].
type State struct {
	Physical        physics.Physical `json:"physical"`
	Stalled         bool             `json:"stalled"`
	Afterburner     float64          `json:"afterburner"`
	LeftoverVel     physics.Vec2     `json:"leftoverVel"`
	Airspeed        float64          `json:"airspeed"`
	Throttle        float64          `json:"throttle"`
	Energy          float64          `json:"energy"`
	Health          float64          `json:"health"`
	PrimaryCooldown float64          `json:"primaryCooldown"`
}

// DefaultState is a parked plane with full resources.
func DefaultState() State {
	return State{Throttle: 1, Energy: 1, Health: 1, PrimaryCooldown: 1}
}

// SpawnState places a plane at pos heading rot at its cruising speed.
func SpawnState(tuning Tuning, pos physics.Vec2, rot float64) State {
	state := DefaultState()
	state.Physical = physics.Physical{
		Pos: pos,
		Vel: physics.FromAngle(rot).Scale(tuning.Flight.AirspeedFactor),
		Rot: rot,
	}
	state.Airspeed = tuning.Flight.ThrottleInfluence
	return state
}

// Velocity is the plane's speed.
func (s State) Velocity() float64 { return s.Physical.Vel.Length() }

// ForwardVelocity is the component of velocity along the plane's heading.
func (s State) ForwardVelocity() float64 {
	rot := s.Physical.Rot * math.Pi / 180
	return s.Velocity() * math.Cos(rot-math.Atan2(s.Physical.Vel.Y, s.Physical.Vel.X))
}

// Client extracts the fields a client is authoritative over.
func (s State) Client() StateClient {
	return StateClient{
		Physical: s.Physical,
		Airspeed: s.Airspeed,
		Throttle: s.Throttle,
		Stalled:  s.Stalled,
	}
}

// Server extracts the fields only the server decides.
func (s State) Server() StateServer {
	return StateServer{
		Energy:          s.Energy,
		Health:          s.Health,
		PrimaryCooldown: s.PrimaryCooldown,
	}
}

// ApplyClient overwrites the client-authoritative fields.
func (s *State) ApplyClient(client StateClient) {
	s.Physical = client.Physical
	s.Airspeed = clamp01(client.Airspeed)
	s.Throttle = clamp01(client.Throttle)
	s.Stalled = client.Stalled
}

// ApplyServer overwrites the server-authoritative fields.
func (s *State) ApplyServer(server StateServer) {
	s.Energy = clamp01(server.Energy)
	s.Health = clamp01(server.Health)
	s.PrimaryCooldown = clamp01(server.PrimaryCooldown)
}

// StateClient is the subset of State a client simulates for itself.
type StateClient struct {
	Physical physics.Physical `json:"physical"`
	Airspeed float64          `json:"airspeed"`
	Throttle float64          `json:"throttle"`
	Stalled  bool             `json:"stalled"`
}

// StateServer is the subset of State the server keeps authority over even
// for a client's own plane.
type StateServer struct {
	Energy          float64 `json:"energy"`
	Health          float64 `json:"health"`
	PrimaryCooldown float64 `json:"primaryCooldown"`
}

func clamp01(v float64) float64 { return physics.Clamp(v, 0, 1) }
