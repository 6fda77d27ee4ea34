package sky

import (
	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
	"solemnsky/server/internal/plane"
)

// Spawn is everything needed to put a plane in the sky.
type Spawn struct {
	Tuning plane.Tuning `json:"tuning"`
	State  plane.State  `json:"state"`
}

// ParticipationInit describes a participation in full.
type ParticipationInit struct {
	Spawn    *Spawn         `json:"spawn,omitempty"`
	Controls plane.Controls `json:"controls"`
}

// VerifyStructure rejects unknown control bits.
func (i ParticipationInit) VerifyStructure() bool {
	return i.Controls&^plane.ControlsMask == 0
}

// ParticipationDelta changes a participation. Spawn re-instantiates the
// plane, State replaces its state wholesale, and ServerState only touches
// the fields the server keeps authority over. PlaneAlive false kills the
// plane.
type ParticipationDelta struct {
	Spawn       *Spawn             `json:"spawn,omitempty"`
	PlaneAlive  bool               `json:"planeAlive"`
	State       *plane.State       `json:"state,omitempty"`
	ServerState *plane.StateServer `json:"serverState,omitempty"`
	Controls    *plane.Controls    `json:"controls,omitempty"`
}

// VerifyStructure forbids carrying both a spawn and a state.
func (d ParticipationDelta) VerifyStructure() bool {
	if d.Spawn != nil && d.State != nil {
		return false
	}
	return d.Controls == nil || *d.Controls&^plane.ControlsMask == 0
}

// Lifecycle reports whether the delta carries a spawn, a death or a change
// of controls. Those are collected once and never derived again.
func (d ParticipationDelta) Lifecycle() bool {
	return d.Spawn != nil || !d.PlaneAlive || d.Controls != nil
}

// RespectClientAuthority narrows the delta for the client that controls the
// participation: the full state becomes the server-owned subset and the
// controls, which that client authored, are dropped.
func (d ParticipationDelta) RespectClientAuthority() ParticipationDelta {
	out := d
	if d.State != nil {
		server := d.State.Server()
		out.ServerState = &server
		out.State = nil
	}
	out.Controls = nil
	return out
}

// ParticipationInput is what a client reports about its own participation.
type ParticipationInput struct {
	PlaneState *plane.StateClient `json:"planeState,omitempty"`
	Controls   *plane.Controls    `json:"controls,omitempty"`
}

// VerifyStructure rejects unknown control bits.
func (i ParticipationInput) VerifyStructure() bool {
	return i.Controls == nil || *i.Controls&^plane.ControlsMask == 0
}

// Participation is a player's presence in the sky: controls plus an
// optional live plane.
type Participation struct {
	player *arena.Player
	world  *physics.World

	controls plane.Controls
	plane    *plane.Plane

	newlyAlive   bool
	newlyDead    bool
	lastControls plane.Controls

	lastHitBy *networked.PID
}

func newParticipation(player *arena.Player, world *physics.World, init ParticipationInit) *Participation {
	p := &Participation{
		player:       player,
		world:        world,
		controls:     init.Controls,
		lastControls: init.Controls,
	}
	if init.Spawn != nil {
		p.spawnWithState(init.Spawn.Tuning, init.Spawn.State)
	}
	return p
}

// Player returns the participant.
func (p *Participation) Player() *arena.Player { return p.player }

// Controls are kept across deaths so a respawned plane flies as held.
func (p *Participation) Controls() plane.Controls { return p.controls }

// IsSpawned reports whether the player currently flies a plane.
func (p *Participation) IsSpawned() bool { return p.plane != nil }

// Plane returns the live plane, or nil when unspawned.
func (p *Participation) Plane() *plane.Plane { return p.plane }

func (p *Participation) spawnWithState(tuning plane.Tuning, state plane.State) {
	p.plane.Destroy()
	p.plane = plane.New(p.world, &p.controls, tuning, state)
	p.lastHitBy = nil
}

func (p *Participation) killPlane() {
	p.plane.Destroy()
	p.plane = nil
}

// Spawn puts a fresh plane at pos heading rot.
func (p *Participation) Spawn(tuning plane.Tuning, pos physics.Vec2, rot float64) {
	p.spawnWithState(tuning, plane.SpawnState(tuning, pos, rot))
	p.newlyAlive = true
	p.newlyDead = false
}

// Kill removes the plane, if any.
func (p *Participation) Kill() {
	if p.plane == nil {
		return
	}
	p.killPlane()
	p.newlyAlive = false
	p.newlyDead = true
}

// DoAction changes one control.
func (p *Participation) DoAction(action plane.Action, state bool) {
	p.controls.Set(action, state)
}

func (p *Participation) CaptureInitializer() ParticipationInit {
	init := ParticipationInit{Controls: p.controls}
	if p.plane != nil {
		init.Spawn = &Spawn{Tuning: p.plane.Tuning, State: p.plane.State}
	}
	return init
}

func (p *Participation) ApplyDelta(delta ParticipationDelta) {
	switch {
	case delta.Spawn != nil:
		p.spawnWithState(delta.Spawn.Tuning, delta.Spawn.State)
	case delta.PlaneAlive:
		if p.plane == nil {
			break
		}
		if delta.State != nil {
			p.plane.State = *delta.State
		} else if delta.ServerState != nil {
			p.plane.State.ApplyServer(*delta.ServerState)
		}
	default:
		p.killPlane()
	}
	if delta.Controls != nil {
		p.controls = *delta.Controls
	}
}

// CollectDelta reports a spawn, the current state, or a death, plus any
// change of controls since the previous collection.
func (p *Participation) CollectDelta() (ParticipationDelta, bool) {
	delta := ParticipationDelta{PlaneAlive: p.plane != nil}
	useful := false

	//1.- Plane lifecycle: spawn beats state, death is reported once.
	switch {
	case p.plane != nil && p.newlyAlive:
		delta.Spawn = &Spawn{Tuning: p.plane.Tuning, State: p.plane.State}
		useful = true
	case p.plane != nil:
		state := p.plane.State
		delta.State = &state
		useful = true
	case p.newlyDead:
		useful = true
	}
	p.newlyAlive = false
	p.newlyDead = false

	//2.- Controls ride along when they changed.
	if p.controls != p.lastControls {
		controls := p.controls
		delta.Controls = &controls
		p.lastControls = p.controls
		useful = true
	}
	return delta, useful
}

// ApplyInput takes a client's report about its own participation.
func (p *Participation) ApplyInput(input ParticipationInput) {
	if input.Controls != nil {
		p.controls = *input.Controls
	}
	if p.plane != nil && input.PlaneState != nil {
		p.plane.State.ApplyClient(*input.PlaneState)
	}
}

// CollectInput builds the client's report: the client-owned plane state
// while spawned, and controls when they changed.
func (p *Participation) CollectInput() (ParticipationInput, bool) {
	var input ParticipationInput
	useful := false
	if p.controls != p.lastControls {
		controls := p.controls
		input.Controls = &controls
		p.lastControls = p.controls
		useful = true
	}
	if p.plane != nil {
		state := p.plane.State.Client()
		input.PlaneState = &state
		useful = true
	}
	return input, useful
}

func (p *Participation) prePhysics() {
	if p.plane != nil {
		p.plane.PrePhysics()
	}
}

func (p *Participation) postPhysics(step float64) {
	if p.plane != nil {
		p.plane.PostPhysics(step)
	}
}

func (p *Participation) destroy() {
	p.killPlane()
}
