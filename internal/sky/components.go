package sky

import (
	"solemnsky/server/internal/arena"
	"solemnsky/server/internal/networked"
	"solemnsky/server/internal/physics"
)

// EntityMovement makes an entity dynamic. Entities without one are fixed.
type EntityMovement struct {
	GravityScale float64 `json:"gravityScale" yaml:"gravity_scale"`
}

// EntityInit describes an entity: a rectangular body with a lifetime.
// Expiry of zero means the entity lives until removed. Entities with an
// owner and damage hurt the planes of other players they touch.
type EntityInit struct {
	Movement *EntityMovement  `json:"movement,omitempty"`
	Fill     string           `json:"fill"`
	Shape    physics.Vec2     `json:"shape"`
	Physical physics.Physical `json:"physical"`
	Lifetime float64          `json:"lifetime"`
	Expiry   float64          `json:"expiry"`
	Owner    *networked.PID   `json:"owner,omitempty"`
	Damage   float64          `json:"damage"`
}

// VerifyStructure rejects degenerate shapes and negative times.
func (i EntityInit) VerifyStructure() bool {
	return i.Shape.X > 0 && i.Shape.Y > 0 && i.Lifetime >= 0 && i.Expiry >= 0 && i.Damage >= 0
}

// EntityDelta carries the moving part of an entity.
type EntityDelta struct {
	Physical physics.Physical `json:"physical"`
}

// Entity is a body in the sky that is not a plane.
type Entity struct {
	state       EntityInit
	world       *physics.World
	body        *physics.Body
	destroyable bool
}

func entityBuilder(world *physics.World) func(EntityInit) *Entity {
	return func(init EntityInit) *Entity {
		e := &Entity{state: init, world: world}
		e.body = world.RectBody(init.Shape, init.Movement == nil)
		e.body.GravityScale = 0
		if init.Movement != nil {
			e.body.GravityScale = init.Movement.GravityScale
		}
		e.body.Physical = init.Physical
		return e
	}
}

// State returns the entity as it is now.
func (e *Entity) State() EntityInit { return e.state }

func (e *Entity) CaptureInitializer() EntityInit { return e.state }

func (e *Entity) ApplyDelta(delta EntityDelta) { e.state.Physical = delta.Physical }

// CollectDelta reports the physical state of moving entities.
func (e *Entity) CollectDelta() (EntityDelta, bool) {
	if e.state.Movement == nil {
		return EntityDelta{}, false
	}
	return EntityDelta{Physical: e.state.Physical}, true
}

// Destroy frees the physics body.
func (e *Entity) Destroy() {
	e.world.Remove(e.body)
}

func (e *Entity) prePhysics() {
	e.body.Physical = e.state.Physical
}

func (e *Entity) postPhysics(step float64) {
	e.state.Physical = e.body.Physical
	e.state.Lifetime += step
	if e.state.Expiry > 0 && e.state.Lifetime >= e.state.Expiry {
		e.destroyable = true
	}
	if e.world.OutOfBounds(e.state.Physical.Pos) {
		e.destroyable = true
	}
}

// ExplosionInit describes an explosion. Explosions never change.
type ExplosionInit struct {
	Pos      physics.Vec2 `json:"pos"`
	Radius   float64      `json:"radius"`
	Lifetime float64      `json:"lifetime"`
	Expiry   float64      `json:"expiry"`
}

// VerifyStructure rejects negative sizes.
func (i ExplosionInit) VerifyStructure() bool {
	return i.Radius >= 0 && i.Lifetime >= 0 && i.Expiry >= 0
}

// ExplosionDelta is empty: explosions are sent once.
type ExplosionDelta struct{}

// Explosion is a short-lived visual event.
type Explosion struct {
	state       ExplosionInit
	destroyable bool
}

func newExplosion(init ExplosionInit) *Explosion { return &Explosion{state: init} }

func (x *Explosion) State() ExplosionInit                 { return x.state }
func (x *Explosion) CaptureInitializer() ExplosionInit    { return x.state }
func (x *Explosion) ApplyDelta(ExplosionDelta)            {}
func (x *Explosion) CollectDelta() (ExplosionDelta, bool) { return ExplosionDelta{}, false }

func (x *Explosion) tick(step float64) {
	x.state.Lifetime += step
	if x.state.Lifetime >= x.state.Expiry {
		x.destroyable = true
	}
}

// ZoneInit describes a recharge zone. A plane entering a ready zone gets
// full energy and the zone cools down at CooldownRate per second.
type ZoneInit struct {
	Pos          physics.Vec2 `json:"pos" yaml:"pos"`
	Radius       float64      `json:"radius" yaml:"radius"`
	Cooldown     float64      `json:"cooldown" yaml:"cooldown"`
	CooldownRate float64      `json:"cooldownRate" yaml:"cooldown_rate"`
}

// VerifyStructure rejects negative sizes and cooldowns outside [0, 1].
func (i ZoneInit) VerifyStructure() bool {
	return i.Radius >= 0 && i.Cooldown >= 0 && i.Cooldown <= 1 && i.CooldownRate >= 0
}

// ZoneDelta carries the cooldown when it changed.
type ZoneDelta struct {
	Cooldown *float64 `json:"cooldown,omitempty"`
}

// Zone is a circular area of the sky.
type Zone struct {
	state        ZoneInit
	lastCooldown float64
}

func newZone(init ZoneInit) *Zone {
	return &Zone{state: init, lastCooldown: init.Cooldown}
}

func (z *Zone) State() ZoneInit              { return z.state }
func (z *Zone) CaptureInitializer() ZoneInit { return z.state }

// Ready reports whether the zone can be used.
func (z *Zone) Ready() bool { return z.state.Cooldown == 0 }

// Contains reports whether pos lies within the zone.
func (z *Zone) Contains(pos physics.Vec2) bool {
	return z.state.Pos.DistanceTo(pos) <= z.state.Radius
}

// Use starts the cooldown.
func (z *Zone) Use() { z.state.Cooldown = 1 }

func (z *Zone) ApplyDelta(delta ZoneDelta) {
	if delta.Cooldown != nil {
		z.state.Cooldown = *delta.Cooldown
	}
}

func (z *Zone) CollectDelta() (ZoneDelta, bool) {
	if z.state.Cooldown == z.lastCooldown {
		return ZoneDelta{}, false
	}
	cooldown := z.state.Cooldown
	z.lastCooldown = cooldown
	return ZoneDelta{Cooldown: &cooldown}, true
}

func (z *Zone) tick(step float64) {
	z.state.Cooldown = physics.Approach(z.state.Cooldown, 0, z.state.CooldownRate*step)
}

// HomeBaseInit describes a team's home base, where its planes spawn.
type HomeBaseInit struct {
	Pos    physics.Vec2 `json:"pos" yaml:"pos"`
	Radius float64      `json:"radius" yaml:"radius"`
	Rot    float64      `json:"rot" yaml:"rot"`
	Team   arena.Team   `json:"team" yaml:"team"`
}

// VerifyStructure rejects unknown teams.
func (i HomeBaseInit) VerifyStructure() bool { return i.Team.Valid() && i.Radius >= 0 }

// HomeBaseDelta is empty: home bases never change.
type HomeBaseDelta struct{}

// HomeBase is a static team landmark.
type HomeBase struct {
	state HomeBaseInit
}

func newHomeBase(init HomeBaseInit) *HomeBase { return &HomeBase{state: init} }

func (h *HomeBase) State() HomeBaseInit                 { return h.state }
func (h *HomeBase) CaptureInitializer() HomeBaseInit    { return h.state }
func (h *HomeBase) ApplyDelta(HomeBaseDelta)            {}
func (h *HomeBase) CollectDelta() (HomeBaseDelta, bool) { return HomeBaseDelta{}, false }

type (
	EntitySet    = networked.NetMap[*Entity, EntityInit, EntityDelta]
	ExplosionSet = networked.NetMap[*Explosion, ExplosionInit, ExplosionDelta]
	ZoneSet      = networked.NetMap[*Zone, ZoneInit, ZoneDelta]
	HomeBaseSet  = networked.NetMap[*HomeBase, HomeBaseInit, HomeBaseDelta]

	EntitySetDelta    = networked.NetMapDelta[EntityInit, EntityDelta]
	ExplosionSetDelta = networked.NetMapDelta[ExplosionInit, ExplosionDelta]
	ZoneSetDelta      = networked.NetMapDelta[ZoneInit, ZoneDelta]
	HomeBaseSetDelta  = networked.NetMapDelta[HomeBaseInit, HomeBaseDelta]
)
