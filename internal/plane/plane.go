package plane

import (
	"math"

	"solemnsky/server/internal/physics"
)

// Plane is a live plane: tuning, state and a body in the physics world.
// Controls are owned by the participation and read through a pointer so
// input applied between ticks is visible immediately.
type Plane struct {
	Tuning Tuning
	State  State

	controls *Controls
	world    *physics.World
	body     *physics.Body
}

// New places a plane in world. controls may be nil for a plane nobody steers.
func New(world *physics.World, controls *Controls, tuning Tuning, state State) *Plane {
	if controls == nil {
		controls = new(Controls)
	}
	p := &Plane{
		Tuning:   tuning,
		State:    state,
		controls: controls,
		world:    world,
	}
	if world != nil {
		p.body = world.RectBody(tuning.Hitbox, false)
		p.writeToBody()
	}
	return p
}

// Destroy removes the plane's body from the world.
func (p *Plane) Destroy() {
	if p == nil || p.world == nil {
		return
	}
	p.world.Remove(p.body)
	p.body = nil
}

// Controls returns the controls steering the plane.
func (p *Plane) Controls() Controls { return *p.controls }

// PrePhysics pushes state into the physics body.
func (p *Plane) PrePhysics() { p.writeToBody() }

// PostPhysics reads the integrated body back and runs the flight model.
func (p *Plane) PostPhysics(delta float64) {
	p.readFromBody()
	p.tickFlight(delta)
	p.tickWeapons(delta)
}

func (p *Plane) writeToBody() {
	if p.body == nil {
		return
	}
	p.body.Physical = p.State.Physical
	if p.State.Stalled {
		p.body.GravityScale = 1
	} else {
		p.body.GravityScale = 0
	}
}

func (p *Plane) readFromBody() {
	if p.body == nil {
		return
	}
	p.State.Physical = p.body.Physical
}

func (p *Plane) switchStall() {
	state := &p.State
	forwardVel := state.ForwardVelocity()
	if state.Stalled {
		if forwardVel > p.Tuning.Stall.Threshold {
			state.Stalled = false
			state.LeftoverVel = state.Physical.Vel.Sub(physics.FromAngle(state.Physical.Rot).Scale(forwardVel))
			state.Airspeed = clamp01(forwardVel / p.Tuning.Flight.AirspeedFactor)
			state.Throttle = clamp01(state.Airspeed / p.Tuning.Flight.ThrottleInfluence)
		}
		return
	}
	if forwardVel < p.Tuning.Flight.Threshold {
		state.Stalled = true
		state.Throttle = 1
		state.Airspeed = 0
	}
}

func (p *Plane) tickFlight(delta float64) {
	p.switchStall()

	state := &p.State
	tuning := p.Tuning
	velocity := state.Velocity()
	throtCtrl := p.controls.ThrottleMovement()

	//1.- Rotation follows the left/right controls at the mode's turn rate.
	maxRotVel := tuning.Flight.MaxRotVel
	if state.Stalled {
		maxRotVel = tuning.Stall.MaxRotVel
	}
	state.Physical.RotVel = maxRotVel * float64(p.controls.RotMovement())

	state.Energy = clamp01(state.Energy + tuning.Energy.Recharge*delta)
	state.Afterburner = 0

	if state.Stalled {
		//2.- Stalled: thrust pushes along the heading, drag pulls toward terminal velocity.
		if throtCtrl == MovementUp {
			efficacy := p.RequestEnergy(tuning.Energy.ThrustDrain * delta)
			push := physics.FromAngle(state.Physical.Rot).Scale(delta * tuning.Stall.Thrust * efficacy)
			state.Physical.Vel = state.Physical.Vel.Add(push)
			state.Afterburner = efficacy
		}
		if velocity > tuning.Stall.MaxVel {
			damping := tuning.Stall.MaxVel / velocity * math.Pow(tuning.Stall.Damping, delta)
			state.Physical.Vel = state.Physical.Vel.Scale(damping)
		}
		return
	}

	//3.- Flying: throttle moves with the controls and airspeed chases it.
	state.Throttle = clamp01(state.Throttle + float64(throtCtrl)*tuning.ThrottleSpeed*delta)
	afterburning := throtCtrl == MovementUp && state.Throttle == 1

	state.LeftoverVel = state.LeftoverVel.Scale(math.Pow(tuning.Flight.LeftoverDamping, delta))

	speedMod := math.Sin(state.Physical.Rot*math.Pi/180) * tuning.Flight.GravityEffect * delta
	if afterburning {
		efficacy := p.RequestEnergy(tuning.Energy.ThrustDrain * delta)
		state.Afterburner = efficacy
		speedMod += tuning.Flight.AfterburnDrive * delta * efficacy
	}
	state.Airspeed = clamp01(state.Airspeed + speedMod)

	targetThrottle := state.Throttle * tuning.Flight.ThrottleInfluence
	effectFactor := 1.0
	if state.Airspeed > tuning.Flight.ThrottleInfluence && state.Throttle >= 0.9 {
		effectFactor = tuning.Flight.ThrottleGlideDamper
	}
	if state.Airspeed > targetThrottle {
		state.Airspeed = physics.Approach(state.Airspeed, targetThrottle, tuning.Flight.ThrottleBrakeEffect*effectFactor*delta)
	} else {
		state.Airspeed = physics.Approach(state.Airspeed, targetThrottle, tuning.Flight.ThrottleEffect*effectFactor*delta)
	}

	//4.- Velocity is the target speed along the heading plus decaying leftover.
	targetSpeed := state.Airspeed * tuning.Flight.AirspeedFactor
	state.Physical.Vel = physics.FromAngle(state.Physical.Rot).Scale(targetSpeed).Add(state.LeftoverVel)
}

func (p *Plane) tickWeapons(delta float64) {
	p.State.PrimaryCooldown = math.Max(0, p.State.PrimaryCooldown-p.Tuning.Energy.PrimaryRecharge*delta)
}

// RequestEnergy draws up to amount and returns the fraction obtained.
func (p *Plane) RequestEnergy(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	initial := p.State.Energy
	p.State.Energy = clamp01(p.State.Energy - amount)
	return (initial - p.State.Energy) / amount
}

// RequestDiscreteEnergy draws amount only if all of it is available.
func (p *Plane) RequestDiscreteEnergy(amount float64) bool {
	if p.State.Energy < amount {
		return false
	}
	p.State.Energy -= amount
	return true
}

// PrimaryReady reports whether the primary weapon has cooled down.
func (p *Plane) PrimaryReady() bool { return p.State.PrimaryCooldown == 0 }

// FirePrimary spends energy and resets the cooldown if the primary weapon
// can fire, reporting whether it did.
func (p *Plane) FirePrimary() bool {
	if !p.PrimaryReady() || !p.RequestDiscreteEnergy(p.Tuning.Energy.LaserGun) {
		return false
	}
	p.State.PrimaryCooldown = 1
	return true
}

// Damage subtracts amount from health.
func (p *Plane) Damage(amount float64) {
	p.State.Health = clamp01(p.State.Health - amount)
}

// Dead reports whether the plane has no health left.
func (p *Plane) Dead() bool { return p.State.Health <= 0 }
