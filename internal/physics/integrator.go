package physics

import "math"

const (
	// DefaultGravity is the downward acceleration in pixels per second squared.
	DefaultGravity = 150.0
	// DefaultMaxSpeed caps any body's linear speed.
	DefaultMaxSpeed = 2000.0
	// DefaultMaxRotSpeed caps any body's rotation speed in degrees per second.
	DefaultMaxRotSpeed = 720.0
)

func clampVec2Magnitude(vector *Vec2, limit float64) {
	//1.- Skip clamping when the limit disables the guard.
	if vector == nil || !(limit > 0) {
		return
	}
	magnitudeSq := vector.X*vector.X + vector.Y*vector.Y
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return
	}
	//2.- Scale both axes uniformly so the magnitude matches the limit.
	scale := limit / math.Sqrt(magnitudeSq)
	vector.X *= scale
	vector.Y *= scale
}

// WrapAngleDeg normalizes an angle to the [-180, 180) range.
func WrapAngleDeg(angle float64) float64 {
	wrapped := math.Mod(angle+180.0, 360.0)
	if wrapped < 0 {
		wrapped += 360.0
	}
	return wrapped - 180.0
}

// integrateLinear applies gravity then velocity over the timestep.
func integrateLinear(state *Physical, gravity float64, maxSpeed float64, step float64) {
	state.Vel.Y += gravity * step
	clampVec2Magnitude(&state.Vel, maxSpeed)
	state.Pos.X += state.Vel.X * step
	state.Pos.Y += state.Vel.Y * step
}

// integrateAngular applies rotation velocity to the heading.
func integrateAngular(state *Physical, maxRotSpeed float64, step float64) {
	if maxRotSpeed > 0 {
		state.RotVel = Clamp(state.RotVel, -maxRotSpeed, maxRotSpeed)
	}
	state.Rot = WrapAngleDeg(state.Rot + state.RotVel*step)
}

// Integrate advances one physical state with explicit Euler steps.
func Integrate(state *Physical, gravity float64, step float64) {
	//1.- Guard against nil state or invalid timesteps.
	if state == nil || step <= 0 {
		return
	}
	//2.- Translation picks up gravity before the speed clamp.
	integrateLinear(state, gravity, DefaultMaxSpeed, step)
	//3.- Rotation wraps so long sessions stay bounded.
	integrateAngular(state, DefaultMaxRotSpeed, step)
}
