package physics

// Body is a rigid body tracked by a World. Static bodies never move.
type Body struct {
	Physical
	Dims         Vec2
	GravityScale float64
	Static       bool

	removed bool
}

// World integrates every body it owns. It stands in for a full rigid-body
// engine: collisions are resolved by the sky, not here.
type World struct {
	Dims    Vec2
	Gravity float64
	bodies  []*Body
}

// NewWorld constructs a world of the given dimensions.
func NewWorld(dims Vec2, gravity float64) *World {
	return &World{Dims: dims, Gravity: gravity}
}

// RectBody creates a body with a rectangular hitbox.
func (w *World) RectBody(dims Vec2, static bool) *Body {
	body := &Body{Dims: dims, GravityScale: 1, Static: static}
	w.bodies = append(w.bodies, body)
	return body
}

// Remove detaches a body; removing twice is harmless.
func (w *World) Remove(body *Body) {
	if body == nil || body.removed {
		return
	}
	body.removed = true
	for i, candidate := range w.bodies {
		if candidate == body {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			return
		}
	}
}

// Len returns the number of live bodies.
func (w *World) Len() int { return len(w.bodies) }

// Tick advances every dynamic body by step seconds.
func (w *World) Tick(step float64) {
	if step <= 0 {
		return
	}
	for _, body := range w.bodies {
		if body.Static {
			continue
		}
		Integrate(&body.Physical, w.Gravity*body.GravityScale, step)
	}
}

// OutOfBounds reports whether pos lies outside the world rectangle.
func (w *World) OutOfBounds(pos Vec2) bool {
	return pos.X < 0 || pos.Y < 0 || pos.X > w.Dims.X || pos.Y > w.Dims.Y
}

// ApproachVel nudges a body toward a target velocity, mirroring how the
// flight model steers planes.
func (b *Body) ApproachVel(target Vec2) { b.Vel = target }

// ApproachRotVel sets the body's rotation velocity.
func (b *Body) ApproachRotVel(target float64) { b.RotVel = target }
